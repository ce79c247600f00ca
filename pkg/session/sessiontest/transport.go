// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package sessiontest provides a recording session.Transport for driving the
// protocol engines in tests without a network.
package sessiontest

import (
	"io"
	"strings"
)

// Transport records everything an engine posts.
type Transport struct {
	// Lines holds every command sent, in order.
	Lines []string
	// Data holds every body passed to SendData.
	Data [][]byte
	// Receiving is set by ReceiveData and cleared by TakeReceive.
	Receiving bool
	// StartTLSCalls counts StartTLS invocations.
	StartTLSCalls int

	// SendErr, DataErr and TLSErr are returned by the matching methods.
	SendErr error
	DataErr error
	TLSErr  error
}

func (t *Transport) SendLine(line string) error {
	if t.SendErr != nil {
		return t.SendErr
	}
	t.Lines = append(t.Lines, line)
	return nil
}

func (t *Transport) SendData(r io.Reader) error {
	if t.DataErr != nil {
		return t.DataErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	t.Data = append(t.Data, b)
	return nil
}

func (t *Transport) ReceiveData() {
	t.Receiving = true
}

func (t *Transport) StartTLS() error {
	t.StartTLSCalls++
	return t.TLSErr
}

// Last returns the most recent command, or "" if none was sent.
func (t *Transport) Last() string {
	if len(t.Lines) == 0 {
		return ""
	}
	return t.Lines[len(t.Lines)-1]
}

// TakeReceive reports whether ReceiveData was called and re-arms it.
func (t *Transport) TakeReceive() bool {
	r := t.Receiving
	t.Receiving = false
	return r
}

// Commands returns the verb of each command sent, upper-cased.
func (t *Transport) Commands() []string {
	verbs := make([]string, len(t.Lines))
	for i, line := range t.Lines {
		verb, _, _ := strings.Cut(line, " ")
		verbs[i] = strings.ToUpper(verb)
	}
	return verbs
}

// Block builds a raw data block from lines, as a transport delivers it.
func Block(lines ...string) []byte {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
