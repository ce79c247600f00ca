// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package session holds the pieces shared by the POP3 and SMTP protocol
// engines: the transport they drive, the events they receive, and the error
// taxonomy they report.
//
// An engine never performs I/O itself. It is fed events (a reply line, a
// dot-terminated data block, or the completion of an outbound data transfer)
// and reacts by posting at most one command to its Transport before
// returning an Action to the driver.
package session

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Action tells the driver what to do with the connection after an event.
type Action int

const (
	// ActionContinue keeps the connection open and waits for the next event.
	ActionContinue Action = iota
	// ActionDisconnect closes the connection after a completed session.
	ActionDisconnect
	// ActionFail closes the connection. Err() describes what went wrong.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionDisconnect:
		return "disconnect"
	case ActionFail:
		return "fail"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// TLSMode selects how a connection is secured.
type TLSMode string

const (
	TLSNone     TLSMode = ""
	TLSImplicit TLSMode = "tls"
	TLSStartTLS TLSMode = "starttls"
)

// Valid reports whether m is a known mode.
func (m TLSMode) Valid() bool {
	switch m {
	case TLSNone, TLSImplicit, TLSStartTLS:
		return true
	}
	return false
}

// Transport is the line-oriented connection an engine drives. Every method
// posts work and returns; the outcome arrives later as an event.
type Transport interface {
	// SendLine writes a single command. The transport appends CRLF.
	SendLine(line string) error
	// SendData streams a message body, dot-stuffing it and normalising line
	// endings to CRLF. It does not write the terminating "." line. Completion
	// is reported through Handler.OnSendComplete.
	SendData(r io.Reader) error
	// ReceiveData arms the transport to deliver the next reply as a
	// dot-terminated block through Handler.OnDataBlock.
	ReceiveData()
	// StartTLS upgrades the live connection to TLS in place.
	StartTLS() error
}

// Handler receives transport events. Both protocol engines implement it.
type Handler interface {
	OnLine(line string) Action
	// OnDataBlock receives the raw block: leading dots still stuffed, CRLF
	// line endings, terminating "." removed.
	OnDataBlock(block []byte) Action
	OnSendComplete() Action
	Err() error
}

// Base carries the state every engine needs. It is embedded by the POP3 and
// SMTP sessions.
type Base struct {
	T   Transport
	Log *zap.Logger

	err *Error
}

func NewBase(t Transport, log *zap.Logger) Base {
	if log == nil {
		log = zap.NewNop()
	}
	return Base{T: t, Log: log}
}

// Fail records err as the session error. The first recorded error wins.
func (b *Base) Fail(err *Error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the recorded session error, or nil.
func (b *Base) Err() error {
	if b.err == nil {
		return nil
	}
	return b.err
}

// LastError returns the recorded error with its kind, or nil.
func (b *Base) LastError() *Error {
	return b.err
}

// Kind is shorthand for the kind of the recorded error, KindNone if there is
// none.
func (b *Base) Kind() Kind {
	if b.err == nil {
		return KindNone
	}
	return b.err.Kind
}
