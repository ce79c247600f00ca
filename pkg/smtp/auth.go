// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package smtp

import (
	"errors"
	"fmt"
	"strings"

	"src.bluestatic.org/mailshuttle/pkg/digest"

	"github.com/emersion/go-sasl"
)

// Mechanism is a set of SASL authentication mechanisms.
type Mechanism uint

const (
	MechPlain Mechanism = 1 << iota
	MechLogin
	MechCRAMMD5
	MechDigestMD5
)

// DefaultMechanisms is the set an account may use unless configured
// otherwise. DIGEST-MD5 is recognised in EHLO but never used.
const DefaultMechanisms = MechPlain | MechLogin | MechCRAMMD5

// preference lists the usable mechanisms, strongest first.
var preference = []Mechanism{MechCRAMMD5, MechPlain, MechLogin}

var mechNames = []struct {
	m    Mechanism
	name string
}{
	{MechPlain, sasl.Plain},
	{MechLogin, sasl.Login},
	{MechCRAMMD5, "CRAM-MD5"},
	{MechDigestMD5, "DIGEST-MD5"},
}

func (m Mechanism) String() string {
	var names []string
	for _, n := range mechNames {
		if m&n.m != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseMechanism returns the mechanism with the given name. DIGEST-MD5 is
// rejected since it cannot be used.
func ParseMechanism(name string) (Mechanism, error) {
	for _, n := range mechNames {
		if n.m != MechDigestMD5 && strings.EqualFold(name, n.name) {
			return n.m, nil
		}
	}
	return 0, fmt.Errorf("Unsupported AUTH mechanism %q", name)
}

// parseAuthLine returns the mechanisms advertised by an EHLO keyword line
// such as "AUTH LOGIN PLAIN" or "AUTH=LOGIN PLAIN". Lines for other
// keywords advertise nothing.
func parseAuthLine(text string) Mechanism {
	if len(text) < 5 || !strings.EqualFold(text[:4], "AUTH") || (text[4] != ' ' && text[4] != '=') {
		return 0
	}
	var m Mechanism
	for _, word := range strings.Fields(strings.ToUpper(text[5:])) {
		switch word {
		case "PLAIN":
			m |= MechPlain
		case "LOGIN":
			m |= MechLogin
		case "CRAM-MD5":
			m |= MechCRAMMD5
		case "DIGEST-MD5":
			m |= MechDigestMD5
		}
	}
	return m
}

func newClient(m Mechanism, user, pass string) sasl.Client {
	switch m {
	case MechPlain:
		return sasl.NewPlainClient("", user, pass)
	case MechLogin:
		return &loginClient{user: user, pass: pass}
	case MechCRAMMD5:
		return &cramMD5Client{user: user, pass: pass}
	}
	return nil
}

var errUnexpectedChallenge = errors.New("unexpected server challenge")

// loginClient implements the LOGIN mechanism. Unlike the go-sasl client it
// ignores the challenge text, since servers word the prompts differently.
type loginClient struct {
	user, pass string
	step       int
}

func (c *loginClient) Start() (string, []byte, error) {
	return sasl.Login, nil, nil
}

func (c *loginClient) Next(challenge []byte) ([]byte, error) {
	c.step++
	switch c.step {
	case 1:
		return []byte(c.user), nil
	case 2:
		return []byte(c.pass), nil
	}
	return nil, errUnexpectedChallenge
}

// cramMD5Client implements CRAM-MD5 (RFC 2195).
type cramMD5Client struct {
	user, pass string
	done       bool
}

func (c *cramMD5Client) Start() (string, []byte, error) {
	return "CRAM-MD5", nil, nil
}

func (c *cramMD5Client) Next(challenge []byte) ([]byte, error) {
	if c.done || len(challenge) == 0 {
		return nil, errUnexpectedChallenge
	}
	c.done = true
	return []byte(c.user + " " + digest.HMACHex([]byte(c.pass), challenge)), nil
}
