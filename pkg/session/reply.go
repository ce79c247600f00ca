// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package session

// Verdict is the outcome of classifying a reply line.
type Verdict int

const (
	// Success advances the state machine.
	Success Verdict = iota
	// Recoverable is a refusal the engine handles with a fallback.
	Recoverable
	// Fatal ends the session.
	Fatal
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Recoverable:
		return "recoverable"
	}
	return "fatal"
}

// Reply is a classified server reply.
type Reply struct {
	Verdict Verdict
	// Kind is KindNone for a successful reply.
	Kind Kind
	// Code is the numeric SMTP reply code. It is zero for POP3.
	Code int
	// Text is the reply with the status indicator removed.
	Text string
}
