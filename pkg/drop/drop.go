// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package drop stores messages retrieved by a POP3 session. Each type here
// implements pop3.Dropper.
package drop

import (
	"bytes"
	"fmt"
	"time"

	"src.bluestatic.org/mailshuttle/pkg/pop3"
)

// Trace describes the hop recorded in the Received line.
type Trace struct {
	// From is the fetched account and Via its protocol.
	From, Via string
	// For is the destination mailbox and By the kind of drop.
	For, By string
}

// ReceivedLine formats a Received header for t at time now.
func ReceivedLine(t Trace, now time.Time) []byte {
	return fmt.Appendf(nil,
		"Received: from <%s> (via %s) by mailshuttle\n        for <%s> (via %s); %s\n",
		t.From, t.Via, t.For, t.By, now.Format(time.RFC1123Z))
}

// Traced prepends a Received line to every message before handing it to
// the next Dropper.
type Traced struct {
	Next  pop3.Dropper
	Trace Trace

	now func() time.Time
}

func WithTrace(next pop3.Dropper, t Trace) *Traced {
	return &Traced{Next: next, Trace: t, now: time.Now}
}

func (d *Traced) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	content := ReceivedLine(d.Trace, d.now())
	content = append(content, body...)
	return d.Next.Drop(msg, content)
}

// crlf converts "\n" line endings to "\r\n".
func crlf(body []byte) []byte {
	body = bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(body, []byte("\n"), []byte("\r\n"))
}
