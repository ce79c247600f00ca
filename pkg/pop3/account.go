// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import (
	"src.bluestatic.org/mailshuttle/pkg/session"
	"src.bluestatic.org/mailshuttle/pkg/uidl"
)

// Account is the per-mailbox configuration a Session runs with.
type Account struct {
	// Server is the host name, used to name the retention file.
	Server   string
	User     string
	Password string

	// UseAPOP authenticates with APOP instead of USER/PASS. There is no
	// fallback if the greeting carries no usable timestamp.
	UseAPOP bool
	TLS     session.TLSMode

	// GetAll fetches every message, including ones already received.
	GetAll bool
	// RemoveMail deletes messages from the server once they are
	// RemoveAfterDays old. Zero days deletes right after retrieval.
	RemoveMail      bool
	RemoveAfterDays int
	// SizeLimit is the largest message fetched, in KiB. Zero is unlimited.
	SizeLimit int

	// AuthOnly logs in and out again without touching the maildrop, for
	// POP-before-SMTP.
	AuthOnly bool
}

func (a Account) oversized(size int64) bool {
	return a.SizeLimit > 0 && size > int64(a.SizeLimit)*1024
}

// DropResult is what a Dropper did with a retrieved message.
type DropResult int

const (
	// DropKept stored the message locally.
	DropKept DropResult = iota
	// DropDontReceive declined the message. It stays on the server and is
	// never fetched again.
	DropDontReceive
	// DropDelete discarded the message. It is deleted from the server.
	DropDelete
	// DropError failed to store the message. The session aborts.
	DropError
)

func (r DropResult) String() string {
	switch r {
	case DropKept:
		return "kept"
	case DropDontReceive:
		return "dont-receive"
	case DropDelete:
		return "delete"
	}
	return "error"
}

func (r DropResult) marker() uidl.Marker {
	switch r {
	case DropDontReceive:
		return uidl.MarkerKeep
	case DropDelete:
		return uidl.MarkerDelete
	}
	return uidl.MarkerReceived
}

// Dropper receives each retrieved message. The body is unstuffed with "\n"
// line endings.
type Dropper interface {
	Drop(msg *Message, body []byte) (DropResult, error)
}

// DropperFunc adapts a function to a Dropper.
type DropperFunc func(msg *Message, body []byte) (DropResult, error)

func (f DropperFunc) Drop(msg *Message, body []byte) (DropResult, error) {
	return f(msg, body)
}

// Message is the per-session view of one message in the maildrop.
type Message struct {
	Num   int
	Size  int64
	UIDL  string
	Entry uidl.Entry
	// Received is set once the message has been fetched, or is known from
	// the retention table to have been fetched before.
	Received bool
	// Deleted is set when the server acknowledged DELE.
	Deleted bool
}

// Progress counts the work done by a Session.
type Progress struct {
	// CurTotalBytes is the size of every message handled so far, including
	// skipped ones.
	CurTotalBytes int64
	// CurTotalRecvBytes is the size of every retrieved message.
	CurTotalRecvBytes int64
	// CurTotalNum is the number of retrieved messages.
	CurTotalNum int
	// Deleted is the number of acknowledged deletions.
	Deleted int
	// Skipped is the number of messages passed over for their size.
	Skipped int
}
