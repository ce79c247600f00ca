// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package session

import (
	"errors"
	"fmt"
)

// Kind classifies a session failure.
type Kind int

const (
	KindNone Kind = iota
	// KindProtocol is a malformed or unexpected server reply.
	KindProtocol
	// KindNotSupported is an optional command the server refused. Engines
	// absorb it by falling back; it never ends a session.
	KindNotSupported
	// KindAuth is rejected credentials, or no usable authentication method.
	KindAuth
	// KindLocked means the mailbox is held by another session.
	KindLocked
	// KindTimeout is a server-reported or transport-detected timeout.
	KindTimeout
	// KindIO is a transport, TLS or local storage failure.
	KindIO
	// KindFatal is any other server rejection.
	KindFatal
)

var kindNames = map[Kind]string{
	KindNone:         "none",
	KindProtocol:     "protocol",
	KindNotSupported: "not-supported",
	KindAuth:         "auth",
	KindLocked:       "locked",
	KindTimeout:      "timeout",
	KindIO:           "io",
	KindFatal:        "fatal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error recorded by a session.
type Error struct {
	Kind Kind
	// Msg is the human-readable description, usually including the server
	// reply text.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

// Errorf creates an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around err.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed without a
// configuration change.
func (e *Error) Retryable() bool {
	return e.Kind == KindLocked || e.Kind == KindTimeout
}

// KindOf returns the Kind of the first *Error in err's chain, KindNone if err
// is nil, or KindIO for any other error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIO
}

// IsRetryable reports whether err is a retryable session error.
func IsRetryable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Retryable()
}
