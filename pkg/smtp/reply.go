// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package smtp

import (
	"strconv"

	"src.bluestatic.org/mailshuttle/pkg/session"
)

// ParseReply classifies one reply line. more is true for a continuation
// line ("250-...") that is followed by further lines of the same reply.
func ParseReply(line string) (r session.Reply, more bool) {
	if len(line) < 4 {
		return session.Reply{Verdict: session.Fatal, Kind: session.KindProtocol, Text: "bad SMTP response: " + line}, false
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 {
		return session.Reply{Verdict: session.Fatal, Kind: session.KindProtocol, Text: "bad SMTP response: " + line}, false
	}
	r = session.Reply{Code: code, Text: line[4:]}
	switch {
	case code == 535:
		r.Verdict, r.Kind, r.Text = session.Fatal, session.KindAuth, line
		return r, false
	case line[0] != '1' && line[0] != '2' && line[0] != '3':
		r.Verdict, r.Kind, r.Text = session.Fatal, session.KindFatal, line
		return r, false
	}
	switch line[3] {
	case '-':
		more = true
	case ' ':
	default:
		return session.Reply{Verdict: session.Fatal, Kind: session.KindProtocol, Code: code, Text: "bad SMTP response: " + line}, false
	}
	return r, more
}
