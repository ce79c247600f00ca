// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import (
	"errors"
	"strings"
)

var (
	errNoTimestamp  = errors.New("greeting has no APOP timestamp")
	errBadTimestamp = errors.New("greeting has a malformed APOP timestamp")
)

// apopTimestamp extracts the first <...> token from the server greeting,
// brackets included. RFC 1939 requires it to look like a msg-id, so it must
// be non-empty, contain an "@" and be plain ASCII.
func apopTimestamp(greeting string) (string, error) {
	start := strings.IndexByte(greeting, '<')
	if start < 0 {
		return "", errNoTimestamp
	}
	end := strings.IndexByte(greeting[start:], '>')
	if end < 0 {
		return "", errNoTimestamp
	}
	ts := greeting[start : start+end+1]
	if len(ts) <= 2 || !strings.Contains(ts, "@") {
		return "", errBadTimestamp
	}
	for i := 0; i < len(ts); i++ {
		if ts[i] >= 0x80 {
			return "", errBadTimestamp
		}
	}
	return ts, nil
}
