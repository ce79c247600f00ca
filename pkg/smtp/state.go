// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package smtp

import "fmt"

// State is the position of a Session in the RFC 5321 conversation. Each
// state names the command whose reply is awaited.
type State int

const (
	StateReady State = iota
	StateConnected
	StateHELO
	StateEHLO
	StateSTARTTLS
	StateAuth
	StateAuthPlain
	StateAuthLoginUser
	StateAuthLoginPass
	StateAuthCRAMMD5
	StateFrom
	StateRcpt
	StateData
	StateSendData
	StateEOM
	StateQuit
	StateDone
	StateError
)

var stateNames = [...]string{
	StateReady:         "READY",
	StateConnected:     "CONNECTED",
	StateHELO:          "HELO",
	StateEHLO:          "EHLO",
	StateSTARTTLS:      "STARTTLS",
	StateAuth:          "AUTH",
	StateAuthPlain:     "AUTH_PLAIN",
	StateAuthLoginUser: "AUTH_LOGIN_USER",
	StateAuthLoginPass: "AUTH_LOGIN_PASS",
	StateAuthCRAMMD5:   "AUTH_CRAM_MD5",
	StateFrom:          "FROM",
	StateRcpt:          "RCPT",
	StateData:          "DATA",
	StateSendData:      "SEND_DATA",
	StateEOM:           "EOM",
	StateQuit:          "QUIT",
	StateDone:          "DONE",
	StateError:         "ERROR",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}
