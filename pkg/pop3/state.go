// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import "fmt"

// State is the position of a Session in the RFC 1939 conversation. Each
// state names the command whose reply is awaited.
type State int

const (
	StateReady State = iota
	StateGreeting
	StateSTLS
	StateGetAuthUser
	StateGetAuthPass
	StateGetAuthAPOP
	StateGetRangeStat
	StateGetRangeLast
	StateGetRangeUIDL
	StateGetRangeUIDLRecv
	StateGetSizeList
	StateGetSizeListRecv
	StateRetr
	StateRetrRecv
	StateDelete
	StateLogout
	StateDone
	StateError
)

var stateNames = [...]string{
	StateReady:            "READY",
	StateGreeting:         "GREETING",
	StateSTLS:             "STLS",
	StateGetAuthUser:      "GETAUTH_USER",
	StateGetAuthPass:      "GETAUTH_PASS",
	StateGetAuthAPOP:      "GETAUTH_APOP",
	StateGetRangeStat:     "GETRANGE_STAT",
	StateGetRangeLast:     "GETRANGE_LAST",
	StateGetRangeUIDL:     "GETRANGE_UIDL",
	StateGetRangeUIDLRecv: "GETRANGE_UIDL_RECV",
	StateGetSizeList:      "GETSIZE_LIST",
	StateGetSizeListRecv:  "GETSIZE_LIST_RECV",
	StateRetr:             "RETR",
	StateRetrRecv:         "RETR_RECV",
	StateDelete:           "DELETE",
	StateLogout:           "LOGOUT",
	StateDone:             "DONE",
	StateError:            "ERROR",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) isAuth() bool {
	return s == StateGetAuthUser || s == StateGetAuthPass || s == StateGetAuthAPOP
}

func (s State) isBlock() bool {
	return s == StateGetRangeUIDLRecv || s == StateGetSizeListRecv || s == StateRetrRecv
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}
