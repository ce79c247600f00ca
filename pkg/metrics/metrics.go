// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package metrics records what the fetch and submit sessions do. Collector
// is implemented by a Prometheus backend and by a no-op.
package metrics

import "src.bluestatic.org/mailshuttle/pkg/session"

// Protocol labels for session metrics.
const (
	ProtocolPOP3 = "pop3"
	ProtocolSMTP = "smtp"
)

// Collector receives session and message events.
type Collector interface {
	// Session metrics
	SessionStarted(protocol string)
	// SessionFinished is called with session.KindNone on success.
	SessionFinished(protocol string, kind session.Kind)

	// Message metrics, labelled by account name
	MessageRetrieved(account string, sizeBytes int64)
	MessageDeleted(account string)
	MessageSkipped(account string)
	MessageSubmitted(account string, sizeBytes int64)
}
