// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package metrics

import "src.bluestatic.org/mailshuttle/pkg/session"

// NoopCollector discards every event.
type NoopCollector struct{}

func (NoopCollector) SessionStarted(protocol string)                     {}
func (NoopCollector) SessionFinished(protocol string, kind session.Kind) {}
func (NoopCollector) MessageRetrieved(account string, sizeBytes int64)   {}
func (NoopCollector) MessageDeleted(account string)                      {}
func (NoopCollector) MessageSkipped(account string)                      {}
func (NoopCollector) MessageSubmitted(account string, sizeBytes int64)   {}
