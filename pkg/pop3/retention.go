// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import (
	"src.bluestatic.org/mailshuttle/pkg/uidl"

	"go.uber.org/zap"
)

// RetentionStore persists the retention table between sessions.
type RetentionStore interface {
	Save(recs []uidl.Record) error
}

// Records returns the retention table to persist after the session. It
// lists every received message with a UIDL, except deletions the server
// committed at QUIT. A message whose deletion was acknowledged but never
// committed stays, so it is not fetched again next time.
func (s *Session) Records() []uidl.Record {
	var recs []uidl.Record
	for i := 1; i <= s.count && s.msgs != nil; i++ {
		m := &s.msgs[i]
		if m.UIDL == "" || !m.Received {
			continue
		}
		if m.Deleted && s.committed {
			continue
		}
		recs = append(recs, uidl.Record{UIDL: m.UIDL, Entry: m.Entry})
	}
	return recs
}

// SaveRetention writes Records to st if the UIDL listing was read. It is
// safe to call after any outcome, including a dropped connection.
func (s *Session) SaveRetention(st RetentionStore) error {
	if !s.uidlValid {
		s.Log.Debug("UIDL listing not read, leaving retention table unchanged")
		return nil
	}
	recs := s.Records()
	if err := st.Save(recs); err != nil {
		s.Log.Error("Failed to save retention table", zap.Error(err))
		return err
	}
	s.Log.Debug("Saved retention table", zap.Int("records", len(recs)))
	return nil
}
