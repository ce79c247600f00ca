// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package uidl stores which POP3 messages have already been fetched, keyed by
// their UIDL, along with the local retention policy for each one.
//
// The on-disk format is one record per line:
//
//	<uidl>\t<value>
//
// where value is the unix time the message was received, or one of the
// reserved values 1 (received, time unknown), 2 (keep) and 3 (delete).
package uidl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Marker is the retention state of a message.
type Marker int

const (
	// MarkerNone means the message has never been seen.
	MarkerNone Marker = iota
	// MarkerReceived means the message was fetched, at Entry.Time if known.
	MarkerReceived
	// MarkerKeep means the message must never be fetched or expired.
	MarkerKeep
	// MarkerDelete means the message must be deleted from the server.
	MarkerDelete
)

func (m Marker) String() string {
	switch m {
	case MarkerNone:
		return "none"
	case MarkerReceived:
		return "received"
	case MarkerKeep:
		return "keep"
	case MarkerDelete:
		return "delete"
	}
	return fmt.Sprintf("Marker(%d)", int(m))
}

const (
	valueUnknown  = 0
	valueReceived = 1
	valueKeep     = 2
	valueDelete   = 3
)

// Entry is the retention record for one message.
type Entry struct {
	Marker Marker
	// Time is when the message was received. It is zero when the marker is
	// not MarkerReceived or the time is unknown.
	Time time.Time
}

// Received returns an entry recording receipt at t.
func Received(t time.Time) Entry {
	return Entry{Marker: MarkerReceived, Time: t}
}

// Age returns how long ago the message was received. A received entry with
// an unknown time is infinitely old. Entries that are not received have no
// age, and ok is false.
func (e Entry) Age(now time.Time) (age time.Duration, ok bool) {
	if e.Marker != MarkerReceived {
		return 0, false
	}
	if e.Time.IsZero() {
		return time.Duration(1<<63 - 1), true
	}
	return now.Sub(e.Time), true
}

func (e Entry) value() int64 {
	switch e.Marker {
	case MarkerKeep:
		return valueKeep
	case MarkerDelete:
		return valueDelete
	}
	if e.Time.IsZero() {
		return valueReceived
	}
	return e.Time.Unix()
}

func entryFromValue(v int64) Entry {
	switch v {
	case valueUnknown, valueReceived:
		return Entry{Marker: MarkerReceived}
	case valueKeep:
		return Entry{Marker: MarkerKeep}
	case valueDelete:
		return Entry{Marker: MarkerDelete}
	}
	return Received(time.Unix(v, 0))
}

// Table maps a UIDL to its retention entry.
type Table map[string]Entry

// Lookup returns the entry for id. Unknown ids have MarkerNone.
func (t Table) Lookup(id string) Entry {
	return t[id]
}

// Record is one line of the retention file.
type Record struct {
	UIDL  string
	Entry Entry
}

// Read parses a retention file. A record without a value, or with a value
// that is not a number, is taken as received at now. Blank lines are
// ignored.
func Read(r io.Reader, now time.Time) (Table, error) {
	t := make(Table)
	s := bufio.NewScanner(r)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		entry := Received(now)
		if len(fields) > 1 {
			if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				entry = entryFromValue(v)
			}
		}
		t[fields[0]] = entry
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("Failed to read UIDL records: %w", err)
	}
	return t, nil
}

// Write serializes records in file format.
func Write(w io.Writer, recs []Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range recs {
		if _, err := fmt.Fprintf(bw, "%s\t%d\n", rec.UIDL, rec.Entry.value()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
