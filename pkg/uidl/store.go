// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package uidl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is the retention file for one (server, account) pair.
type Store struct {
	Dir     string
	Server  string
	Account string
}

// Path returns the location of the retention file.
func (s Store) Path() string {
	return filepath.Join(s.Dir, "uidl-"+sanitize(s.Server)+"-"+sanitize(s.Account))
}

func sanitize(part string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, part)
}

// Load reads the table. A missing file is an empty table.
func (s Store) Load(now time.Time) (Table, error) {
	f, err := os.Open(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Table), nil
		}
		return nil, err
	}
	defer f.Close()
	return Read(f, now)
}

// Save replaces the file with recs. The new contents are written to a
// temporary file first so an interrupted save leaves the old table intact.
func (s Store) Save(recs []Record) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("Failed to create UIDL directory: %w", err)
	}
	f, err := os.CreateTemp(s.Dir, ".uidl-*")
	if err != nil {
		return fmt.Errorf("Failed to create UIDL file: %w", err)
	}
	if err := Write(f, recs); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("Failed to write UIDL file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), s.Path()); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("Failed to replace UIDL file: %w", err)
	}
	return nil
}
