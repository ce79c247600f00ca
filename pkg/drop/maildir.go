// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package drop

import (
	"fmt"

	"github.com/emersion/go-maildir"
	"go.uber.org/zap"

	"src.bluestatic.org/mailshuttle/pkg/pop3"
)

// Maildir delivers messages into the new/ directory of a Maildir.
type Maildir struct {
	dir maildir.Dir
	log *zap.Logger
}

// NewMaildir creates the Maildir at path if needed.
func NewMaildir(path string, log *zap.Logger) (*Maildir, error) {
	dir := maildir.Dir(path)
	if err := dir.Init(); err != nil {
		return nil, fmt.Errorf("Failed to create maildir %s: %w", path, err)
	}
	return &Maildir{dir: dir, log: log.With(zap.String("maildir", path))}, nil
}

func (d *Maildir) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	del, err := maildir.NewDelivery(string(d.dir))
	if err != nil {
		return pop3.DropError, fmt.Errorf("Failed to start delivery: %w", err)
	}
	if _, err := del.Write(body); err != nil {
		del.Abort()
		return pop3.DropError, fmt.Errorf("Failed to write message: %w", err)
	}
	if err := del.Close(); err != nil {
		return pop3.DropError, fmt.Errorf("Failed to deliver message: %w", err)
	}
	d.log.Debug("Delivered message", zap.Int("num", msg.Num), zap.String("uidl", msg.UIDL), zap.Int("bytes", len(body)))
	return pop3.DropKept, nil
}
