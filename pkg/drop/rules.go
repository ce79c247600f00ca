// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package drop

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"src.bluestatic.org/mailshuttle/pkg/pop3"
)

// Rule matches messages whose Header field contains a substring.
type Rule struct {
	Header   string
	Contains string
	Action   pop3.DropResult
}

// ParseAction converts a configured action name.
func ParseAction(s string) (pop3.DropResult, error) {
	switch s {
	case "delete":
		return pop3.DropDelete, nil
	case "dont-receive":
		return pop3.DropDontReceive, nil
	}
	return pop3.DropError, fmt.Errorf("Invalid rule action %q", s)
}

func (r Rule) match(h textproto.Header) bool {
	for _, v := range h.Values(r.Header) {
		if strings.Contains(strings.ToLower(v), strings.ToLower(r.Contains)) {
			return true
		}
	}
	return false
}

// Rules applies the first matching Rule. Messages that match none go to
// Next.
type Rules struct {
	Rules []Rule
	Next  pop3.Dropper

	log *zap.Logger
}

func NewRules(rules []Rule, next pop3.Dropper, log *zap.Logger) *Rules {
	return &Rules{Rules: rules, Next: next, log: log}
}

func (d *Rules) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(body)))
	if err != nil {
		d.log.Warn("Failed to parse header, no rules applied", zap.String("uidl", msg.UIDL), zap.Error(err))
		return d.Next.Drop(msg, body)
	}
	for _, r := range d.Rules {
		if r.match(h) {
			d.log.Info("Rule matched",
				zap.String("uidl", msg.UIDL),
				zap.String("header", r.Header),
				zap.Stringer("action", r.Action))
			return r.Action, nil
		}
	}
	return d.Next.Drop(msg, body)
}
