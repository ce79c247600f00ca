// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"

	"src.bluestatic.org/mailshuttle/pkg/drop"
	"src.bluestatic.org/mailshuttle/pkg/metrics"
	"src.bluestatic.org/mailshuttle/pkg/pop3"
	"src.bluestatic.org/mailshuttle/pkg/session"
	"src.bluestatic.org/mailshuttle/pkg/transport"
	"src.bluestatic.org/mailshuttle/pkg/uidl"
)

// Monitor polls one POP3 account and moves new mail to its destination.
// Each Monitor runs its sessions one at a time, so two sessions never share
// a retention file.
type Monitor struct {
	c       MonitorConfig
	name    string
	log     *zap.Logger
	metrics metrics.Collector

	acct  pop3.Account
	conn  transport.Config
	store uidl.Store
	rules []drop.Rule
	dst   Destination
}

func NewMonitor(config MonitorConfig, stateDir string, dst Destination, mc metrics.Collector, log *zap.Logger) (*Monitor, error) {
	rules, err := config.rules()
	if err != nil {
		return nil, err
	}
	name := config.name()
	acct := config.Source.account()
	return &Monitor{
		c:       config,
		name:    name,
		log:     log.With(zap.String("monitor", name), zap.String("dest", string(config.Destination.Type))),
		metrics: mc,
		acct:    acct,
		conn: transport.Config{
			Addr:         config.Source.ServerAddr,
			TLS:          config.Source.TLS,
			TLSConfig:    &tls.Config{ServerName: acct.Server},
			MaxBlockSize: config.Source.MaxMessageBytes,
		},
		store: uidl.Store{Dir: stateDir, Server: acct.Server, Account: acct.User},
		rules: rules,
		dst:   dst,
	}, nil
}

// Start polls once, then keeps polling in the background until ctx is
// cancelled. It returns the first poll's error unless it is retryable.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.runOnce(ctx); err != nil && !session.IsRetryable(err) {
		m.log.Error("Failed to start monitor", zap.Error(err))
		return err
	}

	go m.run(ctx)

	return nil
}

func (m *Monitor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Monitor stopping")
			return
		case <-time.After(time.Duration(m.c.PollIntervalSeconds) * time.Second):
			m.runOnce(ctx)
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	m.log.Info("Polling for messages")

	dropper, err := m.dropper(ctx)
	if err != nil {
		m.log.Error("Failed to connect to destination", zap.Error(err))
		return fmt.Errorf("Failed to connect to destination: %w", err)
	}

	table, err := m.store.Load(time.Now())
	if err != nil {
		m.log.Error("Failed to load retention table", zap.Error(err))
		return err
	}

	conn, err := transport.Dial(ctx, m.conn, m.log)
	if err != nil {
		m.log.Error("Failed to connect to source", zap.Error(err))
		return session.Wrap(session.KindIO, err, "Failed to connect to source")
	}

	m.metrics.SessionStarted(metrics.ProtocolPOP3)
	s := pop3.NewSession(m.acct, table, dropper, conn, m.log)
	err = conn.Run(ctx, s)
	m.metrics.SessionFinished(metrics.ProtocolPOP3, session.KindOf(err))

	p := s.Progress()
	for range p.Deleted {
		m.metrics.MessageDeleted(m.name)
	}
	for range p.Skipped {
		m.metrics.MessageSkipped(m.name)
	}

	if saveErr := s.SaveRetention(m.store); saveErr != nil && err == nil {
		err = fmt.Errorf("Failed to save retention table: %w", saveErr)
	}

	log := m.log.With(zap.Int("retrieved", p.CurTotalNum),
		zap.Int64("bytes", p.CurTotalRecvBytes),
		zap.Int("deleted", p.Deleted),
		zap.Int("skipped", p.Skipped))
	switch {
	case err == nil:
		log.Info("Poll complete")
	case session.IsRetryable(err):
		log.Warn("Poll failed, will retry", zap.Error(err))
	default:
		log.Error("Poll failed", zap.Error(err))
	}
	return err
}

// dropper builds the chain a message passes through: metrics, then rules,
// then the Received line, then the destination.
func (m *Monitor) dropper(ctx context.Context) (pop3.Dropper, error) {
	d, err := m.dst.Connect(ctx)
	if err != nil {
		return nil, err
	}
	d = drop.WithTrace(d, drop.Trace{
		From: m.acct.User + "@" + m.acct.Server,
		Via:  "pop3",
		For:  m.dst.Mailbox(),
		By:   string(m.c.Destination.Type),
	})
	if len(m.rules) > 0 {
		d = drop.NewRules(m.rules, d, m.log)
	}
	return &countingDropper{next: d, name: m.name, metrics: m.metrics}, nil
}

type countingDropper struct {
	next    pop3.Dropper
	name    string
	metrics metrics.Collector
}

func (d *countingDropper) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	res, err := d.next.Drop(msg, body)
	if err == nil && res == pop3.DropKept {
		d.metrics.MessageRetrieved(d.name, int64(len(body)))
	}
	return res, err
}
