// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package drop

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"src.bluestatic.org/mailshuttle/pkg/metrics"
	"src.bluestatic.org/mailshuttle/pkg/pop3"
	"src.bluestatic.org/mailshuttle/pkg/session"
	"src.bluestatic.org/mailshuttle/pkg/smtp"
	"src.bluestatic.org/mailshuttle/pkg/transport"
)

// Submit sends one message over a new connection and returns the finished
// session.
func Submit(ctx context.Context, cfg transport.Config, acct smtp.Account, env smtp.Envelope, log *zap.Logger) (*smtp.Session, error) {
	conn, err := transport.Dial(ctx, cfg, log)
	if err != nil {
		return nil, session.Wrap(session.KindIO, err, "Failed to connect")
	}
	s, err := smtp.NewSession(acct, env, conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, conn.Run(ctx, s)
}

// SMTP forwards each message to fixed recipients through an SMTP server.
type SMTP struct {
	Server     transport.Config
	Account    smtp.Account
	Sender     string
	Recipients []string
	// Name labels the metrics.
	Name    string
	Metrics metrics.Collector

	ctx context.Context
	log *zap.Logger
}

func NewSMTP(ctx context.Context, server transport.Config, acct smtp.Account, sender string, rcpts []string, log *zap.Logger) *SMTP {
	return &SMTP{
		Server:     server,
		Account:    acct,
		Sender:     sender,
		Recipients: rcpts,
		Metrics:    metrics.NoopCollector{},
		ctx:        ctx,
		log:        log.With(zap.String("smtp", server.Addr)),
	}
}

func (d *SMTP) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	env := smtp.Envelope{
		Sender:     d.Sender,
		Recipients: d.Recipients,
		Body:       bytes.NewReader(body),
		Size:       int64(len(body)),
	}
	d.Metrics.SessionStarted(metrics.ProtocolSMTP)
	_, err := Submit(d.ctx, d.Server, d.Account, env, d.log)
	d.Metrics.SessionFinished(metrics.ProtocolSMTP, session.KindOf(err))
	if err != nil {
		d.log.Error("Failed to forward message", zap.String("uidl", msg.UIDL), zap.Error(err))
		return pop3.DropError, err
	}
	d.Metrics.MessageSubmitted(d.Name, env.Size)
	return pop3.DropKept, nil
}
