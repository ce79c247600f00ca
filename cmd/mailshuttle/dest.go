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
	"net"
	"strings"

	"go.uber.org/zap"

	"src.bluestatic.org/mailshuttle/pkg/drop"
	"src.bluestatic.org/mailshuttle/pkg/metrics"
	"src.bluestatic.org/mailshuttle/pkg/oauth"
	"src.bluestatic.org/mailshuttle/pkg/pop3"
	"src.bluestatic.org/mailshuttle/pkg/smtp"
	"src.bluestatic.org/mailshuttle/pkg/transport"
)

type Destination interface {
	// Connect prepares the Destination for one poll and returns the Dropper
	// that stores its messages.
	Connect(context.Context) (pop3.Dropper, error)
	// Mailbox names the destination mailbox in Received lines.
	Mailbox() string
}

func NewDestination(config DestinationConfig, auth oauth.Authorizer, mc metrics.Collector, name string, log *zap.Logger) (Destination, error) {
	switch config.Type {
	case DestinationMaildir:
		md, err := drop.NewMaildir(config.Path, log)
		if err != nil {
			return nil, err
		}
		return &maildirDestination{path: config.Path, md: md}, nil
	case DestinationGmail:
		if auth == nil {
			return nil, fmt.Errorf("Gmail destination %s needs an OAuth server", config.Email)
		}
		return &gmailDestination{g: drop.NewGmail(config.Email, auth, log)}, nil
	case DestinationSMTP:
		acct, err := config.SMTP.account()
		if err != nil {
			return nil, err
		}
		return &smtpDestination{c: config, acct: acct, metrics: mc, name: name, log: log}, nil
	default:
		return nil, fmt.Errorf("Unsupported destination type %q", config.Type)
	}
}

type maildirDestination struct {
	path string
	md   *drop.Maildir
}

func (d *maildirDestination) Connect(context.Context) (pop3.Dropper, error) { return d.md, nil }
func (d *maildirDestination) Mailbox() string                               { return d.path }

type gmailDestination struct {
	g *drop.Gmail
}

func (d *gmailDestination) Connect(ctx context.Context) (pop3.Dropper, error) {
	if err := d.g.Connect(ctx); err != nil {
		return nil, err
	}
	return d.g, nil
}

func (d *gmailDestination) Mailbox() string { return d.g.Email }

type smtpDestination struct {
	c       DestinationConfig
	acct    smtp.Account
	metrics metrics.Collector
	name    string
	log     *zap.Logger
}

func (d *smtpDestination) Connect(ctx context.Context) (pop3.Dropper, error) {
	s := drop.NewSMTP(ctx, smtpTransport(d.c.SMTP), d.acct, d.c.Sender, d.c.Recipients, d.log)
	s.Name = d.name
	s.Metrics = d.metrics
	return s, nil
}

func (d *smtpDestination) Mailbox() string { return strings.Join(d.c.Recipients, ",") }

func smtpTransport(c SMTPConfig) transport.Config {
	host, _, _ := net.SplitHostPort(c.ServerAddr)
	return transport.Config{
		Addr:      c.ServerAddr,
		TLS:       c.TLS,
		TLSConfig: &tls.Config{ServerName: host},
	}
}
