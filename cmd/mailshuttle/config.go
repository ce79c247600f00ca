// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"src.bluestatic.org/mailshuttle/pkg/drop"
	"src.bluestatic.org/mailshuttle/pkg/oauth"
	"src.bluestatic.org/mailshuttle/pkg/pop3"
	"src.bluestatic.org/mailshuttle/pkg/session"
	"src.bluestatic.org/mailshuttle/pkg/smtp"
)

type DestinationType string

const (
	DestinationMaildir DestinationType = "maildir"
	DestinationGmail   DestinationType = "gmail"
	DestinationSMTP    DestinationType = "smtp"
)

// SourceConfig is a POP3 account to poll.
type SourceConfig struct {
	ServerAddr string
	TLS        session.TLSMode
	User       string
	Password   string
	UseAPOP    bool

	GetAll          bool
	RemoveMail      bool
	RemoveAfterDays int
	SizeLimitKiB    int
	AuthOnly        bool
	// MaxMessageBytes caps the size of one retrieved message. Zero uses
	// the transport default.
	MaxMessageBytes int64
}

// SMTPConfig is an SMTP submission server.
type SMTPConfig struct {
	ServerAddr string
	TLS        session.TLSMode
	Hostname   string
	User       string
	Password   string
	// Mechanism forces an AUTH mechanism when the server offers it.
	Mechanism string
	// AllowedMechanisms limits negotiation. Empty allows PLAIN, LOGIN and
	// CRAM-MD5.
	AllowedMechanisms []string
}

// DestinationConfig says where fetched messages go.
type DestinationConfig struct {
	Type DestinationType
	// Maildir
	Path string
	// Gmail
	Email string
	// SMTP
	SMTP       SMTPConfig
	Sender     string
	Recipients []string
}

type RuleConfig struct {
	Header   string
	Contains string
	// Action is "delete" or "dont-receive".
	Action string
}

type MonitorConfig struct {
	// Name labels logs and metrics. It defaults to User@ServerAddr.
	Name                string
	Source              SourceConfig
	Destination         DestinationConfig
	Rules               []RuleConfig
	PollIntervalSeconds int
}

type Config struct {
	Monitor []MonitorConfig
	// StateDir holds the UIDL retention files.
	StateDir string
	// LogLevel is a zap level name. The default is "info".
	LogLevel string
	// MetricsAddr, if set, serves Prometheus metrics.
	MetricsAddr string

	OAuthServer oauth.Config
	// Submission is used by the send command.
	Submission SMTPConfig
}

// LoadConfig reads a JSON config, or TOML if the file name ends in .toml.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var config Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.NewDecoder(f).Decode(&config)
	} else {
		err = json.NewDecoder(f).Decode(&config)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to decode %s: %w", path, err)
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.StateDir == "" && len(c.Monitor) > 0 {
		return errors.New("Missing StateDir")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	needOAuth := false
	for i, mon := range c.Monitor {
		if mon.PollIntervalSeconds <= 0 {
			return fmt.Errorf("Monitor %d: Missing PollIntervalSeconds", i)
		}
		if err := validateSource(mon.Source); err != nil {
			return fmt.Errorf("Monitor %d: Invalid Source: %w", i, err)
		}
		if err := validateDest(mon.Destination); err != nil {
			return fmt.Errorf("Monitor %d: Invalid Destination: %w", i, err)
		}
		if _, err := mon.rules(); err != nil {
			return fmt.Errorf("Monitor %d: %w", i, err)
		}
		if mon.Destination.Type == DestinationGmail {
			needOAuth = true
		}
	}
	if needOAuth {
		if err := c.OAuthServer.Validate(); err != nil {
			return fmt.Errorf("Invalid OAuthServer: %w", err)
		}
		if c.OAuthServer.CredentialsPath == "" {
			return errors.New("Invalid OAuthServer: Missing CredentialsPath")
		}
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (zapcore.Level, error) {
	lvl := zapcore.InfoLevel
	if c.LogLevel == "" {
		return lvl, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("Invalid LogLevel: %w", err)
	}
	return lvl, nil
}

func validateAddr(addr string) error {
	if addr == "" {
		return errors.New("Missing ServerAddr")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("Invalid ServerAddr: %w", err)
	}
	return nil
}

func validateSource(c SourceConfig) error {
	if err := validateAddr(c.ServerAddr); err != nil {
		return err
	}
	if !c.TLS.Valid() {
		return fmt.Errorf("Invalid TLS: %q", c.TLS)
	}
	if c.User == "" {
		return errors.New("Missing User")
	}
	if c.RemoveAfterDays < 0 || c.SizeLimitKiB < 0 || c.MaxMessageBytes < 0 {
		return errors.New("Negative RemoveAfterDays, SizeLimitKiB or MaxMessageBytes")
	}
	return nil
}

func validateSMTP(c SMTPConfig) error {
	if err := validateAddr(c.ServerAddr); err != nil {
		return err
	}
	if !c.TLS.Valid() {
		return fmt.Errorf("Invalid TLS: %q", c.TLS)
	}
	_, err := c.account()
	return err
}

func validateDest(c DestinationConfig) error {
	switch c.Type {
	case DestinationMaildir:
		if c.Path == "" {
			return errors.New("Missing Path")
		}
	case DestinationGmail:
		if c.Email == "" {
			return errors.New("Missing Email")
		}
	case DestinationSMTP:
		if c.Sender == "" || len(c.Recipients) == 0 {
			return errors.New("Missing Sender or Recipients")
		}
		return validateSMTP(c.SMTP)
	default:
		return fmt.Errorf("Invalid Type: %q", c.Type)
	}
	return nil
}

func (m MonitorConfig) name() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Source.User + "@" + m.Source.ServerAddr
}

func (m MonitorConfig) rules() ([]drop.Rule, error) {
	var rules []drop.Rule
	for i, rc := range m.Rules {
		if rc.Header == "" || rc.Contains == "" {
			return nil, fmt.Errorf("Rule %d: Missing Header or Contains", i)
		}
		action, err := drop.ParseAction(rc.Action)
		if err != nil {
			return nil, fmt.Errorf("Rule %d: %w", i, err)
		}
		rules = append(rules, drop.Rule{Header: rc.Header, Contains: rc.Contains, Action: action})
	}
	return rules, nil
}

func (c SourceConfig) account() pop3.Account {
	host, _, _ := net.SplitHostPort(c.ServerAddr)
	return pop3.Account{
		Server:          host,
		User:            c.User,
		Password:        c.Password,
		UseAPOP:         c.UseAPOP,
		TLS:             c.TLS,
		GetAll:          c.GetAll,
		RemoveMail:      c.RemoveMail,
		RemoveAfterDays: c.RemoveAfterDays,
		SizeLimit:       c.SizeLimitKiB,
		AuthOnly:        c.AuthOnly,
	}
}

func (c SMTPConfig) account() (smtp.Account, error) {
	acct := smtp.Account{
		Hostname: c.Hostname,
		User:     c.User,
		Password: c.Password,
		TLS:      c.TLS,
	}
	if c.Mechanism != "" {
		m, err := smtp.ParseMechanism(c.Mechanism)
		if err != nil {
			return acct, err
		}
		acct.Forced = m
	}
	for _, name := range c.AllowedMechanisms {
		m, err := smtp.ParseMechanism(name)
		if err != nil {
			return acct, err
		}
		acct.Allowed |= m
	}
	return acct, nil
}
