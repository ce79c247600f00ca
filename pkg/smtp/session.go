// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package smtp implements an event-driven SMTP submission client
// (RFC 5321) with STARTTLS (RFC 3207) and AUTH (RFC 4954).
//
// A Session submits one message. It is fed server replies by a driver and
// answers each one by posting the next command on its session.Transport.
package smtp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"src.bluestatic.org/mailshuttle/pkg/session"

	"github.com/emersion/go-sasl"
	"go.uber.org/zap"
)

// Account holds the client identity and credentials.
type Account struct {
	// Hostname is sent with HELO/EHLO.
	Hostname string
	User     string
	Password string
	TLS      session.TLSMode

	// Forced is used when the server advertises it. Otherwise the strongest
	// mechanism in Allowed that the server advertises is chosen.
	Forced  Mechanism
	Allowed Mechanism
}

// Envelope is the message to submit.
type Envelope struct {
	Sender     string
	Recipients []string
	Body       io.Reader
	// Size is informational, used for logging.
	Size int64
}

var ErrNoRecipients = errors.New("Envelope has no recipients")

// Session is one SMTP conversation. It is not safe for concurrent use and is
// not reusable.
type Session struct {
	session.Base

	acct Account
	env  Envelope

	state     State
	tlsDone   bool
	available Mechanism
	chosen    Mechanism
	client    sasl.Client
	aborted   bool

	rcptCursor int
}

func NewSession(acct Account, env Envelope, t session.Transport, log *zap.Logger) (*Session, error) {
	if len(env.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if acct.Hostname == "" {
		acct.Hostname = "localhost"
	}
	if acct.Allowed == 0 {
		acct.Allowed = DefaultMechanisms
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("sender", env.Sender))
	return &Session{
		Base:  session.NewBase(t, log),
		acct:  acct,
		env:   env,
		state: StateReady,
	}, nil
}

func (s *Session) State() State { return s.state }

// Available returns the mechanisms advertised in the latest EHLO reply.
func (s *Session) Available() Mechanism { return s.available }

// Chosen returns the mechanism used to authenticate, if any.
func (s *Session) Chosen() Mechanism { return s.chosen }

// TLSDone reports whether STARTTLS completed.
func (s *Session) TLSDone() bool { return s.tlsDone }

// OnLine handles one reply line.
func (s *Session) OnLine(line string) session.Action {
	s.Log.Debug("Received reply", zap.Stringer("state", s.state), zap.String("reply", line))

	if s.state.Terminal() {
		return session.ActionFail
	}

	reply, more := ParseReply(line)
	if reply.Verdict == session.Fatal {
		return s.fail(session.Errorf(reply.Kind, "%s", reply.Text))
	}
	if more && s.state != StateEHLO {
		return session.ActionContinue
	}
	if s.aborted {
		return s.fail(session.Errorf(session.KindAuth, "authentication aborted: %s", line))
	}

	switch s.state {
	case StateReady, StateConnected:
		s.state = StateConnected
		if s.acct.User != "" || s.acct.TLS != session.TLSNone {
			return s.ehlo()
		}
		return s.send(StateHELO, "HELO "+s.acct.Hostname)
	case StateHELO:
		return s.mailFrom()
	case StateEHLO:
		if reply.Code == 250 {
			s.available |= parseAuthLine(reply.Text)
		}
		if more {
			return session.ActionContinue
		}
		if s.acct.TLS == session.TLSStartTLS && !s.tlsDone {
			return s.send(StateSTARTTLS, "STARTTLS")
		}
		if s.acct.User != "" {
			return s.authenticate()
		}
		return s.mailFrom()
	case StateSTARTTLS:
		if err := s.T.StartTLS(); err != nil {
			return s.fail(session.Wrap(session.KindIO, err, "can't start TLS session"))
		}
		s.Log.Info("Started TLS")
		s.tlsDone = true
		s.available = 0
		return s.ehlo()
	case StateAuth, StateAuthLoginUser:
		return s.onChallenge(reply)
	case StateAuthPlain, StateAuthLoginPass, StateAuthCRAMMD5:
		if reply.Code == 334 {
			return s.abortAuth()
		}
		s.Log.Info("Authenticated", zap.Stringer("mechanism", s.chosen))
		return s.mailFrom()
	case StateFrom:
		return s.rcpt()
	case StateRcpt:
		if s.rcptCursor < len(s.env.Recipients) {
			return s.rcpt()
		}
		return s.send(StateData, "DATA")
	case StateData:
		s.state = StateSendData
		if err := s.T.SendData(s.env.Body); err != nil {
			return s.fail(session.Wrap(session.KindIO, err, "Failed to send message body"))
		}
		return session.ActionContinue
	case StateEOM:
		s.Log.Info("Message accepted", zap.Strings("recipients", s.env.Recipients),
			zap.Int64("size", s.env.Size), zap.String("reply", reply.Text))
		return s.send(StateQuit, "QUIT")
	case StateQuit:
		s.state = StateDone
		return session.ActionDisconnect
	}
	return s.fail(session.Errorf(session.KindProtocol, "unexpected reply %q in state %s", line, s.state))
}

// OnDataBlock is never expected; SMTP replies are single lines.
func (s *Session) OnDataBlock(block []byte) session.Action {
	if s.state.Terminal() {
		return session.ActionFail
	}
	return s.fail(session.Errorf(session.KindProtocol, "unexpected data block in state %s", s.state))
}

// OnSendComplete ends the message once the body has been written.
func (s *Session) OnSendComplete() session.Action {
	if s.state != StateSendData {
		if s.state.Terminal() {
			return session.ActionFail
		}
		return session.ActionContinue
	}
	return s.send(StateEOM, ".")
}

func (s *Session) ehlo() session.Action {
	return s.send(StateEHLO, "EHLO "+s.acct.Hostname)
}

func (s *Session) chooseMechanism() Mechanism {
	if f := s.acct.Forced; f != 0 {
		switch {
		case f&(f-1) != 0 || f&DefaultMechanisms != f:
			s.Log.Warn("Forced AUTH mechanism not supported, negotiating", zap.Stringer("forced", f))
		case s.available&f != 0:
			return f
		default:
			s.Log.Warn("Forced AUTH mechanism not advertised, negotiating",
				zap.Stringer("forced", f), zap.Stringer("available", s.available))
		}
	}
	usable := s.available & s.acct.Allowed
	for _, m := range preference {
		if usable&m != 0 {
			return m
		}
	}
	return 0
}

func (s *Session) authenticate() session.Action {
	mech := s.chooseMechanism()
	if mech == 0 {
		return s.fail(session.Errorf(session.KindAuth, "SMTP AUTH not available"))
	}
	s.chosen = mech
	s.client = newClient(mech, s.acct.User, s.acct.Password)
	if s.client == nil {
		return s.fail(session.Errorf(session.KindAuth, "SMTP AUTH mechanism %v not supported", mech))
	}
	name, ir, err := s.client.Start()
	if err != nil {
		return s.fail(session.Wrap(session.KindAuth, err, "Failed to start authentication"))
	}
	s.Log.Debug("Authenticating", zap.Stringer("mechanism", mech))

	if mech == MechPlain {
		return s.sendMasked(StateAuthPlain,
			"AUTH "+name+" "+base64.StdEncoding.EncodeToString(ir),
			"AUTH "+name+" ********")
	}
	return s.send(StateAuth, "AUTH "+name)
}

// onChallenge answers a 334 challenge for LOGIN or CRAM-MD5.
func (s *Session) onChallenge(reply session.Reply) session.Action {
	if reply.Code != 334 {
		return s.abortAuth()
	}
	challenge, err := base64.StdEncoding.DecodeString(reply.Text)
	if err != nil && s.chosen == MechCRAMMD5 {
		s.Log.Warn("Undecodable CRAM-MD5 challenge", zap.String("challenge", reply.Text))
		return s.abortAuth()
	}
	resp, err := s.client.Next(challenge)
	if err != nil {
		return s.abortAuth()
	}

	next := StateAuthCRAMMD5
	if s.chosen == MechLogin {
		next = StateAuthLoginUser
		if s.state == StateAuthLoginUser {
			next = StateAuthLoginPass
		}
	}
	return s.sendMasked(next, base64.StdEncoding.EncodeToString(resp), "********")
}

// abortAuth cancels the exchange with "*". The server's answer ends the
// session.
func (s *Session) abortAuth() session.Action {
	s.Log.Warn("Aborting authentication", zap.Stringer("state", s.state), zap.Stringer("mechanism", s.chosen))
	s.aborted = true
	return s.send(s.state, "*")
}

func (s *Session) mailFrom() session.Action {
	return s.send(StateFrom, fmt.Sprintf("MAIL FROM:<%s>", s.env.Sender))
}

func (s *Session) rcpt() session.Action {
	to := s.env.Recipients[s.rcptCursor]
	s.rcptCursor++
	return s.send(StateRcpt, fmt.Sprintf("RCPT TO:<%s>", to))
}

func (s *Session) send(next State, line string) session.Action {
	return s.sendMasked(next, line, line)
}

func (s *Session) sendMasked(next State, line, display string) session.Action {
	s.Log.Debug("Sending command", zap.Stringer("state", next), zap.String("command", display))
	if err := s.T.SendLine(line); err != nil {
		return s.fail(session.Wrap(session.KindIO, err, "Failed to send command"))
	}
	s.state = next
	return session.ActionContinue
}

func (s *Session) fail(err *session.Error) session.Action {
	s.Fail(err)
	s.Log.Error("Session failed", zap.Stringer("state", s.state), zap.Error(err))
	s.state = StateError
	return session.ActionFail
}
