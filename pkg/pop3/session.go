// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package pop3 implements an event-driven POP3 retrieval client (RFC 1939).
//
// A Session is fed server replies by a driver and answers each one by posting
// the next command on its session.Transport. It downloads new messages into
// a Dropper, skipping messages recorded in the UIDL retention table, and
// deletes messages according to the account's retention policy.
package pop3

import (
	"fmt"
	"strings"
	"time"

	"src.bluestatic.org/mailshuttle/pkg/digest"
	"src.bluestatic.org/mailshuttle/pkg/session"
	"src.bluestatic.org/mailshuttle/pkg/uidl"

	"go.uber.org/zap"
)

// Session is one POP3 conversation. It is not safe for concurrent use and is
// not reusable after it reaches a terminal state.
type Session struct {
	session.Base

	acct    Account
	table   uidl.Table
	dropper Dropper
	now     time.Time

	state    State
	greeting string

	count      int
	totalBytes int64
	msgs       []Message // 1-indexed; msgs[0] is unused
	cur        int

	uidlValid   bool
	newMsgExist bool
	committed   bool

	progress Progress
}

// NewSession creates a session for acct. The table holds the retention
// entries loaded for this account and may be nil.
func NewSession(acct Account, table uidl.Table, d Dropper, t session.Transport, log *zap.Logger) *Session {
	if table == nil {
		table = make(uidl.Table)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("server", acct.Server), zap.String("user", acct.User))
	return &Session{
		Base:    session.NewBase(t, log),
		acct:    acct,
		table:   table,
		dropper: d,
		now:     time.Now(),
		state:   StateReady,
	}
}

func (s *Session) State() State { return s.state }

// Greeting returns the server banner.
func (s *Session) Greeting() string { return s.greeting }

// Count returns the number of messages reported by STAT.
func (s *Session) Count() int { return s.count }

// TotalBytes returns the maildrop size reported by STAT.
func (s *Session) TotalBytes() int64 { return s.totalBytes }

// Message returns message num, or nil if num is out of range.
func (s *Session) Message(num int) *Message {
	if num < 1 || num > s.count || s.msgs == nil {
		return nil
	}
	return &s.msgs[num]
}

func (s *Session) Progress() Progress { return s.progress }

// UIDLValid reports whether the server's UIDL listing was read, which makes
// the retention records authoritative.
func (s *Session) UIDLValid() bool { return s.uidlValid }

// OnLine handles a single-line server reply.
func (s *Session) OnLine(line string) session.Action {
	s.Log.Debug("Received reply", zap.Stringer("state", s.state), zap.String("reply", line))

	if s.state.Terminal() {
		return session.ActionFail
	}
	if s.state.isBlock() {
		return s.abort(session.Errorf(session.KindProtocol, "unexpected reply %q while receiving data", line))
	}

	reply := s.classify(line)
	if reply.Verdict == session.Fatal {
		return s.abort(session.Errorf(reply.Kind, "%s", reply.Text))
	}

	switch s.state {
	case StateReady, StateGreeting:
		s.greeting = reply.Text
		s.state = StateGreeting
		if s.acct.TLS == session.TLSStartTLS {
			return s.send(StateSTLS, "STLS")
		}
		return s.authenticate()
	case StateSTLS:
		if err := s.T.StartTLS(); err != nil {
			return s.fail(session.Wrap(session.KindIO, err, "TLS negotiation failed"))
		}
		s.Log.Info("Started TLS")
		return s.authenticate()
	case StateGetAuthUser:
		return s.sendMasked(StateGetAuthPass, "PASS "+s.acct.Password, "PASS ********")
	case StateGetAuthPass, StateGetAuthAPOP:
		s.Log.Info("Authenticated")
		if s.acct.AuthOnly {
			return s.logout()
		}
		return s.send(StateGetRangeStat, "STAT")
	case StateGetRangeStat:
		return s.onStat(reply.Text)
	case StateGetRangeUIDL:
		if reply.Verdict == session.Recoverable {
			s.Log.Info("UIDL not supported, falling back to LAST", zap.String("reply", reply.Text))
			return s.send(StateGetRangeLast, "LAST")
		}
		return s.receive(StateGetRangeUIDLRecv)
	case StateGetRangeLast:
		return s.onLast(reply)
	case StateGetSizeList:
		return s.receive(StateGetSizeListRecv)
	case StateRetr:
		return s.receive(StateRetrRecv)
	case StateDelete:
		m := &s.msgs[s.cur]
		m.Deleted = true
		s.progress.Deleted++
		s.Log.Info("Deleted message", zap.Int("msg", s.cur), zap.String("uidl", m.UIDL))
		return s.advance()
	case StateLogout:
		s.committed = true
		if s.LastError() != nil {
			s.state = StateError
			return session.ActionFail
		}
		s.state = StateDone
		s.Log.Info("Session complete",
			zap.Int("received", s.progress.CurTotalNum),
			zap.Int("deleted", s.progress.Deleted))
		return session.ActionDisconnect
	}
	return s.abort(session.Errorf(session.KindProtocol, "unexpected reply %q in state %s", line, s.state))
}

// OnDataBlock handles the multi-line body of a UIDL, LIST or RETR reply.
func (s *Session) OnDataBlock(block []byte) session.Action {
	switch s.state {
	case StateGetRangeUIDLRecv:
		s.parseUIDL(block)
		if s.newMsgExist {
			return s.send(StateGetSizeList, "LIST")
		}
		return s.logout()
	case StateGetSizeListRecv:
		s.parseList(block)
		return s.lookupNext()
	case StateRetrRecv:
		return s.onRetrieved(block)
	case StateDone, StateError:
		return session.ActionFail
	}
	return s.abort(session.Errorf(session.KindProtocol, "unexpected data block in state %s", s.state))
}

// OnSendComplete is a no-op; POP3 never streams data to the server.
func (s *Session) OnSendComplete() session.Action {
	if s.state.Terminal() {
		return session.ActionFail
	}
	return session.ActionContinue
}

func (s *Session) classify(line string) session.Reply {
	if rest, ok := strings.CutPrefix(line, "+OK"); ok {
		return session.Reply{Verdict: session.Success, Text: strings.TrimLeft(rest, " ")}
	}
	if rest, ok := strings.CutPrefix(line, "-ERR"); ok {
		kind := s.errorKind(rest)
		verdict := session.Fatal
		if kind == session.KindNotSupported {
			verdict = session.Recoverable
		}
		return session.Reply{Verdict: verdict, Kind: kind, Text: line}
	}
	return session.Reply{Verdict: session.Fatal, Kind: session.KindProtocol, Text: "POP3 protocol error: " + line}
}

func (s *Session) errorKind(text string) session.Kind {
	switch {
	case strings.Contains(text, "lock") || strings.Contains(text, "Lock") ||
		strings.Contains(text, "LOCK") || strings.Contains(text, "wait"):
		return session.KindLocked
	case strings.Contains(strings.ToLower(text), "timeout"):
		return session.KindTimeout
	}
	switch {
	case s.state.isAuth():
		return session.KindAuth
	case s.state == StateGetRangeUIDL || s.state == StateGetRangeLast:
		return session.KindNotSupported
	}
	return session.KindFatal
}

func (s *Session) authenticate() session.Action {
	if !s.acct.UseAPOP {
		return s.send(StateGetAuthUser, "USER "+s.acct.User)
	}
	ts, err := apopTimestamp(s.greeting)
	if err != nil {
		return s.abort(session.Wrap(session.KindProtocol, err, "APOP not available"))
	}
	sum := digest.APOP(ts, s.acct.Password)
	return s.sendMasked(StateGetAuthAPOP,
		fmt.Sprintf("APOP %s %s", s.acct.User, sum),
		fmt.Sprintf("APOP %s ********", s.acct.User))
}

func (s *Session) onStat(text string) session.Action {
	var count int
	var size int64
	if n, err := fmt.Sscanf(text, "%d %d", &count, &size); n != 2 || err != nil || count < 0 {
		return s.abort(session.Errorf(session.KindProtocol, "POP3 protocol error: bad STAT reply %q", text))
	}
	s.count = count
	s.totalBytes = size
	s.Log.Info("Maildrop status", zap.Int("count", count), zap.Int64("bytes", size))

	if count == 0 {
		s.uidlValid = true
		return s.logout()
	}
	s.msgs = make([]Message, count+1)
	for i := range s.msgs {
		s.msgs[i].Num = i
	}
	s.cur = 1
	return s.send(StateGetRangeUIDL, "UIDL")
}

func (s *Session) onLast(reply session.Reply) session.Action {
	if reply.Verdict == session.Recoverable {
		s.Log.Info("LAST not supported, fetching all messages", zap.String("reply", reply.Text))
		s.newMsgExist = true
		return s.send(StateGetSizeList, "LIST")
	}
	var last int
	if n, err := fmt.Sscanf(reply.Text, "%d", &last); n != 1 || err != nil {
		return s.abort(session.Errorf(session.KindProtocol, "POP3 protocol error: bad LAST reply %q", reply.Text))
	}
	if last < 0 || last >= s.count {
		s.cur = 0
		return s.logout()
	}
	s.cur = last + 1
	s.newMsgExist = true
	return s.send(StateGetSizeList, "LIST")
}

func (s *Session) parseUIDL(block []byte) {
	for _, line := range session.SplitLines(session.Unstuff(block)) {
		var num int
		var id string
		if n, err := fmt.Sscanf(line, "%d %s", &num, &id); n != 2 || err != nil {
			s.Log.Warn("Bad UIDL line", zap.String("line", line))
			continue
		}
		if num < 1 || num > s.count {
			s.Log.Warn("UIDL message number out of range", zap.Int("msg", num), zap.Int("count", s.count))
			continue
		}
		m := &s.msgs[num]
		m.UIDL = id
		m.Entry = s.table.Lookup(id)
		m.Received = m.Entry.Marker != uidl.MarkerNone && !s.acct.GetAll

		wanted := s.acct.GetAll || s.acct.RemoveMail ||
			m.Entry.Marker == uidl.MarkerNone || m.Entry.Marker == uidl.MarkerDelete
		if wanted && (!s.newMsgExist || num < s.cur) {
			s.cur = num
			s.newMsgExist = true
		}
	}
	s.uidlValid = true
}

func (s *Session) parseList(block []byte) {
	for _, line := range session.SplitLines(session.Unstuff(block)) {
		var num int
		var size int64
		if n, err := fmt.Sscanf(line, "%d %d", &num, &size); n != 2 || err != nil {
			s.Log.Warn("Bad LIST line", zap.String("line", line))
			continue
		}
		if num < 1 || num > s.count {
			s.Log.Warn("LIST message number out of range", zap.Int("msg", num), zap.Int("count", s.count))
			continue
		}
		s.msgs[num].Size = size
		if num < s.cur {
			s.progress.CurTotalBytes += size
		}
	}
}

// lookupNext issues the command for the first message at or after the
// cursor that needs work, or logs out when none is left.
func (s *Session) lookupNext() session.Action {
	for {
		m := &s.msgs[s.cur]
		log := s.Log.With(zap.Int("msg", s.cur), zap.String("uidl", m.UIDL))

		if s.expired(m) {
			log.Info("Deleting expired message", zap.Stringer("marker", m.Entry.Marker))
			s.progress.CurTotalBytes += m.Size
			return s.send(StateDelete, fmt.Sprintf("DELE %d", s.cur))
		}

		over := s.acct.oversized(m.Size)
		if over && !m.Received && m.Entry.Marker != uidl.MarkerKeep {
			log.Info("Skipping message", zap.Int64("size", m.Size), zap.Int("limitKiB", s.acct.SizeLimit))
			s.progress.Skipped++
		}
		if m.Size == 0 || m.Received || over {
			s.progress.CurTotalBytes += m.Size
			if s.cur >= s.count {
				return s.logout()
			}
			s.cur++
			continue
		}
		return s.send(StateRetr, fmt.Sprintf("RETR %d", s.cur))
	}
}

func (s *Session) expired(m *Message) bool {
	if m.Entry.Marker == uidl.MarkerDelete {
		return true
	}
	if !s.acct.RemoveMail {
		return false
	}
	age, ok := m.Entry.Age(s.now)
	return ok && age >= time.Duration(s.acct.RemoveAfterDays)*24*time.Hour
}

func (s *Session) onRetrieved(block []byte) session.Action {
	m := &s.msgs[s.cur]
	body := session.Unstuff(block)
	log := s.Log.With(zap.Int("msg", s.cur), zap.String("uidl", m.UIDL))

	result, err := s.dropper.Drop(m, body)
	if err == nil && result == DropError {
		err = fmt.Errorf("dropper reported failure")
	}
	if err != nil {
		log.Error("Failed to drop message", zap.Error(err))
		return s.abort(session.Wrap(session.KindIO, err, fmt.Sprintf("Failed to store message %d", s.cur)))
	}
	log.Info("Retrieved message", zap.Int64("size", m.Size), zap.Stringer("result", result))

	s.progress.CurTotalBytes += m.Size
	s.progress.CurTotalRecvBytes += m.Size
	s.progress.CurTotalNum++
	m.Received = true
	m.Entry = uidl.Entry{Marker: result.marker()}
	if result == DropKept {
		m.Entry.Time = s.now
	}

	if m.Entry.Marker == uidl.MarkerDelete ||
		(s.acct.RemoveMail && s.acct.RemoveAfterDays == 0 && m.Entry.Marker != uidl.MarkerKeep) {
		return s.send(StateDelete, fmt.Sprintf("DELE %d", s.cur))
	}
	return s.advance()
}

func (s *Session) advance() session.Action {
	if s.cur >= s.count {
		return s.logout()
	}
	s.cur++
	return s.lookupNext()
}

func (s *Session) receive(next State) session.Action {
	s.state = next
	s.T.ReceiveData()
	return session.ActionContinue
}

func (s *Session) logout() session.Action {
	return s.send(StateLogout, "QUIT")
}

func (s *Session) send(next State, line string) session.Action {
	return s.sendMasked(next, line, line)
}

// sendMasked sends line but logs display, to keep secrets out of the log.
func (s *Session) sendMasked(next State, line, display string) session.Action {
	s.Log.Debug("Sending command", zap.Stringer("state", next), zap.String("command", display))
	if err := s.T.SendLine(line); err != nil {
		return s.fail(session.Wrap(session.KindIO, err, "Failed to send command"))
	}
	s.state = next
	return session.ActionContinue
}

// abort records err and says QUIT, unless already logging out.
func (s *Session) abort(err *session.Error) session.Action {
	s.Fail(err)
	s.Log.Error("Session failed", zap.Stringer("state", s.state), zap.Error(err))
	if s.state == StateLogout {
		s.state = StateError
		return session.ActionFail
	}
	if s.send(StateLogout, "QUIT") == session.ActionContinue {
		return session.ActionContinue
	}
	s.state = StateError
	return session.ActionFail
}

// fail ends the session without sending anything.
func (s *Session) fail(err *session.Error) session.Action {
	s.Fail(err)
	s.Log.Error("Session failed", zap.Stringer("state", s.state), zap.Error(err))
	s.state = StateError
	return session.ActionFail
}
