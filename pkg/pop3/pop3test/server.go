// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package pop3test runs an in-process POP3 server over a fixed maildrop,
// for testing clients end to end.
package pop3test

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"

	"src.bluestatic.org/mailshuttle/pkg/digest"

	"go.uber.org/zap"
)

type state int

const (
	stateAuth state = iota
	stateTxn
)

const (
	errStateAuth  = "not in AUTHORIZATION"
	errStateTxn   = "not in TRANSACTION"
	errSyntax     = "syntax error"
	errDeletedMsg = "no such message - deleted"
)

// Message is one message in the maildrop.
type Message struct {
	UIDL string
	Body string
}

// Server is a single-user POP3 server. Configure it before calling Start.
type Server struct {
	User     string
	Password string
	// Timestamp, if set, is put in the greeting and enables APOP.
	Timestamp string
	// NoUIDL makes the server refuse UIDL, and LAST too if NoLast is set.
	NoUIDL bool
	NoLast bool
	// TLSConfig, if set, enables STLS.
	TLSConfig *tls.Config

	mu       sync.Mutex
	msgs     []*Message
	commands []string
	l        net.Listener
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewServer creates a server for user with the given maildrop.
func NewServer(user, pass string, msgs ...*Message) *Server {
	return &Server{User: user, Password: pass, msgs: msgs}
}

// Start listens on a loopback port and returns its address.
func (s *Server) Start(log *zap.Logger) (string, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return "", err
	}
	if log == nil {
		log = zap.NewNop()
	}
	s.l = l
	s.log = log
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.accept(nc)
			}()
		}
	}()
	return l.Addr().String(), nil
}

// Close stops the listener and waits for open sessions to finish.
func (s *Server) Close() {
	if s.l != nil {
		s.l.Close()
	}
	s.wg.Wait()
}

// Messages returns the maildrop contents, without committed deletions.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

// Commands returns every command verb received, across sessions.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

type connection struct {
	s   *Server
	nc  net.Conn
	tp  *textproto.Conn
	log *zap.Logger

	state
	line    string
	user    string
	msgs    []*Message
	deleted map[int]bool
}

func (s *Server) accept(nc net.Conn) {
	conn := &connection{
		s:       s,
		nc:      nc,
		tp:      textproto.NewConn(nc),
		log:     s.log.With(zap.Stringer("client", nc.RemoteAddr())),
		state:   stateAuth,
		deleted: make(map[int]bool),
	}
	defer conn.tp.Close()

	greeting := "POP3 (pop3test) server ready"
	if s.Timestamp != "" {
		greeting += " " + s.Timestamp
	}
	conn.ok(greeting)

	for {
		var err error
		conn.line, err = conn.tp.ReadLine()
		if err != nil {
			return
		}
		cmd, _, _ := strings.Cut(conn.line, " ")
		cmd = strings.ToUpper(cmd)

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		switch cmd {
		case "QUIT":
			conn.doQUIT()
			return
		case "STLS":
			if !conn.doSTLS() {
				return
			}
		case "USER":
			conn.doUSER()
		case "PASS":
			conn.doPASS()
		case "APOP":
			conn.doAPOP()
		case "STAT":
			conn.doSTAT()
		case "LIST":
			conn.doLIST()
		case "UIDL":
			conn.doUIDL()
		case "LAST":
			conn.doLAST()
		case "RETR":
			conn.doRETR()
		case "DELE":
			conn.doDELE()
		case "NOOP":
			conn.ok("")
		case "RSET":
			conn.deleted = make(map[int]bool)
			conn.ok("")
		default:
			conn.err("unknown command")
		}
	}
}

func (conn *connection) ok(msg string) {
	if len(msg) > 0 {
		msg = " " + msg
	}
	conn.tp.PrintfLine("+OK%s", msg)
}

func (conn *connection) err(msg string) {
	conn.log.Debug("error", zap.String("line", conn.line), zap.String("message", msg))
	conn.tp.PrintfLine("-ERR %s", msg)
}

func (conn *connection) doQUIT() {
	if conn.state == stateTxn {
		conn.s.mu.Lock()
		var keep []*Message
		for i, m := range conn.msgs {
			if !conn.deleted[i+1] {
				keep = append(keep, m)
			}
		}
		conn.s.msgs = keep
		conn.s.mu.Unlock()
	}
	conn.ok("goodbye")
}

func (conn *connection) doSTLS() bool {
	if conn.s.TLSConfig == nil || conn.state != stateAuth {
		conn.err("STLS not available")
		return true
	}
	if _, ok := conn.nc.(*tls.Conn); ok {
		conn.err("already using TLS")
		return true
	}
	conn.ok("begin TLS negotiation")
	tc := tls.Server(conn.nc, conn.s.TLSConfig)
	if err := tc.Handshake(); err != nil {
		conn.log.Error("TLS handshake failed", zap.Error(err))
		return false
	}
	conn.nc = tc
	conn.tp = textproto.NewConn(tc)
	return true
}

func (conn *connection) doUSER() {
	if conn.state != stateAuth {
		conn.err(errStateAuth)
		return
	}
	cmd := len("USER ")
	if len(conn.line) < cmd {
		conn.err("invalid user")
		return
	}
	conn.user = conn.line[cmd:]
	conn.ok("")
}

func (conn *connection) doPASS() {
	if conn.state != stateAuth {
		conn.err(errStateAuth)
		return
	}
	if len(conn.user) == 0 {
		conn.err("no USER")
		return
	}
	cmd := len("PASS ")
	if len(conn.line) < cmd || conn.user != conn.s.User || conn.line[cmd:] != conn.s.Password {
		conn.err("invalid password")
		return
	}
	conn.open()
}

func (conn *connection) doAPOP() {
	if conn.state != stateAuth || conn.s.Timestamp == "" {
		conn.err(errStateAuth)
		return
	}
	var cmd, user, sum string
	if n, _ := fmt.Sscanf(conn.line, "%s %s %s", &cmd, &user, &sum); n != 3 {
		conn.err(errSyntax)
		return
	}
	if user != conn.s.User || sum != digest.APOP(conn.s.Timestamp, conn.s.Password) {
		conn.err("authentication failed")
		return
	}
	conn.user = user
	conn.open()
}

func (conn *connection) open() {
	conn.s.mu.Lock()
	conn.msgs = append([]*Message(nil), conn.s.msgs...)
	conn.s.mu.Unlock()
	conn.log.Info("authenticated", zap.String("user", conn.user))
	conn.state = stateTxn
	conn.ok("maildrop ready")
}

func (conn *connection) doSTAT() {
	if conn.state != stateTxn {
		conn.err(errStateTxn)
		return
	}
	size, num := 0, 0
	for i, msg := range conn.msgs {
		if conn.deleted[i+1] {
			continue
		}
		size += len(msg.Body)
		num++
	}
	conn.ok(fmt.Sprintf("%d %d", num, size))
}

func (conn *connection) doLIST() {
	if conn.state != stateTxn {
		conn.err(errStateTxn)
		return
	}
	conn.ok("scan listing")
	for i, msg := range conn.msgs {
		if !conn.deleted[i+1] {
			conn.tp.PrintfLine("%d %d", i+1, len(msg.Body))
		}
	}
	conn.tp.PrintfLine(".")
}

func (conn *connection) doUIDL() {
	if conn.state != stateTxn {
		conn.err(errStateTxn)
		return
	}
	if conn.s.NoUIDL {
		conn.err("unknown command")
		return
	}
	conn.ok("unique-id listing")
	for i, msg := range conn.msgs {
		if !conn.deleted[i+1] {
			conn.tp.PrintfLine("%d %s", i+1, msg.UIDL)
		}
	}
	conn.tp.PrintfLine(".")
}

func (conn *connection) doLAST() {
	if conn.state != stateTxn {
		conn.err(errStateTxn)
		return
	}
	if conn.s.NoLast {
		conn.err("unknown command")
		return
	}
	conn.ok("0")
}

func (conn *connection) doRETR() {
	_, msg := conn.getRequestedMessage()
	if msg == nil {
		return
	}
	conn.ok(fmt.Sprintf("%d octets", len(msg.Body)))
	w := conn.tp.DotWriter()
	io.Copy(w, strings.NewReader(msg.Body))
	w.Close()
}

func (conn *connection) doDELE() {
	idx, msg := conn.getRequestedMessage()
	if msg == nil {
		return
	}
	conn.deleted[idx] = true
	conn.ok(fmt.Sprintf("message %d deleted", idx))
}

func (conn *connection) getRequestedMessage() (int, *Message) {
	if conn.state != stateTxn {
		conn.err(errStateTxn)
		return 0, nil
	}
	var cmd string
	var idx int
	if _, err := fmt.Sscanf(conn.line, "%s %d", &cmd, &idx); err != nil {
		conn.err(errSyntax)
		return 0, nil
	}
	if idx < 1 || idx > len(conn.msgs) {
		conn.err("no such message")
		return 0, nil
	}
	if conn.deleted[idx] {
		conn.err(errDeletedMsg)
		return 0, nil
	}
	return idx, conn.msgs[idx-1]
}
