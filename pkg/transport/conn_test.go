// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"src.bluestatic.org/mailshuttle/pkg/pop3"
	"src.bluestatic.org/mailshuttle/pkg/pop3/pop3test"
	"src.bluestatic.org/mailshuttle/pkg/session"
	"src.bluestatic.org/mailshuttle/pkg/uidl"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func _fl(depth int) string {
	_, file, line, _ := runtime.Caller(depth + 1)
	return fmt.Sprintf("[%s:%d]", filepath.Base(file), line)
}

func ok(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", _fl(1), err)
	}
}

// testCerts returns a server TLS config and a client config that trusts it,
// both for the name "example.com".
func testCerts(t testing.TB) (server, client *tls.Config) {
	hs := httptest.NewUnstartedServer(nil)
	hs.StartTLS()
	t.Cleanup(hs.Close)

	pool := x509.NewCertPool()
	pool.AddCert(hs.Certificate())
	server = &tls.Config{Certificates: hs.TLS.Certificates}
	client = &tls.Config{RootCAs: pool, ServerName: "example.com"}
	return server, client
}

type recorder struct {
	bodies []string
}

func (r *recorder) Drop(m *pop3.Message, body []byte) (pop3.DropResult, error) {
	r.bodies = append(r.bodies, string(body))
	return pop3.DropKept, nil
}

func runPOP3(t *testing.T, cfg Config, acct pop3.Account, table uidl.Table, d pop3.Dropper) (*pop3.Session, error) {
	t.Helper()
	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	conn, err := Dial(ctx, cfg, log)
	ok(t, err)
	s := pop3.NewSession(acct, table, d, conn, log)
	return s, conn.Run(ctx, s)
}

func TestPOP3Session(t *testing.T) {
	srv := pop3test.NewServer("u", "p",
		&pop3test.Message{UIDL: "one", Body: "Subject: one\r\n\r\nfirst\r\n"},
		&pop3test.Message{UIDL: "two", Body: "Subject: two\r\n\r\n.leading dot\r\n..two dots\r\n"},
	)
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	defer srv.Close()

	rec := &recorder{}
	acct := pop3.Account{Server: "localhost", User: "u", Password: "p", RemoveMail: true}
	s, err := runPOP3(t, Config{Addr: addr}, acct, nil, rec)
	ok(t, err)

	if want, got := pop3.StateDone, s.State(); want != got {
		t.Errorf("Expected state %v, got %v", want, got)
	}
	if want, got := 2, len(rec.bodies); want != got {
		t.Fatalf("Expected %d messages, got %d", want, got)
	}
	if want, got := "Subject: one\n\nfirst\n", rec.bodies[0]; want != got {
		t.Errorf("Expected body %q, got %q", want, got)
	}
	if want, got := "Subject: two\n\n.leading dot\n..two dots\n", rec.bodies[1]; want != got {
		t.Errorf("Expected body %q, got %q", want, got)
	}
	if want, got := 0, len(srv.Messages()); want != got {
		t.Errorf("Expected %d messages left on the server, got %d", want, got)
	}
}

func TestPOP3SecondRunFetchesNothing(t *testing.T) {
	srv := pop3test.NewServer("u", "p",
		&pop3test.Message{UIDL: "one", Body: "first\r\n"},
		&pop3test.Message{UIDL: "two", Body: "second\r\n"},
	)
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	defer srv.Close()

	store := uidl.Store{Dir: t.TempDir(), Server: "localhost", Account: "u"}
	acct := pop3.Account{Server: "localhost", User: "u", Password: "p"}

	for i, want := range []int{2, 0} {
		table, err := store.Load(time.Now())
		ok(t, err)
		rec := &recorder{}
		s, err := runPOP3(t, Config{Addr: addr}, acct, table, rec)
		ok(t, err)
		ok(t, s.SaveRetention(store))
		if got := len(rec.bodies); want != got {
			t.Errorf("Run %d: expected %d messages, got %d", i, want, got)
		}
	}

	retrs := 0
	for _, cmd := range srv.Commands() {
		if cmd == "RETR" {
			retrs++
		}
	}
	if want, got := 2, retrs; want != got {
		t.Errorf("Expected %d RETR commands, got %d", want, got)
	}
	if want, got := 2, len(srv.Messages()); want != got {
		t.Errorf("Expected %d messages kept on the server, got %d", want, got)
	}
}

func TestPOP3APOP(t *testing.T) {
	srv := pop3test.NewServer("mrose", "tanstaaf", &pop3test.Message{UIDL: "a", Body: "hi\r\n"})
	srv.Timestamp = "<1896.697170952@dbc.mtview.ca.us>"
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	defer srv.Close()

	rec := &recorder{}
	acct := pop3.Account{Server: "localhost", User: "mrose", Password: "tanstaaf", UseAPOP: true}
	_, err = runPOP3(t, Config{Addr: addr}, acct, nil, rec)
	ok(t, err)
	if want, got := 1, len(rec.bodies); want != got {
		t.Errorf("Expected %d messages, got %d", want, got)
	}
}

func TestPOP3BadPassword(t *testing.T) {
	srv := pop3test.NewServer("u", "p")
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	defer srv.Close()

	acct := pop3.Account{Server: "localhost", User: "u", Password: "wrong"}
	s, err := runPOP3(t, Config{Addr: addr}, acct, nil, &recorder{})
	if want, got := session.KindAuth, session.KindOf(err); want != got {
		t.Errorf("Expected %v error, got %v", want, err)
	}
	if want, got := pop3.StateError, s.State(); want != got {
		t.Errorf("Expected state %v, got %v", want, got)
	}
}

func TestPOP3WithoutUIDL(t *testing.T) {
	srv := pop3test.NewServer("u", "p", &pop3test.Message{UIDL: "a", Body: "hi\r\n"})
	srv.NoUIDL = true
	srv.NoLast = true
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	defer srv.Close()

	rec := &recorder{}
	acct := pop3.Account{Server: "localhost", User: "u", Password: "p"}
	s, err := runPOP3(t, Config{Addr: addr}, acct, nil, rec)
	ok(t, err)
	if want, got := 1, len(rec.bodies); want != got {
		t.Errorf("Expected %d messages, got %d", want, got)
	}
	if s.UIDLValid() {
		t.Errorf("Expected UIDL listing to be invalid")
	}
}

func TestPOP3STLS(t *testing.T) {
	serverTLS, clientTLS := testCerts(t)
	srv := pop3test.NewServer("u", "p", &pop3test.Message{UIDL: "a", Body: "secret\r\n"})
	srv.TLSConfig = serverTLS
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	defer srv.Close()

	rec := &recorder{}
	acct := pop3.Account{Server: "localhost", User: "u", Password: "p", TLS: session.TLSStartTLS}
	cfg := Config{Addr: addr, TLS: session.TLSStartTLS, TLSConfig: clientTLS}
	_, err = runPOP3(t, cfg, acct, nil, rec)
	ok(t, err)
	if want, got := 1, len(rec.bodies); want != got {
		t.Errorf("Expected %d messages, got %d", want, got)
	}
}

func TestPOP3MessageTooLarge(t *testing.T) {
	srv := pop3test.NewServer("u", "p",
		&pop3test.Message{UIDL: "big", Body: strings.Repeat("0123456789abcdef\r\n", 64)},
	)
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	defer srv.Close()

	rec := &recorder{}
	acct := pop3.Account{Server: "localhost", User: "u", Password: "p"}
	_, err = runPOP3(t, Config{Addr: addr, MaxBlockSize: 512}, acct, nil, rec)
	if !errors.Is(err, ErrBlockTooLarge) {
		t.Errorf("Expected ErrBlockTooLarge, got %v", err)
	}
	if want, got := session.KindIO, session.KindOf(err); want != got {
		t.Errorf("Expected %v error, got %v", want, err)
	}
	if want, got := 0, len(rec.bodies); want != got {
		t.Errorf("Expected %d messages, got %d", want, got)
	}
	if want, got := 1, len(srv.Messages()); want != got {
		t.Errorf("Expected %d messages left on the server, got %d", want, got)
	}
}

func TestImplicitTLS(t *testing.T) {
	serverTLS, clientTLS := testCerts(t)
	l, err := tls.Listen("tcp", "localhost:0", serverTLS)
	ok(t, err)
	defer l.Close()
	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		nc.Write([]byte("+OK hello\r\n+OK again\r\n"))
		io.Copy(io.Discard, nc)
	}()

	h := &lineHandler{quitAfter: 2}
	conn, err := Dial(t.Context(), Config{Addr: l.Addr().String(), TLS: session.TLSImplicit, TLSConfig: clientTLS}, zap.NewNop())
	ok(t, err)
	ok(t, conn.Run(t.Context(), h))
	if want, got := 2, len(h.lines); want != got {
		t.Errorf("Expected %d lines, got %d", want, got)
	}
}

// lineHandler records lines and disconnects after quitAfter of them.
type lineHandler struct {
	lines     []string
	quitAfter int
}

func (h *lineHandler) OnLine(line string) session.Action {
	h.lines = append(h.lines, line)
	if len(h.lines) >= h.quitAfter {
		return session.ActionDisconnect
	}
	return session.ActionContinue
}
func (h *lineHandler) OnDataBlock([]byte) session.Action { return session.ActionFail }
func (h *lineHandler) OnSendComplete() session.Action    { return session.ActionFail }
func (h *lineHandler) Err() error                        { return nil }

func silentServer(t *testing.T) string {
	l, err := net.Listen("tcp", "localhost:0")
	ok(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			defer nc.Close()
		}
	}()
	return l.Addr().String()
}

func TestReadTimeout(t *testing.T) {
	addr := silentServer(t)
	conn, err := Dial(t.Context(), Config{Addr: addr, Timeout: 100 * time.Millisecond}, zaptest.NewLogger(t))
	ok(t, err)
	err = conn.Run(t.Context(), &lineHandler{quitAfter: 1})
	if want, got := session.KindTimeout, session.KindOf(err); want != got {
		t.Errorf("Expected %v error, got %v", want, err)
	}
	if !session.IsRetryable(err) {
		t.Errorf("Expected timeout to be retryable")
	}
}

func TestContextCancel(t *testing.T) {
	addr := silentServer(t)
	ctx, cancel := context.WithCancel(t.Context())
	conn, err := Dial(ctx, Config{Addr: addr}, zaptest.NewLogger(t))
	ok(t, err)
	time.AfterFunc(50*time.Millisecond, cancel)
	err = conn.Run(ctx, &lineHandler{quitAfter: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestConnectionClosed(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	ok(t, err)
	defer l.Close()
	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		nc.Write([]byte("+OK hello\r\n"))
		nc.Close()
	}()
	conn, err := Dial(t.Context(), Config{Addr: l.Addr().String()}, zaptest.NewLogger(t))
	ok(t, err)
	err = conn.Run(t.Context(), &lineHandler{quitAfter: 5})
	if want, got := session.KindIO, session.KindOf(err); want != got {
		t.Errorf("Expected %v error, got %v", want, err)
	}
}
