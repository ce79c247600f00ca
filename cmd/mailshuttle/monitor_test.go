// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"src.bluestatic.org/mailshuttle/pkg/metrics"
	"src.bluestatic.org/mailshuttle/pkg/pop3"
	"src.bluestatic.org/mailshuttle/pkg/pop3/pop3test"
	"src.bluestatic.org/mailshuttle/pkg/session"
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

type testDestination struct {
	connectErr error
	msgs       []string
	result     pop3.DropResult
	dropErr    error
}

func (d *testDestination) Connect(context.Context) (pop3.Dropper, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return d, nil
}

func (d *testDestination) Mailbox() string { return "me@example.com" }

func (d *testDestination) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	if d.dropErr == nil {
		d.msgs = append(d.msgs, string(body))
	}
	return d.result, d.dropErr
}

func startServer(t *testing.T, msgs ...*pop3test.Message) (*pop3test.Server, string) {
	srv := pop3test.NewServer("u", "p", msgs...)
	addr, err := srv.Start(zaptest.NewLogger(t))
	ok(t, err)
	t.Cleanup(srv.Close)
	return srv, addr
}

func makeMonitor(t *testing.T, addr string, dst Destination, mc metrics.Collector) *Monitor {
	config := MonitorConfig{
		Name:                "test",
		PollIntervalSeconds: 3600,
		Source:              SourceConfig{ServerAddr: addr, User: "u", Password: "p"},
		Destination:         DestinationConfig{Type: DestinationMaildir},
		Rules:               []RuleConfig{{Header: "Subject", Contains: "spam", Action: "delete"}},
	}
	if mc == nil {
		mc = metrics.NoopCollector{}
	}
	m, err := NewMonitor(config, t.TempDir(), dst, mc, zaptest.NewLogger(t))
	ok(t, err)
	return m
}

var dstConnErr = errors.New("dest-connect-err")

func TestDestConnectError(t *testing.T) {
	_, addr := startServer(t)
	m := makeMonitor(t, addr, &testDestination{connectErr: dstConnErr}, nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	err := m.Start(ctx)
	if err == nil {
		t.Errorf("Expected error in Start, got nil")
	} else if !errors.Is(err, dstConnErr) {
		t.Errorf("Error is not %v", dstConnErr)
	}
}

func TestSourceAuthError(t *testing.T) {
	_, addr := startServer(t)
	m := makeMonitor(t, addr, &testDestination{}, nil)
	m.acct.Password = "wrong"
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	err := m.Start(ctx)
	if want, got := session.KindAuth, session.KindOf(err); want != got {
		t.Errorf("Expected %v error, got %v", want, err)
	}
}

func TestMoveMessages(t *testing.T) {
	srv, addr := startServer(t,
		&pop3test.Message{UIDL: "a", Body: "Subject: hello\r\n\r\nfirst\r\n"},
		&pop3test.Message{UIDL: "b", Body: "Subject: buy spam now\r\n\r\nsecond\r\n"},
	)
	dst := &testDestination{}
	reg := prometheus.NewRegistry()
	mc := metrics.NewPrometheusCollector(reg)
	m := makeMonitor(t, addr, dst, mc)

	ok(t, m.runOnce(t.Context()))

	if want, got := 1, len(dst.msgs); want != got {
		t.Fatalf("Expected %d messages, got %d", want, got)
	}
	if !strings.HasPrefix(dst.msgs[0], "Received: from <u@") {
		t.Errorf("Expected Received line, got %q", dst.msgs[0])
	}
	if !strings.HasSuffix(dst.msgs[0], "Subject: hello\n\nfirst\n") {
		t.Errorf("Expected message body, got %q", dst.msgs[0])
	}

	// The spam message was deleted by rule; the other stays on the server.
	left := srv.Messages()
	if want, got := 1, len(left); want != got {
		t.Fatalf("Expected %d messages left, got %d", want, got)
	}
	if want, got := "a", left[0].UIDL; want != got {
		t.Errorf("Expected message %q left, got %q", want, got)
	}

	expected := `
# HELP mailshuttle_messages_retrieved_total Total number of messages retrieved over POP3 and stored.
# TYPE mailshuttle_messages_retrieved_total counter
mailshuttle_messages_retrieved_total{account="test"} 1
# HELP mailshuttle_messages_deleted_total Total number of messages marked for deletion on the server.
# TYPE mailshuttle_messages_deleted_total counter
mailshuttle_messages_deleted_total{account="test"} 1
`
	ok(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"mailshuttle_messages_retrieved_total", "mailshuttle_messages_deleted_total"))

	// The second poll finds nothing new.
	ok(t, m.runOnce(t.Context()))
	if want, got := 1, len(dst.msgs); want != got {
		t.Errorf("Expected %d messages after second poll, got %d", want, got)
	}
}

func TestDropErrorKeepsMessage(t *testing.T) {
	srv, addr := startServer(t, &pop3test.Message{UIDL: "a", Body: "Subject: hello\r\n\r\nfirst\r\n"})
	dst := &testDestination{result: pop3.DropError, dropErr: errors.New("disk full")}
	reg := prometheus.NewRegistry()
	m := makeMonitor(t, addr, dst, metrics.NewPrometheusCollector(reg))

	err := m.runOnce(t.Context())
	if err == nil {
		t.Fatalf("Expected error from runOnce")
	}
	n, err := testutil.GatherAndCount(reg, "mailshuttle_messages_retrieved_total")
	ok(t, err)
	if want, got := 0, n; want != got {
		t.Errorf("Expected %d retrieved series after a failed drop, got %d", want, got)
	}

	// The message is fetched again once the destination recovers.
	dst.dropErr = nil
	dst.result = pop3.DropKept
	ok(t, m.runOnce(t.Context()))
	if want, got := 1, len(dst.msgs); want != got {
		t.Errorf("Expected %d messages, got %d", want, got)
	}
	if want, got := 1, len(srv.Messages()); want != got {
		t.Errorf("Expected %d messages on the server, got %d", want, got)
	}
}
