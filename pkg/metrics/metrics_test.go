// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"src.bluestatic.org/mailshuttle/pkg/session"
)

var _ Collector = NoopCollector{}
var _ Collector = (*PrometheusCollector)(nil)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SessionStarted(ProtocolPOP3)
	c.SessionStarted(ProtocolPOP3)
	c.SessionFinished(ProtocolPOP3, session.KindNone)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsTotal.WithLabelValues(ProtocolPOP3)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive.WithLabelValues(ProtocolPOP3)))
	assert.Equal(t, 0, testutil.CollectAndCount(c.sessionErrors))

	c.SessionFinished(ProtocolPOP3, session.KindTimeout)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessionsActive.WithLabelValues(ProtocolPOP3)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionErrors.WithLabelValues(ProtocolPOP3, "timeout")))

	c.MessageRetrieved("work", 2048)
	c.MessageRetrieved("work", 10)
	c.MessageDeleted("work")
	c.MessageSkipped("home")
	c.MessageSubmitted("home", 100)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesRetrievedTotal.WithLabelValues("work")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesDeletedTotal.WithLabelValues("work")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesSkippedTotal.WithLabelValues("home")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesSubmittedTotal.WithLabelValues("home")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.messagesSizeBytes))
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusCollector(reg)
	assert.Panics(t, func() { NewPrometheusCollector(reg) })
}

func TestServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)
	c.MessageRetrieved("work", 1)

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	s := NewServer(l.Addr().String(), reg, zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + DefaultPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `mailshuttle_messages_retrieved_total{account="work"} 1`), string(body))

	resp, err = http.Get("http://" + l.Addr().String() + "/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
