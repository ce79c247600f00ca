// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"src.bluestatic.org/mailshuttle/pkg/session"
)

// PrometheusCollector implements Collector with Prometheus metrics.
type PrometheusCollector struct {
	sessionsTotal  *prometheus.CounterVec
	sessionsActive *prometheus.GaugeVec
	sessionErrors  *prometheus.CounterVec

	messagesRetrievedTotal *prometheus.CounterVec
	messagesDeletedTotal   *prometheus.CounterVec
	messagesSkippedTotal   *prometheus.CounterVec
	messagesSubmittedTotal *prometheus.CounterVec
	messagesSizeBytes      *prometheus.HistogramVec
}

// NewPrometheusCollector creates a PrometheusCollector and registers its
// metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailshuttle_sessions_total",
			Help: "Total number of sessions started.",
		}, []string{"protocol"}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mailshuttle_sessions_active",
			Help: "Number of sessions currently running.",
		}, []string{"protocol"}),
		sessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailshuttle_session_errors_total",
			Help: "Total number of sessions that ended in error, by error kind.",
		}, []string{"protocol", "kind"}),

		messagesRetrievedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailshuttle_messages_retrieved_total",
			Help: "Total number of messages retrieved over POP3 and stored.",
		}, []string{"account"}),
		messagesDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailshuttle_messages_deleted_total",
			Help: "Total number of messages marked for deletion on the server.",
		}, []string{"account"}),
		messagesSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailshuttle_messages_skipped_total",
			Help: "Total number of messages skipped for size.",
		}, []string{"account"}),
		messagesSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailshuttle_messages_submitted_total",
			Help: "Total number of messages submitted over SMTP.",
		}, []string{"account"}),
		messagesSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailshuttle_messages_size_bytes",
			Help:    "Size of transferred messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400, 52428800},
		}, []string{"protocol"}),
	}

	reg.MustRegister(
		c.sessionsTotal,
		c.sessionsActive,
		c.sessionErrors,
		c.messagesRetrievedTotal,
		c.messagesDeletedTotal,
		c.messagesSkippedTotal,
		c.messagesSubmittedTotal,
		c.messagesSizeBytes,
	)

	return c
}

func (c *PrometheusCollector) SessionStarted(protocol string) {
	c.sessionsTotal.WithLabelValues(protocol).Inc()
	c.sessionsActive.WithLabelValues(protocol).Inc()
}

func (c *PrometheusCollector) SessionFinished(protocol string, kind session.Kind) {
	c.sessionsActive.WithLabelValues(protocol).Dec()
	if kind != session.KindNone {
		c.sessionErrors.WithLabelValues(protocol, kind.String()).Inc()
	}
}

// MessageRetrieved increments the retrieved counter and observes the size.
func (c *PrometheusCollector) MessageRetrieved(account string, sizeBytes int64) {
	c.messagesRetrievedTotal.WithLabelValues(account).Inc()
	c.messagesSizeBytes.WithLabelValues(ProtocolPOP3).Observe(float64(sizeBytes))
}

func (c *PrometheusCollector) MessageDeleted(account string) {
	c.messagesDeletedTotal.WithLabelValues(account).Inc()
}

func (c *PrometheusCollector) MessageSkipped(account string) {
	c.messagesSkippedTotal.WithLabelValues(account).Inc()
}

// MessageSubmitted increments the submitted counter and observes the size.
func (c *PrometheusCollector) MessageSubmitted(account string, sizeBytes int64) {
	c.messagesSubmittedTotal.WithLabelValues(account).Inc()
	c.messagesSizeBytes.WithLabelValues(ProtocolSMTP).Observe(float64(sizeBytes))
}
