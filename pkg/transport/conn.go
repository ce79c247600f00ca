// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package transport connects a protocol engine to a server. A Conn reads
// replies off the wire, hands them to a session.Handler one event at a
// time, and carries out the commands the handler posts.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"src.bluestatic.org/mailshuttle/pkg/session"

	"go.uber.org/zap"
)

// DefaultTimeout bounds each read and write when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// DefaultMaxBlockSize bounds one data block when Config.MaxBlockSize is zero.
const DefaultMaxBlockSize = 64 << 20

// ErrBlockTooLarge is returned by Run when a data block exceeds the limit.
var ErrBlockTooLarge = errors.New("Data block too large")

// Config describes how to reach a server.
type Config struct {
	// Addr is host:port.
	Addr string
	TLS  session.TLSMode
	// TLSConfig is cloned for each connection. ServerName defaults to the
	// host part of Addr.
	TLSConfig *tls.Config
	Timeout   time.Duration
	// MaxBlockSize caps the bytes buffered for one multi-line reply.
	MaxBlockSize int64
}

// Conn is a line-oriented connection implementing session.Transport.
type Conn struct {
	nc      net.Conn
	tp      *textproto.Conn
	log     *zap.Logger
	tlsConf *tls.Config
	timeout time.Duration

	maxBlock   int64
	expectData bool
	outData    io.Reader
}

// Dial connects to cfg.Addr, completing the TLS handshake first for
// implicit TLS.
func Dial(ctx context.Context, cfg Config, log *zap.Logger) (*Conn, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to %s: %w", cfg.Addr, err)
	}
	tlsConf := clientTLSConfig(cfg)
	if cfg.TLS == session.TLSImplicit {
		tc := tls.Client(nc, tlsConf)
		hctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := tc.HandshakeContext(hctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("TLS handshake with %s failed: %w", cfg.Addr, err)
		}
		nc = tc
	}
	c := NewConn(nc, tlsConf, cfg.Timeout, log)
	if cfg.MaxBlockSize > 0 {
		c.maxBlock = cfg.MaxBlockSize
	}
	return c, nil
}

func clientTLSConfig(cfg Config) *tls.Config {
	var c *tls.Config
	if cfg.TLSConfig != nil {
		c = cfg.TLSConfig.Clone()
	} else {
		c = &tls.Config{}
	}
	if c.ServerName == "" {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		c.ServerName = host
	}
	return c
}

// NewConn wraps an established connection. tlsConf is used by StartTLS and
// may be nil if the session never upgrades.
func NewConn(nc net.Conn, tlsConf *tls.Config, timeout time.Duration, log *zap.Logger) *Conn {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		nc:       nc,
		tp:       textproto.NewConn(nc),
		log:      log.With(zap.Stringer("address", nc.RemoteAddr())),
		tlsConf:  tlsConf,
		timeout:  timeout,
		maxBlock: DefaultMaxBlockSize,
	}
}

func (c *Conn) SendLine(line string) error {
	c.nc.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.tp.PrintfLine("%s", line)
}

// SendData queues r; it is written before the next read.
func (c *Conn) SendData(r io.Reader) error {
	if c.outData != nil {
		return errors.New("Data transfer already pending")
	}
	c.outData = r
	return nil
}

func (c *Conn) ReceiveData() {
	c.expectData = true
}

func (c *Conn) StartTLS() error {
	if c.tlsConf == nil {
		return errors.New("No TLS configuration")
	}
	if _, ok := c.nc.(*tls.Conn); ok {
		return errors.New("Connection is already using TLS")
	}
	tc := tls.Client(c.nc, c.tlsConf)
	tc.SetDeadline(time.Now().Add(c.timeout))
	if err := tc.Handshake(); err != nil {
		return err
	}
	tc.SetDeadline(time.Time{})
	c.nc = tc
	c.tp = textproto.NewConn(tc)
	c.log.Info("TLS established", zap.Uint16("version", tc.ConnectionState().Version))
	return nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.tp.Close()
}

// Run pumps events into h until it disconnects or fails, or ctx is
// cancelled. The connection is closed when Run returns. A nil error means h
// finished with ActionDisconnect.
func (c *Conn) Run(ctx context.Context, h session.Handler) error {
	raw := c.nc
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()
	defer c.Close()

	for {
		var act session.Action
		switch {
		case c.outData != nil:
			r := c.outData
			c.outData = nil
			if err := c.writeData(r); err != nil {
				return c.ioError(ctx, err, "Failed to send data")
			}
			act = h.OnSendComplete()
		case c.expectData:
			c.expectData = false
			block, err := c.readBlock()
			if err != nil {
				return c.ioError(ctx, err, "Failed to read data block")
			}
			act = h.OnDataBlock(block)
		default:
			c.nc.SetReadDeadline(time.Now().Add(c.timeout))
			line, err := c.tp.ReadLine()
			if err != nil {
				return c.ioError(ctx, err, "Failed to read reply")
			}
			act = h.OnLine(line)
		}

		switch act {
		case session.ActionDisconnect:
			return nil
		case session.ActionFail:
			if err := h.Err(); err != nil {
				return err
			}
			return session.Errorf(session.KindFatal, "session failed")
		}
	}
}

func (c *Conn) writeData(r io.Reader) error {
	c.nc.SetWriteDeadline(time.Now().Add(c.timeout))
	n, err := session.WriteStuffed(c.tp.W, r)
	if err != nil {
		return err
	}
	c.log.Debug("Sent data", zap.Int64("bytes", n))
	return c.tp.W.Flush()
}

// readBlock reads up to the terminating "." line and returns the lines
// still dot-stuffed, each ending in CRLF.
func (c *Conn) readBlock() ([]byte, error) {
	var b strings.Builder
	for {
		c.nc.SetReadDeadline(time.Now().Add(c.timeout))
		line, err := c.tp.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "." {
			return []byte(b.String()), nil
		}
		if int64(b.Len()+len(line)+2) > c.maxBlock {
			return nil, fmt.Errorf("%w: over %d bytes", ErrBlockTooLarge, c.maxBlock)
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
}

func (c *Conn) ioError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.log.Error("Timed out", zap.Error(err))
		return session.Wrap(session.KindTimeout, err, msg)
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	c.log.Error(msg, zap.Error(err))
	return session.Wrap(session.KindIO, err, msg)
}
