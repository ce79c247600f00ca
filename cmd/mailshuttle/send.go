// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"src.bluestatic.org/mailshuttle/pkg/drop"
	"src.bluestatic.org/mailshuttle/pkg/smtp"
)

// runSend submits the message read from r through the Submission server.
func runSend(ctx context.Context, config *Config, sender string, rcpts []string, r io.Reader, log *zap.Logger) error {
	if config.Submission.ServerAddr == "" {
		return errors.New("No Submission server configured")
	}
	if err := validateSMTP(config.Submission); err != nil {
		return fmt.Errorf("Invalid Submission: %w", err)
	}
	acct, err := config.Submission.account()
	if err != nil {
		return err
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("Failed to read message: %w", err)
	}

	log = log.With(zap.String("sender", sender), zap.Strings("recipients", rcpts))
	env := smtp.Envelope{
		Sender:     sender,
		Recipients: rcpts,
		Body:       bytes.NewReader(body),
		Size:       int64(len(body)),
	}
	s, err := drop.Submit(ctx, smtpTransport(config.Submission), acct, env, log)
	if err != nil {
		return err
	}
	log.Info("Message submitted", zap.Int64("bytes", env.Size), zap.Stringer("auth", s.Chosen()))
	return nil
}
