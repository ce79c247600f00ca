// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package drop

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"src.bluestatic.org/mailshuttle/pkg/oauth"
	"src.bluestatic.org/mailshuttle/pkg/pop3"
)

var DefaultGmailLabels = []string{"INBOX", "UNREAD"}

var errGmailNotConnected = errors.New("Gmail drop is not connected")

// Gmail inserts messages into a Gmail mailbox through the Gmail API.
type Gmail struct {
	Email  string
	Labels []string

	auth oauth.Authorizer
	log  *zap.Logger
	opts []option.ClientOption

	ctx context.Context
	svc *gmail.Service
}

// NewGmail creates a drop for the mailbox email. Extra options are passed
// to the Gmail client.
func NewGmail(email string, auth oauth.Authorizer, log *zap.Logger, opts ...option.ClientOption) *Gmail {
	return &Gmail{
		Email:  email,
		Labels: DefaultGmailLabels,
		auth:   auth,
		log:    log.With(zap.String("gmail", email)),
		opts:   opts,
	}
}

// Connect obtains a token and creates the API client. It must be called
// before Drop, once per poll.
func (d *Gmail) Connect(ctx context.Context) error {
	tokenQ := <-d.auth.GetTokenForUser(ctx, d.Email)
	if tokenQ.Error != nil {
		return fmt.Errorf("Failed to get token: %w", tokenQ.Error)
	}

	opts := []option.ClientOption{
		option.WithHTTPClient(d.auth.MakeClient(ctx, tokenQ.Token)),
		option.WithUserAgent("mailshuttle"),
	}
	svc, err := gmail.NewService(ctx, append(opts, d.opts...)...)
	if err != nil {
		return fmt.Errorf("Failed to create Gmail client: %w", err)
	}
	d.ctx = ctx
	d.svc = svc
	return nil
}

func (d *Gmail) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	if d.svc == nil {
		return pop3.DropError, errGmailNotConnected
	}
	enc := base64.RawURLEncoding.EncodeToString(crlf(body))
	result, err := d.svc.Users.Messages.Insert("me", &gmail.Message{
		LabelIds: d.Labels,
		Raw:      enc,
	}).Context(d.ctx).Do()
	if err != nil {
		return pop3.DropError, fmt.Errorf("Failed to insert message: %w", err)
	}
	d.log.Info("Inserted message", zap.String("uidl", msg.UIDL), zap.String("id", result.Id))
	return pop3.DropKept, nil
}
