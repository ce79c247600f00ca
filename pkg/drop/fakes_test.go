// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package drop

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"src.bluestatic.org/mailshuttle/pkg/oauth"
)

type fakeAuth struct {
	users []string
	err   error
}

func (a *fakeAuth) GetTokenForUser(ctx context.Context, id string) <-chan oauth.TokenResult {
	a.users = append(a.users, id)
	ch := make(chan oauth.TokenResult, 1)
	if a.err != nil {
		ch <- oauth.TokenResult{Error: a.err}
	} else {
		ch <- oauth.TokenResult{Token: &oauth2.Token{AccessToken: "access"}}
	}
	return ch
}

func (a *fakeAuth) MakeClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return http.DefaultClient
}
