// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package drop

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"src.bluestatic.org/mailshuttle/pkg/pop3"
)

const testBody = "From: alice@example.com\nSubject: Weekly report\nList-Id: <reports.example.com>\n\nHello\n"

type capture struct {
	bodies []string
	result pop3.DropResult
	err    error
}

func (c *capture) Drop(msg *pop3.Message, body []byte) (pop3.DropResult, error) {
	c.bodies = append(c.bodies, string(body))
	return c.result, c.err
}

func TestTraced(t *testing.T) {
	next := &capture{}
	d := WithTrace(next, Trace{From: "u@pop.example.com", Via: "pop3", For: "me@example.com", By: "maildir"})
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	res, err := d.Drop(&pop3.Message{Num: 1}, []byte(testBody))
	require.NoError(t, err)
	assert.Equal(t, pop3.DropKept, res)
	require.Len(t, next.bodies, 1)
	want := "Received: from <u@pop.example.com> (via pop3) by mailshuttle\n" +
		"        for <me@example.com> (via maildir); Sun, 01 Mar 2026 12:00:00 +0000\n" +
		testBody
	assert.Equal(t, want, next.bodies[0])
}

func TestCRLF(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\n", string(crlf([]byte("a\nb\n"))))
	assert.Equal(t, "a\r\nb\r\n", string(crlf([]byte("a\r\nb\n"))))
}

func TestMaildir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Mail")
	d, err := NewMaildir(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, body := range []string{testBody, "Subject: two\n\nsecond\n"} {
		res, err := d.Drop(&pop3.Message{Num: 1, UIDL: "x"}, []byte(body))
		require.NoError(t, err)
		assert.Equal(t, pop3.DropKept, res)
	}

	entries, err := os.ReadDir(filepath.Join(path, "new"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var got []string
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(path, "new", e.Name()))
		require.NoError(t, err)
		got = append(got, string(b))
	}
	assert.ElementsMatch(t, []string{testBody, "Subject: two\n\nsecond\n"}, got)

	tmp, err := os.ReadDir(filepath.Join(path, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestRules(t *testing.T) {
	rules := []Rule{
		{Header: "Subject", Contains: "viagra", Action: pop3.DropDelete},
		{Header: "List-Id", Contains: "REPORTS.example.com", Action: pop3.DropDontReceive},
	}
	tests := []struct {
		name     string
		body     string
		want     pop3.DropResult
		fallthru bool
	}{
		{"list", testBody, pop3.DropDontReceive, false},
		{"spam", "Subject: cheap Viagra\n\nbuy\n", pop3.DropDelete, false},
		{"first rule wins", "Subject: viagra\nList-Id: reports.example.com\n\nx\n", pop3.DropDelete, false},
		{"no match", "Subject: hello\n\nhi\n", pop3.DropKept, true},
		{"body is not searched", "Subject: hello\n\nviagra\n", pop3.DropKept, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &capture{}
			d := NewRules(rules, next, zaptest.NewLogger(t))
			res, err := d.Drop(&pop3.Message{UIDL: "u"}, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			assert.Equal(t, tt.fallthru, len(next.bodies) == 1)
		})
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("delete")
	require.NoError(t, err)
	assert.Equal(t, pop3.DropDelete, a)
	a, err = ParseAction("dont-receive")
	require.NoError(t, err)
	assert.Equal(t, pop3.DropDontReceive, a)
	_, err = ParseAction("keep")
	assert.Error(t, err)
}

func TestRulesPassNextError(t *testing.T) {
	next := &capture{result: pop3.DropError, err: errors.New("disk full")}
	d := NewRules(nil, next, zaptest.NewLogger(t))
	res, err := d.Drop(&pop3.Message{}, []byte(testBody))
	assert.Equal(t, pop3.DropError, res)
	assert.EqualError(t, err, "disk full")
}

func TestGmailNotConnected(t *testing.T) {
	d := NewGmail("me@example.com", &fakeAuth{}, zaptest.NewLogger(t))
	res, err := d.Drop(&pop3.Message{}, []byte(testBody))
	assert.Equal(t, pop3.DropError, res)
	assert.ErrorIs(t, err, errGmailNotConnected)
}

func TestGmailInsert(t *testing.T) {
	var inserted []*gmail.Message
	api := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/users/me/messages") {
			http.Error(rw, "not found", http.StatusNotFound)
			return
		}
		var m gmail.Message
		if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		inserted = append(inserted, &m)
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"id": "msg-1"}`))
	}))
	defer api.Close()

	auth := &fakeAuth{}
	d := NewGmail("me@example.com", auth, zaptest.NewLogger(t), option.WithEndpoint(api.URL+"/"))
	require.NoError(t, d.Connect(t.Context()))
	assert.Equal(t, []string{"me@example.com"}, auth.users)

	res, err := d.Drop(&pop3.Message{UIDL: "u"}, []byte(testBody))
	require.NoError(t, err)
	assert.Equal(t, pop3.DropKept, res)

	require.Len(t, inserted, 1)
	assert.Equal(t, DefaultGmailLabels, inserted[0].LabelIds)
	raw, err := base64.RawURLEncoding.DecodeString(inserted[0].Raw)
	require.NoError(t, err)
	assert.Equal(t, strings.ReplaceAll(testBody, "\n", "\r\n"), string(raw))
}

func TestGmailTokenError(t *testing.T) {
	d := NewGmail("me@example.com", &fakeAuth{err: errors.New("no token")}, zaptest.NewLogger(t))
	assert.ErrorContains(t, d.Connect(t.Context()), "no token")
}
