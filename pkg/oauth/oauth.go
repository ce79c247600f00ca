// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package oauth obtains and stores OAuth2 tokens for mail accounts. Tokens
// are kept in a JSON file. When no token is stored for an account, an
// authorization URL is logged and a small HTTP server waits for the
// redirect carrying the code.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Config configures the redirect server and token storage.
type Config struct {
	RedirectURL     string
	ListenAddr      string
	CredentialsPath string
	TokenStore      string
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("Missing ListenAddr")
	}
	if c.RedirectURL == "" {
		return errors.New("Missing RedirectURL")
	}
	if c.TokenStore == "" {
		return errors.New("Missing TokenStore")
	}
	return nil
}

type TokenResult struct {
	Token *oauth2.Token
	Error error
}

// Authorizer hands out tokens and the HTTP clients that use them.
type Authorizer interface {
	// GetTokenForUser delivers exactly one result on the returned channel.
	GetTokenForUser(ctx context.Context, id string) <-chan TokenResult
	MakeClient(context.Context, *oauth2.Token) *http.Client
}

const tokenStoreVersion = 1

type tokenStore struct {
	Version int
	Tokens  map[string]*oauth2.Token
}

func readTokenStore(path string) (*tokenStore, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &tokenStore{Version: tokenStoreVersion, Tokens: make(map[string]*oauth2.Token)}, nil
		}
		return nil, err
	}
	defer f.Close()
	var ts tokenStore
	if err := json.NewDecoder(f).Decode(&ts); err != nil {
		return nil, fmt.Errorf("Failed to decode token store: %w", err)
	}
	if ts.Version != tokenStoreVersion {
		return nil, fmt.Errorf("Invalid token store version, got %d, expected %d", ts.Version, tokenStoreVersion)
	}
	if ts.Tokens == nil {
		ts.Tokens = make(map[string]*oauth2.Token)
	}
	return &ts, nil
}

func (ts *tokenStore) save(path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tokens-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if err := json.NewEncoder(f).Encode(ts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(f.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Server implements Authorizer.
type Server struct {
	log *zap.Logger
	c   Config
	o2c *oauth2.Config

	mu        sync.Mutex
	tokenReqs map[string]chan<- string
}

// NewServer creates a Server. Call Serve or Start to accept redirects.
func NewServer(c Config, o2c *oauth2.Config, log *zap.Logger) *Server {
	o2c.RedirectURL = c.RedirectURL
	return &Server{
		log:       log.With(zap.String("oauth", c.ListenAddr)),
		c:         c,
		o2c:       o2c,
		tokenReqs: make(map[string]chan<- string),
	}
}

// Handler returns the redirect endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRedirect)
	return mux
}

// Serve accepts redirects on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	s.log.Info("Starting OAuth server", zap.Stringer("addr", l.Addr()))
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Info("Stopping OAuth server")
		return nil
	}
	return err
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.c.ListenAddr)
	if err != nil {
		return fmt.Errorf("Failed to listen for OAuth redirects: %w", err)
	}
	go func() {
		if err := s.Serve(ctx, l); err != nil {
			s.log.Error("OAuth server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) GetTokenForUser(ctx context.Context, userid string) <-chan TokenResult {
	ch := make(chan TokenResult, 1)
	go func() {
		token, err := s.getToken(ctx, userid)
		ch <- TokenResult{Token: token, Error: err}
	}()
	return ch
}

func (s *Server) getToken(ctx context.Context, userid string) (*oauth2.Token, error) {
	log := s.log.With(zap.String("userid", userid))

	s.mu.Lock()
	ts, err := readTokenStore(s.c.TokenStore)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if token, ok := ts.Tokens[userid]; ok {
		s.mu.Unlock()
		return token, nil
	}

	nonce := fmt.Sprintf("ms%d", rand.Int64())
	codeCh := make(chan string, 1)
	s.tokenReqs[nonce] = codeCh
	s.mu.Unlock()

	// ApprovalForce is needed with AccessTypeOffline to get a refresh token.
	url := s.o2c.AuthCodeURL(nonce, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	log.Info("Requesting authorization", zap.String("nonce", nonce), zap.String("url", url))

	var code string
	select {
	case code = <-codeCh:
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.tokenReqs, nonce)
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	log.Info("Received code, exchanging for token")
	token, err := s.o2c.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("Failed to exchange code: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ts, err = readTokenStore(s.c.TokenStore)
	if err != nil {
		return nil, err
	}
	ts.Tokens[userid] = token
	if err := ts.save(s.c.TokenStore); err != nil {
		return nil, fmt.Errorf("Failed to save token store: %w", err)
	}
	return token, nil
}

func (s *Server) handleRedirect(rw http.ResponseWriter, req *http.Request) {
	id := req.FormValue("state")
	s.mu.Lock()
	ch, ok := s.tokenReqs[id]
	if ok {
		delete(s.tokenReqs, id)
	}
	s.mu.Unlock()

	log := s.log.With(zap.String("id", id))

	if !ok {
		log.Error("No request for state")
		http.Error(rw, "Invalid State", http.StatusBadRequest)
		return
	}
	code := req.FormValue("code")
	if code == "" {
		log.Error("Invalid request - missing code")
		http.Error(rw, "Invalid Code", http.StatusBadRequest)
		s.mu.Lock()
		s.tokenReqs[id] = ch
		s.mu.Unlock()
		return
	}
	fmt.Fprintln(rw, "<h1>Authorized!</h1>")
	log.Info("Received authorization code")
	ch <- code
}

func (s *Server) MakeClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return s.o2c.Client(ctx, token)
}

// PendingStates returns the state nonces of outstanding authorization
// requests.
func (s *Server) PendingStates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states []string
	for k := range s.tokenReqs {
		states = append(states, k)
	}
	return states
}
