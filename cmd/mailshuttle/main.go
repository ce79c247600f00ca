// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"src.bluestatic.org/mailshuttle/pkg/metrics"
	"src.bluestatic.org/mailshuttle/pkg/oauth"
	"src.bluestatic.org/mailshuttle/pkg/version"
)

const usage = `Usage:
  %[1]s config.{json,toml}                      poll the configured accounts
  %[1]s send config.{json,toml} sender rcpt...  submit a message read from stdin
  %[1]s version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Print(version.VersionString)
		os.Exit(0)
	case "send":
		if len(os.Args) < 5 {
			fmt.Fprintf(os.Stderr, usage, os.Args[0])
			os.Exit(1)
		}
		config, log := setup(os.Args[2])
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runSend(ctx, config, os.Args[3], os.Args[4:], os.Stdin, log); err != nil {
			log.Error("Failed to send message", zap.Error(err))
			os.Exit(5)
		}
		return
	}

	config, log := setup(os.Args[1])
	log.Info("Starting mailshuttle", zap.String("version", version.VersionString))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mc metrics.Collector = metrics.NoopCollector{}
	if config.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		mc = metrics.NewPrometheusCollector(reg)
		srv := metrics.NewServer(config.MetricsAddr, reg, log)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	var auth oauth.Authorizer
	if config.OAuthServer.CredentialsPath != "" {
		clientSecret, err := os.ReadFile(config.OAuthServer.CredentialsPath)
		if err != nil {
			log.Fatal("Failed to read client secret", zap.Error(err))
		}
		oauthConfig, err := google.ConfigFromJSON(clientSecret, gmail.GmailInsertScope)
		if err != nil {
			log.Fatal("Failed to load API config", zap.Error(err))
		}
		srv := oauth.NewServer(config.OAuthServer, oauthConfig, log)
		if err := srv.Start(ctx); err != nil {
			log.Fatal("Failed to start OAuth server", zap.Error(err))
		}
		auth = srv
	}

	for i, monCfg := range config.Monitor {
		dst, err := NewDestination(monCfg.Destination, auth, mc, monCfg.name(), log)
		if err != nil {
			log.Fatal("Failed to create destination", zap.Int("index", i), zap.Error(err))
		}
		m, err := NewMonitor(monCfg, config.StateDir, dst, mc, log)
		if err != nil {
			log.Fatal("Failed to create monitor", zap.Int("index", i), zap.Error(err))
		}
		if err := m.Start(ctx); err != nil {
			log.Fatal("Failed to start monitor", zap.Int("index", i), zap.Error(err))
		}
	}

	log.Info("Successfully started all monitors")

	<-ctx.Done()
	log.Info("Shutting down")
}

func setup(path string) (*Config, *zap.Logger) {
	config, err := LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config file: %s\n", err)
		os.Exit(2)
	}

	log, err := newLogger(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(4)
	}

	if err := config.Validate(); err != nil {
		log.Fatal("Invalid config", zap.Error(err))
	}
	return config, log
}

func newLogger(config *Config) (*zap.Logger, error) {
	level, err := config.Level()
	if err != nil {
		return nil, err
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Development = false
	logConfig.DisableStacktrace = true
	logConfig.Level.SetLevel(level)
	if level > zapcore.DebugLevel {
		logConfig.DisableCaller = true
	}
	return logConfig.Build()
}
