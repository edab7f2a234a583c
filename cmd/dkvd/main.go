package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxiokv/dkvd/internal/config"
	"github.com/maxiokv/dkvd/internal/server"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dkvd",
		Short: "dkvd - a distributed, CRDT-based key-value coordination plane",
		Long: `dkvd is a partition-aware distributed key-value store: last-writer-wins
and observed-remove CRDT maps replicated across nodes with Merkle-tree
anti-entropy, a pluggable conflict resolver, and a policy-based security
layer, fronted by a length-prefixed session protocol.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("node-id", "n", "", "Unique node identifier")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory path")
	rootCmd.PersistentFlags().StringP("listen", "l", ":7070", "Client session listen address")
	rootCmd.PersistentFlags().StringP("http-addr", "", ":7071", "Cluster HTTP surface listen address")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("tls-cert", "", "", "TLS certificate file (enables TLS if provided with --tls-key)")
	rootCmd.PersistentFlags().StringP("tls-key", "", "", "TLS private key file (enables TLS if provided with --tls-cert)")
	rootCmd.PersistentFlags().StringP("storage-backend", "", "", "Storage backend (memory, pebble, badger, s3)")
	rootCmd.PersistentFlags().StringP("policy-file", "", "", "Security policy YAML file")
	rootCmd.PersistentFlags().StringP("jwt-secret-file", "", "", "HMAC secret file for verifying bearer JWTs")
	rootCmd.PersistentFlags().StringP("rule-file", "", "", "Conflict resolver rule YAML file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	tlsCert, _ := cmd.Flags().GetString("tls-cert")
	tlsKey, _ := cmd.Flags().GetString("tls-key")
	if (tlsCert != "" && tlsKey == "") || (tlsCert == "" && tlsKey != "") {
		return fmt.Errorf("both --tls-cert and --tls-key must be provided together")
	}

	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg.LogLevel)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
		"node_id": cfg.NodeID,
	}).Info("starting dkvd")

	if tlsCert != "" && tlsKey != "" {
		logrus.WithFields(logrus.Fields{"cert_file": tlsCert, "key_file": tlsKey}).Info("tls enabled")
		cfg.EnableTLS = true
		cfg.CertFile = tlsCert
		cfg.KeyFile = tlsKey
	} else {
		logrus.Info("tls disabled")
		cfg.EnableTLS = false
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logrus.Info("received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("dkvd stopped")
	return nil
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
