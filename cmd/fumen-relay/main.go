// Package main provides the fumen collaboration relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fumen/internal/config"
	"fumen/internal/relay"
)

var rootCmd = &cobra.Command{
	Use:   "fumen-relay",
	Short: "Relay server for fumen collaboration rooms",
	Long: `fumen-relay accepts websocket clients on /ws, groups them into rooms and
forwards every guest change to the room's host. Prometheus metrics are served
on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	configPath string
	listenAddr string
	logLevel   string
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the settings file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides relay.listen)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides log_level)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Relay.Listen = listenAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(relay.Options{CursorInterval: cfg.Relay.CursorInterval}, logger)
	if err := srv.ListenAndServe(ctx, cfg.Relay.Listen); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		return err
	}
	return nil
}
