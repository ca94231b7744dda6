package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/logging"
	"github.com/torosent/tpbench/internal/relay"
)

type relayOptions struct {
	Config   string
	Listen   string
	LogLevel string
	LogFile  string
}

func parseRelayFlags(args []string, out io.Writer) (relayOptions, error) {
	var opts relayOptions
	fs := pflag.NewFlagSet("tpbench relay", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.Config, "config", "", "Configuration file whose relay and log sections apply")
	fs.StringVar(&opts.Listen, "listen", ":7070", "Address the relay hub listens on")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&opts.LogFile, "log-file", "", "Write structured JSON logs to this file in addition to the console")
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: tpbench relay [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return relayOptions{}, err
	}
	if fs.NArg() > 0 {
		return relayOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.Config == "" {
		return opts, nil
	}

	cfg, err := config.NewLoader().Load([]string{"--config", opts.Config})
	if err != nil {
		return relayOptions{}, err
	}
	if !fs.Changed("listen") && cfg.Relay.Listen != "" {
		opts.Listen = cfg.Relay.Listen
	}
	if !fs.Changed("log-level") && cfg.Log.Level != "" {
		opts.LogLevel = cfg.Log.Level
	}
	if !fs.Changed("log-file") {
		opts.LogFile = cfg.Log.File
	}
	return opts, nil
}

// runRelay serves the websocket relay hub until interrupted.
func runRelay(args []string, out io.Writer) error {
	opts, err := parseRelayFlags(args, out)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := logging.New(logging.Options{Level: opts.LogLevel, File: opts.LogFile, Timestamps: true})
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := relay.NewHub(logger.Logger)
	if err := relay.Serve(ctx, opts.Listen, hub); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		return err
	}
	logger.Info("relay shut down")
	return nil
}
