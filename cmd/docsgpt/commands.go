// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/AleutianAI/docsgpt/pkg/config"
	"github.com/AleutianAI/docsgpt/pkg/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "docsgpt",
		Short: "Streaming answers over a documentation corpus",
		Long: `docsgpt retrieves the documentation sections closest to a question
and streams a model-generated answer grounded in them.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and stream the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, args)
		},
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running query service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	for _, c := range []*cobra.Command{askCmd, chatCmd} {
		c.Flags().StringVar(&opts.serverURL, "url", "", "query endpoint (overrides client.server_url)")
	}

	rootCmd.AddCommand(serveCmd, askCmd, chatCmd)
	return rootCmd
}

// loadConfig reads the config file named by --config, if any, plus the environment.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.serverURL != "" {
		cfg.Client.ServerURL = opts.serverURL
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, service string, quiet bool) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: service,
		LogDir:  cfg.Logging.Dir,
		JSON:    cfg.Logging.JSON,
		Quiet:   quiet,
	}), nil
}
