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
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/docsgpt/services/orchestrator"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "docsgpt", false)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetDefault()

	redacted := cfg.Redacted()
	slog.Info("Starting orchestrator",
		"port", redacted.Server.Port,
		"chat_model", redacted.OpenAI.ChatModel,
		"weaviate_url", redacted.Weaviate.URL,
		"moderation", redacted.OpenAI.ModerationEnabled,
	)

	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = svc.Run(ctx)
	if ctx.Err() != nil {
		slog.Info("Shutdown signal received")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Orchestrator stopped with error", "error", err)
		return err
	}
	return nil
}
