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
	"errors"
	"os"
	"os/signal"
	"strings"

	"github.com/AleutianAI/docsgpt/pkg/ux"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func clientConfig(opts *rootOptions) (ux.ChatConfig, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return ux.ChatConfig{}, err
	}
	return ux.ChatConfig{
		URL:      cfg.Client.ServerURL,
		Throttle: cfg.Client.Throttle,
		Persona:  cfg.Prompt.Persona,
	}, nil
}

func runAsk(cmd *cobra.Command, opts *rootOptions, args []string) error {
	chatCfg, err := clientConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	question := strings.Join(args, " ")
	err = ux.Ask(ctx, cmd.OutOrStdout(), chatCfg, question)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ux.ErrAnswerTruncated):
		ux.PrintWarning(cmd.ErrOrStderr(), err.Error())
		return nil
	default:
		ux.PrintError(cmd.ErrOrStderr(), err)
		return err
	}
}

// errNoTerminal is returned by chat when stdin or stdout is redirected.
var errNoTerminal = errors.New("chat needs an interactive terminal; use `docsgpt ask` in scripts")

func runChat(cmd *cobra.Command, opts *rootOptions) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) || !isatty.IsTerminal(os.Stdout.Fd()) {
		return errNoTerminal
	}
	chatCfg, err := clientConfig(opts)
	if err != nil {
		return err
	}
	return ux.RunChat(cmd.Context(), chatCfg)
}
