// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux holds the docsgpt terminal client: the streamed-answer buffer,
// the chat transcript and the interactive chat model.
package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorPrimary = lipgloss.Color("#35D07F") // Celo green
	ColorAccent  = lipgloss.Color("#FBCC5C") // Celo gold
	ColorSlate   = lipgloss.Color("#2C4A54")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	UserLabel: lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	BotLabel:  lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrimary).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
)

// Render returns the icon with its style.
func (i Icon) Render() string {
	switch i {
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// PrintError writes an error line to w.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", IconError.Render(), Styles.Error.Render(err.Error()))
}

// PrintWarning writes a warning line to w.
func PrintWarning(w io.Writer, text string) {
	fmt.Fprintf(w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}
