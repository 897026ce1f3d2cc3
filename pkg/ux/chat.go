// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const chatHelp = "enter send • esc stop • ctrl+r retry • ctrl+l clear • ctrl+c quit"

// ChatConfig configures the interactive chat.
type ChatConfig struct {
	// URL is the query endpoint, e.g. http://localhost:12210/api/query.
	URL      string
	Throttle time.Duration
	Client   *http.Client
	// Persona labels bot messages.
	Persona string
}

// bufferMsg reports that buf changed or finished.
type bufferMsg struct {
	buf *TextBuffer
}

// ChatModel is the bubbletea model for `docsgpt chat`.
//
// # Description
//
// Each submitted question appends a user message and an empty bot
// placeholder to the SessionStore, then streams the answer through a
// TextBuffer whose joined chunks become the placeholder's content.
// Only one answer streams at a time; input is ignored while loading.
//
// # Keys
//
//   - enter: send the question
//   - esc: stop the current answer and keep what arrived
//   - ctrl+r: ask the last question again, replacing the answer
//   - ctrl+l: clear the transcript
//   - ctrl+c: quit
type ChatModel struct {
	ctx     context.Context
	cfg     ChatConfig
	store   *SessionStore
	input   textinput.Model
	spinner spinner.Model
	buffer  *TextBuffer
	botID   string
	status  string
	width   int
}

// NewChatModel creates a ChatModel writing to store.
func NewChatModel(ctx context.Context, store *SessionStore, cfg ChatConfig) ChatModel {
	if cfg.Persona == "" {
		cfg.Persona = "Celo"
	}
	input := textinput.New()
	input.Placeholder = "Ask a question about the docs"
	input.CharLimit = 4096
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	return ChatModel{ctx: ctx, cfg: cfg, store: store, input: input, spinner: sp}
}

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.buffer != nil {
				m.buffer.Close()
			}
			return m, tea.Quit
		case "esc":
			if m.buffer != nil && !m.buffer.Done() {
				m.buffer.Cancel()
			}
			return m, nil
		case "ctrl+r":
			return m.retry()
		case "ctrl+l":
			// Stop the answer first so nothing writes into a cleared transcript.
			if m.buffer != nil {
				m.buffer.Cancel()
			}
			m.store.ClearMessages()
			m.store.SetLoading(false)
			m.botID = ""
			m.status = ""
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.store.Loading() {
				return m, nil
			}
			m.input.SetValue("")
			return m.send(text)
		}

	case bufferMsg:
		return m.onBuffer(msg.buf)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) send(text string) (tea.Model, tea.Cmd) {
	_, bot := m.store.SendMessage(text)
	m.botID = bot.ID
	m.status = ""

	if m.buffer != nil {
		m.buffer.Close()
	}
	m.buffer = NewTextBuffer(m.cfg.Client, TextBufferConfig{
		URL:      m.cfg.URL,
		Payload:  map[string]string{"query": text},
		Throttle: m.cfg.Throttle,
	})
	if err := m.buffer.Start(m.ctx); err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.store.SetLoading(true)
	return m, waitForBuffer(m.buffer)
}

func (m ChatModel) retry() (tea.Model, tea.Cmd) {
	if m.buffer == nil {
		return m, nil
	}
	// A waiter is still pending while loading; it picks up the new generation.
	wasLoading := m.store.Loading()
	if err := m.buffer.Refresh(); err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.status = ""
	_ = m.store.SetContent(m.botID, "")
	m.store.SetLoading(true)
	if wasLoading {
		return m, nil
	}
	return m, waitForBuffer(m.buffer)
}

func (m ChatModel) onBuffer(buf *TextBuffer) (tea.Model, tea.Cmd) {
	if buf != m.buffer {
		return m, nil
	}
	if err := m.store.SetContent(m.botID, buf.Text()); err != nil && !errors.Is(err, ErrUnknownMessage) {
		m.status = err.Error()
	}
	if !buf.Done() {
		return m, waitForBuffer(buf)
	}
	m.store.SetLoading(false)
	switch {
	case buf.Err() != nil:
		m.status = buf.Err().Error()
	case buf.Truncated():
		m.status = "answer ended early and may be incomplete"
	}
	return m, nil
}

func waitForBuffer(buf *TextBuffer) tea.Cmd {
	done := buf.Wait()
	return func() tea.Msg {
		select {
		case <-buf.Updates():
		case <-done:
		}
		return bufferMsg{buf: buf}
	}
}

func (m ChatModel) View() string {
	var b strings.Builder
	b.WriteString(Styles.Title.Render("docsgpt") + "\n\n")

	body := lipgloss.NewStyle()
	if m.width > 0 {
		body = body.Width(m.width)
	}
	loading := m.store.Loading()
	for _, msg := range m.store.Messages() {
		label := Styles.UserLabel.Render("You")
		if msg.Role == RoleBot {
			label = Styles.BotLabel.Render(m.cfg.Persona)
		}
		content := msg.Content
		if msg.Role == RoleBot && content == "" && loading && msg.ID == m.botID {
			content = m.spinner.View()
		}
		b.WriteString(label + "\n" + body.Render(content) + "\n\n")
	}

	if m.status != "" {
		b.WriteString(IconWarning.Render() + " " + Styles.Warning.Render(m.status) + "\n")
	}
	b.WriteString(m.input.View() + "\n")
	b.WriteString(Styles.Muted.Render(chatHelp) + "\n")
	return b.String()
}

// RunChat runs the interactive chat until the user quits or ctx ends.
func RunChat(ctx context.Context, cfg ChatConfig) error {
	model := NewChatModel(ctx, NewSessionStore(), cfg)
	_, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
