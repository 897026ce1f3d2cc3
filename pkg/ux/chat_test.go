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
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// pump runs cmd and feeds its messages back into the model until the store
// stops loading or no command is left.
func pump(t *testing.T, model tea.Model, cmd tea.Cmd, store *SessionStore) tea.Model {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for cmd != nil && store.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("chat did not settle")
		}
		model, cmd = model.Update(cmd())
	}
	return model
}

func newTestChat(t *testing.T, server *answerServer) (ChatModel, *SessionStore) {
	t.Helper()
	srv := newAnswerServer(t, server)
	store := NewSessionStore()
	model := NewChatModel(context.Background(), store, ChatConfig{
		URL:      srv.URL,
		Client:   srv.Client(),
		Throttle: 5 * time.Millisecond,
	})
	return model, store
}

func TestChatModel_SendStreamsAnswer(t *testing.T) {
	model, store := newTestChat(t, &answerServer{
		pieces:   []string{"Celo Gold ", "is the native asset."},
		complete: true,
	})

	model.input.SetValue("  What is Celo Gold?  ")
	next, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if !store.Loading() {
		t.Fatal("store not loading after send")
	}
	msgs := store.Messages()
	if len(msgs) != 2 || msgs[0].Content != "What is Celo Gold?" {
		t.Fatalf("messages = %+v", msgs)
	}

	final := pump(t, next, cmd, store).(ChatModel)

	msgs = store.Messages()
	if msgs[1].Content != "Celo Gold is the native asset." {
		t.Errorf("bot content = %q", msgs[1].Content)
	}
	if final.status != "" {
		t.Errorf("status = %q", final.status)
	}
	if final.input.Value() != "" {
		t.Errorf("input not cleared: %q", final.input.Value())
	}
	final.buffer.Close()
}

func TestChatModel_EmptyInputIgnored(t *testing.T) {
	model, store := newTestChat(t, &answerServer{})

	model.input.SetValue("   ")
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if cmd != nil || len(store.Messages()) != 0 {
		t.Errorf("empty input produced messages %+v", store.Messages())
	}
}

func TestChatModel_EscKeepsPartialAnswer(t *testing.T) {
	model, store := newTestChat(t, &answerServer{pieces: []string{"partial"}, hold: true})

	model.input.SetValue("q")
	next, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m := next.(ChatModel)
	defer m.buffer.Close()

	waitFor(t, func() bool { return m.buffer.Text() == "partial" })

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	pump(t, next, cmd, store)

	if store.Loading() {
		t.Error("still loading after esc")
	}
	if got := store.Messages()[1].Content; got != "partial" {
		t.Errorf("bot content = %q, want \"partial\"", got)
	}
}

func TestChatModel_ServerErrorShowsStatus(t *testing.T) {
	model, store := newTestChat(t, &answerServer{status: 400, errBody: `{"error":"flagged content"}`})

	model.input.SetValue("bad words")
	next, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	final := pump(t, next, cmd, store).(ChatModel)
	defer final.buffer.Close()

	if !strings.Contains(final.status, "flagged content") {
		t.Errorf("status = %q", final.status)
	}
	if !strings.Contains(final.View(), "flagged content") {
		t.Error("View() does not show the error")
	}
}

func TestChatModel_ClearMessages(t *testing.T) {
	model, store := newTestChat(t, &answerServer{pieces: []string{"a"}, complete: true})

	model.input.SetValue("q")
	next, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	next = pump(t, next, cmd, store)
	defer next.(ChatModel).buffer.Close()

	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyCtrlL})

	if len(store.Messages()) != 0 {
		t.Errorf("messages after ctrl+l = %+v", store.Messages())
	}
	if strings.Contains(next.View(), "You") {
		t.Error("View() still renders cleared messages")
	}
}

func TestChatModel_ClearMessagesStopsStreamingAnswer(t *testing.T) {
	server := &answerServer{pieces: []string{"streaming"}, hold: true}
	model, store := newTestChat(t, server)

	model.input.SetValue("q")
	next, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m := next.(ChatModel)
	defer m.buffer.Close()
	waitFor(t, func() bool { return m.buffer.Text() == "streaming" })

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	cleared := next.(ChatModel)

	if !cleared.buffer.Done() {
		t.Error("answer still streaming after ctrl+l")
	}
	if store.Loading() {
		t.Error("still loading after ctrl+l")
	}
	if cleared.botID != "" {
		t.Errorf("botID = %q after ctrl+l", cleared.botID)
	}
	waitFor(t, func() bool { return server.inFlight.Load() == 0 })

	// The pending waiter resolves without touching the cleared transcript.
	final, _ := cleared.Update(cmd())
	if len(store.Messages()) != 0 {
		t.Errorf("messages after ctrl+l = %+v", store.Messages())
	}
	if status := final.(ChatModel).status; status != "" {
		t.Errorf("status = %q", status)
	}

	// Input is accepted again.
	cleared.input.SetValue("next question")
	sent, cmd := cleared.Update(tea.KeyMsg{Type: tea.KeyEnter})
	defer sent.(ChatModel).buffer.Close()
	if cmd == nil || len(store.Messages()) != 2 {
		t.Errorf("new question not sent, messages = %+v", store.Messages())
	}
}

func TestChatModel_ViewLabels(t *testing.T) {
	model, store := newTestChat(t, &answerServer{})
	store.SendMessage("hello")

	view := model.View()
	if !strings.Contains(view, "You") || !strings.Contains(view, "Celo") {
		t.Errorf("View() missing labels:\n%s", view)
	}
	if !strings.Contains(view, "ctrl+r retry") {
		t.Error("View() missing help line")
	}
}
