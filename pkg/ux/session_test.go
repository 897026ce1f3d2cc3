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
	"errors"
	"sync"
	"testing"
)

func TestSessionStore_SendMessage(t *testing.T) {
	store := NewSessionStore()

	user, bot := store.SendMessage("What is Celo?")

	if user.Role != RoleUser || user.Content != "What is Celo?" {
		t.Errorf("user message = %+v", user)
	}
	if bot.Role != RoleBot || bot.Content != "" {
		t.Errorf("bot placeholder = %+v, want empty content", bot)
	}
	if user.ID == "" || bot.ID == "" || user.ID == bot.ID {
		t.Errorf("ids not unique: %q %q", user.ID, bot.ID)
	}

	msgs := store.Messages()
	if len(msgs) != 2 || msgs[0].ID != user.ID || msgs[1].ID != bot.ID {
		t.Errorf("Messages() = %+v", msgs)
	}
}

func TestSessionStore_SetContent(t *testing.T) {
	store := NewSessionStore()
	_, bot := store.SendMessage("q")

	if err := store.SetContent(bot.ID, "answer"); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	if got := store.Messages()[1].Content; got != "answer" {
		t.Errorf("content = %q", got)
	}
	if err := store.SetContent("missing", "x"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("SetContent(missing) = %v, want ErrUnknownMessage", err)
	}
}

func TestSessionStore_MessagesIsCopy(t *testing.T) {
	store := NewSessionStore()
	store.SendMessage("q")

	msgs := store.Messages()
	msgs[0].Content = "changed"

	if store.Messages()[0].Content != "q" {
		t.Error("mutating the returned slice changed the store")
	}
}

func TestSessionStore_ClearMessages(t *testing.T) {
	store := NewSessionStore()
	_, bot := store.SendMessage("q")

	store.ClearMessages()

	if len(store.Messages()) != 0 {
		t.Errorf("Messages() after clear = %+v", store.Messages())
	}
	if err := store.SetContent(bot.ID, "late"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("SetContent after clear = %v, want ErrUnknownMessage", err)
	}

	_, bot2 := store.SendMessage("again")
	if err := store.SetContent(bot2.ID, "ok"); err != nil {
		t.Errorf("SetContent after re-send: %v", err)
	}
}

func TestSessionStore_Loading(t *testing.T) {
	store := NewSessionStore()
	if store.Loading() {
		t.Error("new store is loading")
	}
	store.SetLoading(true)
	if !store.Loading() {
		t.Error("Loading() = false after SetLoading(true)")
	}
}

func TestSessionStore_ConcurrentSends(t *testing.T) {
	store := NewSessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, bot := store.SendMessage("q")
			_ = store.SetContent(bot.ID, "a")
		}()
	}
	wg.Wait()

	msgs := store.Messages()
	if len(msgs) != 40 {
		t.Fatalf("len = %d, want 40", len(msgs))
	}
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Role != RoleUser || msgs[i+1].Role != RoleBot {
			t.Fatalf("pair at %d not user/bot: %+v %+v", i, msgs[i], msgs[i+1])
		}
	}
}
