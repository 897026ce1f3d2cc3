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

	"github.com/google/uuid"
)

// Role identifies who wrote a transcript message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// ErrUnknownMessage is returned by SetContent for an id not in the transcript.
var ErrUnknownMessage = errors.New("unknown message id")

// Message is one transcript entry.
type Message struct {
	ID      string
	Role    Role
	Content string
}

// SessionStore holds the transcript of one chat session in memory.
//
// Messages are only ever appended or have their content replaced; order
// is insertion order. The store is owned by the caller and safe for
// concurrent use.
type SessionStore struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int
	loading  bool
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{index: make(map[string]int)}
}

// SendMessage appends the user's text and an empty bot placeholder in one
// step and returns both.
func (s *SessionStore) SendMessage(text string) (Message, Message) {
	user := Message{ID: uuid.NewString(), Role: RoleUser, Content: text}
	bot := Message{ID: uuid.NewString(), Role: RoleBot}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[user.ID] = len(s.messages)
	s.messages = append(s.messages, user)
	s.index[bot.ID] = len(s.messages)
	s.messages = append(s.messages, bot)
	return user, bot
}

// SetContent replaces the content of message id.
func (s *SessionStore) SetContent(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return ErrUnknownMessage
	}
	s.messages[i].Content = content
	return nil
}

// Messages returns a copy of the transcript.
func (s *SessionStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ClearMessages empties the transcript. Streams still writing to cleared
// messages get ErrUnknownMessage from SetContent.
func (s *SessionStore) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.index = make(map[string]int)
}

// Loading reports whether an answer is being streamed.
func (s *SessionStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetLoading sets the loading flag.
func (s *SessionStore) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}
