// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"sync"

	"github.com/fincove/maya/services/orchestrator/datatypes"
)

// DefaultMemoryWindow is the number of recent messages a session's
// conversational memory keeps.
const DefaultMemoryWindow = 10

// History is a sliding-window message history for one session. Appends beyond
// the window evict the oldest entry; surviving entries keep their order.
type History struct {
	mu     sync.Mutex
	window int
	msgs   []datatypes.Message
}

// Append adds a message and evicts from the front if the window is exceeded.
func (h *History) Append(msg datatypes.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	if len(h.msgs) > h.window {
		h.msgs = h.msgs[len(h.msgs)-h.window:]
	}
}

// Messages returns a copy of the current window, oldest first.
func (h *History) Messages() []datatypes.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]datatypes.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of messages currently held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Clear empties the history without removing the table entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}

// MemoryTable maps session IDs to their sliding-window histories. Histories
// are created lazily on first use and dropped with the session.
type MemoryTable struct {
	mu        sync.Mutex
	window    int
	histories map[string]*History
}

// NewMemoryTable creates a memory table with the given window size; values
// below 1 fall back to DefaultMemoryWindow.
func NewMemoryTable(window int) *MemoryTable {
	if window < 1 {
		window = DefaultMemoryWindow
	}
	return &MemoryTable{
		window:    window,
		histories: make(map[string]*History),
	}
}

// GetOrCreate returns the history for a session, creating it if absent.
func (t *MemoryTable) GetOrCreate(sessionID string) *History {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.histories[sessionID]
	if !ok {
		h = &History{window: t.window}
		t.histories[sessionID] = h
	}
	return h
}

// Clear empties a session's history, keeping the entry. No-op if absent.
func (t *MemoryTable) Clear(sessionID string) {
	t.mu.Lock()
	h, ok := t.histories[sessionID]
	t.mu.Unlock()
	if ok {
		h.Clear()
	}
}

// Drop removes a session's history entirely. Idempotent.
func (t *MemoryTable) Drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.histories, sessionID)
}

// Len returns the number of sessions with a tracked history.
func (t *MemoryTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.histories)
}
