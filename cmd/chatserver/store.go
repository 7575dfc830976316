package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one stored room message.
type ChatMessage struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

// RoomEvent is one change notification fanned out to event listeners.
type RoomEvent struct {
	Name    string
	Payload map[string]any
}

// memoryStore keeps room messages and per-room event listeners in process.
type memoryStore struct {
	mu        sync.RWMutex
	rooms     map[string][]ChatMessage
	listeners map[string]map[chan RoomEvent]struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rooms:     make(map[string][]ChatMessage),
		listeners: make(map[string]map[chan RoomEvent]struct{}),
	}
}

// Append stores a message and notifies the room's listeners.
func (s *memoryStore) Append(roomID, author, text string) ChatMessage {
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Author:    author,
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	event := RoomEvent{Name: "messageCreated", Payload: map[string]any{
		"id":     msg.ID,
		"author": msg.Author,
		"text":   msg.Text,
	}}

	// Fan out while holding the lock: stop() closes listener channels under
	// the same lock, so a send can never race a close. Sends never block.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = append(s.rooms[roomID], msg)
	for ch := range s.listeners[roomID] {
		select {
		case ch <- event:
		default:
			// slow listener; it catches up from the store, not the feed
		}
	}
	return msg
}

// Messages returns up to limit messages for a room, oldest first. A zero
// limit returns everything.
func (s *memoryStore) Messages(roomID string, limit int) []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.rooms[roomID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Get returns one message by id.
func (s *memoryStore) Get(roomID, messageID string) (ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.rooms[roomID] {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return ChatMessage{}, false
}

// Listen registers an event listener for a room. The returned stop function
// unregisters it and closes the channel; calling it again is a no-op.
func (s *memoryStore) Listen(roomID string) (<-chan RoomEvent, func()) {
	ch := make(chan RoomEvent, 16)
	s.mu.Lock()
	if s.listeners[roomID] == nil {
		s.listeners[roomID] = make(map[chan RoomEvent]struct{})
	}
	s.listeners[roomID][ch] = struct{}{}
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs, ok := s.listeners[roomID]
		if !ok {
			return
		}
		if _, registered := subs[ch]; !registered {
			return
		}
		delete(subs, ch)
		if len(subs) == 0 {
			delete(s.listeners, roomID)
		}
		close(ch)
	}
	return ch, stop
}
