// Package session stores per-visitor state keyed by an opaque session token.
// The storefront only keeps small strings here (the current cart number); the
// order itself always lives in the primary store.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no value for the session.
var ErrNotFound = errors.New("session: key not found")

// Well-known keys.
const (
	// KeyCartNumber holds the visitor's current cart number.
	KeyCartNumber = "cartNumber"
)

// Store is the session persistence port. Implementations must treat each
// (sessionID, key) pair independently and expire entries on their own TTL.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID, key string) error
}

// Nop discards writes and never finds anything. Used when session handling
// is disabled, e.g. in headless API tests.
type Nop struct{}

func (Nop) Get(context.Context, string, string) (string, error) { return "", ErrNotFound }
func (Nop) Set(context.Context, string, string, string) error   { return nil }
func (Nop) Delete(context.Context, string, string) error        { return nil }

// Memory is an in-process store for tests. Entries expire lazily on read.
type Memory struct {
	TTL time.Duration

	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{TTL: ttl, entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, sessionID, key string) (string, error) {
	e, ok := m.entries[sessionID+"\x00"+key]
	if !ok {
		return "", ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, sessionID+"\x00"+key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, sessionID, key, value string) error {
	var expires time.Time
	if m.TTL > 0 {
		expires = time.Now().Add(m.TTL)
	}
	m.entries[sessionID+"\x00"+key] = memoryEntry{value: value, expiresAt: expires}
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID, key string) error {
	delete(m.entries, sessionID+"\x00"+key)
	return nil
}
