package storage

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Hub shares one backend between several tabs and fans out every mutation
// made through one tab to the subscribers of all other tabs.
type Hub struct {
	backend Storage

	mu   sync.RWMutex
	tabs map[string]*Tab
}

// NewHub creates a hub on top of backend.
func NewHub(backend Storage) *Hub {
	if backend == nil {
		panic("storage: hub backend is nil")
	}

	return &Hub{
		backend: backend,
		tabs:    make(map[string]*Tab),
	}
}

// Tab opens a new handle on the shared backend.
func (h *Hub) Tab() *Tab {
	t := &Tab{
		id:   uuid.NewString(),
		hub:  h,
		subs: make(map[int]func(Event)),
	}

	h.mu.Lock()
	h.tabs[t.id] = t
	h.mu.Unlock()

	return t
}

func (h *Hub) broadcast(origin string, evt Event) {
	h.mu.RLock()
	targets := make([]*Tab, 0, len(h.tabs))

	for id, t := range h.tabs {
		if id != origin {
			targets = append(targets, t)
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.deliver(evt)
	}
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	delete(h.tabs, id)
	h.mu.Unlock()
}

// Tab is one handle on a Hub. It implements Observable.
type Tab struct {
	id  string
	hub *Hub

	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

// ID returns the unique id of the tab.
func (t *Tab) ID() string {
	return t.id
}

// Get implements Storage.
func (t *Tab) Get(ctx context.Context, key string) ([]byte, error) {
	return t.hub.backend.Get(ctx, key)
}

// Set implements Storage. Writing an unchanged value is not broadcast.
func (t *Tab) Set(ctx context.Context, key string, value []byte) error {
	old, err := t.previous(ctx, key)
	if err != nil {
		return err
	}

	if err = t.hub.backend.Set(ctx, key, value); err != nil {
		return err
	}

	if old != nil && bytes.Equal(old, value) {
		return nil
	}

	t.hub.broadcast(t.id, Event{Key: key, OldValue: old, NewValue: clone(value)})

	return nil
}

// Delete implements Storage. Deleting a missing key is not broadcast.
func (t *Tab) Delete(ctx context.Context, key string) error {
	old, err := t.previous(ctx, key)
	if err != nil {
		return err
	}

	if err = t.hub.backend.Delete(ctx, key); err != nil {
		return err
	}

	if old == nil {
		return nil
	}

	t.hub.broadcast(t.id, Event{Key: key, OldValue: old})

	return nil
}

// Subscribe implements Observable.
func (t *Tab) Subscribe(fn func(Event)) func() {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Close detaches the tab from the hub; it no longer receives events.
func (t *Tab) Close() error {
	t.hub.detach(t.id)
	return nil
}

func (t *Tab) previous(ctx context.Context, key string) ([]byte, error) {
	old, err := t.hub.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	return old, err
}

func (t *Tab) deliver(evt Event) {
	t.mu.Lock()
	fns := make([]func(Event), 0, len(t.subs))

	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
