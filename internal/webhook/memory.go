package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRegistry is the in-memory Registry implementation.
type MemRegistry struct {
	mu     sync.RWMutex
	hooks  map[int64]Webhook
	nextID int64
}

// NewMemRegistry constructs an empty MemRegistry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{hooks: make(map[int64]Webhook)}
}

// Create registers a new webhook.
func (r *MemRegistry) Create(_ context.Context, hook Webhook) (Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now().UTC()
	hook.ID = r.nextID
	hook.CreatedAt = now
	hook.UpdatedAt = now
	hook.LastResponseCode = nil
	hook.LastResponseTimeMs = nil
	r.hooks[hook.ID] = hook
	return hook, nil
}

// Get returns the webhook or ErrNotFound.
func (r *MemRegistry) Get(_ context.Context, id int64) (Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.hooks[id]
	if !ok {
		return Webhook{}, ErrNotFound
	}
	return hook, nil
}

// List returns every webhook ordered by ID.
func (r *MemRegistry) List(_ context.Context) ([]Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Webhook, 0, len(r.hooks))
	for _, hook := range r.hooks {
		out = append(out, hook)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListByEvent returns the enabled webhooks subscribed to event.
func (r *MemRegistry) ListByEvent(_ context.Context, event string) ([]Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Webhook
	for _, hook := range r.hooks {
		if hook.Enabled && hook.EventType == event {
			out = append(out, hook)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update applies the non-nil fields.
func (r *MemRegistry) Update(_ context.Context, id int64, upd Update) (Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook, ok := r.hooks[id]
	if !ok {
		return Webhook{}, ErrNotFound
	}
	if upd.URL != nil {
		hook.URL = *upd.URL
	}
	if upd.EventType != nil {
		hook.EventType = *upd.EventType
	}
	if upd.Enabled != nil {
		hook.Enabled = *upd.Enabled
	}
	hook.UpdatedAt = time.Now().UTC()
	r.hooks[id] = hook
	return hook, nil
}

// Delete removes the webhook.
func (r *MemRegistry) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return ErrNotFound
	}
	delete(r.hooks, id)
	return nil
}

// RecordResult stores the outcome of the latest delivery attempt.
func (r *MemRegistry) RecordResult(_ context.Context, id int64, code int, elapsedMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook, ok := r.hooks[id]
	if !ok {
		return ErrNotFound
	}
	hook.LastResponseCode = &code
	hook.LastResponseTimeMs = &elapsedMs
	hook.UpdatedAt = time.Now().UTC()
	r.hooks[id] = hook
	return nil
}
