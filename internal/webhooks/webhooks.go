// Package webhooks provides a pluggable notification registry. Rule
// actions name a webhook kind; handlers for each kind are registered at
// startup. Unknown kinds are logged and swallowed.
package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Handler delivers one notification. Implementations should return an
// error on failure; the registry logs it and moves on.
type Handler func(recipient, message string) error

// Registry maps webhook kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty webhook registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for the given kind, replacing any existing one.
func (r *Registry) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// RegisterHTTP registers a handler that POSTs a JSON payload of the form
// {"recipient": ..., "message": ...} to the given URL.
func (r *Registry) RegisterHTTP(kind, url string) {
	client := &http.Client{Timeout: 10 * time.Second}
	r.Register(kind, func(recipient, message string) error {
		body, err := json.Marshal(map[string]string{
			"recipient": recipient,
			"message":   message,
		})
		if err != nil {
			return fmt.Errorf("marshal webhook payload: %w", err)
		}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook %s returned status %d", kind, resp.StatusCode)
		}
		return nil
	})
}

// Send dispatches a notification to the handler for kind. Returns false if
// no handler is registered or the handler failed; the core does not retry.
func (r *Registry) Send(kind, recipient, message string) bool {
	r.mu.RLock()
	h, ok := r.handlers[kind]
	r.mu.RUnlock()

	if !ok {
		log.Printf("WARNING: webhook kind %q not registered (skipping)", kind)
		return false
	}
	if err := h(recipient, message); err != nil {
		log.Printf("ERROR: webhook %q failed: %v", kind, err)
		return false
	}
	return true
}

// Kinds returns the registered webhook kind names.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}
