package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/observability"
)

type Factory func(id string) *Coordinator

// Registry hosts live sessions, evicting the least recently used one when
// full. Evicted sessions are closed.
type Registry struct {
	cache   *lru.Cache[string, *Coordinator]
	factory Factory
	newID   func() string
}

func NewRegistry(capacity int, factory Factory) (*Registry, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	cache, err := lru.NewWithEvict[string, *Coordinator](capacity, func(_ string, c *Coordinator) {
		c.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("session registry: %w", err)
	}
	return &Registry{cache: cache, factory: factory, newID: uuid.NewString}, nil
}

func (r *Registry) Get(id string) (*Coordinator, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	return r.cache.Get(id)
}

// Create starts a new session under a fresh id
func (r *Registry) Create(ctx context.Context) *Coordinator {
	c := r.factory(r.newID())
	c.Start(c.WithContext(ctx))
	r.cache.Add(c.ID(), c)
	observability.SetActiveSessions(r.cache.Len())
	return c
}

// GetOrCreate resolves id, creating a session when it is missing or
// unknown. created reports which happened.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (c *Coordinator, created bool) {
	if c, ok := r.Get(id); ok {
		return c, false
	}
	return r.Create(ctx), true
}

func (r *Registry) Len() int { return r.cache.Len() }

// Close evicts, and so closes, every session
func (r *Registry) Close() {
	r.cache.Purge()
	observability.SetActiveSessions(0)
}
