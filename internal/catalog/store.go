package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/cache/redisstore"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/sparql"
)

type Loader interface {
	Load(ctx context.Context) ([]model.CollectionSummary, error)
}

// Refresher is implemented by loaders that can skip a shared snapshot
type Refresher interface {
	Refresh(ctx context.Context) ([]model.CollectionSummary, error)
}

var (
	_ Loader    = (*Catalog)(nil)
	_ Refresher = (*storeLoader)(nil)
)

// Store keeps a catalog snapshot shared between sessions
type Store interface {
	Get(ctx context.Context) ([]model.CollectionSummary, bool, error)
	Put(ctx context.Context, cols []model.CollectionSummary) error
	Invalidate(ctx context.Context) error
}

type redisStore struct {
	cli *redisstore.Client
	key string
	ttl time.Duration
}

// NewRedisStore scopes the snapshot to endpoint so catalogs of different
// datasets never mix.
func NewRedisStore(cli *redisstore.Client, endpoint string, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisStore{
		cli: cli,
		key: "catalog:" + sparql.Fingerprint(endpoint+"\n"+sparql.BuildCollectionsQuery()),
		ttl: ttl,
	}
}

func (s *redisStore) Get(ctx context.Context) ([]model.CollectionSummary, bool, error) {
	raw, err := s.cli.Get(ctx, s.key)
	if errors.Is(err, redisstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog store get: %w", err)
	}
	var cols []model.CollectionSummary
	if err := json.Unmarshal(raw, &cols); err != nil {
		return nil, false, fmt.Errorf("catalog store decode: %w", err)
	}
	return cols, true, nil
}

func (s *redisStore) Put(ctx context.Context, cols []model.CollectionSummary) error {
	raw, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("catalog store encode: %w", err)
	}
	if err := s.cli.Set(ctx, s.key, raw, s.ttl); err != nil {
		return fmt.Errorf("catalog store put: %w", err)
	}
	return nil
}

func (s *redisStore) Invalidate(ctx context.Context) error {
	if err := s.cli.Del(ctx, s.key); err != nil {
		return fmt.Errorf("catalog store invalidate: %w", err)
	}
	return nil
}

type storeLoader struct {
	next   Loader
	store  Store
	logger *slog.Logger
}

// WithStore serves Load from store when a snapshot exists and records
// fresh loads into it. Store failures only cost a round trip to next.
func WithStore(next Loader, store Store, logger *slog.Logger) Loader {
	if store == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &storeLoader{next: next, store: store, logger: logger}
}

func (l *storeLoader) Load(ctx context.Context) ([]model.CollectionSummary, error) {
	cols, ok, err := l.store.Get(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "catalog snapshot read failed", "err", err)
	} else if ok {
		return cols, nil
	}

	cols, err = l.next.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.store.Put(ctx, cols); err != nil {
		l.logger.WarnContext(ctx, "catalog snapshot write failed", "err", err)
	}
	return cols, nil
}

// Refresh goes to next directly and replaces the snapshot on success
func (l *storeLoader) Refresh(ctx context.Context) ([]model.CollectionSummary, error) {
	cols, err := l.next.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.store.Put(ctx, cols); err != nil {
		l.logger.WarnContext(ctx, "catalog snapshot write failed", "err", err)
	}
	return cols, nil
}
