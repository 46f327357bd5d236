package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/sparql-map-explorer/internal/core/observability"
)

// Invalidator drops a cached catalog snapshot
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
}

func New(cfg Config, logger *slog.Logger, inv Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg.withDefaults(), logger: logger.With("component", "catalog_sync"), inv: inv}
}

// Start consumes update events until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("catalogsync: missing invalidator")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("catalog sync consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("catalog sync consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne handles a single update message. Undecodable or irrelevant
// events are skipped so they never block the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncCatalogInvalidation("decode_error")
		c.logger.WarnContext(ctx, "dropping undecodable update event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncCatalogInvalidation("decode_error")
		c.logger.WarnContext(ctx, "dropping invalid update event", "offset", msg.Offset, "err", err)
		return nil
	}
	if !ev.Applies(c.cfg.Endpoint) {
		obs.IncCatalogInvalidation("skipped")
		c.logger.DebugContext(ctx, "update event for another endpoint", "endpoint", ev.Endpoint)
		return nil
	}

	if err := c.inv.Invalidate(ctx); err != nil {
		obs.IncCatalogInvalidation("store_error")
		return fmt.Errorf("invalidate catalog: %w", err)
	}
	obs.IncCatalogInvalidation("invalidated")
	c.logger.InfoContext(ctx, "catalog snapshot invalidated", "op", ev.Op, "offset", msg.Offset)
	return nil
}
