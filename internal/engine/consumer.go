package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tathienbao/riskflow/internal/metrics"
	"github.com/tathienbao/riskflow/internal/observer"
	"github.com/tathienbao/riskflow/internal/types"
)

// EventHandler processes a market event.
type EventHandler interface {
	OnMarketEvent(ctx context.Context, event types.MarketEvent) error
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	// Backoff is the fixed wait after a source error.
	Backoff time.Duration
	// Shards > 1 processes symbols in parallel; events of one symbol stay
	// on one shard and keep their order.
	Shards int
	// ShardBuffer is the queue depth per shard.
	ShardBuffer int
}

// DefaultConsumerConfig returns default consumer settings.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Backoff:     time.Second,
		Shards:      1,
		ShardBuffer: 256,
	}
}

// Consumer pulls market events from a source and hands them to a handler.
type Consumer struct {
	cfg      ConsumerConfig
	source   observer.Source
	handler  EventHandler
	recorder *metrics.Recorder
	logger   *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// NewConsumer creates a consumer.
func NewConsumer(cfg ConsumerConfig, source observer.Source, handler EventHandler, recorder *metrics.Recorder, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConsumerConfig().Backoff
	}
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.ShardBuffer < 1 {
		cfg.ShardBuffer = DefaultConsumerConfig().ShardBuffer
	}
	return &Consumer{
		cfg:      cfg,
		source:   source,
		handler:  handler,
		recorder: recorder,
		logger:   logger.With("source", source.Name()),
	}
}

// Run consumes events until ctx is done or the source is exhausted.
// Source errors are logged and retried after the backoff; handler errors
// are logged and counted. Neither stops the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("market event consumer started", "shards", c.cfg.Shards)

	if c.cfg.Shards == 1 {
		c.loop(ctx, func(event types.MarketEvent) {
			c.handle(ctx, 0, event)
		})
		return nil
	}

	queues := make([]chan types.MarketEvent, c.cfg.Shards)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan types.MarketEvent, c.cfg.ShardBuffer)
		wg.Add(1)
		go func(shard int, q <-chan types.MarketEvent) {
			defer wg.Done()
			for event := range q {
				if ctx.Err() != nil {
					continue // drain
				}
				c.handle(ctx, shard, event)
			}
		}(i, queues[i])
	}

	c.loop(ctx, func(event types.MarketEvent) {
		q := queues[ShardFor(event.Symbol, c.cfg.Shards)]
		select {
		case q <- event:
		case <-ctx.Done():
		}
	})

	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	return nil
}

func (c *Consumer) loop(ctx context.Context, dispatch func(types.MarketEvent)) {
	for {
		event, err := c.source.Next(ctx)
		if ctx.Err() != nil {
			c.logger.Info("market event consumer stopped: context cancelled")
			return
		}
		if errors.Is(err, types.ErrSourceExhausted) {
			c.logger.Info("market event consumer stopped: source exhausted",
				"processed", c.processed.Load(),
				"failed", c.failed.Load(),
			)
			return
		}
		if err != nil {
			c.logger.Warn("market event source failed", "err", err, "backoff", c.cfg.Backoff)
			c.recorder.RecordError("source")
			if !sleepCtx(ctx, c.cfg.Backoff) {
				c.logger.Info("market event consumer stopped: context cancelled")
				return
			}
			continue
		}
		dispatch(event)
	}
}

func (c *Consumer) handle(ctx context.Context, shard int, event types.MarketEvent) {
	if err := c.handler.OnMarketEvent(ctx, event); err != nil {
		c.failed.Add(1)
		c.recorder.RecordError("process_event")
		c.logger.Error("failed to process market event",
			"symbol", event.Symbol,
			"shard", shard,
			"err", err,
		)
	}
	c.processed.Add(1)
	c.recorder.RecordEvent(shard)
}

// Processed returns the number of events handed to the handler.
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

// Failed returns the number of events whose handling returned an error.
func (c *Consumer) Failed() int64 {
	return c.failed.Load()
}

// ShardFor maps a symbol to a shard in [0, shards).
func ShardFor(symbol string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(shards))
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
