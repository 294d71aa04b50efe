// Package observer provides market event sources for the pipeline.
package observer

import (
	"context"
	"fmt"

	"github.com/tathienbao/riskflow/internal/types"
)

// Source yields market events one at a time.
//
// Next blocks until an event is available or ctx is done. A finite source
// returns types.ErrSourceExhausted once it has nothing left; any other error
// is transient and the caller may retry.
type Source interface {
	Next(ctx context.Context) (types.MarketEvent, error)

	// Name returns the source identifier (e.g., "replay", "channel").
	Name() string
}

// ChannelSource adapts a channel of market events to Source. It is the
// in-process entry point for feeds that push events.
type ChannelSource struct {
	ch   <-chan types.MarketEvent
	name string
}

// NewChannelSource creates a source reading from ch. The source is
// exhausted when ch is closed.
func NewChannelSource(name string, ch <-chan types.MarketEvent) *ChannelSource {
	if name == "" {
		name = "channel"
	}
	return &ChannelSource{ch: ch, name: name}
}

// Next returns the next event from the channel.
func (s *ChannelSource) Next(ctx context.Context) (types.MarketEvent, error) {
	select {
	case <-ctx.Done():
		return types.MarketEvent{}, ctx.Err()
	case event, ok := <-s.ch:
		if !ok {
			return types.MarketEvent{}, fmt.Errorf("%s: %w", s.name, types.ErrSourceExhausted)
		}
		return event, nil
	}
}

// Name returns the source identifier.
func (s *ChannelSource) Name() string {
	return s.name
}

// FuncSource adapts a function to Source. Useful in tests.
type FuncSource func(ctx context.Context) (types.MarketEvent, error)

// Next calls f.
func (f FuncSource) Next(ctx context.Context) (types.MarketEvent, error) {
	return f(ctx)
}

// Name returns "func".
func (f FuncSource) Name() string {
	return "func"
}
