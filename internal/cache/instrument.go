// Package cache keeps instrument metadata close to the sizer.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// DefaultTTL is how long precision descriptors are reused before refetching.
const DefaultTTL = 10 * time.Minute

// Clock abstracts time for expiry checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type entry struct {
	precision domain.Precision
	expires   time.Time
}

// InstrumentCache wraps an InstrumentProvider and caches precision lookups.
// Prices are passed through untouched. Concurrent misses for one instrument share a single fetch.
type InstrumentCache struct {
	source ports.InstrumentProvider
	ttl    time.Duration
	clock  Clock
	logger ports.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Config holds the InstrumentCache dependencies.
type Config struct {
	Source ports.InstrumentProvider
	TTL    time.Duration
	Clock  Clock
	Logger ports.Logger
}

// NewInstrumentCache creates a cache in front of cfg.Source.
func NewInstrumentCache(cfg Config) (*InstrumentCache, error) {
	if cfg.Source == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("source and logger are required for instrument cache")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &InstrumentCache{
		source:  cfg.Source,
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		entries: make(map[string]entry),
	}, nil
}

// Get returns the cached precision for instrument, fetching it when missing or expired.
// Failed lookups are not cached.
func (c *InstrumentCache) Get(ctx context.Context, instrument string) (domain.Precision, error) {
	now := c.clock.Now()
	c.mu.RLock()
	e, ok := c.entries[instrument]
	c.mu.RUnlock()
	if ok && now.Before(e.expires) {
		return e.precision, nil
	}

	v, err, shared := c.group.Do(instrument, func() (interface{}, error) {
		p, err := c.source.GetInstrumentPrecision(ctx, instrument)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[instrument] = entry{precision: p, expires: c.clock.Now().Add(c.ttl)}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return domain.Precision{}, err
	}
	if !shared {
		c.logger.Debug(ctx, "Instrument precision refreshed", map[string]interface{}{"instrument": instrument})
	}
	return v.(domain.Precision), nil
}

// Invalidate drops the cached entry for instrument, or every entry when instrument is empty.
func (c *InstrumentCache) Invalidate(instrument string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if instrument == "" {
		c.entries = make(map[string]entry)
		return
	}
	delete(c.entries, instrument)
}

// GetInstrumentPrecision implements ports.InstrumentProvider.
func (c *InstrumentCache) GetInstrumentPrecision(ctx context.Context, instrument string) (domain.Precision, error) {
	return c.Get(ctx, instrument)
}

// GetInstrumentPrice implements ports.InstrumentProvider.
func (c *InstrumentCache) GetInstrumentPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	return c.source.GetInstrumentPrice(ctx, instrument)
}
