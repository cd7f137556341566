// Package intent decides what a trading signal means given the account's current position.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
	"github.com/lclpedro/hyperhook/internal/sizing"
)

// DefaultPositionQueryTimeout bounds the position-state lookup.
const DefaultPositionQueryTimeout = 5 * time.Second

// Signal is the raw, loosely-typed part of an inbound webhook the classifier needs.
type Signal struct {
	OwnerAddress string
	Instrument   string // Venue instrument
	Action       string // buy/sell/long/short
	PositionSize string // Strategy position after the signal; "0" means flat
	Contracts    string // Contracts in this signal
}

// Intent is the classification result. Rationale is always set, including on degraded paths.
type Intent struct {
	Operation   domain.OperationType
	Side        domain.Side // Side the order acts on; for CLOSE/REDUCE the side being reduced
	Quantity    decimal.Decimal
	RawQuantity decimal.Decimal
	Rationale   string
	Degraded    bool
	Fallback    bool // Quantity was rounded with fallback precision
	Current     *domain.ExchangePosition
}

// OrderSide returns the exchange order side that carries out the intent.
func (i Intent) OrderSide() domain.OrderSide {
	switch i.Operation {
	case domain.OpClose, domain.OpReduce:
		return domain.OrderSideFor(i.Side.Opposite())
	default:
		return domain.OrderSideFor(i.Side)
	}
}

// Normalizer rounds quantities to exchange-legal sizes.
type Normalizer interface {
	Normalize(ctx context.Context, instrument string, raw decimal.Decimal) (sizing.Quantity, error)
}

// Config holds the dependencies of a Classifier.
type Config struct {
	Positions ports.PositionStateProvider
	Sizer     Normalizer
	Timeout   time.Duration
	Logger    ports.Logger
}

// Classifier maps signals onto position operations.
type Classifier struct {
	positions ports.PositionStateProvider
	sizer     Normalizer
	timeout   time.Duration
	logger    ports.Logger
}

// New creates a Classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.Positions == nil || cfg.Sizer == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("position provider, sizer and logger are required for classifier")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPositionQueryTimeout
	}
	return &Classifier{
		positions: cfg.Positions,
		sizer:     cfg.Sizer,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}, nil
}

// ParseAmount parses a signal number. Blank input reads as zero.
func ParseAmount(field, value string) (decimal.Decimal, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", ports.ErrInvalidSignal, field, value)
	}
	return d, nil
}

// Classify decides the operation for sig. Position-state failures never surface as errors:
// they produce an ERROR intent with Degraded set. Only malformed signals and sizing refusals fail.
func (c *Classifier) Classify(ctx context.Context, sig Signal) (Intent, error) {
	op := "Classify"

	side, ok := domain.ParseSignalAction(sig.Action)
	if !ok {
		return Intent{}, fmt.Errorf("%s failed: %w: unknown action %q", op, ports.ErrInvalidSignal, sig.Action)
	}
	positionSize, err := ParseAmount("position_size", sig.PositionSize)
	if err != nil {
		return Intent{}, fmt.Errorf("%s failed: %w", op, err)
	}
	contracts, err := ParseAmount("contracts", sig.Contracts)
	if err != nil {
		return Intent{}, fmt.Errorf("%s failed: %w", op, err)
	}
	if contracts.IsNegative() {
		return Intent{}, fmt.Errorf("%s failed: %w: contracts must not be negative", op, ports.ErrInvalidSignal)
	}

	current, err := c.currentPosition(ctx, sig.OwnerAddress, sig.Instrument)
	if err != nil {
		c.logger.Warn(ctx, "Position state unavailable, classifying in degraded mode", map[string]interface{}{
			"instrument": sig.Instrument,
			"error":      err.Error(),
		})
		in := Intent{
			Operation:   domain.OpError,
			Side:        side,
			RawQuantity: contracts,
			Degraded:    true,
			Rationale:   fmt.Sprintf("degraded: %v; using raw signal quantity %s", err, contracts),
		}
		return c.normalize(ctx, sig.Instrument, in)
	}

	in := decide(side, positionSize, contracts, current)
	c.logger.Debug(ctx, "Signal classified", map[string]interface{}{
		"instrument": sig.Instrument,
		"operation":  string(in.Operation),
		"side":       string(in.Side),
		"rawQty":     in.RawQuantity.String(),
	})
	return c.normalize(ctx, sig.Instrument, in)
}

func (c *Classifier) currentPosition(ctx context.Context, ownerAddress, instrument string) (*domain.ExchangePosition, error) {
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pos, err := c.positions.GetCurrentPosition(qctx, ownerAddress, instrument)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: query exceeded %s", ports.ErrPositionStateUnavailable, ports.ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("%w: %w", ports.ErrPositionStateUnavailable, err)
	}
	if pos != nil && !pos.Quantity.IsPositive() {
		return nil, nil
	}
	return pos, nil
}

// decide is the classification table. It has no side effects.
func decide(side domain.Side, positionSize, contracts decimal.Decimal, current *domain.ExchangePosition) Intent {
	if current == nil {
		return Intent{
			Operation:   domain.OpNewPosition,
			Side:        side,
			RawQuantity: contracts,
			Rationale:   fmt.Sprintf("no open position; opening %s %s", side, contracts),
		}
	}

	sameDirection := side == current.Side
	switch {
	case positionSize.IsZero() && !sameDirection:
		return Intent{
			Operation:   domain.OpClose,
			Side:        current.Side,
			RawQuantity: current.Quantity,
			Current:     current,
			Rationale:   fmt.Sprintf("flat target against %s %s; closing whole position", current.Side, current.Quantity),
		}
	case sameDirection:
		return Intent{
			Operation:   domain.OpDCA,
			Side:        side,
			RawQuantity: contracts,
			Current:     current,
			Rationale:   fmt.Sprintf("adding %s to %s %s", contracts, current.Side, current.Quantity),
		}
	default:
		qty := decimal.Min(contracts, current.Quantity)
		return Intent{
			Operation:   domain.OpReduce,
			Side:        current.Side,
			RawQuantity: qty,
			Current:     current,
			Rationale:   fmt.Sprintf("reducing %s %s by %s", current.Side, current.Quantity, qty),
		}
	}
}

func (c *Classifier) normalize(ctx context.Context, instrument string, in Intent) (Intent, error) {
	q, err := c.sizer.Normalize(ctx, instrument, in.RawQuantity)
	if err != nil {
		return in, fmt.Errorf("Classify failed: %w", err)
	}
	in.Quantity = q.Value
	in.Fallback = q.Fallback
	if q.Fallback {
		in.Rationale += fmt.Sprintf("; precision fallback %ddp", q.Precision.DecimalPlaces)
	}
	return in, nil
}
