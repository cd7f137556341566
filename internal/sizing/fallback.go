package sizing

import (
	"context"
	"fmt"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// DefaultFallbackDecimals is used when an instrument's precision cannot be obtained.
const DefaultFallbackDecimals int32 = 2

// FallbackPolicy decides what precision to use when the instrument lookup failed.
type FallbackPolicy interface {
	Precision(ctx context.Context, instrument string, cause error) (domain.Precision, error)
}

// DefaultFallback substitutes a fixed number of decimal places.
type DefaultFallback struct {
	DecimalPlaces int32
}

func (f DefaultFallback) Precision(_ context.Context, _ string, _ error) (domain.Precision, error) {
	return domain.NewPrecision(f.DecimalPlaces), nil
}

// StrictFallback refuses to size without real instrument metadata.
type StrictFallback struct{}

func (StrictFallback) Precision(_ context.Context, instrument string, cause error) (domain.Precision, error) {
	return domain.Precision{}, fmt.Errorf("no precision for %s: %w: %w", instrument, ports.ErrInstrumentUnknown, cause)
}
