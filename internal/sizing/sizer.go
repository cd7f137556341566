// Package sizing turns requested quantities into exchange-legal order sizes.
package sizing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// Quantity is a normalized order size together with the precision it was rounded to.
type Quantity struct {
	Value     decimal.Decimal
	Precision domain.Precision
	Fallback  bool // Precision came from the FallbackPolicy
}

// ScaleConfig controls the cross-venue unit-scale multiplier.
type ScaleConfig struct {
	Marker         string          // Prefix marking a scaled venue instrument, e.g. "k"
	Factor         decimal.Decimal // Factor applied to marked instruments
	RatioThreshold decimal.Decimal // Minimum price ratio accepted as a scale difference
}

// DefaultScaleConfig returns the kilo-unit convention: kPEPE trades 1/1000 of PEPE's quantity.
func DefaultScaleConfig() ScaleConfig {
	return ScaleConfig{
		Marker:         "k",
		Factor:         decimal.New(1, -3),
		RatioThreshold: decimal.NewFromInt(100),
	}
}

// Config holds the dependencies of a Sizer.
type Config struct {
	Instruments ports.InstrumentProvider
	Fallback    FallbackPolicy // Defaults to DefaultFallback{2}
	Scale       ScaleConfig    // Zero value means DefaultScaleConfig
	Logger      ports.Logger
}

// Sizer normalizes quantities using per-instrument precision.
type Sizer struct {
	instruments ports.InstrumentProvider
	fallback    FallbackPolicy
	scale       ScaleConfig
	logger      ports.Logger
}

// New creates a Sizer.
func New(cfg Config) (*Sizer, error) {
	if cfg.Instruments == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("instrument provider and logger are required for sizer")
	}
	if cfg.Fallback == nil {
		cfg.Fallback = DefaultFallback{DecimalPlaces: DefaultFallbackDecimals}
	}
	if cfg.Scale.Factor.IsZero() {
		cfg.Scale = DefaultScaleConfig()
	}
	return &Sizer{
		instruments: cfg.Instruments,
		fallback:    cfg.Fallback,
		scale:       cfg.Scale,
		logger:      cfg.Logger,
	}, nil
}

// Round rounds raw half away from zero to the precision's decimal places.
// Positive requests never come back below the minimum increment; non-positive ones become zero.
func Round(p domain.Precision, raw decimal.Decimal) decimal.Decimal {
	if !raw.IsPositive() {
		return decimal.Zero
	}
	minInc := p.MinIncrement
	if !minInc.IsPositive() {
		minInc = decimal.New(1, -p.DecimalPlaces)
	}
	rounded := raw.Round(p.DecimalPlaces)
	if rounded.LessThan(minInc) {
		return minInc
	}
	return rounded
}

// Normalize returns the exchange-legal size for raw on instrument.
// Lookup failures go through the FallbackPolicy instead of aborting.
func (s *Sizer) Normalize(ctx context.Context, instrument string, raw decimal.Decimal) (Quantity, error) {
	op := "Normalize"
	fallback := false
	prec, err := s.instruments.GetInstrumentPrecision(ctx, instrument)
	if err != nil {
		prec, err = s.fallback.Precision(ctx, instrument, err)
		if err != nil {
			return Quantity{}, fmt.Errorf("%s failed: %w", op, err)
		}
		fallback = true
		s.logger.Warn(ctx, "Instrument precision unavailable, using fallback", map[string]interface{}{
			"instrument":    instrument,
			"decimalPlaces": prec.DecimalPlaces,
		})
	}
	return Quantity{Value: Round(prec, raw), Precision: prec, Fallback: fallback}, nil
}

// ScaleMultiplier returns the factor converting a signal quantity on signalInstrument into
// a quantity on venueInstrument. It never fails; anything it cannot establish is treated as 1.
func (s *Sizer) ScaleMultiplier(ctx context.Context, signalInstrument, venueInstrument string) decimal.Decimal {
	if strings.EqualFold(signalInstrument, venueInstrument) {
		return decimal.NewFromInt(1)
	}
	if s.scale.Marker != "" && venueInstrument == s.scale.Marker+signalInstrument {
		return s.scale.Factor
	}

	signalPx, err := s.instruments.GetInstrumentPrice(ctx, signalInstrument)
	if err != nil || !signalPx.IsPositive() {
		s.logger.Debug(ctx, "No price for signal instrument, scale multiplier is 1", map[string]interface{}{"instrument": signalInstrument})
		return decimal.NewFromInt(1)
	}
	venuePx, err := s.instruments.GetInstrumentPrice(ctx, venueInstrument)
	if err != nil || !venuePx.IsPositive() {
		s.logger.Debug(ctx, "No price for venue instrument, scale multiplier is 1", map[string]interface{}{"instrument": venueInstrument})
		return decimal.NewFromInt(1)
	}

	ratio := venuePx.Div(signalPx)
	if ratio.LessThan(s.scale.RatioThreshold) {
		return decimal.NewFromInt(1)
	}
	factor := decimal.NewFromInt(1).Div(ratio)
	s.logger.Info(ctx, "Price-derived scale multiplier applied", map[string]interface{}{
		"signalInstrument": signalInstrument,
		"venueInstrument":  venueInstrument,
		"ratio":            ratio.String(),
		"factor":           factor.String(),
	})
	return factor
}
