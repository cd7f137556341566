package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// SimulatedExecutor fills market orders locally at the reference price moved by slippage.
type SimulatedExecutor struct {
	prices   ports.InstrumentProvider
	slippage decimal.Decimal
	now      func() time.Time
	logger   ports.Logger
}

// NewSimulatedExecutor creates a SimulatedExecutor. prices is consulted when an order has no reference price.
func NewSimulatedExecutor(prices ports.InstrumentProvider, slippage decimal.Decimal, logger ports.Logger) (*SimulatedExecutor, error) {
	if prices == nil || logger == nil {
		return nil, fmt.Errorf("price provider and logger are required for simulated executor")
	}
	return &SimulatedExecutor{prices: prices, slippage: slippage, now: time.Now, logger: logger}, nil
}

// PlaceMarketOrder fills the whole quantity immediately.
func (e *SimulatedExecutor) PlaceMarketOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "SimulatedPlaceMarketOrder"
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: quantity must be positive", op, ports.ErrInvalidRequest)
	}

	ref := req.ReferencePx
	if !ref.IsPositive() {
		px, err := e.prices.GetInstrumentPrice(ctx, req.Instrument)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOrderPlacementFailed, err)
		}
		ref = px
	}
	if !ref.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: no price for %s", op, ports.ErrOrderPlacementFailed, req.Instrument)
	}

	one := decimal.NewFromInt(1)
	fill := ref.Mul(one.Add(e.slippage))
	if req.Side == domain.Sell {
		fill = ref.Mul(one.Sub(e.slippage))
	}

	resp := &ports.OrderResponse{
		OrderID:       "sim-" + uuid.NewString(),
		Instrument:    req.Instrument,
		ClientOrderID: uuid.NewString(),
		AvgPrice:      fill,
		OrigQuantity:  req.Quantity,
		ExecutedQty:   req.Quantity,
		Status:        "FILLED",
		Side:          req.Side,
		Simulated:     true,
		Timestamp:     e.now().UTC(),
	}
	e.logger.Info(ctx, "Simulated order filled", map[string]interface{}{
		"instrument": req.Instrument,
		"side":       string(req.Side),
		"quantity":   req.Quantity.String(),
		"price":      fill.String(),
		"orderID":    resp.OrderID,
	})
	return resp, nil
}
