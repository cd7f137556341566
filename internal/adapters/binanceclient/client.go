package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/metrics"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	clientOrderPrefix = "hh"
)

// Client implements ports.ExchangeClient on Binance USD-M futures.
// One API key maps to one account, so owner addresses are only carried into logs.
type Client struct {
	futuresClient *futures.Client
	quoteAsset    string
	guard         *guard
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	QuoteAsset string // Appended to instruments to build symbols, e.g. USDT
	Guard      GuardConfig
	Metrics    *metrics.Metrics // Optional
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		quoteAsset:    strings.ToUpper(cfg.QuoteAsset),
		guard:         newGuard(cfg.Guard, cfg.Metrics, cfg.Logger),
		logger:        cfg.Logger,
	}, nil
}

// Symbol converts an instrument (BTC) into an exchange symbol (BTCUSDT).
func (c *Client) Symbol(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	if strings.HasSuffix(s, c.quoteAsset) && len(s) > len(c.quoteAsset) {
		return s
	}
	return s + c.quoteAsset
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	if isBreakerOpen(err) {
		c.logger.Warn(ctx, fmt.Sprintf("%s rejected by circuit breaker", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	}
	if errors.Is(err, ports.ErrRateLimited) {
		c.logger.Warn(ctx, fmt.Sprintf("%s throttled locally", operation), fields)
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022:
			mappedErr = ports.ErrAuthenticationFailed
		case -1121:
			mappedErr = ports.ErrInstrumentUnknown
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022:
			mappedErr = ports.ErrOrderPlacementFailed
		case -2013:
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015:
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041, -4047:
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015:
			mappedErr = ports.ErrInvalidRequest
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	_, err := guarded(ctx, c.guard, op, true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.futuresClient.NewPingService().Do(ctx)
	})
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetCurrentPosition returns the account's open position on instrument, or nil when flat.
func (c *Client) GetCurrentPosition(ctx context.Context, ownerAddress, instrument string) (*domain.ExchangePosition, error) {
	op := "GetCurrentPosition"
	symbol := c.Symbol(instrument)
	positions, err := guarded(ctx, c.guard, op, true, func(ctx context.Context) ([]*futures.PositionRisk, error) {
		return c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for _, p := range positions {
		pos, err := translatePositionRisk(instrument, p)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if pos != nil {
			return pos, nil
		}
	}
	c.logger.Debug(ctx, op+": No position found", map[string]interface{}{"symbol": symbol, "owner": ownerAddress})
	return nil, nil
}

// GetInstrumentPrecision derives order-size precision from the symbol's LOT_SIZE step.
func (c *Client) GetInstrumentPrecision(ctx context.Context, instrument string) (domain.Precision, error) {
	op := "GetInstrumentPrecision"
	symbol := c.Symbol(instrument)
	info, err := guarded(ctx, c.guard, op, true, func(ctx context.Context) (*futures.ExchangeInfo, error) {
		return c.futuresClient.NewExchangeInfoService().Do(ctx)
	})
	if err != nil {
		return domain.Precision{}, c.handleError(ctx, err, op)
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		if lot := s.LotSizeFilter(); lot != nil && lot.StepSize != "" {
			return domain.NewPrecision(stepDecimals(lot.StepSize)), nil
		}
		return domain.NewPrecision(int32(s.QuantityPrecision)), nil
	}
	return domain.Precision{}, fmt.Errorf("%s failed: %w: %s not listed", op, ports.ErrInstrumentUnknown, symbol)
}

// GetInstrumentPrice returns the current mark price for instrument.
func (c *Client) GetInstrumentPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	op := "GetInstrumentPrice"
	symbol := c.Symbol(instrument)
	tickers, err := guarded(ctx, c.guard, op, true, func(ctx context.Context) ([]*futures.PremiumIndex, error) {
		return c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := decimal.NewFromString(tickers[0].MarkPrice)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err), op)
	}
	return price, nil
}

// GetAccountBalance reports the quote asset balance of the API key's account.
func (c *Client) GetAccountBalance(ctx context.Context, ownerAddress string) (domain.AccountBalance, error) {
	op := "GetAccountBalance"
	account, err := guarded(ctx, c.guard, op, true, func(ctx context.Context) (*futures.Account, error) {
		return c.futuresClient.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return domain.AccountBalance{}, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset != c.quoteAsset {
			continue
		}
		total, err := decimal.NewFromString(bal.WalletBalance)
		if err != nil {
			return domain.AccountBalance{}, c.handleError(ctx, fmt.Errorf("could not parse balance '%s': %w", bal.WalletBalance, err), op)
		}
		available, err := decimal.NewFromString(bal.AvailableBalance)
		if err != nil {
			available = total
		}
		return domain.AccountBalance{Total: total, Available: available}, nil
	}

	c.logger.Debug(ctx, op+": quote asset not present in account", map[string]interface{}{"asset": c.quoteAsset, "owner": ownerAddress})
	return domain.AccountBalance{}, nil
}

// PlaceMarketOrder places a market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: quantity must be positive", op, ports.ErrInvalidRequest)
	}
	symbol := c.Symbol(req.Instrument)
	clientOrderID := clientOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity.String()).
		NewClientOrderID(clientOrderID)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	order, err := guarded(ctx, c.guard, op, false, func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		return svc.Do(ctx)
	})
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp, err := translateOrderResponse(req.Instrument, order)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   symbol,
		"side":     string(req.Side),
		"quantity": req.Quantity.String(),
		"orderID":  resp.OrderID,
		"avgPrice": resp.AvgPrice.String(),
		"owner":    req.OwnerAddress,
	})
	return resp, nil
}

// --- Translation Helpers ---

func translateOrderResponse(instrument string, order *futures.CreateOrderResponse) (*ports.OrderResponse, error) {
	if order == nil {
		return nil, fmt.Errorf("empty order response")
	}
	avgPrice, err := parseDecimal("avgPrice", order.AvgPrice)
	if err != nil {
		return nil, err
	}
	origQty, err := parseDecimal("origQty", order.OrigQuantity)
	if err != nil {
		return nil, err
	}
	execQty, err := parseDecimal("executedQty", order.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	ts := time.Now().UTC()
	if order.UpdateTime > 0 {
		ts = time.UnixMilli(order.UpdateTime).UTC()
	}

	return &ports.OrderResponse{
		OrderID:       fmt.Sprintf("%d", order.OrderID),
		Instrument:    instrument,
		ClientOrderID: order.ClientOrderID,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Side:          domain.OrderSide(order.Side),
		Timestamp:     ts,
	}, nil
}

// translatePositionRisk returns nil for a flat row.
func translatePositionRisk(instrument string, pos *futures.PositionRisk) (*domain.ExchangePosition, error) {
	if pos == nil {
		return nil, nil
	}
	amt, err := parseDecimal("positionAmt", pos.PositionAmt)
	if err != nil {
		return nil, err
	}
	if amt.IsZero() {
		return nil, nil
	}
	entry, err := parseDecimal("entryPrice", pos.EntryPrice)
	if err != nil {
		return nil, err
	}
	upnl, err := parseDecimal("unRealizedProfit", pos.UnRealizedProfit)
	if err != nil {
		return nil, err
	}

	side := domain.Long
	if amt.IsNegative() {
		side = domain.Short
	}
	return &domain.ExchangePosition{
		Instrument:    instrument,
		Side:          side,
		Quantity:      amt.Abs(),
		EntryPrice:    entry,
		UnrealizedPnl: upnl,
	}, nil
}

// parseDecimal treats blank fields as zero.
func parseDecimal(field, v string) (decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not parse %s '%s': %w", field, v, err)
	}
	return d, nil
}

// stepDecimals counts the decimals of a step size such as "0.00100000".
func stepDecimals(step string) int32 {
	s := strings.TrimSpace(step)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	s = strings.TrimRight(s, "0")
	return int32(len(s) - dot - 1)
}
