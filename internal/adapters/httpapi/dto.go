package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lclpedro/hyperhook/internal/app"
	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

// webhookPayload is the TradingView alert body.
type webhookPayload struct {
	Data struct {
		Action       string `json:"action" validate:"required"`
		Contracts    string `json:"contracts"`
		PositionSize string `json:"position_size"`
	} `json:"data"`
	Price    string `json:"price"`
	Symbol   string `json:"symbol" validate:"required"`
	Time     string `json:"time"`
	UserInfo string `json:"user_info"`
	UserUUID string `json:"user_uuid" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
}

type intentResponse struct {
	Operation string          `json:"operation"`
	Side      string          `json:"side,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Rationale string          `json:"rationale"`
	Degraded  bool            `json:"degraded"`
	Fallback  bool            `json:"precision_fallback"`
}

type orderResponse struct {
	OrderID     string          `json:"order_id"`
	Instrument  string          `json:"instrument"`
	Side        string          `json:"side"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	Status      string          `json:"status"`
	Simulated   bool            `json:"simulated"`
	Timestamp   time.Time       `json:"timestamp"`
}

type webhookResponse struct {
	Instrument  string          `json:"instrument"`
	Multiplier  decimal.Decimal `json:"scale_multiplier"`
	Intent      intentResponse  `json:"intent"`
	Order       *orderResponse  `json:"order,omitempty"`
	Trade       *tradeResponse  `json:"trade,omitempty"`
	RecordError string          `json:"record_error,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type tradeResponse struct {
	ID              int64           `json:"id"`
	ConfigID        int64           `json:"config_id"`
	Instrument      string          `json:"instrument"`
	TradeType       string          `json:"trade_type"`
	Side            string          `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	NotionalValue   decimal.Decimal `json:"usd_value"`
	Leverage        int             `json:"leverage"`
	Fees            decimal.Decimal `json:"fees"`
	ExternalOrderID string          `json:"order_id,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

type positionResponse struct {
	ID            int64            `json:"id"`
	ConfigID      int64            `json:"config_id"`
	Instrument    string           `json:"instrument"`
	Side          string           `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	AvgEntryPrice decimal.Decimal  `json:"avg_entry_price"`
	CurrentPrice  *decimal.Decimal `json:"current_price,omitempty"`
	UnrealizedPnl decimal.Decimal  `json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal  `json:"realized_pnl"`
	TotalFees     decimal.Decimal  `json:"total_fees"`
	Leverage      int              `json:"leverage"`
	IsOpen        bool             `json:"is_open"`
	Synthetic     bool             `json:"synthetic"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

type summaryResponse struct {
	Instrument         string          `json:"instrument"`
	TotalTrades        int             `json:"total_trades"`
	WinningTrades      int             `json:"winning_trades"`
	LosingTrades       int             `json:"losing_trades"`
	TotalRealizedPnl   decimal.Decimal `json:"total_realized_pnl"`
	TotalUnrealizedPnl decimal.Decimal `json:"total_unrealized_pnl"`
	TotalFees          decimal.Decimal `json:"total_fees"`
	NetPnl             decimal.Decimal `json:"net_pnl"`
	TotalVolume        decimal.Decimal `json:"total_volume"`
	WinRate            decimal.Decimal `json:"win_rate"`
	AvgWin             decimal.Decimal `json:"avg_win"`
	AvgLoss            decimal.Decimal `json:"avg_loss"`
	LargestWin         decimal.Decimal `json:"largest_win"`
	LargestLoss        decimal.Decimal `json:"largest_loss"`
	LastUpdated        time.Time       `json:"last_updated"`
}

type periodResponse struct {
	Instrument  string          `json:"instrument,omitempty"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	RealizedPnl decimal.Decimal `json:"realized_pnl"`
	Fees        decimal.Decimal `json:"fees"`
	NetPnl      decimal.Decimal `json:"net_pnl"`
	TradeCount  int             `json:"trade_count"`
}

type snapshotResponse struct {
	ID                 int64           `json:"id"`
	AccountBalance     decimal.Decimal `json:"account_balance"`
	AvailableBalance   decimal.Decimal `json:"available_balance"`
	TotalRealizedPnl   decimal.Decimal `json:"total_realized_pnl"`
	TotalUnrealizedPnl decimal.Decimal `json:"total_unrealized_pnl"`
	TotalFees          decimal.Decimal `json:"total_fees"`
	NetPnl             decimal.Decimal `json:"net_pnl"`
	Timestamp          time.Time       `json:"timestamp"`
}

type configRequest struct {
	OwnerID         int64           `json:"owner_id" validate:"gt=0"`
	OwnerKey        string          `json:"owner_key" validate:"omitempty,max=128"`
	OwnerAddress    string          `json:"owner_address" validate:"omitempty,max=128"`
	Secret          string          `json:"secret" validate:"omitempty,min=8,max=256"`
	Instrument      string          `json:"instrument" validate:"required,max=32"`
	VenueInstrument string          `json:"venue_instrument" validate:"omitempty,max=32"`
	MaxUSDValue     decimal.Decimal `json:"max_usd_value"`
	Leverage        int             `json:"leverage" validate:"gte=0,lte=125"`
	LiveTrading     bool            `json:"live_trading"`
}

type configResponse struct {
	ID              int64           `json:"id"`
	OwnerID         int64           `json:"owner_id"`
	OwnerKey        string          `json:"owner_key"`
	OwnerAddress    string          `json:"owner_address,omitempty"`
	Secret          string          `json:"secret,omitempty"`
	Instrument      string          `json:"instrument"`
	VenueInstrument string          `json:"venue_instrument,omitempty"`
	MaxUSDValue     decimal.Decimal `json:"max_usd_value"`
	Leverage        int             `json:"leverage"`
	LiveTrading     bool            `json:"live_trading"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toWebhookResponse(res *app.SignalResult) webhookResponse {
	out := webhookResponse{
		Instrument: res.Instrument,
		Multiplier: res.Multiplier,
		Intent: intentResponse{
			Operation: string(res.Intent.Operation),
			Side:      string(res.Intent.Side),
			Quantity:  res.Intent.Quantity,
			Rationale: res.Intent.Rationale,
			Degraded:  res.Intent.Degraded,
			Fallback:  res.Intent.Fallback,
		},
		RecordError: res.RecordError,
	}
	if res.Order != nil {
		out.Order = toOrderResponse(res.Order)
	}
	if res.Trade != nil {
		t := toTradeResponse(res.Trade)
		out.Trade = &t
	}
	return out
}

func toOrderResponse(o *ports.OrderResponse) *orderResponse {
	return &orderResponse{
		OrderID:     o.OrderID,
		Instrument:  o.Instrument,
		Side:        string(o.Side),
		AvgPrice:    o.AvgPrice,
		ExecutedQty: o.ExecutedQty,
		Status:      o.Status,
		Simulated:   o.Simulated,
		Timestamp:   o.Timestamp,
	}
}

func toTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		ID:              t.ID,
		ConfigID:        t.ConfigID,
		Instrument:      t.Instrument,
		TradeType:       string(t.TradeType),
		Side:            string(t.Side),
		Quantity:        t.Quantity,
		Price:           t.Price,
		NotionalValue:   t.NotionalValue,
		Leverage:        t.Leverage,
		Fees:            t.Fees,
		ExternalOrderID: t.ExternalOrderID,
		Timestamp:       t.Timestamp,
	}
}

func toPositionResponse(p *domain.Position) positionResponse {
	return positionResponse{
		ID:            p.ID,
		ConfigID:      p.ConfigID,
		Instrument:    p.Instrument,
		Side:          string(p.Side),
		Quantity:      p.Quantity,
		AvgEntryPrice: p.AvgEntryPrice,
		CurrentPrice:  p.CurrentPrice,
		UnrealizedPnl: p.UnrealizedPnl,
		RealizedPnl:   p.RealizedPnl,
		TotalFees:     p.TotalFees,
		Leverage:      p.Leverage,
		IsOpen:        p.IsOpen,
		Synthetic:     p.Synthetic,
		OpenedAt:      p.OpenedAt,
		ClosedAt:      p.ClosedAt,
	}
}

func toSummaryResponse(s *domain.PnlSummary) summaryResponse {
	return summaryResponse{
		Instrument:         s.Instrument,
		TotalTrades:        s.TotalTrades,
		WinningTrades:      s.WinningTrades,
		LosingTrades:       s.LosingTrades,
		TotalRealizedPnl:   s.TotalRealizedPnl,
		TotalUnrealizedPnl: s.TotalUnrealizedPnl,
		TotalFees:          s.TotalFees,
		NetPnl:             s.NetPnl,
		TotalVolume:        s.TotalVolume,
		WinRate:            s.WinRate,
		AvgWin:             s.AvgWin,
		AvgLoss:            s.AvgLoss,
		LargestWin:         s.LargestWin,
		LargestLoss:        s.LargestLoss,
		LastUpdated:        s.LastUpdated,
	}
}

func toSnapshotResponse(s *domain.AccountSnapshot) snapshotResponse {
	return snapshotResponse{
		ID:                 s.ID,
		AccountBalance:     s.AccountBalance,
		AvailableBalance:   s.AvailableBalance,
		TotalRealizedPnl:   s.TotalRealizedPnl,
		TotalUnrealizedPnl: s.TotalUnrealizedPnl,
		TotalFees:          s.TotalFees,
		NetPnl:             s.NetPnl,
		Timestamp:          s.Timestamp,
	}
}

func toConfigResponse(c *domain.WebhookConfig, withSecret bool) configResponse {
	out := configResponse{
		ID:              c.ID,
		OwnerID:         c.OwnerID,
		OwnerKey:        c.OwnerKey,
		OwnerAddress:    c.OwnerAddress,
		Instrument:      c.Instrument,
		VenueInstrument: c.VenueInstrument,
		MaxUSDValue:     c.MaxUSDValue,
		Leverage:        c.Leverage,
		LiveTrading:     c.LiveTrading,
		CreatedAt:       c.CreatedAt,
	}
	if withSecret {
		out.Secret = c.Secret
	}
	return out
}
