package domain

import "strings"

// Side represents the direction of a position (LONG or SHORT).
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// OrderSide represents the side of an exchange order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderSideFor returns the order side that opens or adds to a position on the given side.
func OrderSideFor(side Side) OrderSide {
	if side == Short {
		return Sell
	}
	return Buy
}

// ParseSignalAction maps a signal action ("buy", "sell", "long", "short") onto a position side.
// The second return value is false for anything else.
func ParseSignalAction(action string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "BUY", "LONG":
		return Long, true
	case "SELL", "SHORT":
		return Short, true
	default:
		return "", false
	}
}

// TradeType classifies an entry in the trade log.
type TradeType string

const (
	TradeBuy    TradeType = "BUY"
	TradeSell   TradeType = "SELL"
	TradeClose  TradeType = "CLOSE"
	TradeDCA    TradeType = "DCA"
	TradeReduce TradeType = "REDUCE"
)

// IsValid reports whether t is one of the known trade types.
func (t TradeType) IsValid() bool {
	switch t {
	case TradeBuy, TradeSell, TradeClose, TradeDCA, TradeReduce:
		return true
	}
	return false
}

// IsEntry reports whether the trade adds exposure.
func (t TradeType) IsEntry() bool {
	return t == TradeBuy || t == TradeSell || t == TradeDCA
}

// IsExit reports whether the trade terminates (part of) a position.
func (t TradeType) IsExit() bool {
	return t == TradeClose || t == TradeReduce
}

// OperationType is the outcome of classifying a signal against the current position.
type OperationType string

const (
	OpNewPosition OperationType = "NEW_POSITION"
	OpClose       OperationType = "CLOSE"
	OpDCA         OperationType = "DCA"
	OpReduce      OperationType = "REDUCE"
	OpError       OperationType = "ERROR"
)

// knownQuoteSuffixes are stripped from exchange symbols to find the base asset.
var knownQuoteSuffixes = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

// ExtractAsset strips a known quote suffix from a symbol (BTCUSDT -> BTC).
// Symbols that are only a quote asset are returned unchanged.
func ExtractAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range knownQuoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}
