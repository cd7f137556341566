package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/lclpedro/hyperhook/internal/app"
	"github.com/lclpedro/hyperhook/internal/domain"
	"github.com/lclpedro/hyperhook/internal/ports"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LedgerAPI is the ledger surface served over HTTP.
type LedgerAPI interface {
	GetSummary(ctx context.Context, ownerID int64, instrument string) (*domain.PnlSummary, error)
	ListSummaries(ctx context.Context, ownerID int64) ([]*domain.PnlSummary, error)
	RecalculateAll(ctx context.Context, ownerID int64) ([]*domain.PnlSummary, error)
	RefreshUnrealized(ctx context.Context, ownerID int64) (int, error)
	PnlByPeriod(ctx context.Context, ownerID int64, instrument string, start, end time.Time) (*domain.PeriodPnl, error)
	ListTrades(ctx context.Context, ownerID int64, filter ports.TradeFilter) ([]*domain.Trade, error)
	ListPositions(ctx context.Context, ownerID int64, instrument string, openOnly bool) ([]*domain.Position, error)
}

// SignalAPI processes webhook signals.
type SignalAPI interface {
	ProcessSignal(ctx context.Context, req app.SignalRequest) (*app.SignalResult, error)
}

// SnapshotAPI takes and lists account snapshots.
type SnapshotAPI interface {
	TakeSnapshot(ctx context.Context, ownerID int64) (*domain.AccountSnapshot, error)
	ListSnapshots(ctx context.Context, ownerID int64, limit int) ([]*domain.AccountSnapshot, error)
}

// ConfigStore registers webhook configs.
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg *domain.WebhookConfig) (int64, error)
	ListConfigsByOwner(ctx context.Context, ownerID int64) ([]*domain.WebhookConfig, error)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	s.writeJSON(w, r, status, map[string]interface{}{
		"status":  state,
		"service": "hyperhook",
		"checks":  checks,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := decodeValid(w, r, &payload); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.signals.ProcessSignal(r.Context(), app.SignalRequest{
		OwnerKey:     payload.UserUUID,
		Secret:       payload.Secret,
		Symbol:       payload.Symbol,
		Action:       payload.Data.Action,
		Contracts:    payload.Data.Contracts,
		PositionSize: payload.Data.PositionSize,
		Price:        payload.Price,
	})
	if err != nil {
		if res == nil {
			s.writeError(w, r, err)
			return
		}
		out := toWebhookResponse(res)
		out.Error = err.Error()
		s.writeJSON(w, r, statusFor(err), out)
		return
	}
	s.writeJSON(w, r, http.StatusOK, toWebhookResponse(res))
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Instrument) == "" {
		s.writeError(w, r, fmt.Errorf("%w: instrument is required", ports.ErrInvalidRequest))
		return
	}
	if req.MaxUSDValue.IsNegative() {
		s.writeError(w, r, fmt.Errorf("%w: max_usd_value must not be negative", ports.ErrInvalidRequest))
		return
	}

	cfg := &domain.WebhookConfig{
		OwnerID:         req.OwnerID,
		OwnerKey:        req.OwnerKey,
		OwnerAddress:    req.OwnerAddress,
		Secret:          req.Secret,
		Instrument:      domain.ExtractAsset(req.Instrument),
		VenueInstrument: strings.TrimSpace(req.VenueInstrument),
		MaxUSDValue:     req.MaxUSDValue,
		Leverage:        req.Leverage,
		LiveTrading:     req.LiveTrading,
	}
	if cfg.OwnerKey == "" {
		cfg.OwnerKey = uuid.NewString()
	}
	if cfg.Secret == "" {
		cfg.Secret = uuid.NewString()
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 1
	}

	if _, err := s.configs.CreateConfig(r.Context(), cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, toConfigResponse(cfg, true))
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	configs, err := s.configs.ListConfigsByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]configResponse, 0, len(configs))
	for _, c := range configs {
		out = append(out, toConfigResponse(c, false))
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	summaries, err := s.ledger.ListSummaries(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summariesOut(summaries))
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	instrument := chi.URLParam(r, "instrument")
	summary, err := s.ledger.GetSummary(r.Context(), ownerID, instrument)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if summary == nil {
		s.writeError(w, r, fmt.Errorf("%w: no summary for %s", ports.ErrNotFound, instrument))
		return
	}
	s.writeJSON(w, r, http.StatusOK, toSummaryResponse(summary))
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	summaries, err := s.ledger.RecalculateAll(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summariesOut(summaries))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	openOnly, _ := strconv.ParseBool(q.Get("open"))
	positions, err := s.ledger.ListPositions(r.Context(), ownerID, q.Get("instrument"), openOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ports.TradeFilter{Instrument: q.Get("instrument")}
	var err error
	if filter.Since, err = parseTime(q.Get("since")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Until, err = parseTime(q.Get("until")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		s.writeError(w, r, err)
		return
	}

	trades, err := s.ledger.ListTrades(r.Context(), ownerID, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, err := parseTime(q.Get("start"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if start.IsZero() || end.IsZero() {
		s.writeError(w, r, fmt.Errorf("%w: start and end are required", ports.ErrInvalidRequest))
		return
	}

	period, err := s.ledger.PnlByPeriod(r.Context(), ownerID, q.Get("instrument"), start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, periodResponse{
		Instrument:  period.Instrument,
		Start:       period.Start,
		End:         period.End,
		RealizedPnl: period.RealizedPnl,
		Fees:        period.Fees,
		NetPnl:      period.NetPnl,
		TradeCount:  period.TradeCount,
	})
}

func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	n, err := s.ledger.RefreshUnrealized(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]int{"updated_positions": n})
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	snap, err := s.snapshots.TakeSnapshot(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, toSnapshotResponse(snap))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snaps, err := s.snapshots.ListSnapshots(r.Context(), ownerID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]snapshotResponse, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, toSnapshotResponse(sn))
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

// --- helpers ---

func (s *Server) ownerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "ownerID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: invalid owner id %q", ports.ErrInvalidRequest, raw))
		return 0, false
	}
	return id, true
}

func summariesOut(summaries []*domain.PnlSummary) []summaryResponse {
	out := make([]summaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, toSummaryResponse(sum))
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", ports.ErrInvalidRequest, err)
	}
	return nil
}

// decodeValid decodes the body into dst and checks its validate tags.
func decodeValid(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ports.ErrInvalidRequest, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ports.ErrInvalidRequest, err)
	}
	return nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not an RFC3339 time", ports.ErrInvalidRequest, v)
	}
	return t, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", ports.ErrInvalidRequest, v)
	}
	return n, nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrInvalidSignal), errors.Is(err, ports.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ports.ErrConfigNotFound), errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ports.ErrDuplicateEntry):
		return http.StatusConflict
	case errors.Is(err, ports.ErrOrderPlacementFailed),
		errors.Is(err, ports.ErrInsufficientFunds),
		errors.Is(err, ports.ErrExchangeUnavailable),
		errors.Is(err, ports.ErrConnectionFailed),
		errors.Is(err, ports.ErrRateLimited),
		errors.Is(err, ports.ErrAuthenticationFailed),
		errors.Is(err, ports.ErrInvalidAPIKeys),
		errors.Is(err, ports.ErrTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error(r.Context(), err, "Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", map[string]interface{}{"path": r.URL.Path})
	}
	s.writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
