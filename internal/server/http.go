package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	sdkerrors "cosmossdk.io/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PerpAmm/internal/amm"
	"PerpAmm/internal/clearinghouse"
	"PerpAmm/internal/engine"
	"PerpAmm/internal/fixed"
	"PerpAmm/internal/ledger"
	"PerpAmm/internal/observability"
	"PerpAmm/internal/query"
)

// HTTPServer is the JSON trading and query API. Writes become engine
// commands; reads go through the query service.
type HTTPServer struct {
	eng     *engine.Engine
	queries *query.Service
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHTTPServer(eng *engine.Engine, queries *query.Service, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{eng: eng, queries: queries, health: health, metrics: metrics, log: log}
}

// Router builds the full route table.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	// reads
	r.HandleFunc("/v1/markets/{market}", s.handleMarketState).Methods(http.MethodGet)
	r.HandleFunc("/v1/markets/{market}/funding", s.handleFundingHistory).Methods(http.MethodGet)
	r.HandleFunc("/v1/positions/{market}/{trader}", s.handleGetPosition).Methods(http.MethodGet)
	r.HandleFunc("/v1/balances/{account}", s.handleGetBalance).Methods(http.MethodGet)

	// writes
	r.HandleFunc("/v1/positions/open", s.handleOpenPosition).Methods(http.MethodPost)
	r.HandleFunc("/v1/positions/close", s.handleClosePosition).Methods(http.MethodPost)
	r.HandleFunc("/v1/margin/add", s.handleAddMargin).Methods(http.MethodPost)
	r.HandleFunc("/v1/margin/remove", s.handleRemoveMargin).Methods(http.MethodPost)
	r.HandleFunc("/v1/liquidations", s.handleLiquidate).Methods(http.MethodPost)
	r.HandleFunc("/v1/funding/{market}/settle", s.handlePayFunding).Methods(http.MethodPost)
	r.HandleFunc("/v1/deposits", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/v1/withdrawals", s.handleWithdraw).Methods(http.MethodPost)

	// operational
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.health != nil {
		r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.metrics == nil {
			return
		}
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ==== reads ====

func (s *HTTPServer) handleMarketState(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["market"]
	resp, err := s.queries.MarketState(r.Context(), market)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleFundingHistory(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["market"]
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer up to 1000")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market":  market,
		"funding": s.queries.FundingRecent(market, limit),
	})
}

func (s *HTTPServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resp, err := s.queries.Position(r.Context(), vars["market"], vars["trader"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.Balance(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ==== writes ====

type openPositionRequest struct {
	Trader                  string `json:"trader"`
	Market                  string `json:"market"`
	Side                    string `json:"side"`
	QuoteAssetAmount        string `json:"quote_asset_amount"`
	Leverage                string `json:"leverage"`
	BaseAssetAmountLimit    string `json:"base_asset_amount_limit"`
	CanOverFluctuationLimit bool   `json:"can_over_fluctuation_limit"`
}

func (s *HTTPServer) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Trader == "" || req.Market == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "trader and market are required")
		return
	}

	var side clearinghouse.Side
	switch req.Side {
	case "buy", "long":
		side = clearinghouse.Buy
	case "sell", "short":
		side = clearinghouse.Sell
	default:
		writeError(w, http.StatusBadRequest, "invalid_side", "side must be buy or sell")
		return
	}

	quote, ok := parseDecField(w, "quote_asset_amount", req.QuoteAssetAmount)
	if !ok {
		return
	}
	leverage, ok := parseDecField(w, "leverage", req.Leverage)
	if !ok {
		return
	}
	baseLimit := fixed.Zero()
	if req.BaseAssetAmountLimit != "" {
		if baseLimit, ok = parseDecField(w, "base_asset_amount_limit", req.BaseAssetAmountLimit); !ok {
			return
		}
	}

	s.submit(w, r.Context(), engine.OpenPosition{
		Trader:                  req.Trader,
		Market:                  req.Market,
		Side:                    side,
		QuoteAssetAmount:        quote,
		Leverage:                leverage,
		BaseAssetAmountLimit:    baseLimit,
		CanOverFluctuationLimit: req.CanOverFluctuationLimit,
		At:                      time.Now(),
	})
}

type closePositionRequest struct {
	Trader                string `json:"trader"`
	Market                string `json:"market"`
	QuoteAssetAmountLimit string `json:"quote_asset_amount_limit"`
}

func (s *HTTPServer) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quoteLimit := fixed.Zero()
	var ok bool
	if req.QuoteAssetAmountLimit != "" {
		if quoteLimit, ok = parseDecField(w, "quote_asset_amount_limit", req.QuoteAssetAmountLimit); !ok {
			return
		}
	}
	s.submit(w, r.Context(), engine.ClosePosition{
		Trader:                req.Trader,
		Market:                req.Market,
		QuoteAssetAmountLimit: quoteLimit,
		At:                    time.Now(),
	})
}

type marginRequest struct {
	Trader string `json:"trader"`
	Market string `json:"market"`
	Amount string `json:"amount"`
}

func (s *HTTPServer) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	var req marginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseDecField(w, "amount", req.Amount)
	if !ok {
		return
	}
	s.submit(w, r.Context(), engine.AddMargin{Trader: req.Trader, Market: req.Market, Amount: amount, At: time.Now()})
}

func (s *HTTPServer) handleRemoveMargin(w http.ResponseWriter, r *http.Request) {
	var req marginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseDecField(w, "amount", req.Amount)
	if !ok {
		return
	}
	s.submit(w, r.Context(), engine.RemoveMargin{Trader: req.Trader, Market: req.Market, Amount: amount, At: time.Now()})
}

type liquidateRequest struct {
	Liquidator            string `json:"liquidator"`
	Trader                string `json:"trader"`
	Market                string `json:"market"`
	QuoteAssetAmountLimit string `json:"quote_asset_amount_limit"`
}

func (s *HTTPServer) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quoteLimit := fixed.Zero()
	var ok bool
	if req.QuoteAssetAmountLimit != "" {
		if quoteLimit, ok = parseDecField(w, "quote_asset_amount_limit", req.QuoteAssetAmountLimit); !ok {
			return
		}
	}
	s.submit(w, r.Context(), engine.Liquidate{
		Liquidator:            req.Liquidator,
		Trader:                req.Trader,
		Market:                req.Market,
		QuoteAssetAmountLimit: quoteLimit,
		At:                    time.Now(),
	})
}

func (s *HTTPServer) handlePayFunding(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r.Context(), engine.PayFunding{Market: mux.Vars(r)["market"], At: time.Now()})
}

type transferRequest struct {
	Trader string `json:"trader"`
	Amount string `json:"amount"`
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseDecField(w, "amount", req.Amount)
	if !ok {
		return
	}
	s.submit(w, r.Context(), engine.Deposit{Trader: req.Trader, Amount: amount, At: time.Now()})
}

func (s *HTTPServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseDecField(w, "amount", req.Amount)
	if !ok {
		return
	}
	s.submit(w, r.Context(), engine.Withdraw{Trader: req.Trader, Amount: amount, At: time.Now()})
}

// submit runs the command and writes its result or the mapped error.
func (s *HTTPServer) submit(w http.ResponseWriter, ctx context.Context, cmd engine.Command) {
	value, err := s.eng.Submit(ctx, cmd)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if value == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// ==== helpers ====

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return false
	}
	return true
}

func parseDecField(w http.ResponseWriter, name, raw string) (fixed.Dec, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_field", name+" is required")
		return fixed.Zero(), false
	}
	v, err := fixed.FromStr(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_decimal", name+" must be a decimal string")
		return fixed.Zero(), false
	}
	return v, true
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case sdkerrors.IsOf(err, clearinghouse.ErrUnknownMarket, clearinghouse.ErrEmptyPosition):
		status, code = http.StatusNotFound, "not_found"
	case sdkerrors.IsOf(err, clearinghouse.ErrInvalidInput, ledger.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_input"
	case sdkerrors.IsOf(err, clearinghouse.ErrUnauthorized, amm.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case sdkerrors.IsOf(err, clearinghouse.ErrRestrictedMode):
		status, code = http.StatusConflict, "restricted_mode"
	case sdkerrors.IsOf(err,
		clearinghouse.ErrInsufficientMargin,
		clearinghouse.ErrOpenInterestCapExceeded,
		clearinghouse.ErrMarginRatioNotLiquidatable,
		ledger.ErrInsufficientBalance):
		status, code = http.StatusUnprocessableEntity, "rejected"
	case sdkerrors.IsOf(err,
		amm.ErrMarketClosed,
		amm.ErrSettleFundingTooEarly,
		amm.ErrOraclePriceExpired,
		amm.ErrOverTradingLimit,
		amm.ErrPriceOverFluctuationLimit,
		amm.ErrAlreadyOverFluctuationLimit,
		amm.ErrSlippageExceeded):
		status, code = http.StatusUnprocessableEntity, "rejected"
	}

	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}
