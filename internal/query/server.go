package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PerpRisk/internal/history"
	"PerpRisk/internal/observability"
	"PerpRisk/internal/risk"
	"PerpRisk/internal/state"
)

// Server exposes the read-only risk API over HTTP JSON. It shares the
// registry with the apply loop through mu: the loop takes the write lock,
// queries take read locks.
type Server struct {
	reg     *state.Registry
	mu      *sync.RWMutex
	store   *history.Store
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	httpServer *http.Server
}

func NewServer(addr string, reg *state.Registry, mu *sync.RWMutex, store *history.Store, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		reg:     reg,
		mu:      mu,
		store:   store,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/accounts/", s.instrument("account", s.handleAccount))
	mux.HandleFunc("/v1/markets/", s.instrument("market", s.handleMarket))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route mux.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("query API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) instrument(endpoint string, h func(http.ResponseWriter, *http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		code := h(w, r)
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
	return code
}

func writeError(w http.ResponseWriter, code int, err error) int {
	return writeJSON(w, code, map[string]string{"error": err.Error()})
}

type accountRiskResponse struct {
	Authority                string   `json:"authority"`
	Status                   string   `json:"status"`
	NextLiquidationID        uint16   `json:"next_liquidation_id"`
	TotalCollateral          int64    `json:"total_collateral"`
	MarginRequirement        int64    `json:"margin_requirement"`
	TotalCollateralInitial   int64    `json:"total_collateral_initial"`
	MarginRequirementInitial int64    `json:"margin_requirement_initial"`
	TotalCollateralDisplay   float64  `json:"total_collateral_display"`
	MarginRequirementDisplay float64  `json:"margin_requirement_display"`
	MeetsMaintenance         bool     `json:"meets_maintenance"`
	LiquidationPrice         *int64   `json:"liquidation_price,omitempty"`
	LiquidationPriceDisplay  *float64 `json:"liquidation_price_display,omitempty"`
}

// handleAccount serves:
//
//	GET /v1/accounts/{authority}/risk?market_index=N&size_delta=D
//	GET /v1/accounts/{authority}/liquidations?limit=N
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) int {
	authority, action, ok := splitAccountPath(r.URL.Path)
	if !ok {
		return writeError(w, http.StatusNotFound, errors.New("not found"))
	}

	switch action {
	case "risk":
		return s.handleAccountRisk(w, r, authority)
	case "liquidations":
		return s.handleAccountLiquidations(w, r, authority)
	default:
		return writeError(w, http.StatusNotFound, errors.New("not found"))
	}
}

func (s *Server) handleAccountRisk(w http.ResponseWriter, r *http.Request, authority string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.reg.User(authority)
	if err != nil {
		return writeError(w, http.StatusNotFound, err)
	}

	tcMaint, err := risk.TotalCollateral(u, s.reg, risk.Maintenance)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	mrMaint, err := risk.MarginRequirement(u, s.reg, risk.Maintenance)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	tcInit, err := risk.TotalCollateral(u, s.reg, risk.Initial)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	mrInit, err := risk.MarginRequirement(u, s.reg, risk.Initial)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}

	resp := accountRiskResponse{
		Authority:                authority,
		Status:                   u.Status.String(),
		NextLiquidationID:        u.NextLiquidationID,
		TotalCollateral:          tcMaint,
		MarginRequirement:        mrMaint,
		TotalCollateralInitial:   tcInit,
		MarginRequirementInitial: mrInit,
		TotalCollateralDisplay:   DisplayQuote(tcMaint),
		MarginRequirementDisplay: DisplayQuote(mrMaint),
		MeetsMaintenance:         tcMaint >= mrMaint,
	}

	if q := r.URL.Query().Get("market_index"); q != "" {
		marketIndex, perr := strconv.ParseUint(q, 10, 16)
		if perr != nil {
			return writeError(w, http.StatusBadRequest, perr)
		}
		var sizeDelta int64
		if d := r.URL.Query().Get("size_delta"); d != "" {
			sizeDelta, perr = strconv.ParseInt(d, 10, 64)
			if perr != nil {
				return writeError(w, http.StatusBadRequest, perr)
			}
		}
		price, lerr := risk.LiquidationPrice(u, s.reg, uint16(marketIndex), sizeDelta)
		switch {
		case lerr == nil:
			display := DisplayPrice(price)
			resp.LiquidationPrice = &price
			resp.LiquidationPriceDisplay = &display
		case errors.Is(lerr, risk.ErrLiquidationPriceNotApplicable):
			// Flat or self-hedged position; omit the field.
		default:
			return writeError(w, http.StatusInternalServerError, lerr)
		}
	}

	return writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccountLiquidations(w http.ResponseWriter, r *http.Request, authority string) int {
	if s.store == nil {
		return writeError(w, http.StatusServiceUnavailable, errors.New("history store not configured"))
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			return writeError(w, http.StatusBadRequest, err)
		}
		limit = n
	}
	recs, err := s.store.LiquidationRecords(r.Context(), authority, limit)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, http.StatusOK, recs)
}

type marketResponse struct {
	MarketIndex         uint16  `json:"market_index"`
	ReservePrice        int64   `json:"reserve_price"`
	BidPrice            int64   `json:"bid_price"`
	AskPrice            int64   `json:"ask_price"`
	ReservePriceDisplay float64 `json:"reserve_price_display"`
	OraclePrice         int64   `json:"oracle_price"`
	OraclePriceDisplay  float64 `json:"oracle_price_display"`

	CumulativeFundingRateLong  int64 `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort int64 `json:"cumulative_funding_rate_short"`

	FeePool         int64 `json:"fee_pool"`
	TotalSocialLoss int64 `json:"total_social_loss"`

	BaseAssetAmountLong  int64 `json:"base_asset_amount_long"`
	BaseAssetAmountShort int64 `json:"base_asset_amount_short"`
	OpenInterestBase     int64 `json:"open_interest_base"`
}

// handleMarket serves GET /v1/markets/{index}.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) int {
	idxStr := r.URL.Path[len("/v1/markets/"):]
	idx, err := strconv.ParseUint(idxStr, 10, 16)
	if err != nil {
		return writeError(w, http.StatusBadRequest, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.reg.PerpMarket(uint16(idx))
	if err != nil {
		return writeError(w, http.StatusNotFound, err)
	}
	reserve, err := m.ReservePrice()
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	bid, err := m.BidPrice()
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	ask, err := m.AskPrice()
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}

	var oraclePrice int64
	if o, oerr := s.reg.Oracle(uint16(idx)); oerr == nil {
		oraclePrice = o.Price
	}

	return writeJSON(w, http.StatusOK, marketResponse{
		MarketIndex:                uint16(idx),
		ReservePrice:               reserve,
		BidPrice:                   bid,
		AskPrice:                   ask,
		ReservePriceDisplay:        DisplayPrice(reserve),
		OraclePrice:                oraclePrice,
		OraclePriceDisplay:         DisplayPrice(oraclePrice),
		CumulativeFundingRateLong:  m.Amm.CumulativeFundingRateLong,
		CumulativeFundingRateShort: m.Amm.CumulativeFundingRateShort,
		FeePool:                    m.Amm.FeePool,
		TotalSocialLoss:            m.Amm.TotalSocialLoss,
		BaseAssetAmountLong:        m.Amm.BaseAssetAmountLong,
		BaseAssetAmountShort:       m.Amm.BaseAssetAmountShort,
		OpenInterestBase:           m.OpenInterestBase(),
	})
}

// splitAccountPath parses /v1/accounts/{authority}/{action}.
func splitAccountPath(path string) (authority, action string, ok bool) {
	const prefix = "/v1/accounts/"
	if len(path) <= len(prefix) {
		return "", "", false
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], rest[:i] != "" && rest[i+1:] != ""
		}
	}
	return "", "", false
}
