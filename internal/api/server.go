// Package api exposes the settlement engine over HTTP: pool inspection,
// dry-run quotes, swap initiation, and the relay resolution endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sengulatik66/catalyst/internal/curve"
	"github.com/sengulatik66/catalyst/internal/escrow"
	"github.com/sengulatik66/catalyst/internal/model"
	"github.com/sengulatik66/catalyst/internal/pool"
	"github.com/sengulatik66/catalyst/internal/settle"
)

type Server struct {
	engine  *settle.Engine
	metrics *Metrics
	logger  *zap.Logger
}

func NewServer(engine *settle.Engine, metrics *Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: engine, metrics: metrics, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools", s.handleListPools)
		r.Get("/pools/{poolID}", s.handleGetPool)
		r.Get("/pools/{poolID}/quote", s.handleQuote)
		r.Get("/pools/{poolID}/escrows", s.handleListEscrows)
		r.Post("/pools/{poolID}/swaps", s.handleInitiate)
		r.Post("/relay/{poolID}/ack", s.handleAck)
		r.Post("/relay/{poolID}/timeout", s.handleTimeout)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"pools": s.engine.Pools()})
}

type poolResponse struct {
	model.PoolRecord
	PendingEscrows int `json:"pending_escrows"`
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	rec, err := s.engine.PoolRecord(poolID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pending, err := s.engine.PendingEscrows(poolID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{PoolRecord: rec, PendingEscrows: len(pending)})
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.PendingEscrows(chi.URLParam(r, "poolID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]model.EscrowRecord{"escrows": pending})
}

// handleQuote serves the dry-run pricing surface. kind selects the
// conversion: "swap" (default) prices asset_in -> asset_out, "to_unit"
// converts amount into units, "from_unit" converts units into amount.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	q := r.URL.Query()

	kind := q.Get("kind")
	if kind == "" {
		kind = "swap"
	}

	var (
		result *big.Int
		err    error
	)
	switch kind {
	case "swap":
		amount, perr := parsePositive(q.Get("amount"))
		if perr != nil {
			s.writeError(w, perr)
			return
		}
		result, err = s.engine.Quote(poolID, q.Get("asset_in"), q.Get("asset_out"), amount)
	case "to_unit":
		amount, perr := parsePositive(q.Get("amount"))
		if perr != nil {
			s.writeError(w, perr)
			return
		}
		result, err = s.engine.ToUnit(poolID, q.Get("asset"), amount)
	case "from_unit":
		units, perr := parsePositive(q.Get("units"))
		if perr != nil {
			s.writeError(w, perr)
			return
		}
		result, err = s.engine.FromUnit(poolID, q.Get("asset"), units)
	default:
		s.writeError(w, fmt.Errorf("%w: unknown quote kind %q", settle.ErrInvalidRequest, kind))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"kind": kind, "result": result.String()})
}

type swapPayload struct {
	Channel     string `json:"channel"`
	AssetIn     string `json:"asset_in"`
	AssetOut    string `json:"asset_out"`
	AmountIn    string `json:"amount_in"`
	MinOut      string `json:"min_out,omitempty"`
	Beneficiary string `json:"beneficiary"`
}

type swapResponse struct {
	Channel  string `json:"channel"`
	Sequence uint64 `json:"sequence"`
	Units    string `json:"units"`
	Escrowed string `json:"escrowed"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var payload swapPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", settle.ErrInvalidRequest, err))
		return
	}
	amountIn, err := parsePositive(payload.AmountIn)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var minOut *big.Int
	if payload.MinOut != "" {
		minOut, err = parseNonNegative(payload.MinOut)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	receipt, err := s.engine.Initiate(r.Context(), poolID, settle.SwapRequest{
		Channel:     payload.Channel,
		AssetIn:     payload.AssetIn,
		AssetOut:    payload.AssetOut,
		AmountIn:    amountIn,
		MinOut:      minOut,
		Beneficiary: payload.Beneficiary,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.metrics.initiated.WithLabelValues(poolID).Inc()
	s.updatePendingGauge(poolID)
	writeJSON(w, http.StatusCreated, swapResponse{
		Channel:  receipt.Key.Channel,
		Sequence: receipt.Key.Sequence,
		Units:    receipt.Units.String(),
		Escrowed: receipt.Escrowed.String(),
	})
}

type resolvePayload struct {
	Channel  string `json:"channel"`
	Sequence uint64 `json:"sequence"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	s.handleResolve(w, r, "ack")
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	s.handleResolve(w, r, "timeout")
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, mode string) {
	poolID := chi.URLParam(r, "poolID")

	var payload resolvePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", settle.ErrInvalidRequest, err))
		return
	}
	if payload.Channel == "" || payload.Sequence == 0 {
		s.writeError(w, fmt.Errorf("%w: channel and sequence are required", settle.ErrInvalidRequest))
		return
	}
	key := model.EscrowKey{Channel: payload.Channel, Sequence: payload.Sequence}

	var err error
	if mode == "ack" {
		err = s.engine.Acknowledge(r.Context(), poolID, key)
	} else {
		err = s.engine.Timeout(r.Context(), poolID, key)
	}
	if err != nil {
		if errors.Is(err, escrow.ErrUnknownOrResolved) {
			s.metrics.redundant.WithLabelValues(poolID).Inc()
		}
		s.writeError(w, err)
		return
	}

	if mode == "ack" {
		s.metrics.acked.WithLabelValues(poolID).Inc()
	} else {
		s.metrics.timedOut.WithLabelValues(poolID).Inc()
	}
	s.updatePendingGauge(poolID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "key": key.String()})
}

func (s *Server) updatePendingGauge(poolID string) {
	pending, err := s.engine.PendingEscrows(poolID)
	if err != nil {
		return
	}
	s.metrics.pending.WithLabelValues(poolID).Set(float64(len(pending)))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, settle.ErrInvalidRequest),
		errors.Is(err, curve.ErrZeroAmount),
		errors.Is(err, curve.ErrAmplification):
		status = http.StatusBadRequest
	case errors.Is(err, settle.ErrUnknownPool),
		errors.Is(err, pool.ErrUnknownAsset):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrUnknownOrResolved),
		errors.Is(err, escrow.ErrDuplicateKey),
		errors.Is(err, settle.ErrDuplicatePool):
		status = http.StatusConflict
	case errors.Is(err, settle.ErrSlippage),
		errors.Is(err, curve.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrBalanceUnderflow):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parsePositive(raw string) (*big.Int, error) {
	amount, err := parseNonNegative(raw)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", settle.ErrInvalidRequest)
	}
	return amount, nil
}

func parseNonNegative(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: amount is required", settle.ErrInvalidRequest)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount %q", settle.ErrInvalidRequest, raw)
	}
	return amount, nil
}
