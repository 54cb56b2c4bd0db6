// Package gateway exposes the escrow engine's observable surface as a JSON
// HTTP API. Callers self-identify with a hex address in each request; wallet
// and session management live outside this service.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deedvault/native/escrow"
	"deedvault/observability/metrics"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP front-end for escrow interactions.
type Server struct {
	engine  *escrow.Engine
	logger  *slog.Logger
	metrics *metrics.EscrowMetrics
	limiter *RateLimiter

	router http.Handler
}

// New constructs a configured server. The limiter and metrics may be nil.
func New(engine *escrow.Engine, logger *slog.Logger, m *metrics.EscrowMetrics, limiter *RateLimiter) *Server {
	if engine == nil {
		panic("escrow engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		logger:  logger,
		metrics: m,
		limiter: limiter,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/listings", s.handleCreateListing)
		api.Get("/listings/{assetID}", s.handleGetListing)
		api.Get("/listings/{assetID}/balance", s.handleListingBalance)
		api.Post("/listings/{assetID}/deposit", s.handleDeposit)
		api.Post("/listings/{assetID}/fund", s.handleFundTransfer)
		api.Post("/listings/{assetID}/inspection", s.handleInspection)
		api.Post("/listings/{assetID}/approve", s.handleApprove)
		api.Post("/listings/{assetID}/finalize", s.handleFinalize)
		api.Post("/listings/{assetID}/cancel", s.handleCancel)
		api.Get("/balance", s.handleTotalBalance)
		api.Get("/roles", s.handleRoles)
	})

	return r
}

type listingResponse struct {
	AssetID          uint64          `json:"assetId"`
	Buyer            string          `json:"buyer,omitempty"`
	PurchasePrice    string          `json:"purchasePrice"`
	EscrowAmount     string          `json:"escrowAmount"`
	Listed           bool            `json:"listed"`
	InspectionPassed bool            `json:"inspectionPassed"`
	Approvals        map[string]bool `json:"approvals"`
	Outcome          string          `json:"outcome"`
	Balance          string          `json:"balance"`
}

func (s *Server) listingResponse(l *escrow.Listing) (listingResponse, error) {
	balance, err := s.engine.BalanceOf(l.AssetID)
	if err != nil {
		return listingResponse{}, err
	}
	resp := listingResponse{
		AssetID:          l.AssetID,
		PurchasePrice:    l.PurchasePrice.String(),
		EscrowAmount:     l.EscrowAmount.String(),
		Listed:           l.Listed,
		InspectionPassed: l.InspectionPassed,
		Approvals:        make(map[string]bool, len(l.Approvals)),
		Outcome:          l.Outcome.String(),
		Balance:          balance.String(),
	}
	if l.HasBuyer() {
		resp.Buyer = l.Buyer.Hex()
	}
	for addr, approved := range l.Approvals {
		resp.Approvals[addr.Hex()] = approved
	}
	return resp, nil
}

type createListingRequest struct {
	Caller        string `json:"caller"`
	AssetID       uint64 `json:"assetId"`
	Buyer         string `json:"buyer,omitempty"`
	PurchasePrice string `json:"purchasePrice"`
	EscrowAmount  string `json:"escrowAmount"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer := common.Address{}
	if strings.TrimSpace(req.Buyer) != "" {
		if buyer, err = parseAddress("buyer", req.Buyer); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	price, err := parseAmount("purchasePrice", req.PurchasePrice)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	earnest, err := parseAmount("escrowAmount", req.EscrowAmount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	listing, err := s.engine.List(r.Context(), caller, req.AssetID, buyer, price, earnest)
	s.observe("create_listing", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.AddOpenListings(1)
	}
	resp, err := s.listingResponse(listing)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	assetID, err := parseAssetID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	listing, err := s.engine.Get(assetID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	resp, err := s.listingResponse(listing)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListingBalance(w http.ResponseWriter, r *http.Request) {
	assetID, err := parseAssetID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := s.engine.BalanceOf(assetID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (s *Server) handleTotalBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.engine.Balance()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetCustodyBalance(balance)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (s *Server) handleRoles(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"seller":    s.engine.Seller().Hex(),
		"inspector": s.engine.Inspector().Hex(),
		"lender":    s.engine.Lender().Hex(),
	})
}

type fundsRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	assetID, caller, amount, err := s.parseFunds(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.DepositEarnest(r.Context(), assetID, caller, amount)
	s.observe("deposit_earnest", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondBalance(w, assetID)
}

func (s *Server) handleFundTransfer(w http.ResponseWriter, r *http.Request) {
	assetID, caller, amount, err := s.parseFunds(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.FundTransfer(r.Context(), assetID, caller, amount)
	s.observe("fund_transfer", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondBalance(w, assetID)
}

func (s *Server) parseFunds(r *http.Request) (uint64, common.Address, *big.Int, error) {
	assetID, err := parseAssetID(r)
	if err != nil {
		return 0, common.Address{}, nil, err
	}
	var req fundsRequest
	if err := s.decode(r, &req); err != nil {
		return 0, common.Address{}, nil, err
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		return 0, common.Address{}, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return 0, common.Address{}, nil, err
	}
	return assetID, caller, amount, nil
}

func (s *Server) respondBalance(w http.ResponseWriter, assetID uint64) {
	balance, err := s.engine.BalanceOf(assetID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type inspectionRequest struct {
	Caller string `json:"caller"`
	Passed bool   `json:"passed"`
}

func (s *Server) handleInspection(w http.ResponseWriter, r *http.Request) {
	assetID, err := parseAssetID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req inspectionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.UpdateInspectionStatus(assetID, caller, req.Passed)
	s.observe("update_inspection", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"inspectionPassed": req.Passed})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) parseCaller(r *http.Request) (uint64, common.Address, error) {
	assetID, err := parseAssetID(r)
	if err != nil {
		return 0, common.Address{}, err
	}
	var req callerRequest
	if err := s.decode(r, &req); err != nil {
		return 0, common.Address{}, err
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		return 0, common.Address{}, err
	}
	return assetID, caller, nil
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	assetID, caller, err := s.parseCaller(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.ApproveSale(assetID, caller)
	s.observe("approve_sale", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"approved": true})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	assetID, caller, err := s.parseCaller(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.FinalizeSale(r.Context(), assetID, caller)
	s.observe("finalize_sale", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.AddOpenListings(-1)
	}
	s.logger.Info("sale finalized", "assetId", assetID)
	s.writeJSON(w, http.StatusOK, map[string]string{"outcome": escrow.OutcomeSold.String()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	assetID, caller, err := s.parseCaller(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.CancelSale(r.Context(), assetID, caller)
	s.observe("cancel_sale", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.AddOpenListings(-1)
	}
	s.logger.Info("sale cancelled", "assetId", assetID)
	s.writeJSON(w, http.StatusOK, map[string]string{"outcome": escrow.OutcomeCancelled.String()})
}

func (s *Server) decode(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func (s *Server) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOp(op, err)
	if errors.Is(err, escrow.ErrExternalTransferFailed) {
		s.metrics.ObserveExternalFailure()
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrAlreadyListed),
		errors.Is(err, escrow.ErrListingClosed),
		errors.Is(err, escrow.ErrAssetNotEscrowed),
		errors.Is(err, escrow.ErrPreconditionNotMet):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrInvalidTerms),
		errors.Is(err, escrow.ErrInsufficientDeposit):
		status = http.StatusBadRequest
	case errors.Is(err, escrow.ErrExternalTransferFailed),
		errors.Is(err, escrow.ErrRegistryUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("escrow operation failed", "error", err)
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseAssetID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "assetID")
	assetID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q", raw)
	}
	return assetID, nil
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", field)
	}
	return amount, nil
}
