// Package handler exposes governance operations over HTTP: asset and
// arbitrator whitelists, KYC flags, protocol parameters, and fee collection.
// Every mutation is gated on the caller being the governance party.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowd/internal/params"
	"escrowd/internal/platform/metrics"
	"escrowd/internal/platform/middleware"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
	"escrowd/pkg/platform/httputil"
)

// Service is the slice of the governance module the transport needs.
type Service interface {
	WhitelistAsset(caller domain.PartyID, asset domain.AssetCode) error
	DelistAsset(caller domain.PartyID, asset domain.AssetCode) error
	WhitelistArbitrator(caller domain.PartyID, party domain.PartyID) error
	SetKYC(caller domain.PartyID, party domain.PartyID, approved bool) error
	UpdateParams(ctx context.Context, caller domain.PartyID, p params.Params) error
	IsGovernance(caller domain.PartyID) bool
	FeeBalance(asset domain.AssetCode) int64
	CollectFees(ctx context.Context, caller domain.PartyID, asset domain.AssetCode, to domain.PartyID) (int64, error)
}

type Handler struct {
	logger       *slog.Logger
	gov          Service
	params       params.Store
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(gov Service, paramStore params.Store, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		gov:          gov,
		params:       paramStore,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the governance routes with the standard middleware chain.
func (h *Handler) Register(r chi.Router) {
	gr := chi.NewRouter()
	gr.Use(middleware.Recovery(h.logger))
	gr.Use(middleware.RequestID)
	gr.Use(middleware.Logger(h.logger))
	gr.Use(middleware.Timeout(30 * time.Second))
	gr.Use(middleware.ContentTypeJSON)
	gr.Use(middleware.Latency(h.metrics))
	gr.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	gr.Post("/assets", h.handleWhitelistAsset)
	gr.Delete("/assets/{asset}", h.handleDelistAsset)
	gr.Post("/arbitrators", h.handleWhitelistArbitrator)
	gr.Post("/kyc", h.handleSetKYC)
	gr.Get("/params", h.handleGetParams)
	gr.Put("/params", h.handleUpdateParams)
	gr.Get("/fees/{asset}", h.handleFeeBalance)
	gr.Post("/fees/collect", h.handleCollectFees)

	r.Mount("/governance", gr)
}

type assetRequest struct {
	Asset string `json:"asset"`
}

type arbitratorRequest struct {
	Party string `json:"party"`
}

type kycRequest struct {
	Party    string `json:"party"`
	Approved bool   `json:"approved"`
}

type paramsPayload struct {
	FeeBps                  int64 `json:"fee_bps"`
	MinFee                  int64 `json:"min_fee"`
	MaxFee                  int64 `json:"max_fee"`
	MaxFiatAmount           int64 `json:"max_fiat_amount"`
	MinTimeoutSeconds       int64 `json:"min_timeout_seconds"`
	MaxTimeoutSeconds       int64 `json:"max_timeout_seconds"`
	RefundWindowSeconds     int64 `json:"refund_window_seconds"`
	EvidenceWindowSeconds   int64 `json:"evidence_window_seconds"`
	ArbitratorWindowSeconds int64 `json:"arbitrator_window_seconds"`
	DailyVolumeCap          int64 `json:"daily_volume_cap"`
	ArbitrationFee          int64 `json:"arbitration_fee"`
}

type collectRequest struct {
	Asset string `json:"asset"`
	To    string `json:"to"`
}

func fromParams(p params.Params) paramsPayload {
	return paramsPayload{
		FeeBps:                  p.FeeBps,
		MinFee:                  p.MinFee,
		MaxFee:                  p.MaxFee,
		MaxFiatAmount:           p.MaxFiatAmount,
		MinTimeoutSeconds:       int64(p.MinTimeout / time.Second),
		MaxTimeoutSeconds:       int64(p.MaxTimeout / time.Second),
		RefundWindowSeconds:     int64(p.RefundWindow / time.Second),
		EvidenceWindowSeconds:   int64(p.EvidenceWindow / time.Second),
		ArbitratorWindowSeconds: int64(p.ArbitratorWindow / time.Second),
		DailyVolumeCap:          p.DailyVolumeCap,
		ArbitrationFee:          p.ArbitrationFee,
	}
}

func (pp paramsPayload) toParams() params.Params {
	return params.Params{
		FeeBps:           pp.FeeBps,
		MinFee:           pp.MinFee,
		MaxFee:           pp.MaxFee,
		MaxFiatAmount:    pp.MaxFiatAmount,
		MinTimeout:       time.Duration(pp.MinTimeoutSeconds) * time.Second,
		MaxTimeout:       time.Duration(pp.MaxTimeoutSeconds) * time.Second,
		RefundWindow:     time.Duration(pp.RefundWindowSeconds) * time.Second,
		EvidenceWindow:   time.Duration(pp.EvidenceWindowSeconds) * time.Second,
		ArbitratorWindow: time.Duration(pp.ArbitratorWindowSeconds) * time.Second,
		DailyVolumeCap:   pp.DailyVolumeCap,
		ArbitrationFee:   pp.ArbitrationFee,
	}
}

func (h *Handler) handleWhitelistAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	var req assetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Asset == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.gov.WhitelistAsset(caller, domain.AssetCode(req.Asset)); err != nil {
		h.fail(ctx, w, "failed to whitelist asset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelistAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	asset := chi.URLParam(r, "asset")
	if asset == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "asset is required"))
		return
	}
	if err := h.gov.DelistAsset(caller, domain.AssetCode(asset)); err != nil {
		h.fail(ctx, w, "failed to delist asset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWhitelistArbitrator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	var req arbitratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Party == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.gov.WhitelistArbitrator(caller, domain.PartyID(req.Party)); err != nil {
		h.fail(ctx, w, "failed to whitelist arbitrator", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	var req kycRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Party == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.gov.SetKYC(caller, domain.PartyID(req.Party), req.Approved); err != nil {
		h.fail(ctx, w, "failed to update KYC flag", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetParams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.caller(ctx, w); !ok {
		return
	}
	p, err := h.params.Get(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to load parameters", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromParams(p))
}

func (h *Handler) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	var req paramsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.gov.UpdateParams(ctx, caller, req.toParams()); err != nil {
		h.fail(ctx, w, "failed to update parameters", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFeeBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	if !h.gov.IsGovernance(caller) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "caller is not governance"))
		return
	}
	asset := chi.URLParam(r, "asset")
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"asset":   asset,
		"balance": h.gov.FeeBalance(domain.AssetCode(asset)),
	})
}

func (h *Handler) handleCollectFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Asset == "" || req.To == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	collected, err := h.gov.CollectFees(ctx, caller, domain.AssetCode(req.Asset), domain.PartyID(req.To))
	if err != nil {
		h.fail(ctx, w, "failed to collect fees", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"asset":     req.Asset,
		"to":        req.To,
		"collected": collected,
	})
}

func (h *Handler) caller(ctx context.Context, w http.ResponseWriter) (domain.PartyID, bool) {
	party := middleware.GetParty(ctx)
	if party == "" {
		h.logger.ErrorContext(ctx, "party missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx))
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return "", false
	}
	return domain.PartyID(party), true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx), "error", err.Error())
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx), "error", err.Error())
	}
	httputil.WriteError(w, err)
}
