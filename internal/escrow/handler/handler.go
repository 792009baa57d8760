// Package handler exposes the escrow lifecycle over HTTP. It is a thin layer:
// authentication and request decoding here, every business rule in the
// service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowd/internal/escrow"
	escrowsvc "escrowd/internal/escrow/service"
	"escrowd/internal/events"
	"escrowd/internal/platform/metrics"
	"escrowd/internal/platform/middleware"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
	"escrowd/pkg/platform/httputil"
)

// Service is the slice of the escrow engine the transport needs.
type Service interface {
	CreateProposal(ctx context.Context, caller domain.PartyID, req escrowsvc.CreateRequest) (*escrow.Record, error)
	CreateProposalWithFunding(ctx context.Context, caller domain.PartyID, req escrowsvc.CreateRequest) (*escrow.Record, error)
	AcceptProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error)
	AcceptProposalWithFunding(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error)
	RejectProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID, reason string) (*escrow.Record, error)
	CancelProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID, reason string) (*escrow.Record, error)
	FundEscrow(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error)
	CompleteTransaction(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error)
	RequestRefund(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error)
	ExecuteRefund(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error)
	Get(ctx context.Context, id domain.EscrowID) (*escrow.Record, error)
	ListByParty(ctx context.Context, party domain.PartyID) ([]*escrow.Record, error)
}

// EventReader lists the event history of one escrow.
type EventReader interface {
	List(ctx context.Context, id domain.EscrowID) ([]events.Event, error)
}

type Handler struct {
	logger       *slog.Logger
	escrows      Service
	eventLog     EventReader
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(escrows Service, eventLog EventReader, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		escrows:      escrows,
		eventLog:     eventLog,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the escrow routes with the standard middleware chain.
func (h *Handler) Register(r chi.Router) {
	er := chi.NewRouter()
	er.Use(middleware.Recovery(h.logger))
	er.Use(middleware.RequestID)
	er.Use(middleware.Logger(h.logger))
	er.Use(middleware.Timeout(30 * time.Second))
	er.Use(middleware.ContentTypeJSON)
	er.Use(middleware.Latency(h.metrics))
	er.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	er.Post("/", h.handleCreate)
	er.Get("/", h.handleList)
	er.Get("/{id}", h.handleGet)
	er.Get("/{id}/events", h.handleEvents)
	er.Post("/{id}/accept", h.handleAccept)
	er.Post("/{id}/reject", h.handleReject)
	er.Post("/{id}/cancel", h.handleCancel)
	er.Post("/{id}/fund", h.handleFund)
	er.Post("/{id}/complete", h.handleComplete)
	er.Post("/{id}/refund/request", h.handleRequestRefund)
	er.Post("/{id}/refund/execute", h.handleExecuteRefund)

	r.Mount("/escrows", er)
}

type createRequest struct {
	Counterparty   string `json:"counterparty"`
	Asset          string `json:"asset"`
	AssetAmount    int64  `json:"asset_amount"`
	FiatAmount     int64  `json:"fiat_amount"`
	FiatCurrency   string `json:"fiat_currency"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
	Fund           bool   `json:"fund"`
}

type acceptRequest struct {
	Fund bool `json:"fund"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type escrowResponse struct {
	ID             uint64 `json:"id"`
	Initiator      string `json:"initiator"`
	Counterparty   string `json:"counterparty"`
	Buyer          string `json:"buyer,omitempty"`
	Seller         string `json:"seller,omitempty"`
	Asset          string `json:"asset"`
	AssetAmount    int64  `json:"asset_amount"`
	FiatAmount     int64  `json:"fiat_amount"`
	FiatCurrency   string `json:"fiat_currency"`
	State          string `json:"state"`
	Funded         bool   `json:"funded"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at"`
	FundedAt       string `json:"funded_at,omitempty"`
	RefundDeadline string `json:"refund_deadline,omitempty"`
	DisputeID      uint64 `json:"dispute_id,omitempty"`
}

func toResponse(rec *escrow.Record) escrowResponse {
	resp := escrowResponse{
		ID:           uint64(rec.ID),
		Initiator:    string(rec.Initiator),
		Counterparty: string(rec.Counterparty),
		Buyer:        string(rec.Buyer),
		Seller:       string(rec.Seller),
		Asset:        string(rec.Asset),
		AssetAmount:  rec.AssetAmount,
		FiatAmount:   rec.FiatAmount,
		FiatCurrency: string(rec.FiatCurrency),
		State:        string(rec.State),
		Funded:       rec.Funded,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:    rec.ExpiresAt.UTC().Format(time.RFC3339),
		DisputeID:    uint64(rec.DisputeID),
	}
	if !rec.FundedAt.IsZero() {
		resp.FundedAt = rec.FundedAt.UTC().Format(time.RFC3339)
	}
	if !rec.RefundDeadline.IsZero() {
		resp.RefundDeadline = rec.RefundDeadline.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	create := escrowsvc.CreateRequest{
		Counterparty: domain.PartyID(req.Counterparty),
		Asset:        domain.AssetCode(req.Asset),
		AssetAmount:  req.AssetAmount,
		FiatAmount:   req.FiatAmount,
		FiatCurrency: domain.CurrencyCode(req.FiatCurrency),
		Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
	}

	var rec *escrow.Record
	var err error
	if req.Fund {
		rec, err = h.escrows.CreateProposalWithFunding(ctx, caller, create)
	} else {
		rec, err = h.escrows.CreateProposal(ctx, caller, create)
	}
	if err != nil {
		h.fail(ctx, w, "failed to create proposal", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(rec))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.escrowID(w, r)
	if !ok {
		return
	}

	rec, err := h.escrows.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load escrow", err)
		return
	}
	if !rec.IsParticipant(caller) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "caller is not a participant in this escrow"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}

	recs, err := h.escrows.ListByParty(ctx, caller)
	if err != nil {
		h.fail(ctx, w, "failed to list escrows", err)
		return
	}
	out := make([]escrowResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"escrows": out})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.escrowID(w, r)
	if !ok {
		return
	}

	rec, err := h.escrows.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load escrow", err)
		return
	}
	if !rec.IsParticipant(caller) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "caller is not a participant in this escrow"))
		return
	}
	evts, err := h.eventLog.List(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to list events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": evts})
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.escrowID(w, r)
	if !ok {
		return
	}

	var req acceptRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	var rec *escrow.Record
	var err error
	if req.Fund {
		rec, err = h.escrows.AcceptProposalWithFunding(ctx, caller, id)
	} else {
		rec, err = h.escrows.AcceptProposal(ctx, caller, id)
	}
	if err != nil {
		h.fail(ctx, w, "failed to accept proposal", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.closeWithReason(w, r, h.escrows.RejectProposal, "failed to reject proposal")
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.closeWithReason(w, r, h.escrows.CancelProposal, "failed to cancel proposal")
}

func (h *Handler) closeWithReason(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, domain.PartyID, domain.EscrowID, string) (*escrow.Record, error),
	msg string,
) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.escrowID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	rec, err := op(ctx, caller, id, req.Reason)
	if err != nil {
		h.fail(ctx, w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.escrows.FundEscrow, "failed to fund escrow")
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.escrows.CompleteTransaction, "failed to complete transaction")
}

func (h *Handler) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.escrows.RequestRefund, "failed to request refund")
}

func (h *Handler) handleExecuteRefund(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.escrows.ExecuteRefund, "failed to execute refund")
}

func (h *Handler) simpleTransition(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, domain.PartyID, domain.EscrowID) (*escrow.Record, error),
	msg string,
) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.escrowID(w, r)
	if !ok {
		return
	}
	rec, err := op(ctx, caller, id)
	if err != nil {
		h.fail(ctx, w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(rec))
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

func (h *Handler) escrowID(w http.ResponseWriter, r *http.Request) (domain.EscrowID, bool) {
	id, err := domain.ParseEscrowID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid escrow id"))
		return 0, false
	}
	return id, true
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
