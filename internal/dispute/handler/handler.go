// Package handler exposes arbitration over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowd/internal/dispute"
	"escrowd/internal/platform/metrics"
	"escrowd/internal/platform/middleware"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
	"escrowd/pkg/platform/httputil"
)

// Service is the slice of the dispute module the transport needs.
type Service interface {
	Raise(ctx context.Context, caller domain.PartyID, escrowID domain.EscrowID, statement string) (*dispute.Record, error)
	SubmitEvidence(ctx context.Context, caller domain.PartyID, id domain.DisputeID, statement string) (*dispute.Record, error)
	AssignArbitrator(ctx context.Context, caller domain.PartyID, id domain.DisputeID, arbitrator domain.PartyID) (*dispute.Record, error)
	Resolve(ctx context.Context, caller domain.PartyID, id domain.DisputeID, winnerIsBuyer bool, notes string) (*dispute.Record, error)
	Get(ctx context.Context, id domain.DisputeID) (*dispute.Record, error)
	GetByEscrow(ctx context.Context, escrowID domain.EscrowID) (*dispute.Record, error)
}

type Handler struct {
	logger       *slog.Logger
	disputes     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(disputes Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		disputes:     disputes,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the dispute routes with the standard middleware chain.
func (h *Handler) Register(r chi.Router) {
	dr := chi.NewRouter()
	dr.Use(middleware.Recovery(h.logger))
	dr.Use(middleware.RequestID)
	dr.Use(middleware.Logger(h.logger))
	dr.Use(middleware.Timeout(30 * time.Second))
	dr.Use(middleware.ContentTypeJSON)
	dr.Use(middleware.Latency(h.metrics))
	dr.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	dr.Post("/", h.handleRaise)
	dr.Get("/{id}", h.handleGet)
	dr.Post("/{id}/evidence", h.handleEvidence)
	dr.Post("/{id}/arbitrator", h.handleAssign)
	dr.Post("/{id}/resolve", h.handleResolve)

	r.Mount("/disputes", dr)
}

type raiseRequest struct {
	EscrowID  uint64 `json:"escrow_id"`
	Statement string `json:"statement"`
}

type evidenceRequest struct {
	Statement string `json:"statement"`
}

type assignRequest struct {
	Arbitrator string `json:"arbitrator"`
}

type resolveRequest struct {
	Winner string `json:"winner"`
	Notes  string `json:"notes"`
}

type disputeResponse struct {
	ID                 uint64 `json:"id"`
	EscrowID           uint64 `json:"escrow_id"`
	Initiator          string `json:"initiator"`
	Arbitrator         string `json:"arbitrator,omitempty"`
	CreatedAt          string `json:"created_at"`
	EvidenceDeadline   string `json:"evidence_deadline"`
	ResolutionDeadline string `json:"resolution_deadline"`
	BuyerEvidence      string `json:"buyer_evidence,omitempty"`
	SellerEvidence     string `json:"seller_evidence,omitempty"`
	Resolved           bool   `json:"resolved"`
	Winner             string `json:"winner,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

func toResponse(rec *dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:                 uint64(rec.ID),
		EscrowID:           uint64(rec.EscrowID),
		Initiator:          string(rec.Initiator),
		Arbitrator:         string(rec.Arbitrator),
		CreatedAt:          rec.CreatedAt.UTC().Format(time.RFC3339),
		EvidenceDeadline:   rec.EvidenceDeadline.UTC().Format(time.RFC3339),
		ResolutionDeadline: rec.ResolutionDeadline.UTC().Format(time.RFC3339),
		BuyerEvidence:      rec.BuyerEvidence,
		SellerEvidence:     rec.SellerEvidence,
		Resolved:           rec.Resolved,
		Notes:              rec.Notes,
	}
	if rec.Resolved {
		if rec.WinnerIsBuyer {
			resp.Winner = "buyer"
		} else {
			resp.Winner = "seller"
		}
	}
	return resp
}

func (h *Handler) handleRaise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	var req raiseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	rec, err := h.disputes.Raise(ctx, caller, domain.EscrowID(req.EscrowID), req.Statement)
	if err != nil {
		h.fail(ctx, w, "failed to raise dispute", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(rec))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.caller(ctx, w); !ok {
		return
	}
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	rec, err := h.disputes.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to load dispute", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	rec, err := h.disputes.SubmitEvidence(ctx, caller, id, req.Statement)
	if err != nil {
		h.fail(ctx, w, "failed to submit evidence", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	rec, err := h.disputes.AssignArbitrator(ctx, caller, id, domain.PartyID(req.Arbitrator))
	if err != nil {
		h.fail(ctx, w, "failed to assign arbitrator", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(ctx, w)
	if !ok {
		return
	}
	id, ok := h.disputeID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	var winnerIsBuyer bool
	switch req.Winner {
	case "buyer":
		winnerIsBuyer = true
	case "seller":
		winnerIsBuyer = false
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "winner must be \"buyer\" or \"seller\""))
		return
	}
	rec, err := h.disputes.Resolve(ctx, caller, id, winnerIsBuyer, req.Notes)
	if err != nil {
		h.fail(ctx, w, "failed to resolve dispute", err)
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

func (h *Handler) disputeID(w http.ResponseWriter, r *http.Request) (domain.DisputeID, bool) {
	id, err := domain.ParseDisputeID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid dispute id"))
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
