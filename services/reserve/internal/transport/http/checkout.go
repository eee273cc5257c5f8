package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/app"
	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/go-chi/chi/v5"
)

// CheckoutAPI is the slice of the checkout coordinator the buyer-facing
// endpoints need.
type CheckoutAPI interface {
	Open(ctx context.Context, res domain.Resource, holderID string, ttl time.Duration) (domain.CheckoutSession, domain.Lease, error)
	Resume(ctx context.Context, sessionID, holderID string) (domain.CheckoutSession, domain.Lease, error)
	CommitCheckout(ctx context.Context, sessionID, holderID string, outcome app.CheckoutOutcome) (bool, error)
	Abandon(ctx context.Context, sessionID, holderID string) (bool, error)
	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
}

// CheckoutHandler serves the buyer checkout flow. It is the orchestrating
// caller from the engine's point of view, so after a finalized session it
// invokes the matching resource adapter.
type CheckoutHandler struct {
	svc      CheckoutAPI
	leases   ReservationAPI
	adapters domain.AdapterRegistry
	logger   *log.Logger
}

func NewCheckoutHandler(svc CheckoutAPI, leases ReservationAPI, adapters domain.AdapterRegistry, logger *log.Logger) *CheckoutHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &CheckoutHandler{svc: svc, leases: leases, adapters: adapters, logger: logger}
}

type sessionResponse struct {
	ID            string        `json:"id"`
	State         string        `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
	LastTouchedAt time.Time     `json:"last_touched_at"`
	Lease         leaseResponse `json:"lease"`
}

func toSessionResponse(s domain.CheckoutSession, l domain.Lease) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		State:         string(s.State),
		CreatedAt:     s.CreatedAt,
		LastTouchedAt: s.LastTouchedAt,
		Lease:         toLeaseResponse(l),
	}
}

func (h *CheckoutHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	session, lease, err := h.svc.Open(r.Context(),
		domain.Resource{Kind: domain.ResourceKind(req.ResourceKind), ID: req.ResourceID},
		holderFrom(r.Context()),
		time.Duration(req.TTLSeconds)*time.Second,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(session, lease))
}

// Show is the read-only view of a session; unlike Resume it never refreshes
// the buyer's presence.
func (h *CheckoutHandler) Show(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if session.HolderID != holderFrom(r.Context()) {
		writeDomainError(w, domain.ErrNotHolder)
		return
	}
	lease, err := h.leases.Get(r.Context(), session.LeaseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session, lease))
}

func (h *CheckoutHandler) Resume(w http.ResponseWriter, r *http.Request) {
	session, lease, err := h.svc.Resume(r.Context(), chi.URLParam(r, "sessionID"), holderFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session, lease))
}

type commitCheckoutRequest struct {
	Succeeded  bool   `json:"succeeded"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

type commitCheckoutResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

func (h *CheckoutHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitCheckoutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	holder := holderFrom(r.Context())

	// Resolve the resource up front; once the session finalizes we still
	// need it for the adapter call.
	res, resolved := h.resolveResource(r.Context(), sessionID)

	released, err := h.svc.CommitCheckout(r.Context(), sessionID, holder, app.CheckoutOutcome{
		Succeeded:  req.Succeeded,
		PaymentRef: req.PaymentRef,
	})
	if err != nil {
		// Put the resource back on the shelf only when this call released
		// the hold; an expired lease belongs to the sweeper and a repeat
		// must not clobber a later holder's allocation. The payment
		// compensation itself belongs to the payment flow.
		if released && resolved {
			h.markAvailable(r.Context(), res)
		}
		writeDomainError(w, err)
		return
	}

	if resolved {
		h.markAllocated(r.Context(), res)
	}
	writeJSON(w, http.StatusOK, commitCheckoutResponse{SessionID: sessionID, State: string(domain.SessionStateCommitted)})
}

func (h *CheckoutHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	res, resolved := h.resolveResource(r.Context(), sessionID)

	released, err := h.svc.Abandon(r.Context(), sessionID, holderFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if released && resolved {
		h.markAvailable(r.Context(), res)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandler) resolveResource(ctx context.Context, sessionID string) (domain.Resource, bool) {
	session, err := h.svc.Get(ctx, sessionID)
	if err != nil {
		return domain.Resource{}, false
	}
	lease, err := h.leases.Get(ctx, session.LeaseID)
	if err != nil {
		return domain.Resource{}, false
	}
	return lease.Resource, true
}

func (h *CheckoutHandler) markAllocated(ctx context.Context, res domain.Resource) {
	adapter, ok := h.adapters.For(res.Kind)
	if !ok {
		return
	}
	if err := adapter.MarkAllocated(ctx, res.ID); err != nil {
		h.logger.Printf("WARN: mark allocated %s/%s: %v", res.Kind, res.ID, err)
	}
}

func (h *CheckoutHandler) markAvailable(ctx context.Context, res domain.Resource) {
	adapter, ok := h.adapters.For(res.Kind)
	if !ok {
		return
	}
	if err := adapter.MarkAvailable(ctx, res.ID); err != nil {
		h.logger.Printf("WARN: mark available %s/%s: %v", res.Kind, res.ID, err)
	}
}
