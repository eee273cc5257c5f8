package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ReservationAPI is the slice of the reservation service the lease
// endpoints need.
type ReservationAPI interface {
	Acquire(ctx context.Context, res domain.Resource, holderID string, ttl time.Duration) (domain.Lease, error)
	Renew(ctx context.Context, leaseID, holderID string, extension time.Duration) (domain.Lease, error)
	Release(ctx context.Context, leaseID, holderID string) (bool, error)
	Commit(ctx context.Context, leaseID, holderID string) error
	Get(ctx context.Context, leaseID string) (domain.Lease, error)
	Availability(ctx context.Context, res domain.Resource) (bool, time.Time, error)
}

// LeaseHandler serves the bare-lease flow used by in-store reservations
// that need a hold without a buyer checkout wrapper. As the orchestrating
// caller it also notifies resource adapters after commit and release.
type LeaseHandler struct {
	svc      ReservationAPI
	adapters domain.AdapterRegistry
	logger   *log.Logger
}

func NewLeaseHandler(svc ReservationAPI, adapters domain.AdapterRegistry, logger *log.Logger) *LeaseHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &LeaseHandler{svc: svc, adapters: adapters, logger: logger}
}

type acquireRequest struct {
	ResourceKind string `json:"resource_kind"`
	ResourceID   string `json:"resource_id"`
	TTLSeconds   int64  `json:"ttl_seconds,omitempty"`
}

type leaseResponse struct {
	ID           string    `json:"id"`
	ResourceKind string    `json:"resource_kind"`
	ResourceID   string    `json:"resource_id"`
	HolderID     string    `json:"holder_id"`
	State        string    `json:"state"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func toLeaseResponse(l domain.Lease) leaseResponse {
	return leaseResponse{
		ID:           l.ID,
		ResourceKind: string(l.Resource.Kind),
		ResourceID:   l.Resource.ID,
		HolderID:     l.HolderID,
		State:        string(l.State),
		AcquiredAt:   l.AcquiredAt,
		ExpiresAt:    l.ExpiresAt,
	}
}

func (h *LeaseHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	lease, err := h.svc.Acquire(r.Context(),
		domain.Resource{Kind: domain.ResourceKind(req.ResourceKind), ID: req.ResourceID},
		holderFrom(r.Context()),
		time.Duration(req.TTLSeconds)*time.Second,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLeaseResponse(lease))
}

func (h *LeaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	lease, err := h.svc.Get(r.Context(), chi.URLParam(r, "leaseID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseResponse(lease))
}

type renewRequest struct {
	ExtensionSeconds int64 `json:"extension_seconds"`
}

func (h *LeaseHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	lease, err := h.svc.Renew(r.Context(), chi.URLParam(r, "leaseID"), holderFrom(r.Context()),
		time.Duration(req.ExtensionSeconds)*time.Second)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLeaseResponse(lease))
}

func (h *LeaseHandler) Release(w http.ResponseWriter, r *http.Request) {
	leaseID := chi.URLParam(r, "leaseID")
	released, err := h.svc.Release(r.Context(), leaseID, holderFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Only a release performed by this call resets the resource; a repeat
	// must not disturb whatever a later holder has done since.
	if released {
		if lease, err := h.svc.Get(r.Context(), leaseID); err == nil {
			h.markAvailable(r.Context(), lease.Resource)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LeaseHandler) Commit(w http.ResponseWriter, r *http.Request) {
	leaseID := chi.URLParam(r, "leaseID")
	if err := h.svc.Commit(r.Context(), leaseID, holderFrom(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}

	if lease, err := h.svc.Get(r.Context(), leaseID); err == nil {
		h.markAllocated(r.Context(), lease.Resource)
	}
	w.WriteHeader(http.StatusNoContent)
}

type availabilityResponse struct {
	Held       bool       `json:"held"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

func (h *LeaseHandler) Availability(w http.ResponseWriter, r *http.Request) {
	res := domain.Resource{
		Kind: domain.ResourceKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "resourceID"),
	}
	held, retryAfter, err := h.svc.Availability(r.Context(), res)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := availabilityResponse{Held: held}
	if held {
		resp.RetryAfter = &retryAfter
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LeaseHandler) markAllocated(ctx context.Context, res domain.Resource) {
	adapter, ok := h.adapters.For(res.Kind)
	if !ok {
		return
	}
	if err := adapter.MarkAllocated(ctx, res.ID); err != nil {
		h.logger.Printf("WARN: mark allocated %s/%s: %v", res.Kind, res.ID, err)
	}
}

func (h *LeaseHandler) markAvailable(ctx context.Context, res domain.Resource) {
	adapter, ok := h.adapters.For(res.Kind)
	if !ok {
		return
	}
	if err := adapter.MarkAvailable(ctx, res.ID); err != nil {
		h.logger.Printf("WARN: mark available %s/%s: %v", res.Kind, res.ID, err)
	}
}
