package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/app"
	"github.com/giftwell/giftwell/services/reserve/internal/clock"
	"github.com/giftwell/giftwell/services/reserve/internal/domain"
)

func sampleSession() domain.CheckoutSession {
	return domain.CheckoutSession{
		ID:            "sess-1",
		LeaseID:       "lease-1",
		HolderID:      "alice",
		State:         domain.SessionStateOpen,
		CreatedAt:     fixedNow,
		LastTouchedAt: fixedNow,
	}
}

func TestCheckoutEndpoints(t *testing.T) {
	t.Run("open returns the session with its lease", func(t *testing.T) {
		checkout := &stubCheckout{
			open: func(_ context.Context, res domain.Resource, holderID string, ttl time.Duration) (domain.CheckoutSession, domain.Lease, error) {
				if res.ID != "item-42" || holderID != "alice" || ttl != 0 {
					t.Fatalf("unexpected open args: %+v %s %v", res, holderID, ttl)
				}
				return sampleSession(), sampleLease(), nil
			},
		}
		router := NewRouter(&stubReservation{}, checkout, nil, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout", "alice",
			`{"resource_kind":"gift_item","resource_id":"item-42"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeBody[sessionResponse](t, rec)
		if resp.ID != "sess-1" || resp.State != "open" || resp.Lease.ID != "lease-1" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("open on a held resource conflicts", func(t *testing.T) {
		checkout := &stubCheckout{
			open: func(context.Context, domain.Resource, string, time.Duration) (domain.CheckoutSession, domain.Lease, error) {
				return domain.CheckoutSession{}, domain.Lease{}, &domain.AlreadyHeldError{ExpiresAt: fixedNow.Add(time.Minute)}
			},
		}
		router := NewRouter(&stubReservation{}, checkout, nil, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout", "bob",
			`{"resource_kind":"gift_item","resource_id":"item-42"}`)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Code != codeResourceHeld || resp.RetryAfter == nil {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("show returns the session without touching it", func(t *testing.T) {
		checkout := &stubCheckout{
			get: func(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
				if sessionID != "sess-1" {
					t.Fatalf("unexpected session id: %s", sessionID)
				}
				return sampleSession(), nil
			},
		}
		leases := &stubReservation{
			get: func(context.Context, string) (domain.Lease, error) {
				return sampleLease(), nil
			},
		}
		router := NewRouter(leases, checkout, nil, nil, discardLogger())

		rec := doRequest(t, router, http.MethodGet, "/checkout/sess-1", "alice", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decodeBody[sessionResponse](t, rec)
		if resp.ID != "sess-1" || resp.Lease.ID != "lease-1" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("show by a stranger is forbidden", func(t *testing.T) {
		checkout := &stubCheckout{
			get: func(context.Context, string) (domain.CheckoutSession, error) {
				return sampleSession(), nil
			},
		}
		router := NewRouter(&stubReservation{}, checkout, nil, nil, discardLogger())

		rec := doRequest(t, router, http.MethodGet, "/checkout/sess-1", "mallory", "")

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("resume returns the live session", func(t *testing.T) {
		checkout := &stubCheckout{
			resume: func(_ context.Context, sessionID, holderID string) (domain.CheckoutSession, domain.Lease, error) {
				if sessionID != "sess-1" || holderID != "alice" {
					t.Fatalf("unexpected resume args: %s %s", sessionID, holderID)
				}
				return sampleSession(), sampleLease(), nil
			},
		}
		router := NewRouter(&stubReservation{}, checkout, nil, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/resume", "alice", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		resp := decodeBody[sessionResponse](t, rec)
		if resp.ID != "sess-1" || resp.Lease.ID != "lease-1" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("resume of an expired session conflicts", func(t *testing.T) {
		checkout := &stubCheckout{
			resume: func(context.Context, string, string) (domain.CheckoutSession, domain.Lease, error) {
				return domain.CheckoutSession{}, domain.Lease{}, domain.ErrSessionTerminal
			},
		}
		router := NewRouter(&stubReservation{}, checkout, nil, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/resume", "alice", "")

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Code != codeSessionTerminal {
			t.Fatalf("unexpected code: %q", resp.Code)
		}
	})

	t.Run("successful commit finalizes and allocates", func(t *testing.T) {
		adapter := &recordingAdapter{}
		checkout := &stubCheckout{
			commit: func(_ context.Context, sessionID, holderID string, outcome app.CheckoutOutcome) (bool, error) {
				if sessionID != "sess-1" || holderID != "alice" {
					t.Fatalf("unexpected commit args: %s %s", sessionID, holderID)
				}
				if !outcome.Succeeded || outcome.PaymentRef != "pay-7" {
					t.Fatalf("unexpected outcome: %+v", outcome)
				}
				return false, nil
			},
			get: func(context.Context, string) (domain.CheckoutSession, error) {
				return sampleSession(), nil
			},
		}
		leases := &stubReservation{
			get: func(context.Context, string) (domain.Lease, error) {
				return sampleLease(), nil
			},
		}
		router := NewRouter(leases, checkout,
			domain.AdapterRegistry{domain.ResourceKindGiftItem: adapter}, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/commit", "alice",
			`{"succeeded":true,"payment_ref":"pay-7"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeBody[commitCheckoutResponse](t, rec)
		if resp.SessionID != "sess-1" || resp.State != "committed" {
			t.Fatalf("unexpected response: %+v", resp)
		}
		if len(adapter.allocated) != 1 || adapter.allocated[0] != "item-42" {
			t.Fatalf("expected mark-allocated call, got %+v", adapter)
		}
	})

	t.Run("failed payment frees the resource", func(t *testing.T) {
		adapter := &recordingAdapter{}
		checkout := &stubCheckout{
			commit: func(context.Context, string, string, app.CheckoutOutcome) (bool, error) {
				return true, domain.ErrCheckoutConflict
			},
			get: func(context.Context, string) (domain.CheckoutSession, error) {
				return sampleSession(), nil
			},
		}
		leases := &stubReservation{
			get: func(context.Context, string) (domain.Lease, error) {
				return sampleLease(), nil
			},
		}
		router := NewRouter(leases, checkout,
			domain.AdapterRegistry{domain.ResourceKindGiftItem: adapter}, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/commit", "alice",
			`{"succeeded":false}`)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		resp := decodeBody[errorResponse](t, rec)
		if resp.Code != codeCheckoutConflict {
			t.Fatalf("unexpected code: %q", resp.Code)
		}
		if len(adapter.available) != 1 || adapter.available[0] != "item-42" {
			t.Fatalf("expected mark-available call, got %+v", adapter)
		}
		if len(adapter.allocated) != 0 {
			t.Fatalf("unexpected mark-allocated call: %+v", adapter)
		}
	})

	t.Run("commit after expiry leaves the resource to the sweeper", func(t *testing.T) {
		adapter := &recordingAdapter{}
		checkout := &stubCheckout{
			commit: func(context.Context, string, string, app.CheckoutOutcome) (bool, error) {
				return false, domain.ErrCheckoutConflict
			},
			get: func(context.Context, string) (domain.CheckoutSession, error) {
				return sampleSession(), nil
			},
		}
		leases := &stubReservation{
			get: func(context.Context, string) (domain.Lease, error) {
				return sampleLease(), nil
			},
		}
		router := NewRouter(leases, checkout,
			domain.AdapterRegistry{domain.ResourceKindGiftItem: adapter}, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/commit", "alice",
			`{"succeeded":true}`)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if len(adapter.available) != 0 || len(adapter.allocated) != 0 {
			t.Fatalf("expected no adapter calls, got %+v", adapter)
		}
	})

	t.Run("abandon releases and frees the resource", func(t *testing.T) {
		adapter := &recordingAdapter{}
		checkout := &stubCheckout{
			abandon: func(_ context.Context, sessionID, holderID string) (bool, error) {
				if sessionID != "sess-1" || holderID != "alice" {
					t.Fatalf("unexpected abandon args: %s %s", sessionID, holderID)
				}
				return true, nil
			},
			get: func(context.Context, string) (domain.CheckoutSession, error) {
				return sampleSession(), nil
			},
		}
		leases := &stubReservation{
			get: func(context.Context, string) (domain.Lease, error) {
				return sampleLease(), nil
			},
		}
		router := NewRouter(leases, checkout,
			domain.AdapterRegistry{domain.ResourceKindGiftItem: adapter}, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/abandon", "alice", "")

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if len(adapter.available) != 1 {
			t.Fatalf("expected mark-available call, got %+v", adapter)
		}
	})

	t.Run("repeat abandon leaves the adapter alone", func(t *testing.T) {
		adapter := &recordingAdapter{}
		checkout := &stubCheckout{
			abandon: func(context.Context, string, string) (bool, error) { return false, nil },
			get: func(context.Context, string) (domain.CheckoutSession, error) {
				return sampleSession(), nil
			},
		}
		leases := &stubReservation{
			get: func(context.Context, string) (domain.Lease, error) {
				return sampleLease(), nil
			},
		}
		router := NewRouter(leases, checkout,
			domain.AdapterRegistry{domain.ResourceKindGiftItem: adapter}, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/abandon", "alice", "")

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if len(adapter.available) != 0 {
			t.Fatalf("expected no mark-available call, got %+v", adapter.available)
		}
	})

	t.Run("abandon by a stranger is forbidden", func(t *testing.T) {
		checkout := &stubCheckout{
			abandon: func(context.Context, string, string) (bool, error) { return false, domain.ErrNotHolder },
			get: func(context.Context, string) (domain.CheckoutSession, error) {
				return domain.CheckoutSession{}, domain.ErrSessionNotFound
			},
		}
		router := NewRouter(&stubReservation{}, checkout, nil, nil, discardLogger())

		rec := doRequest(t, router, http.MethodPost, "/checkout/sess-1/abandon", "mallory", "")

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})
}

// Reading a session back must not refresh the buyer's presence; only an
// explicit resume does.
func TestCheckoutShow_DoesNotTouchSession(t *testing.T) {
	clk := clock.NewFake(fixedNow)
	router := newEngineRouter(clk, newStatusAdapter())

	rec := doRequest(t, router, http.MethodPost, "/checkout", "alice",
		`{"resource_kind":"gift_item","resource_id":"item-42"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	opened := decodeBody[sessionResponse](t, rec)

	clk.Advance(3 * time.Minute)
	rec = doRequest(t, router, http.MethodGet, "/checkout/"+opened.ID, "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("show: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	shown := decodeBody[sessionResponse](t, rec)
	if !shown.LastTouchedAt.Equal(fixedNow) {
		t.Fatalf("reading the session moved last_touched_at to %v", shown.LastTouchedAt)
	}

	rec = doRequest(t, router, http.MethodPost, "/checkout/"+opened.ID+"/resume", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resumed := decodeBody[sessionResponse](t, rec)
	if !resumed.LastTouchedAt.Equal(fixedNow.Add(3 * time.Minute)) {
		t.Fatalf("expected resume to touch at %v, got %v",
			fixedNow.Add(3*time.Minute), resumed.LastTouchedAt)
	}
}

// A stale retry of an abandon must not undo a later buyer's committed
// checkout on the same resource.
func TestCheckoutAbandon_RetryKeepsLaterAllocation(t *testing.T) {
	adapter := newStatusAdapter()
	router := newEngineRouter(clock.NewFixed(fixedNow), adapter)

	body := `{"resource_kind":"gift_item","resource_id":"item-42"}`

	rec := doRequest(t, router, http.MethodPost, "/checkout", "alice", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("alice open: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	aliceSession := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, router, http.MethodPost, "/checkout/"+aliceSession.ID+"/abandon", "alice", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("alice abandon: expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/checkout", "bob", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("bob open: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	bobSession := decodeBody[sessionResponse](t, rec)

	rec = doRequest(t, router, http.MethodPost, "/checkout/"+bobSession.ID+"/commit", "bob",
		`{"succeeded":true,"payment_ref":"pay-9"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("bob commit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if adapter.status["item-42"] != "allocated" {
		t.Fatalf("expected item-42 allocated after bob's commit, got %q", adapter.status["item-42"])
	}

	// Alice's client retries the abandon it already performed.
	rec = doRequest(t, router, http.MethodPost, "/checkout/"+aliceSession.ID+"/abandon", "alice", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("alice retry: expected 204, got %d", rec.Code)
	}
	if adapter.status["item-42"] != "allocated" {
		t.Fatalf("retried abandon disturbed the allocation: status is %q, want %q",
			adapter.status["item-42"], "allocated")
	}
}
