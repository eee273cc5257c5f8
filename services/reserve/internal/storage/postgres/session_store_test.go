package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/giftwell/giftwell/services/reserve/internal/testutil"
	"github.com/google/uuid"
)

func TestSessionStore(t *testing.T) {
	pool := testutil.NewTestPool(t)
	store := NewSessionStore(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	// Sessions reference a lease row, so every subtest seeds one.
	seedSession := func(t *testing.T, ctx context.Context, now time.Time) domain.CheckoutSession {
		t.Helper()
		lease := newActiveLease("item-1", now.Add(15*time.Minute))
		testutil.InsertLease(t, ctx, pool, lease)

		sess := domain.CheckoutSession{
			ID:            uuid.NewString(),
			LeaseID:       lease.ID,
			HolderID:      "alice",
			State:         domain.SessionStateOpen,
			CreatedAt:     now,
			LastTouchedAt: now,
		}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("create session: %v", err)
		}
		return sess
	}

	t.Run("create then get", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		now := time.Now().Truncate(time.Microsecond).UTC()
		sess := seedSession(t, ctx, now)

		got, err := store.Get(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.LeaseID != sess.LeaseID || got.HolderID != "alice" || got.State != domain.SessionStateOpen {
			t.Fatalf("unexpected session: %+v", got)
		}
		if !got.CreatedAt.Equal(now) || !got.LastTouchedAt.Equal(now) {
			t.Fatalf("unexpected timestamps: %+v", got)
		}

		if _, err := store.Get(ctx, uuid.NewString()); err != domain.ErrSessionNotFound {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if _, err := store.Get(ctx, "not-a-uuid"); err != domain.ErrInvalidID {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("update state is a compare-and-swap", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		now := time.Now().Truncate(time.Microsecond).UTC()
		sess := seedSession(t, ctx, now)

		later := now.Add(time.Minute)
		if err := store.UpdateState(ctx, sess.ID, domain.SessionStateOpen, domain.SessionStateCommitted, later); err != nil {
			t.Fatalf("update: %v", err)
		}

		got, err := store.Get(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != domain.SessionStateCommitted || !got.LastTouchedAt.Equal(later) {
			t.Fatalf("unexpected session: %+v", got)
		}

		if err := store.UpdateState(ctx, sess.ID, domain.SessionStateOpen, domain.SessionStateAbandoned, later); err != domain.ErrVersionConflict {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
		if err := store.UpdateState(ctx, uuid.NewString(), domain.SessionStateOpen, domain.SessionStateAbandoned, later); err != domain.ErrSessionNotFound {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("touch updates only the timestamp", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		now := time.Now().Truncate(time.Microsecond).UTC()
		sess := seedSession(t, ctx, now)

		later := now.Add(time.Minute)
		if err := store.Touch(ctx, sess.ID, later); err != nil {
			t.Fatalf("touch: %v", err)
		}

		got, err := store.Get(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != domain.SessionStateOpen || !got.LastTouchedAt.Equal(later) {
			t.Fatalf("unexpected session: %+v", got)
		}

		if err := store.Touch(ctx, uuid.NewString(), later); err != domain.ErrSessionNotFound {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})
}
