package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"reservation-service/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice    = domain.Owner{UserID: "alice"}
	bob      = domain.Owner{UserID: "bob"}
	guest    = domain.Owner{SessionID: "guest-1"}
)

func newRow(owner domain.Owner, productID string, qty int, expiresAt time.Time) *domain.Reservation {
	return domain.NewReservation(owner, productID, qty, expiresAt, baseTime)
}

func replace(t *testing.T, store Store, owner domain.Owner, now time.Time, rows ...*domain.Reservation) []*domain.Reservation {
	t.Helper()
	cancelled, err := store.ReplaceActive(context.Background(), ReplaceRequest{
		Owner:        owner,
		Reservations: rows,
		Now:          now,
	})
	require.NoError(t, err)
	return cancelled
}

func idsOf(rows []*domain.Reservation) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

// runStoreContract exercises behaviour every Store implementation must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	expiry := baseTime.Add(domain.DefaultHoldDuration)

	t.Run("ReplaceActive cancels the previous set", func(t *testing.T) {
		store := newStore(t)
		first := newRow(alice, "p1", 2, expiry)
		assert.Empty(t, replace(t, store, alice, baseTime, first))

		second := newRow(alice, "p2", 1, expiry)
		cancelled := replace(t, store, alice, baseTime.Add(time.Second), second)
		require.Len(t, cancelled, 1)
		assert.Equal(t, first.ID, cancelled[0].ID)
		assert.Equal(t, domain.StatusCancelled, cancelled[0].Status)

		active, err := store.FindActiveByOwner(ctx, alice)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, second.ID, active[0].ID)
		assert.True(t, expiry.Equal(active[0].ExpiresAt))
	})

	t.Run("ReplaceActive leaves other owners alone", func(t *testing.T) {
		store := newStore(t)
		replace(t, store, alice, baseTime, newRow(alice, "p1", 2, expiry))
		replace(t, store, guest, baseTime, newRow(guest, "p1", 3, expiry))

		active, err := store.FindActiveByOwner(ctx, alice)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		reserved, err := store.ReservedQuantities(ctx, []string{"p1"}, baseTime)
		require.NoError(t, err)
		assert.Equal(t, 5, reserved["p1"])
	})

	t.Run("guest and user with the same id are different owners", func(t *testing.T) {
		store := newStore(t)
		replace(t, store, domain.Owner{UserID: "x"}, baseTime, newRow(domain.Owner{UserID: "x"}, "p1", 1, expiry))
		replace(t, store, domain.Owner{SessionID: "x"}, baseTime, newRow(domain.Owner{SessionID: "x"}, "p1", 1, expiry))

		active, err := store.FindActiveByOwner(ctx, domain.Owner{UserID: "x"})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "x", active[0].Owner.UserID)
		assert.Empty(t, active[0].Owner.SessionID)
	})

	t.Run("failed check rolls back the whole replace", func(t *testing.T) {
		store := newStore(t)
		first := newRow(alice, "p1", 2, expiry)
		replace(t, store, alice, baseTime, first)
		replace(t, store, bob, baseTime, newRow(bob, "p1", 4, expiry))

		var seen map[string]int
		rejected := errors.New("rejected")
		_, err := store.ReplaceActive(ctx, ReplaceRequest{
			Owner:        alice,
			Reservations: []*domain.Reservation{newRow(alice, "p1", 9, expiry)},
			Now:          baseTime,
			Check: func(reserved map[string]int) error {
				seen = reserved
				return rejected
			},
		})
		assert.ErrorIs(t, err, rejected)
		// alice's own previous hold is not counted against her
		assert.Equal(t, map[string]int{"p1": 4}, seen)

		active, err := store.FindActiveByOwner(ctx, alice)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, first.ID, active[0].ID)
	})

	t.Run("ReservedQuantities only counts unexpired active rows", func(t *testing.T) {
		store := newStore(t)
		replace(t, store, alice, baseTime, newRow(alice, "p1", 2, expiry))
		replace(t, store, bob, baseTime, newRow(bob, "p1", 3, baseTime.Add(time.Minute)))
		cancelledRow := newRow(guest, "p1", 7, expiry)
		replace(t, store, guest, baseTime, cancelledRow)
		_, err := store.Cancel(ctx, []string{cancelledRow.ID}, baseTime)
		require.NoError(t, err)

		reserved, err := store.ReservedQuantities(ctx, []string{"p1", "p2"}, baseTime)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"p1": 5}, reserved)

		// bob's hold is past expiry but has not been swept
		reserved, err = store.ReservedQuantities(ctx, []string{"p1"}, baseTime.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"p1": 2}, reserved)
	})

	t.Run("Cancel is idempotent", func(t *testing.T) {
		store := newStore(t)
		row := newRow(alice, "p1", 2, expiry)
		replace(t, store, alice, baseTime, row)

		cancelled, err := store.Cancel(ctx, []string{row.ID, "missing"}, baseTime)
		require.NoError(t, err)
		assert.Equal(t, []string{row.ID}, idsOf(cancelled))

		cancelled, err = store.Cancel(ctx, []string{row.ID}, baseTime)
		require.NoError(t, err)
		assert.Empty(t, cancelled)
	})

	t.Run("ExpireDue flips only due rows once", func(t *testing.T) {
		store := newStore(t)
		due := newRow(alice, "p1", 2, baseTime.Add(time.Minute))
		fresh := newRow(bob, "p1", 3, baseTime.Add(10*time.Minute))
		replace(t, store, alice, baseTime, due)
		replace(t, store, bob, baseTime, fresh)

		later := baseTime.Add(2 * time.Minute)
		expired, err := store.ExpireDue(ctx, later)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, due.ID, expired[0].ID)
		assert.Equal(t, domain.StatusExpired, expired[0].Status)

		expired, err = store.ExpireDue(ctx, later)
		require.NoError(t, err)
		assert.Empty(t, expired)

		rows, err := store.FindByIDs(ctx, []string{due.ID, fresh.ID})
		require.NoError(t, err)
		statuses := map[string]domain.ReservationStatus{}
		for _, r := range rows {
			statuses[r.ID] = r.Status
		}
		assert.Equal(t, domain.StatusExpired, statuses[due.ID])
		assert.Equal(t, domain.StatusActive, statuses[fresh.ID])
	})

	t.Run("link then complete by checkout session", func(t *testing.T) {
		store := newStore(t)
		a := newRow(alice, "p1", 2, expiry)
		b := newRow(alice, "p2", 1, expiry)
		replace(t, store, alice, baseTime, a, b)
		other := newRow(bob, "p1", 1, expiry)
		replace(t, store, bob, baseTime, other)

		linked, err := store.LinkCheckoutSession(ctx, []string{a.ID, b.ID}, "cs_test_1", baseTime)
		require.NoError(t, err)
		assert.Equal(t, 2, linked)

		completed, err := store.CompleteByCheckoutSession(ctx, "cs_test_1", baseTime)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ID, b.ID}, idsOf(completed))
		for _, r := range completed {
			assert.Equal(t, domain.StatusCompleted, r.Status)
			require.NotNil(t, r.CheckoutSessionID)
			assert.Equal(t, "cs_test_1", *r.CheckoutSessionID)
		}

		completed, err = store.CompleteByCheckoutSession(ctx, "cs_test_1", baseTime)
		require.NoError(t, err)
		assert.Empty(t, completed)

		reserved, err := store.ReservedQuantities(ctx, []string{"p1", "p2"}, baseTime)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"p1": 1}, reserved)
	})

	t.Run("link skips terminal rows", func(t *testing.T) {
		store := newStore(t)
		row := newRow(alice, "p1", 2, expiry)
		replace(t, store, alice, baseTime, row)
		_, err := store.Cancel(ctx, []string{row.ID}, baseTime)
		require.NoError(t, err)

		linked, err := store.LinkCheckoutSession(ctx, []string{row.ID}, "cs_test_2", baseTime)
		require.NoError(t, err)
		assert.Zero(t, linked)

		completed, err := store.CompleteByCheckoutSession(ctx, "cs_test_2", baseTime)
		require.NoError(t, err)
		assert.Empty(t, completed)
	})

	t.Run("products", func(t *testing.T) {
		store := newStore(t)
		_, err := store.FindProduct(ctx, "acm-3mm")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)

		require.NoError(t, store.SaveProduct(ctx, &domain.Product{ID: "acm-3mm", Name: "ACM 3mm", Stock: 10}))
		require.NoError(t, store.SaveProduct(ctx, &domain.Product{ID: "acm-3mm", Name: "ACM 3mm White", Stock: 12}))

		product, err := store.FindProduct(ctx, "acm-3mm")
		require.NoError(t, err)
		assert.Equal(t, "ACM 3mm White", product.Name)
		assert.Equal(t, 12, product.Stock)

		products, err := store.FindProducts(ctx, []string{"acm-3mm", "missing"})
		require.NoError(t, err)
		assert.Len(t, products, 1)
		assert.Contains(t, products, "acm-3mm")
	})

	t.Run("notifications", func(t *testing.T) {
		store := newStore(t)
		notification := &domain.Notification{
			ID:        uuid.New().String(),
			UserID:    "bob",
			Type:      domain.NotificationTypeStockAlert,
			Title:     "Stock alert",
			Message:   "Someone is checking out ACM 3mm",
			Link:      "/products/acm-3mm",
			CreatedAt: baseTime,
		}
		require.NoError(t, store.InsertNotifications(ctx, []*domain.Notification{notification}))

		inbox, err := store.FindByUser(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, notification.ID, inbox[0].ID)
		assert.Equal(t, "Stock alert", inbox[0].Title)

		inbox, err = store.FindByUser(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, inbox)
	})
}
