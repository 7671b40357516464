package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reservation-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reservations.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reservations.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.SaveProduct(ctx, &domain.Product{ID: "p1", Name: "ACM", Stock: 4}))
	require.NoError(t, store.Close())

	// migrations are already applied on the second open
	store, err = NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	product, err := store.FindProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, product.Stock)
}

func TestSQLiteStore_ConcurrentReplaceKeepsOneActiveSet(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	expiry := baseTime.Add(domain.DefaultHoldDuration)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ReplaceActive(ctx, ReplaceRequest{
				Owner:        alice,
				Reservations: []*domain.Reservation{newRow(alice, "p1", 1, expiry)},
				Now:          baseTime,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := store.FindActiveByOwner(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSQLiteStore_TimestampsSurviveRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	expiry := baseTime.Add(domain.DefaultHoldDuration)
	row := newRow(guest, "p1", 3, expiry)
	replace(t, store, guest, baseTime, row)

	found, err := store.FindByIDs(ctx, []string{row.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, expiry.Equal(found[0].ExpiresAt))
	assert.True(t, baseTime.Equal(found[0].CreatedAt))
	assert.Equal(t, guest, found[0].Owner)
	assert.Nil(t, found[0].CheckoutSessionID)

	_, err = store.LinkCheckoutSession(ctx, []string{row.ID}, "cs_1", baseTime.Add(time.Second))
	require.NoError(t, err)
	found, err = store.FindByIDs(ctx, []string{row.ID})
	require.NoError(t, err)
	require.NotNil(t, found[0].CheckoutSessionID)
	assert.True(t, baseTime.Add(time.Second).Equal(found[0].UpdatedAt))
}

func TestSQLiteStore_LargeIDListsAreChunked(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	expiry := baseTime.Add(domain.DefaultHoldDuration)

	const n = 1200
	productIDs := make([]string, n)
	rows := make([]*domain.Reservation, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		productIDs[i] = fmt.Sprintf("p%04d", i)
		require.NoError(t, store.SaveProduct(ctx, &domain.Product{ID: productIDs[i], Name: "ACM", Stock: 2}))
		rows[i] = newRow(guest, productIDs[i], 1, expiry)
		ids[i] = rows[i].ID
	}

	products, err := store.FindProducts(ctx, append(productIDs, productIDs[0]))
	require.NoError(t, err)
	assert.Len(t, products, n)

	var checked map[string]int
	_, err = store.ReplaceActive(ctx, ReplaceRequest{
		Owner:        guest,
		Reservations: rows,
		Now:          baseTime,
		Check: func(reserved map[string]int) error {
			checked = reserved
			return nil
		},
	})
	require.NoError(t, err)
	assert.Empty(t, checked)

	reserved, err := store.ReservedQuantities(ctx, productIDs, baseTime)
	require.NoError(t, err)
	assert.Len(t, reserved, n)
	assert.Equal(t, 1, reserved[productIDs[n-1]])

	found, err := store.FindByIDs(ctx, ids)
	require.NoError(t, err)
	require.Len(t, found, n)
	for i := 1; i < n; i++ {
		assert.True(t, found[i-1].ID < found[i].ID)
	}

	linked, err := store.LinkCheckoutSession(ctx, ids, "cs_bulk", baseTime)
	require.NoError(t, err)
	assert.Equal(t, n, linked)

	cancelled, err := store.Cancel(ctx, append(ids, ids[0]), baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, cancelled, n)

	active, err := store.FindActiveByOwner(ctx, guest)
	require.NoError(t, err)
	assert.Empty(t, active)
}
