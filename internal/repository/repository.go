package repository

import (
	"context"
	"errors"
	"time"

	"reservation-service/internal/domain"
)

var (
	// ErrProductNotFound is returned when a product does not exist in the stock ledger
	ErrProductNotFound = domain.ErrProductNotFound
	// ErrUnknownDriver is returned for an unsupported STORE_DRIVER value
	ErrUnknownDriver = errors.New("unknown store driver")
)

// StockCheck validates the reserved totals of the products about to be held.
// It runs inside the replace transaction after the owner's previous holds are
// cancelled and before the new rows are inserted.
type StockCheck func(reserved map[string]int) error

// ReplaceRequest describes one cancel-and-replace of an owner's holds
type ReplaceRequest struct {
	Owner        domain.Owner
	Reservations []*domain.Reservation
	Now          time.Time
	// Check is optional; when set the affected products are locked for the
	// rest of the transaction.
	Check StockCheck
}

// ReservationRepository stores reservation rows.
// Every method that changes state returns only the rows it actually transitioned.
type ReservationRepository interface {
	// ReplaceActive cancels every active row of the owner and inserts the new
	// rows in one transaction. It returns the cancelled rows.
	ReplaceActive(ctx context.Context, req ReplaceRequest) ([]*domain.Reservation, error)
	FindByIDs(ctx context.Context, ids []string) ([]*domain.Reservation, error)
	// FindActiveByOwner returns rows in status active, including ones past expiry
	FindActiveByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Reservation, error)
	Cancel(ctx context.Context, ids []string, now time.Time) ([]*domain.Reservation, error)
	// ExpireDue flips active rows with expires_at < now to expired
	ExpireDue(ctx context.Context, now time.Time) ([]*domain.Reservation, error)
	CompleteByCheckoutSession(ctx context.Context, checkoutSessionID string, now time.Time) ([]*domain.Reservation, error)
	// LinkCheckoutSession attaches the payment session id to active rows and returns how many were linked
	LinkCheckoutSession(ctx context.Context, ids []string, checkoutSessionID string, now time.Time) (int, error)
	// ReservedQuantities sums active unexpired quantities per product.
	// Products without holds are absent from the map.
	ReservedQuantities(ctx context.Context, productIDs []string, now time.Time) (map[string]int, error)
	Close() error
}

// ProductRepository is the read side of the stock ledger
type ProductRepository interface {
	FindProduct(ctx context.Context, id string) (*domain.Product, error)
	// FindProducts returns the products that exist, keyed by id
	FindProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)
	SaveProduct(ctx context.Context, product *domain.Product) error
}

// CartRepository answers which shoppers have a product in their cart
type CartRepository interface {
	FindUsersWithProductInCart(ctx context.Context, productID, excludeUserID string) ([]string, error)
	AddItem(ctx context.Context, userID, productID string) error
	RemoveItem(ctx context.Context, userID, productID string) error
}

// NotificationRepository is the in-app inbox sink
type NotificationRepository interface {
	InsertNotifications(ctx context.Context, notifications []*domain.Notification) error
	FindByUser(ctx context.Context, userID string) ([]*domain.Notification, error)
}

// Store bundles the SQL-backed repositories of one driver
type Store interface {
	ReservationRepository
	ProductRepository
	NotificationRepository
	Ping(ctx context.Context) error
}

// sumByProduct adds up quantities of rows per product
func sumByProduct(rows []*domain.Reservation) map[string]int {
	totals := make(map[string]int)
	for _, r := range rows {
		totals[r.ProductID] += r.Quantity
	}
	return totals
}

func productIDsOf(rows []*domain.Reservation) []string {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.ProductID]; ok {
			continue
		}
		seen[r.ProductID] = struct{}{}
		ids = append(ids, r.ProductID)
	}
	return ids
}
