package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultHoldDuration is how long a checkout hold lasts before it stops counting against stock
const DefaultHoldDuration = 5 * time.Minute

// ReservationStatus is the lifecycle state of a reservation
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusCancelled ReservationStatus = "cancelled"
	StatusExpired   ReservationStatus = "expired"
	StatusCompleted ReservationStatus = "completed"
)

// IsTerminal reports whether no further transition is allowed from s
func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired || s == StatusCompleted
}

// Reservation is a short-lived hold of stock for one product by one owner
type Reservation struct {
	ID                string
	ProductID         string
	Owner             Owner
	Quantity          int
	Status            ReservationStatus
	ExpiresAt         time.Time
	CheckoutSessionID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewReservation creates an active reservation expiring at expiresAt
func NewReservation(owner Owner, productID string, quantity int, expiresAt, now time.Time) *Reservation {
	return &Reservation{
		ID:        uuid.New().String(),
		ProductID: productID,
		Owner:     owner,
		Quantity:  quantity,
		Status:    StatusActive,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsHolding reports whether the reservation counts against available stock at now.
// A row past its expiry is inert even if the sweep has not flipped it yet.
func (r *Reservation) IsHolding(now time.Time) bool {
	return r.Status == StatusActive && r.ExpiresAt.After(now)
}

// IsDue reports whether the sweep should flip the reservation to expired
func (r *Reservation) IsDue(now time.Time) bool {
	return r.Status == StatusActive && r.ExpiresAt.Before(now)
}

// Transition moves an active reservation to a terminal status.
// It returns false when the reservation was already terminal.
func (r *Reservation) Transition(to ReservationStatus, now time.Time) bool {
	if r.Status != StatusActive || !to.IsTerminal() {
		return false
	}
	r.Status = to
	r.UpdatedAt = now
	return true
}

// Item is one line of a checkout request
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ValidateItems checks a checkout request is non-empty with positive quantities
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return ErrInvalidItems
	}
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return ErrInvalidItems
		}
	}
	return nil
}

// Product is the catalog view the reservation core reads
type Product struct {
	ID       string
	Name     string
	Stock    int
	ImageURL string
}

// Available returns stock minus reserved, floored at zero
func (p *Product) Available(reserved int) int {
	available := p.Stock - reserved
	if available < 0 {
		return 0
	}
	return available
}

// Notification is an in-app inbox message for an authenticated shopper
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Link      string
	ImageURL  string
	CreatedAt time.Time
}

// NotificationTypeStockAlert warns a shopper that an item in their cart is being reserved by someone else
const NotificationTypeStockAlert = "stock_alert"

// Domain errors
var (
	ErrIdentificationRequired  = &DomainError{Message: "Session identification required"}
	ErrInvalidItems            = &DomainError{Message: "at least one item with a positive quantity is required"}
	ErrProductNotFound         = &DomainError{Message: "product not found"}
	ErrInsufficientStock       = &DomainError{Message: "insufficient stock available"}
	ErrCheckoutSessionRequired = &DomainError{Message: "checkout session id is required"}
)

// DomainError represents a domain-level error
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}
