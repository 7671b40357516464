package handlers

import "time"

// ErrorResponse represents an error response
// @Description Error response; success is always false
type ErrorResponse struct {
	Success bool `json:"success" example:"false"`
	// Error code
	// @Example "IdentificationRequired"
	// @Example "ProductNotFound"
	Code string `json:"code" example:"IdentificationRequired"`
	// Error message describing what went wrong
	Error   string `json:"error" example:"Session identification required"`
	Details string `json:"details,omitempty" example:"Sign in or send a guest session id"`
}

// SuccessResponse represents a bare success response
type SuccessResponse struct {
	Success bool `json:"success" example:"true"`
}

// ReservationItem is one cart line to hold
type ReservationItem struct {
	ProductID string `json:"productId" binding:"required" example:"prod-acm-4x8-white"`
	Quantity  int    `json:"quantity" binding:"required,min=1" example:"2"`
}

// CreateReservationsRequest represents the request body for holding cart contents at checkout
// @Description Holds replace any previous holds of the same shopper
type CreateReservationsRequest struct {
	Items []ReservationItem `json:"items" binding:"required,min=1,dive"`
	// Guest session id; ignored when the request carries a valid bearer token
	GuestSessionID string `json:"guestSessionId,omitempty" example:"7f1c2e9a-guest"`
}

// CreateReservationsResponse represents the response after holding stock
type CreateReservationsResponse struct {
	Success        bool      `json:"success" example:"true"`
	ReservationIDs []string  `json:"reservationIds"`
	ExpiresAt      time.Time `json:"expiresAt" example:"2024-01-15T10:35:00Z"`
}

// ReleaseReservationsRequest represents the request body for releasing holds by id
type ReleaseReservationsRequest struct {
	ReservationIDs []string `json:"reservationIds" binding:"required"`
}

// OwnerRequest identifies a guest shopper; signed-in shoppers may send an empty body
type OwnerRequest struct {
	GuestSessionID string `json:"guestSessionId,omitempty" example:"7f1c2e9a-guest"`
}

// BeaconRequest is the payload of navigator.sendBeacon on page unload
type BeaconRequest struct {
	SessionID string `json:"sessionId" example:"7f1c2e9a-guest"`
	Token     string `json:"token,omitempty" example:"eyJhbGciOiJIUzI1NiIs..."`
}

// LinkReservationsRequest attaches a payment session to holds
type LinkReservationsRequest struct {
	ReservationIDs    []string `json:"reservationIds" binding:"required"`
	CheckoutSessionID string   `json:"checkoutSessionId" binding:"required" example:"cs_test_a1b2c3"`
}

// ExpiryResponse carries the earliest expiry of the shopper's holds, null when none
type ExpiryResponse struct {
	Success   bool       `json:"success" example:"true"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// StockResponse represents the availability of one product
type StockResponse struct {
	Success        bool   `json:"success" example:"true"`
	ProductID      string `json:"productId" example:"prod-acm-4x8-white"`
	AvailableStock int    `json:"availableStock" example:"7"`
}

// BulkStockResponse maps product ids to availability; unknown ids are omitted
type BulkStockResponse struct {
	Success bool           `json:"success" example:"true"`
	Stock   map[string]int `json:"stock"`
}

// CleanupResponse represents the result of an expiry sweep
type CleanupResponse struct {
	Success       bool `json:"success" example:"true"`
	ReleasedCount int  `json:"releasedCount" example:"3"`
}

// HealthResponse represents the service health
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Service string `json:"service" example:"reservation-service"`
	Store   string `json:"store" example:"ok"`
}
