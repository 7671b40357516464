package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"reservation-service/internal/domain"
)

// MemoryStore is an in-memory Store used by the memory driver and in tests.
// Every method holds the lock for its whole body, so each call is atomic.
type MemoryStore struct {
	mu            sync.RWMutex
	reservations  map[string]*domain.Reservation
	products      map[string]*domain.Product
	notifications map[string][]*domain.Notification
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reservations:  make(map[string]*domain.Reservation),
		products:      make(map[string]*domain.Product),
		notifications: make(map[string][]*domain.Notification),
	}
}

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	c := *r
	if r.CheckoutSessionID != nil {
		id := *r.CheckoutSessionID
		c.CheckoutSessionID = &id
	}
	return &c
}

// sortedCopies returns clones ordered by creation then id so results are stable
func sortedCopies(rows []*domain.Reservation) []*domain.Reservation {
	out := make([]*domain.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneReservation(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ReplaceActive implements ReservationRepository
func (s *MemoryStore) ReplaceActive(ctx context.Context, req ReplaceRequest) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous []*domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.StatusActive && r.Owner == req.Owner {
			previous = append(previous, r)
		}
	}

	if req.Check != nil {
		products := make(map[string]struct{})
		for _, id := range productIDsOf(req.Reservations) {
			products[id] = struct{}{}
		}
		var holding []*domain.Reservation
		for _, r := range s.reservations {
			if _, ok := products[r.ProductID]; !ok || r.Owner == req.Owner {
				continue
			}
			if r.IsHolding(req.Now) {
				holding = append(holding, r)
			}
		}
		if err := req.Check(sumByProduct(holding)); err != nil {
			return nil, err
		}
	}

	cancelled := make([]*domain.Reservation, 0, len(previous))
	for _, r := range previous {
		r.Transition(domain.StatusCancelled, req.Now)
		cancelled = append(cancelled, r)
	}
	for _, r := range req.Reservations {
		s.reservations[r.ID] = cloneReservation(r)
	}

	return sortedCopies(cancelled), nil
}

// FindByIDs implements ReservationRepository
func (s *MemoryStore) FindByIDs(ctx context.Context, ids []string) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*domain.Reservation
	for _, id := range ids {
		if r, ok := s.reservations[id]; ok {
			found = append(found, r)
		}
	}
	return sortedCopies(found), nil
}

// FindActiveByOwner implements ReservationRepository
func (s *MemoryStore) FindActiveByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.StatusActive && r.Owner == owner {
			found = append(found, r)
		}
	}
	return sortedCopies(found), nil
}

// Cancel implements ReservationRepository
func (s *MemoryStore) Cancel(ctx context.Context, ids []string, now time.Time) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []*domain.Reservation
	for _, id := range ids {
		r, ok := s.reservations[id]
		if ok && r.Transition(domain.StatusCancelled, now) {
			cancelled = append(cancelled, r)
		}
	}
	return sortedCopies(cancelled), nil
}

// ExpireDue implements ReservationRepository
func (s *MemoryStore) ExpireDue(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*domain.Reservation
	for _, r := range s.reservations {
		if r.IsDue(now) && r.Transition(domain.StatusExpired, now) {
			expired = append(expired, r)
		}
	}
	return sortedCopies(expired), nil
}

// CompleteByCheckoutSession implements ReservationRepository
func (s *MemoryStore) CompleteByCheckoutSession(ctx context.Context, checkoutSessionID string, now time.Time) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []*domain.Reservation
	for _, r := range s.reservations {
		if r.CheckoutSessionID == nil || *r.CheckoutSessionID != checkoutSessionID {
			continue
		}
		if r.Transition(domain.StatusCompleted, now) {
			completed = append(completed, r)
		}
	}
	return sortedCopies(completed), nil
}

// LinkCheckoutSession implements ReservationRepository
func (s *MemoryStore) LinkCheckoutSession(ctx context.Context, ids []string, checkoutSessionID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	linked := 0
	for _, id := range ids {
		r, ok := s.reservations[id]
		if !ok || r.Status != domain.StatusActive {
			continue
		}
		sessionID := checkoutSessionID
		r.CheckoutSessionID = &sessionID
		r.UpdatedAt = now
		linked++
	}
	return linked, nil
}

// ReservedQuantities implements ReservationRepository
func (s *MemoryStore) ReservedQuantities(ctx context.Context, productIDs []string, now time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}

	var holding []*domain.Reservation
	for _, r := range s.reservations {
		if _, ok := wanted[r.ProductID]; ok && r.IsHolding(now) {
			holding = append(holding, r)
		}
	}
	return sumByProduct(holding), nil
}

// FindProduct implements ProductRepository
func (s *MemoryStore) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	c := *p
	return &c, nil
}

// FindProducts implements ProductRepository
func (s *MemoryStore) FindProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			c := *p
			found[id] = &c
		}
	}
	return found, nil
}

// SaveProduct implements ProductRepository
func (s *MemoryStore) SaveProduct(ctx context.Context, product *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *product
	s.products[product.ID] = &c
	return nil
}

// InsertNotifications implements NotificationRepository
func (s *MemoryStore) InsertNotifications(ctx context.Context, notifications []*domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range notifications {
		c := *n
		s.notifications[n.UserID] = append(s.notifications[n.UserID], &c)
	}
	return nil
}

// FindByUser implements NotificationRepository
func (s *MemoryStore) FindByUser(ctx context.Context, userID string) ([]*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Notification, 0, len(s.notifications[userID]))
	for _, n := range s.notifications[userID] {
		c := *n
		out = append(out, &c)
	}
	return out, nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements ReservationRepository
func (s *MemoryStore) Close() error {
	return nil
}

// MemoryCartRepository keeps product-to-users cart membership in memory
type MemoryCartRepository struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{users: make(map[string]map[string]struct{})}
}

func (c *MemoryCartRepository) FindUsersWithProductInCart(ctx context.Context, productID, excludeUserID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var users []string
	for userID := range c.users[productID] {
		if userID != excludeUserID {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (c *MemoryCartRepository) AddItem(ctx context.Context, userID, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.users[productID] == nil {
		c.users[productID] = make(map[string]struct{})
	}
	c.users[productID][userID] = struct{}{}
	return nil
}

func (c *MemoryCartRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.users[productID], userID)
	return nil
}
