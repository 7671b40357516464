package reservations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"reservation-service/internal/domain"
	"reservation-service/internal/events"
	"reservation-service/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "reservation-service/internal/reservations"

// Options tunes the reservation policy
type Options struct {
	HoldDuration time.Duration
	// AllowOversell reserves the requested quantity even when it exceeds what is available
	AllowOversell bool
	// Now overrides the clock in tests
	Now func() time.Time
}

// DefaultOptions returns the storefront defaults: five minute holds, backorders allowed
func DefaultOptions() Options {
	return Options{
		HoldDuration:  domain.DefaultHoldDuration,
		AllowOversell: true,
		Now:           time.Now,
	}
}

// Dependencies are the collaborators of the Manager.
// Carts and Notifications are optional; without them no in-app alerts are written.
type Dependencies struct {
	Reservations  repository.ReservationRepository
	Products      repository.ProductRepository
	Carts         repository.CartRepository
	Notifications repository.NotificationRepository
	Publisher     events.EventPublisher
	Logger        *zap.Logger
}

// CheckoutReservation is the result of placing holds for a checkout
type CheckoutReservation struct {
	ReservationIDs []string  `json:"reservationIds"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Manager owns the reservation lifecycle and the availability math
type Manager struct {
	reservations  repository.ReservationRepository
	products      repository.ProductRepository
	carts         repository.CartRepository
	notifications repository.NotificationRepository
	publisher     events.EventPublisher
	logger        *zap.Logger
	tracer        trace.Tracer

	holdDuration  time.Duration
	allowOversell bool
	now           func() time.Time
}

// NewManager creates a Manager
func NewManager(deps Dependencies, opts Options) *Manager {
	if opts.HoldDuration <= 0 {
		opts.HoldDuration = domain.DefaultHoldDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Manager{
		reservations:  deps.Reservations,
		products:      deps.Products,
		carts:         deps.Carts,
		notifications: deps.Notifications,
		publisher:     deps.Publisher,
		logger:        deps.Logger,
		tracer:        otel.Tracer(tracerName),
		holdDuration:  opts.HoldDuration,
		allowOversell: opts.AllowOversell,
		now:           opts.Now,
	}
}

// clock returns the current time at the precision every store keeps
func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// CreateReservationsForCheckout replaces the owner's holds with one hold per item.
// Every new row shares one expiry.
func (m *Manager) CreateReservationsForCheckout(ctx context.Context, items []domain.Item, owner domain.Owner) (*CheckoutReservation, error) {
	ctx, span := m.startSpan(ctx, "reservations.create",
		attribute.String("owner", owner.String()),
		attribute.Int("items", len(items)),
	)
	defer span.End()

	if err := owner.Validate(); err != nil {
		return nil, fail(span, err)
	}
	if err := domain.ValidateItems(items); err != nil {
		return nil, fail(span, err)
	}

	requested := quantitiesByProduct(items)
	productIDs := sortedKeys(requested)

	products, err := m.products.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to load products: %w", err))
	}
	for _, id := range productIDs {
		if _, ok := products[id]; !ok {
			return nil, fail(span, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id))
		}
	}

	// Lazy sweep; reads already ignore rows past expiry, so a failure here is not fatal
	if _, err := m.CleanupExpiredReservations(ctx); err != nil {
		m.logger.Warn("Lazy sweep failed before reservation", zap.Error(err))
	}

	now := m.clock()
	expiresAt := now.Add(m.holdDuration)

	rows := make([]*domain.Reservation, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		r := domain.NewReservation(owner, item.ProductID, item.Quantity, expiresAt, now)
		rows = append(rows, r)
		ids = append(ids, r.ID)
	}

	req := repository.ReplaceRequest{
		Owner:        owner,
		Reservations: rows,
		Now:          now,
	}
	if !m.allowOversell {
		req.Check = func(reserved map[string]int) error {
			for _, id := range productIDs {
				if products[id].Available(reserved[id]) < requested[id] {
					return fmt.Errorf("%w: %s", domain.ErrInsufficientStock, id)
				}
			}
			return nil
		}
	}

	cancelled, err := m.reservations.ReplaceActive(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			return nil, fail(span, err)
		}
		return nil, fail(span, fmt.Errorf("failed to create reservations: %w", err))
	}

	m.logger.Info("Reservations created",
		zap.String("owner", owner.String()),
		zap.Strings("reservation_ids", ids),
		zap.Int("superseded", len(cancelled)),
		zap.Time("expires_at", expiresAt),
	)

	m.publishReserved(ctx, owner, products, requested, now)

	// products that only lost a hold through supersession
	var dropped []*domain.Reservation
	for _, r := range cancelled {
		if _, ok := requested[r.ProductID]; !ok {
			dropped = append(dropped, r)
		}
	}
	m.publishReleased(ctx, dropped, now)

	return &CheckoutReservation{ReservationIDs: ids, ExpiresAt: expiresAt}, nil
}

// ReleaseReservations cancels the given holds. Unknown and terminal ids are ignored.
func (m *Manager) ReleaseReservations(ctx context.Context, ids []string) error {
	ctx, span := m.startSpan(ctx, "reservations.release", attribute.Int("ids", len(ids)))
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	now := m.clock()
	cancelled, err := m.reservations.Cancel(ctx, ids, now)
	if err != nil {
		return fail(span, fmt.Errorf("failed to release reservations: %w", err))
	}

	m.logger.Info("Reservations released",
		zap.Int("requested", len(ids)),
		zap.Int("released", len(cancelled)),
	)
	m.publishReleased(ctx, cancelled, now)
	return nil
}

// ReleaseUserReservations cancels every active hold of the owner
func (m *Manager) ReleaseUserReservations(ctx context.Context, owner domain.Owner) error {
	ctx, span := m.startSpan(ctx, "reservations.release_owner", attribute.String("owner", owner.String()))
	defer span.End()

	if err := owner.Validate(); err != nil {
		return fail(span, err)
	}

	active, err := m.reservations.FindActiveByOwner(ctx, owner)
	if err != nil {
		return fail(span, fmt.Errorf("failed to find reservations: %w", err))
	}
	if len(active) == 0 {
		return nil
	}

	ids := make([]string, len(active))
	for i, r := range active {
		ids[i] = r.ID
	}
	return m.ReleaseReservations(ctx, ids)
}

// CleanupExpiredReservations flips holds past expiry to expired and returns how many were flipped
func (m *Manager) CleanupExpiredReservations(ctx context.Context) (int, error) {
	ctx, span := m.startSpan(ctx, "reservations.sweep")
	defer span.End()

	now := m.clock()
	expired, err := m.reservations.ExpireDue(ctx, now)
	if err != nil {
		return 0, fail(span, fmt.Errorf("failed to expire reservations: %w", err))
	}
	span.SetAttributes(attribute.Int("expired", len(expired)))

	if len(expired) > 0 {
		m.logger.Info("Expired reservations swept", zap.Int("count", len(expired)))
		m.publishReleased(ctx, expired, now)
	}
	return len(expired), nil
}

// CompleteReservations marks the holds linked to a paid checkout session as completed.
// Completion does not publish: the stock ledger update that follows payment is the change other shoppers see.
func (m *Manager) CompleteReservations(ctx context.Context, checkoutSessionID string) error {
	ctx, span := m.startSpan(ctx, "reservations.complete", attribute.String("checkout_session_id", checkoutSessionID))
	defer span.End()

	if checkoutSessionID == "" {
		return fail(span, domain.ErrCheckoutSessionRequired)
	}

	completed, err := m.reservations.CompleteByCheckoutSession(ctx, checkoutSessionID, m.clock())
	if err != nil {
		return fail(span, fmt.Errorf("failed to complete reservations: %w", err))
	}

	m.logger.Info("Reservations completed",
		zap.String("checkout_session_id", checkoutSessionID),
		zap.Int("count", len(completed)),
	)
	return nil
}

// LinkReservationsToCheckout attaches a payment session id to active holds
func (m *Manager) LinkReservationsToCheckout(ctx context.Context, ids []string, checkoutSessionID string) error {
	ctx, span := m.startSpan(ctx, "reservations.link", attribute.String("checkout_session_id", checkoutSessionID))
	defer span.End()

	if checkoutSessionID == "" {
		return fail(span, domain.ErrCheckoutSessionRequired)
	}
	if len(ids) == 0 {
		return nil
	}

	linked, err := m.reservations.LinkCheckoutSession(ctx, ids, checkoutSessionID, m.clock())
	if err != nil {
		return fail(span, fmt.Errorf("failed to link reservations: %w", err))
	}

	m.logger.Info("Reservations linked to checkout session",
		zap.String("checkout_session_id", checkoutSessionID),
		zap.Int("requested", len(ids)),
		zap.Int("linked", linked),
	)
	return nil
}

// GetUserReservationExpiry returns the earliest expiry among the owner's live holds, or nil
func (m *Manager) GetUserReservationExpiry(ctx context.Context, owner domain.Owner) (*time.Time, error) {
	ctx, span := m.startSpan(ctx, "reservations.expiry", attribute.String("owner", owner.String()))
	defer span.End()

	if err := owner.Validate(); err != nil {
		return nil, fail(span, err)
	}

	active, err := m.reservations.FindActiveByOwner(ctx, owner)
	if err != nil {
		return nil, fail(span, fmt.Errorf("failed to find reservations: %w", err))
	}

	now := m.clock()
	var earliest *time.Time
	for _, r := range active {
		if !r.IsHolding(now) {
			continue
		}
		if earliest == nil || r.ExpiresAt.Before(*earliest) {
			expiresAt := r.ExpiresAt
			earliest = &expiresAt
		}
	}
	return earliest, nil
}

// GetAvailableStock returns stock minus live holds for one product
func (m *Manager) GetAvailableStock(ctx context.Context, productID string) (int, error) {
	ctx, span := m.startSpan(ctx, "reservations.available", attribute.String("product_id", productID))
	defer span.End()

	product, err := m.products.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return 0, fail(span, err)
		}
		return 0, fail(span, fmt.Errorf("failed to load product: %w", err))
	}

	reserved, err := m.reservations.ReservedQuantities(ctx, []string{productID}, m.clock())
	if err != nil {
		return 0, fail(span, fmt.Errorf("failed to sum reservations: %w", err))
	}
	return product.Available(reserved[productID]), nil
}

// GetAvailableStockBulk returns availability for many products with one grouped query.
// Unknown products are left out of the result.
func (m *Manager) GetAvailableStockBulk(ctx context.Context, productIDs []string) (map[string]int, error) {
	ctx, span := m.startSpan(ctx, "reservations.available_bulk", attribute.Int("products", len(productIDs)))
	defer span.End()

	available, err := m.availability(ctx, uniqueStrings(productIDs), m.clock())
	if err != nil {
		return nil, fail(span, err)
	}

	result := make(map[string]int, len(available))
	for id, a := range available {
		result[id] = a.available
	}
	return result, nil
}

type productAvailability struct {
	product   *domain.Product
	available int
}

func (m *Manager) availability(ctx context.Context, productIDs []string, now time.Time) (map[string]productAvailability, error) {
	result := make(map[string]productAvailability, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	products, err := m.products.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	reserved, err := m.reservations.ReservedQuantities(ctx, productIDs, now)
	if err != nil {
		return nil, fmt.Errorf("failed to sum reservations: %w", err)
	}

	for id, product := range products {
		result[id] = productAvailability{product: product, available: product.Available(reserved[id])}
	}
	return result, nil
}

func (m *Manager) publishReserved(ctx context.Context, owner domain.Owner, products map[string]*domain.Product, requested map[string]int, now time.Time) {
	reserved, err := m.reservations.ReservedQuantities(ctx, sortedKeys(requested), now)
	if err != nil {
		m.logger.Warn("Skipping stock-reserved events", zap.Error(err))
		return
	}

	for _, id := range sortedKeys(requested) {
		product := products[id]
		available := product.Available(reserved[id])

		m.publish(ctx, events.StockReservedEvent{
			ProductID:           id,
			ProductName:         product.Name,
			ReservedQuantity:    requested[id],
			AvailableStock:      available,
			ReservedByUserID:    owner.UserID,
			ReservedBySessionID: owner.SessionID,
			OccurredAt:          now,
		})
		m.notifyCartHolders(ctx, owner, product, available, now)
	}
}

func (m *Manager) publishReleased(ctx context.Context, released []*domain.Reservation, now time.Time) {
	if len(released) == 0 {
		return
	}

	quantities := make(map[string]int)
	for _, r := range released {
		quantities[r.ProductID] += r.Quantity
	}

	available, err := m.availability(ctx, sortedKeys(quantities), now)
	if err != nil {
		m.logger.Warn("Skipping stock-released events", zap.Error(err))
		return
	}

	for _, id := range sortedKeys(quantities) {
		a, ok := available[id]
		if !ok {
			m.logger.Debug("Released reservation for unknown product", zap.String("product_id", id))
			continue
		}
		m.publish(ctx, events.StockReleasedEvent{
			ProductID:        id,
			ProductName:      a.product.Name,
			ReleasedQuantity: quantities[id],
			AvailableStock:   a.available,
			OccurredAt:       now,
		})
	}
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.publisher == nil {
		return
	}
	channel := events.ChannelFor(event.PartitionKey())
	if err := m.publisher.Publish(ctx, channel, event); err != nil {
		m.logger.Warn("Failed to publish stock event",
			zap.String("channel", channel),
			zap.String("event-type", event.EventType()),
			zap.Error(err),
		)
	}
}

// notifyCartHolders writes an inbox alert for every other user with the product in their cart
func (m *Manager) notifyCartHolders(ctx context.Context, owner domain.Owner, product *domain.Product, available int, now time.Time) {
	if m.carts == nil || m.notifications == nil {
		return
	}

	users, err := m.carts.FindUsersWithProductInCart(ctx, product.ID, owner.UserID)
	if err != nil {
		m.logger.Warn("Failed to look up carts for stock alert", zap.String("product_id", product.ID), zap.Error(err))
		return
	}
	if len(users) == 0 {
		return
	}

	notifications := make([]*domain.Notification, 0, len(users))
	for _, userID := range users {
		notifications = append(notifications, &domain.Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			Type:      domain.NotificationTypeStockAlert,
			Title:     "An item in your cart is selling fast",
			Message:   fmt.Sprintf("Another shopper is checking out %s. Only %d left in stock.", product.Name, available),
			Link:      "/products/" + product.ID,
			ImageURL:  product.ImageURL,
			CreatedAt: now,
		})
	}

	if err := m.notifications.InsertNotifications(ctx, notifications); err != nil {
		m.logger.Warn("Failed to write stock alerts", zap.String("product_id", product.ID), zap.Error(err))
		return
	}
	m.logger.Debug("Stock alerts written", zap.String("product_id", product.ID), zap.Int("users", len(users)))
}

func quantitiesByProduct(items []domain.Item) map[string]int {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}
	return totals
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
