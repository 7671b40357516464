package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"reservation-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore implements Store on PostgreSQL through a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to databaseURL, waits for the server and applies migrations
func NewPostgresStore(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := waitForPostgres(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	if err := runPostgresMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("PostgreSQL store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func waitForPostgres(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	const attempts = 30
	for i := 0; i < attempts; i++ {
		if err := pool.Ping(ctx); err == nil {
			return nil
		}
		logger.Info("Waiting for database", zap.Int("attempt", i+1), zap.Int("max_attempts", attempts))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("failed to connect to database after %d attempts", attempts)
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// advisoryLock takes transaction-scoped locks on keys in sorted order so two
// transactions never wait on each other in opposite orders
func advisoryLock(ctx context.Context, tx pgx.Tx, keys []string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, key := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
	}
	return nil
}

func collectReservations(rows pgx.Rows) ([]*domain.Reservation, error) {
	defer rows.Close()

	var reservations []*domain.Reservation
	for rows.Next() {
		var (
			r                             domain.Reservation
			userID, sessionID, checkoutID *string
			status                        string
		)
		if err := rows.Scan(
			&r.ID,
			&r.ProductID,
			&userID,
			&sessionID,
			&r.Quantity,
			&status,
			&r.ExpiresAt,
			&checkoutID,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		if userID != nil {
			r.Owner.UserID = *userID
		}
		if sessionID != nil {
			r.Owner.SessionID = *sessionID
		}
		r.Status = domain.ReservationStatus(status)
		r.CheckoutSessionID = checkoutID
		reservations = append(reservations, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return reservations, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ReplaceActive implements ReservationRepository
func (s *PostgresStore) ReplaceActive(ctx context.Context, req ReplaceRequest) ([]*domain.Reservation, error) {
	var cancelled []*domain.Reservation

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// one replace per owner at a time keeps a single active set
		lockKeys := []string{"owner:" + req.Owner.String()}
		if req.Check != nil {
			for _, id := range productIDsOf(req.Reservations) {
				lockKeys = append(lockKeys, "product:"+id)
			}
		}
		if err := advisoryLock(ctx, tx, lockKeys); err != nil {
			return err
		}

		column, value := ownerColumn(req.Owner)
		rows, err := tx.Query(ctx, `
			UPDATE reservations
			SET status = 'cancelled', updated_at = $1
			WHERE status = 'active' AND `+column+` = $2
			RETURNING `+reservationColumns, req.Now, value)
		if err != nil {
			return fmt.Errorf("failed to cancel previous reservations: %w", err)
		}
		previous, err := collectReservations(rows)
		if err != nil {
			return err
		}

		if req.Check != nil {
			reserved, err := pgReservedQuantities(ctx, tx, productIDsOf(req.Reservations), req.Now)
			if err != nil {
				return err
			}
			if err := req.Check(reserved); err != nil {
				return err
			}
		}

		batch := &pgx.Batch{}
		for _, r := range req.Reservations {
			batch.Queue(`
				INSERT INTO reservations (`+reservationColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9)
			`,
				r.ID,
				r.ProductID,
				optional(r.Owner.UserID),
				optional(r.Owner.SessionID),
				r.Quantity,
				string(r.Status),
				r.ExpiresAt,
				r.CreatedAt,
				r.UpdatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert reservations: %w", err)
		}

		cancelled = previous
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// FindByIDs implements ReservationRepository
func (s *PostgresStore) FindByIDs(ctx context.Context, ids []string) ([]*domain.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	return collectReservations(rows)
}

// FindActiveByOwner implements ReservationRepository
func (s *PostgresStore) FindActiveByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Reservation, error) {
	column, value := ownerColumn(owner)
	rows, err := s.pool.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE status = 'active' AND `+column+` = $1 ORDER BY created_at, id`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	return collectReservations(rows)
}

func (s *PostgresStore) updateReturning(ctx context.Context, query string, args ...any) ([]*domain.Reservation, error) {
	rows, err := s.pool.Query(ctx, query+` RETURNING `+reservationColumns, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update reservations: %w", err)
	}
	return collectReservations(rows)
}

// Cancel implements ReservationRepository
func (s *PostgresStore) Cancel(ctx context.Context, ids []string, now time.Time) ([]*domain.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.updateReturning(ctx, `
		UPDATE reservations SET status = 'cancelled', updated_at = $1
		WHERE status = 'active' AND id = ANY($2)`, now, ids)
}

// ExpireDue implements ReservationRepository.
// Rows flipped by a concurrent sweep fail the status predicate and are not returned twice.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	return s.updateReturning(ctx, `
		UPDATE reservations SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at < $1`, now)
}

// CompleteByCheckoutSession implements ReservationRepository
func (s *PostgresStore) CompleteByCheckoutSession(ctx context.Context, checkoutSessionID string, now time.Time) ([]*domain.Reservation, error) {
	return s.updateReturning(ctx, `
		UPDATE reservations SET status = 'completed', updated_at = $1
		WHERE status = 'active' AND checkout_session_id = $2`, now, checkoutSessionID)
}

// LinkCheckoutSession implements ReservationRepository
func (s *PostgresStore) LinkCheckoutSession(ctx context.Context, ids []string, checkoutSessionID string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reservations SET checkout_session_id = $1, updated_at = $2
		WHERE status = 'active' AND id = ANY($3)`, checkoutSessionID, now, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to link checkout session: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgReservedQuantities(ctx context.Context, q pgQuerier, productIDs []string, now time.Time) (map[string]int, error) {
	reserved := make(map[string]int)
	if len(productIDs) == 0 {
		return reserved, nil
	}

	rows, err := q.Query(ctx, `
		SELECT product_id, SUM(quantity)::int
		FROM reservations
		WHERE status = 'active' AND expires_at > $1 AND product_id = ANY($2)
		GROUP BY product_id
	`, now, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to sum reserved quantities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var total int
		if err := rows.Scan(&productID, &total); err != nil {
			return nil, fmt.Errorf("failed to scan reserved quantity: %w", err)
		}
		reserved[productID] = total
	}
	return reserved, rows.Err()
}

// ReservedQuantities implements ReservationRepository
func (s *PostgresStore) ReservedQuantities(ctx context.Context, productIDs []string, now time.Time) (map[string]int, error) {
	return pgReservedQuantities(ctx, s.pool, productIDs, now)
}

// FindProduct implements ProductRepository
func (s *PostgresStore) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, stock, image_url FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Stock, &p.ImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &p, nil
}

// FindProducts implements ProductRepository
func (s *PostgresStore) FindProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id, name, stock, image_url FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock, &p.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = &p
	}
	return products, rows.Err()
}

// SaveProduct implements ProductRepository
func (s *PostgresStore) SaveProduct(ctx context.Context, product *domain.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, name, stock, image_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			stock = EXCLUDED.stock,
			image_url = EXCLUDED.image_url,
			updated_at = now()
	`, product.ID, product.Name, product.Stock, product.ImageURL)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// InsertNotifications implements NotificationRepository
func (s *PostgresStore) InsertNotifications(ctx context.Context, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range notifications {
		batch.Queue(`
			INSERT INTO notifications (id, user_id, type, title, message, link, image_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.ImageURL, n.CreatedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert notifications: %w", err)
	}
	return nil
}

// FindByUser implements NotificationRepository
func (s *PostgresStore) FindByUser(ctx context.Context, userID string) ([]*domain.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, title, message, link, image_url, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.ImageURL, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}
