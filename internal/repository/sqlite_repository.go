package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"reservation-service/internal/domain"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const reservationColumns = `id, product_id, user_id, session_id, quantity, status, expires_at, checkout_session_id, created_at, updated_at`

// timeLayout has fixed-width fractions so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on SQLite.
// It follows the single writer principle: one connection, and writes are serialized by mu.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// NewSQLiteStore opens the database at path and applies migrations
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite store ready", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withWriteTx runs fn in a transaction while holding the writer lock
func (s *SQLiteStore) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// maxInListSize keeps every IN list well below SQLite's bound-variable limit
const maxInListSize = 500

// chunkIDs drops duplicate ids and splits the rest into IN lists of at most maxInListSize
func chunkIDs(ids []string) [][]string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	var chunks [][]string
	for len(unique) > maxInListSize {
		chunks = append(chunks, unique[:maxInListSize])
		unique = unique[maxInListSize:]
	}
	if len(unique) > 0 {
		chunks = append(chunks, unique)
	}
	return chunks
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// ownerColumn returns the column and value identifying the owner
func ownerColumn(owner domain.Owner) (string, string) {
	if owner.UserID != "" {
		return "user_id", owner.UserID
	}
	return "session_id", owner.SessionID
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func queryReservations(ctx context.Context, q querier, query string, args ...interface{}) ([]*domain.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*domain.Reservation
	for rows.Next() {
		var (
			r                             domain.Reservation
			userID, sessionID, checkoutID sql.NullString
			status                        string
			expiresAtMillis               int64
			createdAtStr, updatedAtStr    string
		)
		if err := rows.Scan(
			&r.ID,
			&r.ProductID,
			&userID,
			&sessionID,
			&r.Quantity,
			&status,
			&expiresAtMillis,
			&checkoutID,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}

		r.Owner = domain.Owner{UserID: userID.String, SessionID: sessionID.String}
		r.Status = domain.ReservationStatus(status)
		r.ExpiresAt = time.UnixMilli(expiresAtMillis).UTC()
		if checkoutID.Valid {
			id := checkoutID.String
			r.CheckoutSessionID = &id
		}
		r.CreatedAt = parseTime(createdAtStr)
		r.UpdatedAt = parseTime(updatedAtStr)
		reservations = append(reservations, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return reservations, nil
}

// transition updates the given active rows to status and mirrors the change on the returned structs
func transition(ctx context.Context, q querier, rows []*domain.Reservation, status domain.ReservationStatus, now time.Time) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	for _, chunk := range chunkIDs(ids) {
		args := append([]interface{}{string(status), formatTime(now)}, stringArgs(chunk)...)
		query := `UPDATE reservations SET status = ?, updated_at = ? WHERE status = 'active' AND id IN (` + placeholders(len(chunk)) + `)`
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update reservation status: %w", err)
		}
	}

	for _, r := range rows {
		r.Transition(status, now)
	}
	return nil
}

func reservedQuantities(ctx context.Context, q querier, productIDs []string, now time.Time) (map[string]int, error) {
	reserved := make(map[string]int)
	for _, chunk := range chunkIDs(productIDs) {
		if err := sumReserved(ctx, q, chunk, now, reserved); err != nil {
			return nil, err
		}
	}
	return reserved, nil
}

func sumReserved(ctx context.Context, q querier, productIDs []string, now time.Time, reserved map[string]int) error {
	query := `
		SELECT product_id, SUM(quantity)
		FROM reservations
		WHERE status = 'active' AND expires_at > ? AND product_id IN (` + placeholders(len(productIDs)) + `)
		GROUP BY product_id
	`
	args := append([]interface{}{now.UnixMilli()}, stringArgs(productIDs)...)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to sum reserved quantities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var total int
		if err := rows.Scan(&productID, &total); err != nil {
			return fmt.Errorf("failed to scan reserved quantity: %w", err)
		}
		reserved[productID] = total
	}
	return rows.Err()
}

// ReplaceActive implements ReservationRepository
func (s *SQLiteStore) ReplaceActive(ctx context.Context, req ReplaceRequest) ([]*domain.Reservation, error) {
	var cancelled []*domain.Reservation

	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		column, value := ownerColumn(req.Owner)
		previous, err := queryReservations(ctx, tx,
			`SELECT `+reservationColumns+` FROM reservations WHERE status = 'active' AND `+column+` = ?`, value)
		if err != nil {
			return err
		}
		if err := transition(ctx, tx, previous, domain.StatusCancelled, req.Now); err != nil {
			return err
		}

		// the writer lock already excludes every other reservation write
		if req.Check != nil {
			reserved, err := reservedQuantities(ctx, tx, productIDsOf(req.Reservations), req.Now)
			if err != nil {
				return err
			}
			if err := req.Check(reserved); err != nil {
				return err
			}
		}

		for _, r := range req.Reservations {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO reservations (`+reservationColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				r.ID,
				r.ProductID,
				nullable(r.Owner.UserID),
				nullable(r.Owner.SessionID),
				r.Quantity,
				string(r.Status),
				r.ExpiresAt.UnixMilli(),
				sql.NullString{},
				formatTime(r.CreatedAt),
				formatTime(r.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to insert reservation: %w", err)
			}
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
func (s *SQLiteStore) FindByIDs(ctx context.Context, ids []string) ([]*domain.Reservation, error) {
	var found []*domain.Reservation
	for _, chunk := range chunkIDs(ids) {
		rows, err := queryReservations(ctx, s.db,
			`SELECT `+reservationColumns+` FROM reservations WHERE id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		found = append(found, rows...)
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].CreatedAt.Before(found[j].CreatedAt)
		}
		return found[i].ID < found[j].ID
	})
	return found, nil
}

// FindActiveByOwner implements ReservationRepository
func (s *SQLiteStore) FindActiveByOwner(ctx context.Context, owner domain.Owner) ([]*domain.Reservation, error) {
	column, value := ownerColumn(owner)
	return queryReservations(ctx, s.db,
		`SELECT `+reservationColumns+` FROM reservations WHERE status = 'active' AND `+column+` = ? ORDER BY created_at, id`,
		value)
}

// Cancel implements ReservationRepository
func (s *SQLiteStore) Cancel(ctx context.Context, ids []string, now time.Time) ([]*domain.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var cancelled []*domain.Reservation
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var rows []*domain.Reservation
		for _, chunk := range chunkIDs(ids) {
			active, err := queryReservations(ctx, tx,
				`SELECT `+reservationColumns+` FROM reservations WHERE status = 'active' AND id IN (`+placeholders(len(chunk))+`)`,
				stringArgs(chunk)...)
			if err != nil {
				return err
			}
			rows = append(rows, active...)
		}
		if err := transition(ctx, tx, rows, domain.StatusCancelled, now); err != nil {
			return err
		}
		cancelled = rows
		return nil
	})
	return cancelled, err
}

// ExpireDue implements ReservationRepository
func (s *SQLiteStore) ExpireDue(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	var expired []*domain.Reservation
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		rows, err := queryReservations(ctx, tx,
			`SELECT `+reservationColumns+` FROM reservations WHERE status = 'active' AND expires_at < ?`,
			now.UnixMilli())
		if err != nil {
			return err
		}
		if err := transition(ctx, tx, rows, domain.StatusExpired, now); err != nil {
			return err
		}
		expired = rows
		return nil
	})
	return expired, err
}

// CompleteByCheckoutSession implements ReservationRepository
func (s *SQLiteStore) CompleteByCheckoutSession(ctx context.Context, checkoutSessionID string, now time.Time) ([]*domain.Reservation, error) {
	var completed []*domain.Reservation
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		rows, err := queryReservations(ctx, tx,
			`SELECT `+reservationColumns+` FROM reservations WHERE status = 'active' AND checkout_session_id = ?`,
			checkoutSessionID)
		if err != nil {
			return err
		}
		if err := transition(ctx, tx, rows, domain.StatusCompleted, now); err != nil {
			return err
		}
		completed = rows
		return nil
	})
	return completed, err
}

// LinkCheckoutSession implements ReservationRepository
func (s *SQLiteStore) LinkCheckoutSession(ctx context.Context, ids []string, checkoutSessionID string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var linked int64
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range chunkIDs(ids) {
			args := append([]interface{}{checkoutSessionID, formatTime(now)}, stringArgs(chunk)...)
			result, err := tx.ExecContext(ctx,
				`UPDATE reservations SET checkout_session_id = ?, updated_at = ? WHERE status = 'active' AND id IN (`+placeholders(len(chunk))+`)`,
				args...)
			if err != nil {
				return fmt.Errorf("failed to link checkout session: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			linked += n
		}
		return nil
	})
	return int(linked), err
}

// ReservedQuantities implements ReservationRepository
func (s *SQLiteStore) ReservedQuantities(ctx context.Context, productIDs []string, now time.Time) (map[string]int, error) {
	return reservedQuantities(ctx, s.db, productIDs, now)
}

// FindProduct implements ProductRepository
func (s *SQLiteStore) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, stock, image_url FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Stock, &p.ImageURL)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &p, nil
}

// FindProducts implements ProductRepository
func (s *SQLiteStore) FindProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product, len(ids))
	for _, chunk := range chunkIDs(ids) {
		if err := s.findProductChunk(ctx, chunk, products); err != nil {
			return nil, err
		}
	}
	return products, nil
}

func (s *SQLiteStore) findProductChunk(ctx context.Context, ids []string, products map[string]*domain.Product) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, stock, image_url FROM products WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("failed to find products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock, &p.ImageURL); err != nil {
			return fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = &p
	}
	return rows.Err()
}

// SaveProduct implements ProductRepository
func (s *SQLiteStore) SaveProduct(ctx context.Context, product *domain.Product) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, stock, image_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				stock = excluded.stock,
				image_url = excluded.image_url,
				updated_at = excluded.updated_at
		`, product.ID, product.Name, product.Stock, product.ImageURL, now, now)
		if err != nil {
			return fmt.Errorf("failed to save product: %w", err)
		}
		return nil
	})
}

// InsertNotifications implements NotificationRepository
func (s *SQLiteStore) InsertNotifications(ctx context.Context, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, n := range notifications {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO notifications (id, user_id, type, title, message, link, image_url, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.ImageURL, formatTime(n.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to insert notification: %w", err)
			}
		}
		return nil
	})
}

// FindByUser implements NotificationRepository
func (s *SQLiteStore) FindByUser(ctx context.Context, userID string) ([]*domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, link, image_url, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var createdAtStr string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.ImageURL, &createdAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CreatedAt = parseTime(createdAtStr)
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}
