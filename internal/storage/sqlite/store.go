// Package sqlite persists the tracker tables in a local SQLite file through
// sqlx and the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/pricewatch/internal/storage/migrations"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const driverName = "sqlite"

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

const productColumns = `id, name, url, COALESCE(custom_selector, '') AS custom_selector, is_active, created_at`

// Config controls the SQLite database location.
type Config struct {
	// DSN is a file path or a file: URI.
	DSN string
}

// Store implements tracker.Store on SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ tracker.Store = (*Store)(nil)

// New opens the database file. Foreign keys are enforced and times are
// written in SQLite's own format.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	db, err := sqlx.Open(driverName, withPragmas(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the watcher is sequential anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func withPragmas(dsn string) string {
	params := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db.DB, migrations.SQLite)
}

// DB exposes the handle for migration commands.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// ListActiveProducts returns active products ordered by ID.
func (s *Store) ListActiveProducts(ctx context.Context) ([]tracker.Product, error) {
	var products []tracker.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE is_active = 1 ORDER BY id`
	if err := s.db.SelectContext(ctx, &products, query); err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	return products, nil
}

// AppendSamples inserts the batch in one transaction.
func (s *Store) AppendSamples(ctx context.Context, samples []tracker.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]tracker.PriceSample, len(samples))
	for i, sample := range samples {
		if sample.CreatedAt.IsZero() {
			sample.CreatedAt = s.now()
		}
		rows[i] = sample
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
INSERT INTO price_history (product_id, price, in_stock, timestamp)
VALUES (:product_id, :price, :in_stock, :timestamp)`, rows)
		if err != nil {
			return fmt.Errorf("insert samples: %w", err)
		}
		return nil
	})
}

// ReadSignal returns the latest refresh request.
func (s *Store) ReadSignal(ctx context.Context) (tracker.UpdateSignal, bool, error) {
	var signal tracker.UpdateSignal
	err := s.db.GetContext(ctx, &signal, `
SELECT last_update_requested FROM system_state ORDER BY last_update_requested DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.UpdateSignal{}, false, nil
	}
	if err != nil {
		return tracker.UpdateSignal{}, false, fmt.Errorf("read signal: %w", err)
	}
	return signal, true, nil
}

// WriteSignal replaces the mailbox row and discards any stray rows.
func (s *Store) WriteSignal(ctx context.Context, signal tracker.UpdateSignal) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM system_state WHERE id <> 1`); err != nil {
			return fmt.Errorf("clear signal rows: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO system_state (id, last_update_requested) VALUES (1, ?)
ON CONFLICT (id) DO UPDATE SET last_update_requested = excluded.last_update_requested`,
			signal.RequestedAt.UTC())
		if err != nil {
			return fmt.Errorf("upsert signal: %w", err)
		}
		return nil
	})
}

// CreateProduct inserts a product, reporting tracker.ErrDuplicateURL on conflict.
func (s *Store) CreateProduct(ctx context.Context, product tracker.Product) (tracker.Product, error) {
	if product.CreatedAt.IsZero() {
		product.CreatedAt = s.now()
	}
	var id int64
	err := s.db.GetContext(ctx, &id, `
INSERT INTO products (name, url, custom_selector, is_active, created_at)
VALUES (?, ?, NULLIF(?, ''), ?, ?)
ON CONFLICT (url) DO NOTHING
RETURNING id`,
		product.Name, product.URL, strings.TrimSpace(product.CustomSelector), product.Active, product.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Product{}, tracker.ErrDuplicateURL
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("insert product: %w", err)
	}
	product.ID = id
	product.CustomSelector = strings.TrimSpace(product.CustomSelector)
	return product, nil
}

// GetProduct fetches a product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (tracker.Product, error) {
	var product tracker.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Product{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

// ListProducts returns every product ordered by ID.
func (s *Store) ListProducts(ctx context.Context) ([]tracker.Product, error) {
	var products []tracker.Product
	if err := s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// SetProductActive toggles whether cycles visit the product.
func (s *Store) SetProductActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return requireAffected(res)
}

// DeleteProduct removes the product's history, then the product.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM price_history WHERE product_id = ?`, id); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return requireAffected(res)
	})
}

// ListSamples returns a product's samples oldest first. A positive limit
// keeps only the most recent ones.
func (s *Store) ListSamples(ctx context.Context, productID int64, limit int) ([]tracker.PriceSample, error) {
	var samples []tracker.PriceSample
	const cols = `SELECT id, product_id, price, in_stock, timestamp FROM price_history WHERE product_id = ?`
	var err error
	if limit > 0 {
		err = s.db.SelectContext(ctx, &samples, cols+` ORDER BY timestamp DESC, id DESC LIMIT ?`, productID, limit)
		slices.Reverse(samples)
	} else {
		err = s.db.SelectContext(ctx, &samples, cols+` ORDER BY timestamp, id`, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return samples, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
