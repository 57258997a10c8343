// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JakeFAU/pricewatch/internal/storage/migrations"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements tracker.Store on Postgres.
type Store struct {
	pool pool
	raw  *pgxpool.Pool
}

var _ tracker.Store = (*Store)(nil)

const productColumns = `id, name, url, COALESCE(custom_selector, ''), is_active, created_at`

var sampleColumns = []string{"product_id", "price", "in_stock", "timestamp"}

// New creates a pooled Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, raw: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate applies the embedded schema through database/sql.
func (s *Store) Migrate(ctx context.Context) error {
	if s.raw == nil {
		return fmt.Errorf("migrations need a pgxpool-backed store")
	}
	db := stdlib.OpenDBFromPool(s.raw)
	defer db.Close() //nolint:errcheck // the pool outlives this handle
	return migrations.Up(ctx, db, migrations.Postgres)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// ListActiveProducts returns active products ordered by ID.
func (s *Store) ListActiveProducts(ctx context.Context) ([]tracker.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	return collectProducts(rows)
}

// AppendSamples copies the whole batch in one statement; it lands entirely or not at all.
func (s *Store) AppendSamples(ctx context.Context, samples []tracker.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"price_history"}, sampleColumns,
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			sm := samples[i]
			if sm.Price < 0 {
				return nil, fmt.Errorf("sample for product %d has negative price", sm.ProductID)
			}
			return []any{sm.ProductID, sm.Price, sm.InStock, sm.CreatedAt}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy samples: %w", err)
	}
	if n != int64(len(samples)) {
		return fmt.Errorf("copy samples: wrote %d of %d rows", n, len(samples))
	}
	return nil
}

// ReadSignal returns the latest refresh request.
func (s *Store) ReadSignal(ctx context.Context) (tracker.UpdateSignal, bool, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_update_requested FROM system_state ORDER BY last_update_requested DESC LIMIT 1`).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.UpdateSignal{}, false, nil
	}
	if err != nil {
		return tracker.UpdateSignal{}, false, fmt.Errorf("read signal: %w", err)
	}
	return tracker.UpdateSignal{RequestedAt: at}, true, nil
}

// WriteSignal replaces the mailbox row and discards any stray rows.
func (s *Store) WriteSignal(ctx context.Context, signal tracker.UpdateSignal) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM system_state WHERE id <> 1`); err != nil {
			return fmt.Errorf("clear signal rows: %w", err)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO system_state (id, last_update_requested) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET last_update_requested = EXCLUDED.last_update_requested`,
			signal.RequestedAt)
		if err != nil {
			return fmt.Errorf("upsert signal: %w", err)
		}
		return nil
	})
}

// CreateProduct inserts a product, reporting tracker.ErrDuplicateURL on conflict.
func (s *Store) CreateProduct(ctx context.Context, product tracker.Product) (tracker.Product, error) {
	product.CustomSelector = strings.TrimSpace(product.CustomSelector)
	err := s.pool.QueryRow(ctx, `
INSERT INTO products (name, url, custom_selector, is_active)
VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (url) DO NOTHING
RETURNING id, created_at`,
		product.Name, product.URL, product.CustomSelector, product.Active,
	).Scan(&product.ID, &product.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Product{}, tracker.ErrDuplicateURL
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

// GetProduct fetches a product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (tracker.Product, error) {
	var p tracker.Product
	err := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.URL, &p.CustomSelector, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Product{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts returns every product ordered by ID.
func (s *Store) ListProducts(ctx context.Context) ([]tracker.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return collectProducts(rows)
}

// SetProductActive toggles whether cycles visit the product.
func (s *Store) SetProductActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE products SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// DeleteProduct removes the product's history, then the product.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM price_history WHERE product_id = $1`, id); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tracker.ErrNotFound
		}
		return nil
	})
}

// ListSamples returns a product's samples oldest first. A positive limit
// keeps only the most recent ones.
func (s *Store) ListSamples(ctx context.Context, productID int64, limit int) ([]tracker.PriceSample, error) {
	const base = `SELECT id, product_id, price, in_stock, timestamp FROM price_history WHERE product_id = $1`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, base+` ORDER BY timestamp DESC, id DESC LIMIT $2`, productID, limit)
	} else {
		rows, err = s.pool.Query(ctx, base+` ORDER BY timestamp, id`, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()
	var samples []tracker.PriceSample
	for rows.Next() {
		var sm tracker.PriceSample
		if err := rows.Scan(&sm.ID, &sm.ProductID, &sm.Price, &sm.InStock, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	if limit > 0 {
		slices.Reverse(samples)
	}
	return samples, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func collectProducts(rows pgx.Rows) ([]tracker.Product, error) {
	defer rows.Close()
	var products []tracker.Product
	for rows.Next() {
		var p tracker.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.CustomSelector, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}
