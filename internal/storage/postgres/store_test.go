package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithPool(nil)
	require.Error(t, err)
}

func TestListActiveProducts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("FROM products WHERE is_active ORDER BY id").
		WillReturnRows(mock.NewRows([]string{"id", "name", "url", "custom_selector", "is_active", "created_at"}).
			AddRow(int64(1), "Lamp", "https://shop.test/lamp", ".deal", true, created).
			AddRow(int64(2), "Desk", "https://shop.test/desk", "", true, created))

	products, err := store.ListActiveProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, ".deal", products[0].CustomSelector)
	require.Equal(t, "https://shop.test/desk", products[1].URL)
	require.True(t, products[1].CreatedAt.Equal(created))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSamplesCopiesBatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectCopyFrom(pgx.Identifier{"price_history"}, sampleColumns).WillReturnResult(2)

	err := store.AppendSamples(context.Background(), []tracker.PriceSample{
		{ProductID: 1, Price: 49.99, InStock: true, CreatedAt: now},
		{ProductID: 2, Price: 0, InStock: false, CreatedAt: now},
	})
	require.NoError(t, err)
	require.NoError(t, store.AppendSamples(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendSamplesShortCopyFails(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"price_history"}, sampleColumns).WillReturnResult(1)

	err := store.AppendSamples(context.Background(), []tracker.PriceSample{{ProductID: 1}, {ProductID: 2}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadSignal(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM system_state").
		WillReturnRows(mock.NewRows([]string{"last_update_requested"}))

	_, ok, err := store.ReadSignal(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM system_state").
		WillReturnRows(mock.NewRows([]string{"last_update_requested"}).AddRow(at))
	sig, ok, err := store.ReadSignal(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, sig.RequestedAt.Equal(at))

	mock.ExpectQuery("FROM system_state").WillReturnError(errors.New("connection reset"))
	_, _, err = store.ReadSignal(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteSignalUpsertsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM system_state WHERE id <> 1").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO system_state").WithArgs(at).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.WriteSignal(context.Background(), tracker.UpdateSignal{RequestedAt: at}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteSignalRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM system_state WHERE id <> 1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO system_state").WithArgs(at).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.WriteSignal(context.Background(), tracker.UpdateSignal{RequestedAt: at})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProduct(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO products").
		WithArgs("Lamp", "https://shop.test/lamp", ".deal", true).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))

	p, err := store.CreateProduct(context.Background(), tracker.Product{
		Name: "Lamp", URL: "https://shop.test/lamp", CustomSelector: " .deal", Active: true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), p.ID)
	require.Equal(t, ".deal", p.CustomSelector)
	require.True(t, p.CreatedAt.Equal(created))

	mock.ExpectQuery("INSERT INTO products").
		WithArgs("Lamp", "https://shop.test/lamp", "", true).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}))
	_, err = store.CreateProduct(context.Background(), tracker.Product{
		Name: "Lamp", URL: "https://shop.test/lamp", Active: true,
	})
	require.ErrorIs(t, err, tracker.ErrDuplicateURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM products WHERE id").WithArgs(int64(9)).
		WillReturnRows(mock.NewRows([]string{"id", "name", "url", "custom_selector", "is_active", "created_at"}))

	_, err := store.GetProduct(context.Background(), 9)
	require.ErrorIs(t, err, tracker.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetProductActive(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE products SET is_active").WithArgs(false, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE products SET is_active").WithArgs(true, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetProductActive(context.Background(), 3, false))
	require.ErrorIs(t, store.SetProductActive(context.Background(), 9, true), tracker.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProductRemovesHistoryFirst(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM price_history").WithArgs(int64(3)).WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec("DELETE FROM products").WithArgs(int64(3)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteProduct(context.Background(), 3))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM price_history").WithArgs(int64(4)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM products").WithArgs(int64(4)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	require.ErrorIs(t, store.DeleteProduct(context.Background(), 4), tracker.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSamplesLatestAreReturnedOldestFirst(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	t0 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM price_history WHERE product_id").WithArgs(int64(1), 2).
		WillReturnRows(mock.NewRows([]string{"id", "product_id", "price", "in_stock", "timestamp"}).
			AddRow(int64(3), int64(1), 12.0, true, t0.Add(2*time.Hour)).
			AddRow(int64(2), int64(1), 11.0, false, t0.Add(time.Hour)))

	samples, err := store.ListSamples(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, 11.0, samples[0].Price)
	require.Equal(t, 12.0, samples[1].Price)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRequiresRealPool(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	require.Error(t, store.Migrate(context.Background()))
}
