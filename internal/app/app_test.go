package app_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/app"
	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/extract"
	collyfetcher "github.com/JakeFAU/pricewatch/internal/fetcher/colly"
	"github.com/JakeFAU/pricewatch/internal/fetcher/headless"
	memorypub "github.com/JakeFAU/pricewatch/internal/publisher/memory"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DB:      config.DBConfig{Driver: "memory"},
		Signal:  config.SignalConfig{Backend: "db"},
		Watcher: config.WatcherConfig{PollInterval: time.Second, ScanningWindow: 30 * time.Second},
		Scraper: config.ScraperConfig{
			Engine:            "static",
			NavigationTimeout: 5 * time.Second,
			PriceSelectors:    extract.DefaultPriceSelectors,
			StockMarkers:      []string{"In stock"},
		},
		Archive: config.ArchiveConfig{Backend: "local", BaseDir: t.TempDir(), Prefix: "snapshots"},
		PubSub:  config.PubSubConfig{Backend: "memory", Topic: "cycles"},
		Server:  config.ServerConfig{Port: 8080},
	}
}

func TestNewWiresAFullCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><span class="price">1 299,00 €</span><p>In stock</p></body></html>`)
	}))
	defer srv.Close()

	cfg := memoryConfig(t)
	ctx := context.Background()
	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Ping(ctx))

	product, err := a.Catalog.Add(ctx, catalog.NewProduct{Name: "Sofa", URL: srv.URL + "/sofa"})
	require.NoError(t, err)

	ran, err := a.Watcher.Poll(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	samples, err := a.Store.ListSamples(ctx, product.ID, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 1299.0, samples[0].Price, 1e-9)
	assert.True(t, samples[0].InStock)

	pub, ok := a.Publisher.(*memorypub.Publisher)
	require.True(t, ok)
	require.Len(t, pub.Messages(), 1)
	assert.Equal(t, "cycles", pub.Messages()[0].Topic)

	snapshots, err := filepath.Glob(filepath.Join(cfg.Archive.BaseDir, "snapshots", "*", "*.html"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)

	ran, err = a.Watcher.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestNewConfigErrors(t *testing.T) {
	testCases := []struct {
		name          string
		mutate        func(*config.Config)
		expectedError string
	}{
		{
			name:          "unknown db driver",
			mutate:        func(c *config.Config) { c.DB.Driver = "mongo" },
			expectedError: "unknown db driver: mongo",
		},
		{
			name:          "postgres without dsn",
			mutate:        func(c *config.Config) { c.DB.Driver = "postgres" },
			expectedError: "db.dsn is required",
		},
		{
			name:          "unknown archive backend",
			mutate:        func(c *config.Config) { c.Archive.Backend = "s3" },
			expectedError: "unknown archive backend: s3",
		},
		{
			name:          "unknown pubsub backend",
			mutate:        func(c *config.Config) { c.PubSub.Backend = "kafka" },
			expectedError: "unknown pubsub backend: kafka",
		},
		{
			name: "redis without address",
			mutate: func(c *config.Config) {
				c.Signal.Backend = "redis"
			},
			expectedError: "redis addr is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tc.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedError)
		})
	}
}

func TestNewWithSQLiteAutoMigrate(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.DB = config.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "prices.db"), AutoMigrate: true}
	cfg.Archive.Backend = "none"
	cfg.PubSub.Backend = "none"

	ctx := context.Background()
	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Publisher)
	_, err = a.Catalog.Add(ctx, catalog.NewProduct{Name: "Lamp", URL: "shop.test/lamp"})
	require.NoError(t, err)
	status, err := a.Catalog.Status(ctx)
	require.NoError(t, err)
	assert.NotNil(t, status.Signal)
}

func TestOpenMigrationDB(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "prices.db")
	db, dialect, err := app.OpenMigrationDB(ctx, config.DBConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, "sqlite", dialect)
	require.NoError(t, db.PingContext(ctx))

	_, _, err = app.OpenMigrationDB(ctx, config.DBConfig{Driver: "memory"})
	require.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	assert.IsType(t, &collyfetcher.Engine{}, app.NewEngine(config.ScraperConfig{Engine: "static"}))
	assert.IsType(t, &headless.Engine{}, app.NewEngine(config.ScraperConfig{Engine: "headless"}))
}

type mockCloser struct {
	mock.Mock
}

func (m *mockCloser) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestCloseClosesInReverseOrder(t *testing.T) {
	var order []string
	first := new(mockCloser)
	second := new(mockCloser)
	first.On("Close").Run(func(mock.Arguments) { order = append(order, "first") }).Return(nil).Once()
	second.On("Close").Run(func(mock.Arguments) { order = append(order, "second") }).Return(errors.New("boom")).Once()

	a := app.NewForTest(zap.NewNop(), first, second)
	a.Close()
	a.Close()

	first.AssertExpectations(t)
	second.AssertExpectations(t)
	assert.Equal(t, []string{"second", "first"}, order)
}
