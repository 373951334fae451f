package server

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/services/alerts"
	"InsiderWatch/internal/services/window"
	"InsiderWatch/pkg/config"
	"InsiderWatch/pkg/logger"
)

func newMaintainedApp(t *testing.T) (*App, *window.Store, *alerts.Registry) {
	t.Helper()
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	windows, err := window.NewStore(window.Config{
		Sizes:             cfg.Windows.Sizes,
		Buckets:           cfg.Windows.Buckets,
		LatenessTolerance: cfg.Pipeline.LatenessTolerance,
		Retention:         cfg.Pipeline.RetentionGrace,
	})
	require.NoError(t, err)
	registry, err := alerts.NewRegistry(1, alerts.Config{
		Threshold: cfg.Alerts.Threshold,
		Cooldown:  cfg.Alerts.Cooldown,
		Silence:   cfg.Alerts.Silence,
	})
	require.NoError(t, err)
	return New(cfg, logger.Nop(), nil, nil, registry, windows, nil, nil), windows, registry
}

func trade(t *testing.T, windows *window.Store, key models.EntityKey, id string, ts time.Time) {
	t.Helper()
	_, err := windows.Update(key, &models.TradeEvent{
		EventID:   id,
		Timestamp: ts,
		Quantity:  decimal.NewFromInt(10),
		Notional:  decimal.NewFromInt(200),
	})
	require.NoError(t, err)
}

func TestMaintenanceFollowsEventTimeDuringBackfill(t *testing.T) {
	app, windows, registry := newMaintainedApp(t)
	t0 := time.Date(2020, 3, 2, 10, 0, 0, 0, time.UTC)
	a, b := models.PairKey("T1", "ACME"), models.PairKey("T2", "ACME")

	trade(t, windows, a, "e1", t0)
	opened := registry.Partition(0).Ingest(models.AnomalyScore{EntityKey: a, EventID: "e1", Timestamp: t0, CombinedScore: 0.9})
	require.NotNil(t, opened)

	// Years behind the wall clock, yet nothing is idle by event time.
	app.runMaintenance()
	assert.Equal(t, 1, windows.Len())
	assert.Len(t, registry.Open(), 1)

	trade(t, windows, b, "e2", t0.Add(100*time.Hour))
	app.runMaintenance()
	assert.Equal(t, 2, windows.Len())
	assert.Len(t, registry.Open(), 1, "alert is still inside its silence period")

	trade(t, windows, b, "e3", t0.Add(300*time.Hour))
	app.runMaintenance()
	assert.Empty(t, registry.Open())
	expired := registry.All(models.AlertExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, opened.AlertID, expired[0].AlertID)
	assert.Equal(t, 2, windows.Len())

	trade(t, windows, b, "e4", t0.Add(800*time.Hour))
	app.runMaintenance()
	assert.Empty(t, registry.All(""), "closed alert is compacted")
	assert.Equal(t, 1, windows.Len(), "pair idle past the longest window plus retention is evicted")
	_, ok := windows.Watermark(a)
	assert.False(t, ok)
}

func TestMaintenanceWaitsForFirstEvent(t *testing.T) {
	app, windows, _ := newMaintainedApp(t)
	_, ok := windows.EventTime()
	assert.False(t, ok)
	app.runMaintenance()
	assert.Equal(t, 0, windows.Len())
}
