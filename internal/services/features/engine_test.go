package features

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/services/metadata"
	"InsiderWatch/internal/services/window"
	"InsiderWatch/pkg/logger"
)

// Monday
var start = time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store  *window.Store
	engine *Engine
	holder *metadata.Holder
}

func newFixture(t *testing.T, snap *models.MetadataSnapshot) *fixture {
	t.Helper()
	store, err := window.NewStore(window.Config{
		Sizes:             []time.Duration{24 * time.Hour, 720 * time.Hour},
		Buckets:           24,
		LatenessTolerance: time.Hour,
	})
	require.NoError(t, err)
	view, err := metadata.Compile(snap)
	require.NoError(t, err)
	holder := metadata.NewHolderWithView(view, logger.Nop())

	engine, err := NewEngine(Config{
		BaselineWindow:        720 * time.Hour,
		ActivityWindow:        24 * time.Hour,
		MinHistory:            5,
		StdFloorRatio:         0.1,
		DisclosureHorizonDays: 10,
		MaxGraphDepth:         3,
		MeanWindows:           []time.Duration{24 * time.Hour, 720 * time.Hour},
	}, store, holder)
	require.NoError(t, err)
	return &fixture{store: store, engine: engine, holder: holder}
}

func (f *fixture) apply(t *testing.T, trader string, ts time.Time, qty int64) *models.TradeEvent {
	t.Helper()
	return f.applySide(t, trader, ts, qty, models.SideBuy)
}

func (f *fixture) applySide(t *testing.T, trader string, ts time.Time, qty int64, side models.Side) *models.TradeEvent {
	t.Helper()
	q := decimal.NewFromInt(qty)
	p := decimal.NewFromInt(20)
	ev := &models.TradeEvent{
		EventID:    fmt.Sprintf("%s-%d", trader, ts.Unix()),
		TraderID:   trader,
		SecurityID: "ACME",
		Timestamp:  ts,
		Side:       side,
		Quantity:   q,
		Price:      p,
		Notional:   q.Mul(p),
	}
	_, err := f.store.UpdateAll(models.KeysFor(ev), ev)
	require.NoError(t, err)
	return ev
}

func TestNewEngineRejectsUnknownWindow(t *testing.T) {
	store, err := window.NewStore(window.Config{Sizes: []time.Duration{time.Hour}, Buckets: 4})
	require.NoError(t, err)
	_, err = NewEngine(Config{BaselineWindow: 720 * time.Hour, ActivityWindow: time.Hour, MinHistory: 5, DisclosureHorizonDays: 1, MaxGraphDepth: 1},
		store, metadata.NewHolder(nil, logger.Nop()))
	var cerr *models.ConfigurationError
	require.ErrorAs(t, err, &cerr)
}

func TestInsufficientHistoryIsMissingNotZero(t *testing.T) {
	f := newFixture(t, nil)
	ev := f.apply(t, "T1", start, 100)

	fv, err := f.engine.Compute(ev)
	require.NoError(t, err)

	z := fv.Features[models.FeatureVolumeZScore]
	assert.True(t, z.Missing)
	assert.Equal(t, models.ReasonInsufficientHistory, z.Reason)
	_, ok := fv.Get(models.FeatureVolumeZScore)
	assert.False(t, ok)

	assert.True(t, fv.Features[models.FeaturePeerDeviation].Missing)
	assert.True(t, fv.Features[models.FeatureDisclosureProximity].Missing)
	assert.Equal(t, models.ReasonNoKnownInsider, fv.Features[models.FeatureRelationshipDist].Reason)

	share, ok := fv.Get(models.FeatureActivityShare)
	require.True(t, ok)
	assert.Equal(t, 1.0, share)
	notional, _ := fv.Get(models.FeatureTradeNotional)
	assert.Equal(t, 2000.0, notional)
}

func TestVolumeSpikeAgainstFlatBaseline(t *testing.T) {
	f := newFixture(t, nil)
	var ev *models.TradeEvent
	for d := 0; d < 30; d++ {
		ev = f.apply(t, "T1", start.AddDate(0, 0, d), 100)
	}
	fv, err := f.engine.Compute(ev)
	require.NoError(t, err)
	z, ok := fv.Get(models.FeatureVolumeZScore)
	require.True(t, ok)
	assert.InDelta(t, 0, z, 1e-9, "a trade matching its baseline scores zero")

	spike := f.apply(t, "T1", start.AddDate(0, 0, 30), 5000)
	fv, err = f.engine.Compute(spike)
	require.NoError(t, err)
	z, ok = fv.Get(models.FeatureVolumeZScore)
	require.True(t, ok)
	// baseline excludes the spike itself: mean 100, std floored at 10
	assert.InDelta(t, 490, z, 1e-6)
	nz, ok := fv.Get(models.FeatureNotionalZScore)
	require.True(t, ok)
	assert.InDelta(t, 490, nz, 1e-6)
}

func TestDisclosureAndRelationshipProximity(t *testing.T) {
	disclosureAt := start.AddDate(0, 0, 3).Add(-2 * time.Hour) // Thursday 13:00
	f := newFixture(t, &models.MetadataSnapshot{
		Relationships: []models.Relationship{{From: "T1", To: "ceo"}},
		Insiders:      map[string][]string{"ACME": {"ceo"}},
		Disclosures: []models.DisclosureEvent{
			{DisclosureID: "d1", SecurityID: "ACME", EffectiveTimestamp: disclosureAt, Material: true},
		},
	})

	ev := f.apply(t, "T1", start.AddDate(0, 0, 2), 10) // Wednesday
	fv, err := f.engine.Compute(ev)
	require.NoError(t, err)

	days, ok := fv.Get(models.FeatureDisclosureProximity)
	require.True(t, ok)
	assert.Equal(t, -1.0, days)
	dist, ok := fv.Get(models.FeatureRelationshipDist)
	require.True(t, ok)
	assert.Equal(t, 1.0, dist)

	after := f.apply(t, "T1", start.AddDate(0, 0, 7), 10) // next Monday
	fv, err = f.engine.Compute(after)
	require.NoError(t, err)
	days, ok = fv.Get(models.FeatureDisclosureProximity)
	require.True(t, ok)
	assert.Equal(t, 2.0, days)
}

func TestPeerDeviation(t *testing.T) {
	f := newFixture(t, &models.MetadataSnapshot{
		Cohorts: map[string][]string{"desk": {"T1", "P1", "P2", "P3"}},
	})
	f.apply(t, "P1", start, 100)
	f.apply(t, "P2", start.Add(time.Minute), 200)
	f.apply(t, "P3", start.Add(2*time.Minute), 300)
	ev := f.apply(t, "T1", start.Add(3*time.Minute), 1000)

	fv, err := f.engine.Compute(ev)
	require.NoError(t, err)
	dev, ok := fv.Get(models.FeaturePeerDeviation)
	require.True(t, ok)
	assert.InDelta(t, (1000.0-200)/200, dev, 1e-9)

	share, ok := fv.Get(models.FeatureActivityShare)
	require.True(t, ok)
	assert.InDelta(t, 1000.0/1600, share, 1e-9)
}

func TestTradeHistoryFeatures(t *testing.T) {
	f := newFixture(t, nil)
	first := f.apply(t, "T1", start, 100)
	fv, err := f.engine.Compute(first)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonFirstTrade, fv.Features[models.FeatureDaysSinceLastTrade].Reason)
	sell, _ := fv.Get(models.FeatureIsSell)
	assert.Equal(t, 0.0, sell)
	mean, ok := fv.Get("trade_value_30d_mean")
	require.True(t, ok)
	assert.Equal(t, 2000.0, mean)
	assert.Equal(t, models.ReasonInsufficientHistory, fv.Features[models.FeatureUnusualVolume].Reason)

	for d := 1; d <= 6; d++ {
		f.apply(t, "T2", start.AddDate(0, 0, d), 100)
	}
	ev := f.applySide(t, "T1", start.AddDate(0, 0, 7).Add(12*time.Hour), 1000, models.SideSell)
	fv, err = f.engine.Compute(ev)
	require.NoError(t, err)

	days, ok := fv.Get(models.FeatureDaysSinceLastTrade)
	require.True(t, ok)
	assert.Equal(t, 7.0, days, "whole days since the pair's previous trade")
	sell, _ = fv.Get(models.FeatureIsSell)
	assert.Equal(t, 1.0, sell)
	buy, _ := fv.Get(models.FeatureIsBuy)
	assert.Equal(t, 0.0, buy)

	day, ok := fv.Get("trade_value_1d_mean")
	require.True(t, ok)
	assert.Equal(t, 20000.0, day)
	month, ok := fv.Get("trade_value_30d_mean")
	require.True(t, ok)
	assert.InDelta(t, 34000.0/8, month, 1e-9)

	// seven prior trades of 2000: std floored at 200, p95 near 2329
	unusual, ok := fv.Get(models.FeatureUnusualVolume)
	require.True(t, ok)
	assert.Equal(t, 1.0, unusual)

	late := f.apply(t, "T1", start.AddDate(0, 0, 7).Add(11*time.Hour+30*time.Minute), 100)
	fv, err = f.engine.Compute(late)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonOutOfOrder, fv.Features[models.FeatureDaysSinceLastTrade].Reason)
	unusual, ok = fv.Get(models.FeatureUnusualVolume)
	require.True(t, ok)
	assert.Equal(t, 0.0, unusual)
}

func TestTradeValueMeanNames(t *testing.T) {
	assert.Equal(t, "trade_value_7d_mean", models.TradeValueMean(168*time.Hour))
	assert.Equal(t, "trade_value_30d_mean", models.TradeValueMean(720*time.Hour))
	assert.Equal(t, "trade_value_6h_mean", models.TradeValueMean(6*time.Hour))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 0.0, Median(nil))

	mean, std := MeanStd(4, 10, 30)
	assert.Equal(t, 2.5, mean)
	assert.InDelta(t, 1.118034, std, 1e-6)

	assert.Equal(t, 10.0, FlooredStd(100, 0, 0.1))
	assert.Equal(t, minStd, FlooredStd(0, 0, 0.1))
	assert.Equal(t, 3.0, RelativeDeviation(4, 0))
}
