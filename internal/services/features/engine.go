package features

import (
	"fmt"
	"time"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/services/metadata"
	"InsiderWatch/pkg/util"
)

// WindowReader is the read side of the window store.
type WindowReader interface {
	Read(key models.EntityKey, size time.Duration, asOf time.Time) (models.WindowAggregate, error)
	Watermark(key models.EntityKey) (time.Time, bool)
	Previous(key models.EntityKey, ts time.Time) (time.Time, bool)
}

// unusualQuantile is the one-sided normal quantile of the 95th percentile.
const unusualQuantile = 1.645

// MetadataProvider hands out the current metadata view.
type MetadataProvider interface {
	Current() *metadata.View
}

type Config struct {
	BaselineWindow        time.Duration
	ActivityWindow        time.Duration
	MinHistory            int
	StdFloorRatio         float64
	DisclosureHorizonDays int
	MaxGraphDepth         int
	// MeanWindows are the sizes of the rolling mean trade value features.
	MeanWindows []time.Duration
}

// Engine computes point-in-time feature vectors. It only reads state.
type Engine struct {
	cfg     Config
	windows WindowReader
	meta    MetadataProvider
}

func NewEngine(cfg Config, windows WindowReader, meta MetadataProvider) (*Engine, error) {
	sizes := map[string]time.Duration{
		"features.baseline_window": cfg.BaselineWindow,
		"features.activity_window": cfg.ActivityWindow,
	}
	for _, size := range cfg.MeanWindows {
		sizes["features.mean_windows."+models.TradeValueMean(size)] = size
	}
	for key, size := range sizes {
		if _, err := windows.Read(models.EntityKey(""), size, time.Unix(0, 0)); err != nil {
			return nil, &models.ConfigurationError{Key: key, Reason: err.Error()}
		}
	}
	if cfg.MinHistory < 2 {
		return nil, &models.ConfigurationError{Key: "features.min_history", Reason: "must be at least 2"}
	}
	if cfg.DisclosureHorizonDays < 1 || cfg.MaxGraphDepth < 1 {
		return nil, &models.ConfigurationError{Key: "features", Reason: "disclosure horizon and graph depth must be positive"}
	}
	return &Engine{cfg: cfg, windows: windows, meta: meta}, nil
}

// Compute builds the feature vector of ev's trader x security pair as of ev's timestamp.
// The window store must already contain ev.
func (e *Engine) Compute(ev *models.TradeEvent) (*models.FeatureVector, error) {
	view := e.meta.Current()
	pair := models.PairKey(ev.TraderID, ev.SecurityID)

	fv := &models.FeatureVector{
		EntityKey:  pair,
		EventID:    ev.EventID,
		SecurityID: ev.SecurityID,
		Timestamp:  ev.Timestamp,
		Features:   make(map[string]models.Feature, 13+len(e.cfg.MeanWindows)),
	}

	q, n := ev.QuantityFloat(), ev.NotionalFloat()
	fv.Features[models.FeatureTradeNotional] = models.Present(n)
	fv.Features[models.FeatureIsBuy] = models.Present(boolFloat(ev.Side == models.SideBuy))
	fv.Features[models.FeatureIsSell] = models.Present(boolFloat(ev.Side == models.SideSell))
	fv.Features[models.FeatureWeekday] = models.Present(float64(ev.Timestamp.UTC().Weekday()))
	e.sinceLast(fv, pair, ev.Timestamp)

	if err := e.zscores(fv, pair, ev.Timestamp, q, n); err != nil {
		return nil, err
	}
	if err := e.activity(fv, view, ev); err != nil {
		return nil, err
	}
	if err := e.security(fv, ev, n); err != nil {
		return nil, err
	}
	e.disclosure(fv, view, ev)
	e.relationship(fv, view, ev)
	return fv, nil
}

func (e *Engine) zscores(fv *models.FeatureVector, pair models.EntityKey, ts time.Time, q, n float64) error {
	baseline, err := e.windows.Read(pair, e.cfg.BaselineWindow, ts)
	if err != nil {
		return fmt.Errorf("read baseline %s: %w", pair, err)
	}

	count, sum, sumSq := LeaveOneOut(baseline.Count, baseline.Sum, baseline.SumSq, q)
	if count < int64(e.cfg.MinHistory) {
		fv.Features[models.FeatureVolumeZScore] = models.Missing(models.ReasonInsufficientHistory)
		fv.Features[models.FeatureNotionalZScore] = models.Missing(models.ReasonInsufficientHistory)
		return nil
	}
	mean, std := MeanStd(count, sum, sumSq)
	fv.Features[models.FeatureVolumeZScore] = models.Present(ZScore(q, mean, FlooredStd(mean, std, e.cfg.StdFloorRatio)))

	_, nSum, nSumSq := LeaveOneOut(baseline.Count, baseline.NotionalSum, baseline.NotionalSumSq, n)
	nMean, nStd := MeanStd(count, nSum, nSumSq)
	fv.Features[models.FeatureNotionalZScore] = models.Present(ZScore(n, nMean, FlooredStd(nMean, nStd, e.cfg.StdFloorRatio)))
	return nil
}

// sinceLast counts whole days since the pair's previous trade.
func (e *Engine) sinceLast(fv *models.FeatureVector, pair models.EntityKey, ts time.Time) {
	prev, ok := e.windows.Previous(pair, ts)
	if ok {
		fv.Features[models.FeatureDaysSinceLastTrade] = models.Present(float64(ts.Sub(prev) / (24 * time.Hour)))
		return
	}
	if wm, known := e.windows.Watermark(pair); known && wm.After(ts) {
		fv.Features[models.FeatureDaysSinceLastTrade] = models.Missing(models.ReasonOutOfOrder)
		return
	}
	fv.Features[models.FeatureDaysSinceLastTrade] = models.Missing(models.ReasonFirstTrade)
}

// security adds the security's rolling mean trade values and flags a trade value
// above the estimated 95th percentile of the security baseline.
func (e *Engine) security(fv *models.FeatureVector, ev *models.TradeEvent, n float64) error {
	key := models.SecurityKey(ev.SecurityID)
	for _, size := range e.cfg.MeanWindows {
		agg, err := e.windows.Read(key, size, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("read security mean %s: %w", size, err)
		}
		name := models.TradeValueMean(size)
		if agg.Count == 0 {
			fv.Features[name] = models.Missing(models.ReasonNoSecurityActivity)
			continue
		}
		fv.Features[name] = models.Present(agg.NotionalSum / float64(agg.Count))
	}

	baseline, err := e.windows.Read(key, e.cfg.BaselineWindow, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("read security baseline: %w", err)
	}
	count, sum, sumSq := LeaveOneOut(baseline.Count, baseline.NotionalSum, baseline.NotionalSumSq, n)
	if count < int64(e.cfg.MinHistory) {
		fv.Features[models.FeatureUnusualVolume] = models.Missing(models.ReasonInsufficientHistory)
		return nil
	}
	mean, std := MeanStd(count, sum, sumSq)
	p95 := mean + unusualQuantile*FlooredStd(mean, std, e.cfg.StdFloorRatio)
	fv.Features[models.FeatureUnusualVolume] = models.Present(boolFloat(n > p95))
	return nil
}

func (e *Engine) activity(fv *models.FeatureVector, view *metadata.View, ev *models.TradeEvent) error {
	own, err := e.windows.Read(models.PairKey(ev.TraderID, ev.SecurityID), e.cfg.ActivityWindow, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("read activity: %w", err)
	}

	security, err := e.windows.Read(models.SecurityKey(ev.SecurityID), e.cfg.ActivityWindow, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("read security activity: %w", err)
	}
	if security.Sum > 0 {
		fv.Features[models.FeatureActivityShare] = models.Present(own.Sum / security.Sum)
	} else {
		fv.Features[models.FeatureActivityShare] = models.Missing(models.ReasonNoSecurityActivity)
	}

	peers := view.Peers(ev.TraderID)
	if len(peers) == 0 {
		fv.Features[models.FeaturePeerDeviation] = models.Missing(models.ReasonNoPeerCohort)
		return nil
	}
	volumes := make([]float64, 0, len(peers))
	for _, p := range peers {
		agg, err := e.windows.Read(models.PairKey(p, ev.SecurityID), e.cfg.ActivityWindow, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("read peer activity: %w", err)
		}
		volumes = append(volumes, agg.Sum)
	}
	fv.Features[models.FeaturePeerDeviation] = models.Present(RelativeDeviation(own.Sum, Median(volumes)))
	return nil
}

func (e *Engine) disclosure(fv *models.FeatureVector, view *metadata.View, ev *models.TradeEvent) {
	horizon := e.cfg.DisclosureHorizonDays
	// calendar span that can hold horizon trading days
	span := time.Duration(horizon*7/5+4) * 24 * time.Hour

	d, ok := view.NearestMaterialDisclosure(ev.SecurityID, ev.Timestamp, span)
	if !ok {
		fv.Features[models.FeatureDisclosureProximity] = models.Missing(models.ReasonNoDisclosure)
		return
	}
	days := util.SignedTradingDays(d.EffectiveTimestamp, ev.Timestamp)
	if days > horizon || days < -horizon {
		fv.Features[models.FeatureDisclosureProximity] = models.Missing(models.ReasonNoDisclosure)
		return
	}
	fv.Features[models.FeatureDisclosureProximity] = models.Present(float64(days))
}

func (e *Engine) relationship(fv *models.FeatureVector, view *metadata.View, ev *models.TradeEvent) {
	d, known := view.RelationshipDistance(ev.TraderID, ev.SecurityID, e.cfg.MaxGraphDepth)
	if !known {
		fv.Features[models.FeatureRelationshipDist] = models.Missing(models.ReasonNoKnownInsider)
		return
	}
	fv.Features[models.FeatureRelationshipDist] = models.Present(float64(d))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
