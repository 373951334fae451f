package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/domain/service"
	"InsiderWatch/internal/service/metrics"
	"InsiderWatch/pkg/logger"
)

type member struct {
	detector service.Detector
	weight   float64
}

// Ensemble runs every registered detector against a feature vector and combines the
// normalized scores into one weighted score.
type Ensemble struct {
	members []member // sorted by detector name
	log     *logger.Logger
}

// NewEnsemble keeps the detectors with a positive weight. Weights are rescaled to sum
// to one so the combined score stays in [0, 1]. A weight naming no supplied detector
// is a configuration error.
func NewEnsemble(weights map[string]float64, log *logger.Logger, detectors ...service.Detector) (*Ensemble, error) {
	byName := make(map[string]service.Detector, len(detectors))
	for _, d := range detectors {
		if _, dup := byName[d.Name()]; dup {
			return nil, &models.ConfigurationError{Key: "detectors", Reason: fmt.Sprintf("duplicate detector %q", d.Name())}
		}
		byName[d.Name()] = d
	}

	var total float64
	e := &Ensemble{log: log}
	for name, w := range weights {
		d, ok := byName[name]
		if !ok {
			return nil, &models.ConfigurationError{Key: "detectors.weights." + name, Reason: "no such detector"}
		}
		if w < 0 {
			return nil, &models.ConfigurationError{Key: "detectors.weights." + name, Reason: "negative weight"}
		}
		if w == 0 {
			continue
		}
		e.members = append(e.members, member{detector: d, weight: w})
	}
	if len(e.members) == 0 {
		return nil, &models.ConfigurationError{Key: "detectors.weights", Reason: "no detector has a positive weight"}
	}
	sort.Slice(e.members, func(i, j int) bool {
		return e.members[i].detector.Name() < e.members[j].detector.Name()
	})
	for _, m := range e.members {
		total += m.weight
	}
	for i := range e.members {
		e.members[i].weight /= total
	}
	return e, nil
}

// Names lists the active detectors in evaluation order.
func (e *Ensemble) Names() []string {
	out := make([]string, len(e.members))
	for i, m := range e.members {
		out[i] = m.detector.Name()
	}
	return out
}

// Score evaluates fv. Failing detectors are left out; when all fail the score is zero
// with NoSignal set. Only an unrecoverable detector error or a cancelled context is
// returned as an error.
func (e *Ensemble) Score(ctx context.Context, fv *models.FeatureVector) (models.AnomalyScore, error) {
	score := models.AnomalyScore{
		EntityKey: fv.EntityKey,
		EventID:   fv.EventID,
		Timestamp: fv.Timestamp,
	}

	for _, m := range e.members {
		if err := ctx.Err(); err != nil {
			return models.AnomalyScore{}, err
		}
		name := m.detector.Name()
		start := time.Now()
		res, err := runDetector(ctx, m.detector, fv)
		metrics.DetectorLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			var derr *models.DetectorError
			if errors.As(err, &derr) && derr.Unrecoverable {
				return models.AnomalyScore{}, err
			}
			metrics.DetectorFailures.WithLabelValues(name).Inc()
			e.log.Debug("detector skipped",
				logger.String("detector", name),
				logger.String("entity_key", string(fv.EntityKey)),
				logger.String("event_id", fv.EventID),
				logger.Error(err),
			)
			score.Failed = append(score.Failed, name)
			continue
		}

		res.DetectorName = name
		res.Normalized = clamp01(res.Normalized)
		res.Weight = m.weight
		res.Contribution = m.weight * res.Normalized
		// members are in name order, so the sum does not depend on registration order
		score.CombinedScore += res.Contribution
		score.Results = append(score.Results, res)
	}

	if len(score.Results) == 0 {
		score.CombinedScore = 0
		score.NoSignal = true
		metrics.NoSignalScores.Inc()
		return score, nil
	}

	sort.SliceStable(score.Results, func(i, j int) bool {
		a, b := score.Results[i], score.Results[j]
		if a.Contribution != b.Contribution {
			return a.Contribution > b.Contribution
		}
		return a.DetectorName < b.DetectorName
	})
	return score, nil
}

// runDetector isolates a panicking detector like any other failure.
func runDetector(ctx context.Context, d service.Detector, fv *models.FeatureVector) (res models.DetectorResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &models.DetectorError{Detector: d.Name(), Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return d.Score(ctx, fv)
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
