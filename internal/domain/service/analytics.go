package service

import (
	"context"

	"InsiderWatch/internal/domain/models"
)

// Detector scores one feature vector. Implementations are stateless and return a
// normalized score in [0, 1]; failures are reported as *models.DetectorError.
type Detector interface {
	Name() string
	Score(ctx context.Context, fv *models.FeatureVector) (models.DetectorResult, error)
}

// FeatureEngine builds point-in-time feature vectors for a trade.
type FeatureEngine interface {
	Compute(ev *models.TradeEvent) (*models.FeatureVector, error)
}
