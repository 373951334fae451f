package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/pkg/config"
)

// Logistic squashes any real value into (0, 1).
func Logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func missingFeature(detector string, fv *models.FeatureVector, feature string) error {
	reason := "absent"
	if f, ok := fv.Features[feature]; ok && f.Reason != "" {
		reason = f.Reason
	}
	return &models.DetectorError{Detector: detector, Reason: fmt.Sprintf("feature %s missing: %s", feature, reason)}
}

// byMagnitude orders feature names by |value| descending, then by name.
func byMagnitude(fv *models.FeatureVector, names ...string) []string {
	var present []string
	for _, n := range names {
		if _, ok := fv.Get(n); ok {
			present = append(present, n)
		}
	}
	sort.SliceStable(present, func(i, j int) bool {
		a, _ := fv.Get(present[i])
		b, _ := fv.Get(present[j])
		if math.Abs(a) != math.Abs(b) {
			return math.Abs(a) > math.Abs(b)
		}
		return present[i] < present[j]
	})
	return present
}

// VolumeDetector flags trades far above the pair's own baseline.
type VolumeDetector struct {
	// Center is the z-score that maps to 0.5.
	Center float64
}

func NewVolumeDetector() *VolumeDetector { return &VolumeDetector{Center: 3} }

func (d *VolumeDetector) Name() string { return config.DetectorVolume }

func (d *VolumeDetector) Score(_ context.Context, fv *models.FeatureVector) (models.DetectorResult, error) {
	vz, okV := fv.Get(models.FeatureVolumeZScore)
	nz, okN := fv.Get(models.FeatureNotionalZScore)
	var raw float64
	switch {
	case okV && okN:
		raw = math.Max(vz, nz)
	case okV:
		raw = vz
	case okN:
		raw = nz
	default:
		return models.DetectorResult{}, missingFeature(d.Name(), fv, models.FeatureVolumeZScore)
	}
	return models.DetectorResult{
		DetectorName: d.Name(),
		Score:        raw,
		Normalized:   Logistic(raw - d.Center),
		Explanation:  byMagnitude(fv, models.FeatureVolumeZScore, models.FeatureNotionalZScore),
	}, nil
}

// PeerDetector flags activity far above the peer cohort's median.
type PeerDetector struct {
	Center float64
}

func NewPeerDetector() *PeerDetector { return &PeerDetector{Center: 2} }

func (d *PeerDetector) Name() string { return config.DetectorPeer }

func (d *PeerDetector) Score(_ context.Context, fv *models.FeatureVector) (models.DetectorResult, error) {
	dev, ok := fv.Get(models.FeaturePeerDeviation)
	if !ok {
		return models.DetectorResult{}, missingFeature(d.Name(), fv, models.FeaturePeerDeviation)
	}
	return models.DetectorResult{
		DetectorName: d.Name(),
		Score:        dev,
		Normalized:   Logistic(dev - d.Center),
		Explanation:  byMagnitude(fv, models.FeaturePeerDeviation, models.FeatureActivityShare),
	}, nil
}

// DisclosureDetector scores trades close to a material disclosure. Trades ahead of the
// news weigh twice as much as trades after it.
type DisclosureDetector struct {
	HorizonDays int
}

func NewDisclosureDetector(horizonDays int) *DisclosureDetector {
	return &DisclosureDetector{HorizonDays: horizonDays}
}

func (d *DisclosureDetector) Name() string { return config.DetectorDisclosure }

func (d *DisclosureDetector) Score(_ context.Context, fv *models.FeatureVector) (models.DetectorResult, error) {
	days, ok := fv.Get(models.FeatureDisclosureProximity)
	if !ok {
		return models.DetectorResult{}, missingFeature(d.Name(), fv, models.FeatureDisclosureProximity)
	}
	norm := 1 - math.Abs(days)/float64(d.HorizonDays+1)
	if days > 0 {
		norm *= 0.5
	}
	return models.DetectorResult{
		DetectorName: d.Name(),
		Score:        days,
		Normalized:   math.Max(norm, 0),
		Explanation:  []string{models.FeatureDisclosureProximity},
	}, nil
}

// RelationshipDetector scores closeness to a known insider in the relationship graph.
type RelationshipDetector struct {
	MaxDepth int
}

func NewRelationshipDetector(maxDepth int) *RelationshipDetector {
	return &RelationshipDetector{MaxDepth: maxDepth}
}

func (d *RelationshipDetector) Name() string { return config.DetectorRelationship }

func (d *RelationshipDetector) Score(_ context.Context, fv *models.FeatureVector) (models.DetectorResult, error) {
	dist, ok := fv.Get(models.FeatureRelationshipDist)
	if !ok {
		return models.DetectorResult{}, missingFeature(d.Name(), fv, models.FeatureRelationshipDist)
	}
	var norm float64
	if dist <= float64(d.MaxDepth) {
		norm = 1 / (1 + dist)
	}
	return models.DetectorResult{
		DetectorName: d.Name(),
		Score:        dist,
		Normalized:   norm,
		Explanation:  []string{models.FeatureRelationshipDist},
	}, nil
}
