package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
)

func withFeatures(fs map[string]models.Feature) *models.FeatureVector {
	fv := vector()
	fv.Features = fs
	return fv
}

func TestVolumeDetector(t *testing.T) {
	d := NewVolumeDetector()

	res, err := d.Score(context.Background(), withFeatures(map[string]models.Feature{
		models.FeatureVolumeZScore:   models.Present(8),
		models.FeatureNotionalZScore: models.Present(3),
	}))
	require.NoError(t, err)
	assert.Equal(t, 8.0, res.Score)
	assert.InDelta(t, Logistic(5), res.Normalized, 1e-12)
	assert.Equal(t, []string{models.FeatureVolumeZScore, models.FeatureNotionalZScore}, res.Explanation)

	res, err = d.Score(context.Background(), withFeatures(map[string]models.Feature{
		models.FeatureVolumeZScore: models.Present(0),
	}))
	require.NoError(t, err)
	assert.Less(t, res.Normalized, 0.05)

	_, err = d.Score(context.Background(), withFeatures(map[string]models.Feature{
		models.FeatureVolumeZScore:   models.Missing(models.ReasonInsufficientHistory),
		models.FeatureNotionalZScore: models.Missing(models.ReasonInsufficientHistory),
	}))
	var derr *models.DetectorError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Reason, models.ReasonInsufficientHistory)
	assert.False(t, derr.Unrecoverable)
}

func TestDisclosureDetector(t *testing.T) {
	d := NewDisclosureDetector(10)
	score := func(days float64) float64 {
		res, err := d.Score(context.Background(), withFeatures(map[string]models.Feature{
			models.FeatureDisclosureProximity: models.Present(days),
		}))
		require.NoError(t, err)
		return res.Normalized
	}
	assert.Equal(t, 1.0, score(0))
	assert.InDelta(t, 10.0/11, score(-1), 1e-12)
	assert.InDelta(t, 5.0/11, score(1), 1e-12, "after the news counts half")
	assert.Greater(t, score(-1), score(-5))

	_, err := d.Score(context.Background(), withFeatures(map[string]models.Feature{}))
	assert.Error(t, err)
}

func TestRelationshipDetector(t *testing.T) {
	d := NewRelationshipDetector(3)
	score := func(dist float64) float64 {
		res, err := d.Score(context.Background(), withFeatures(map[string]models.Feature{
			models.FeatureRelationshipDist: models.Present(dist),
		}))
		require.NoError(t, err)
		return res.Normalized
	}
	assert.Equal(t, 1.0, score(0))
	assert.Equal(t, 0.5, score(1))
	assert.Equal(t, 0.25, score(3))
	assert.Equal(t, 0.0, score(4))
}

func TestPeerDetector(t *testing.T) {
	d := NewPeerDetector()
	res, err := d.Score(context.Background(), withFeatures(map[string]models.Feature{
		models.FeaturePeerDeviation: models.Present(2),
		models.FeatureActivityShare: models.Present(0.9),
	}))
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Normalized)
	assert.Equal(t, []string{models.FeaturePeerDeviation, models.FeatureActivityShare}, res.Explanation)
}

func TestRemoteModelDetector(t *testing.T) {
	var got scoreReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(scoreResp{Score: 0, Explanation: []string{"volume_zscore"}, ModelVersion: "m1"})
	}))
	defer srv.Close()

	d := NewRemoteModelDetector(srv.URL+"/", time.Second)
	res, err := d.Score(context.Background(), withFeatures(map[string]models.Feature{
		models.FeatureVolumeZScore:     models.Present(4),
		models.FeaturePeerDeviation:    models.Missing(models.ReasonNoPeerCohort),
		models.FeatureRelationshipDist: models.Present(2),
	}))
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Normalized)
	assert.Equal(t, []string{"volume_zscore"}, res.Explanation)
	assert.Equal(t, map[string]float64{"volume_zscore": 4, "relationship_distance": 2}, got.Features)
	assert.Equal(t, []string{models.FeaturePeerDeviation}, got.Missing)
}

func TestRemoteModelDetectorFailure(t *testing.T) {
	for _, tc := range []struct {
		name     string
		status   int
		attempts int32
	}{
		{"retries temporary", http.StatusServiceUnavailable, 3},
		{"gives up on client error", http.StatusBadRequest, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			_, err := NewRemoteModelDetector(srv.URL, time.Second).Score(context.Background(), vector())
			var derr *models.DetectorError
			require.ErrorAs(t, err, &derr)
			assert.False(t, derr.Unrecoverable)
			assert.Equal(t, tc.attempts, calls.Load())
		})
	}
}
