package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/pkg/config"
	xhttp "InsiderWatch/pkg/http"
)

// RemoteModelDetector asks an external model service to score a feature vector.
// Temporary failures are retried a few times within the request timeout.
type RemoteModelDetector struct {
	baseURL  string
	client   *xhttp.Client
	attempts uint64
}

func NewRemoteModelDetector(baseURL string, timeout time.Duration, opts ...xhttp.ClientOption) *RemoteModelDetector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RemoteModelDetector{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   xhttp.NewClient(append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)...),
		attempts: 3,
	}
}

type scoreReq struct {
	EntityKey string             `json:"entity_key"`
	EventID   string             `json:"event_id"`
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
	Missing   []string           `json:"missing"`
}

type scoreResp struct {
	Score        float64  `json:"score"`
	Explanation  []string `json:"explanation"`
	ModelVersion string   `json:"model_version"`
}

func (d *RemoteModelDetector) Name() string { return config.DetectorRemote }

func (d *RemoteModelDetector) Score(ctx context.Context, fv *models.FeatureVector) (models.DetectorResult, error) {
	if d.baseURL == "" {
		return models.DetectorResult{}, &models.DetectorError{Detector: d.Name(), Reason: "no model url configured", Unrecoverable: true}
	}
	req := scoreReq{
		EntityKey: string(fv.EntityKey),
		EventID:   fv.EventID,
		Timestamp: fv.Timestamp,
		Features:  fv.Values(),
	}
	for _, name := range fv.Names() {
		if fv.Features[name].Missing {
			req.Missing = append(req.Missing, name)
		}
	}

	var resp scoreResp
	op := func() error {
		err := d.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodPost,
			URL:    xhttp.JoinURL(d.baseURL, "score"),
			Body:   req,
		}, &resp)
		if err != nil && !xhttp.IsTemporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 20 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, d.attempts-1), ctx)); err != nil {
		return models.DetectorResult{}, &models.DetectorError{Detector: d.Name(), Reason: "model request failed", Err: err}
	}

	explanation := resp.Explanation
	if len(explanation) == 0 {
		explanation = byMagnitude(fv, fv.Names()...)
		if len(explanation) > 3 {
			explanation = explanation[:3]
		}
	}
	return models.DetectorResult{
		DetectorName: d.Name(),
		Score:        resp.Score,
		Normalized:   Logistic(resp.Score),
		Explanation:  explanation,
	}, nil
}
