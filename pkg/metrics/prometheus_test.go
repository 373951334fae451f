package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	domrepo "InsiderWatch/internal/domain/repository"
)

var (
	_ domrepo.Metrics = (*Recorder)(nil)
	_ domrepo.Metrics = Nop{}
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordEvent("alerted")
	r.RecordEvent("alerted")
	r.RecordError("validation")
	r.RecordQueueDepth(3, 17)
	r.RecordAlertTransition("opened")
	r.SetOpenAlerts(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.events.WithLabelValues("alerted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("validation")))
	assert.Equal(t, 17.0, testutil.ToFloat64(r.queueDepth.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("opened")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.openAlerts))
}
