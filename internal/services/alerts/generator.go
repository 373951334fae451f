package alerts

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"InsiderWatch/internal/domain/models"
)

// alertNamespace seeds deterministic alert ids.
var alertNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("insiderwatch.alerts"))

type Config struct {
	Threshold float64
	Cooldown  time.Duration
	Silence   time.Duration
}

// Generator turns anomaly scores into alerts for the entities of one partition.
// At most one alert per entity is open at a time.
type Generator struct {
	cfg Config

	mu      sync.Mutex
	alerts  map[string]*models.Alert
	open    map[models.EntityKey]*models.Alert
	pending []models.AlertTransition
	seq     uint64
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, &models.ConfigurationError{Key: "alerts.threshold", Reason: "must be in (0, 1]"}
	}
	if cfg.Cooldown <= 0 || cfg.Silence < cfg.Cooldown {
		return nil, &models.ConfigurationError{Key: "alerts.cooldown", Reason: "cooldown must be positive and not exceed silence"}
	}
	return &Generator{
		cfg:    cfg,
		alerts: make(map[string]*models.Alert),
		open:   make(map[models.EntityKey]*models.Alert),
	}, nil
}

// AlertID derives the id of the alert opened for key by the given score.
func AlertID(key models.EntityKey, openedAt time.Time, eventID string) string {
	name := strings.Join([]string{string(key), openedAt.UTC().Format(time.RFC3339Nano), eventID}, "|")
	return uuid.NewSHA1(alertNamespace, []byte(name)).String()
}

// Ingest applies one score. It returns the alert when a new one opens; merges into an
// existing alert return nil.
func (g *Generator) Ingest(score models.AnomalyScore) *models.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.expireLocked(score.EntityKey, score.Timestamp)

	if score.NoSignal || score.CombinedScore < g.cfg.Threshold {
		return nil
	}

	if cur := g.open[score.EntityKey]; cur != nil {
		if score.Timestamp.Sub(cur.Window.End) <= g.cfg.Cooldown {
			g.mergeLocked(cur, score)
			return nil
		}
		g.transitionLocked(cur, models.TransitionSuppressed, models.AlertSuppressed, score.EventID, score.Timestamp)
		delete(g.open, cur.EntityKey)
	}

	a := &models.Alert{
		AlertID:     AlertID(score.EntityKey, score.Timestamp, score.EventID),
		EntityKey:   score.EntityKey,
		Window:      models.TimeRange{Start: score.Timestamp, End: score.Timestamp},
		PeakScore:   score.CombinedScore,
		Status:      models.AlertOpen,
		ScoreCount:  1,
		Scores:      []models.AnomalyScore{score},
		Explanation: score.Explanation(),
		OpenedAt:    score.Timestamp,
		UpdatedAt:   score.Timestamp,
	}
	g.alerts[a.AlertID] = a
	g.open[a.EntityKey] = a
	g.recordLocked(a, models.TransitionOpened, "", &score, score.Timestamp)
	return a.Clone()
}

func (g *Generator) mergeLocked(a *models.Alert, score models.AnomalyScore) {
	a.ScoreCount++
	keepScore(a, score)
	if score.Timestamp.Before(a.Window.Start) {
		a.Window.Start = score.Timestamp
	}
	if score.Timestamp.After(a.Window.End) {
		a.Window.End = score.Timestamp
	}
	if score.Timestamp.After(a.UpdatedAt) {
		a.UpdatedAt = score.Timestamp
	}
	kind := models.TransitionMerged
	if score.CombinedScore > a.PeakScore {
		a.PeakScore = score.CombinedScore
		a.Explanation = score.Explanation()
		kind = models.TransitionPeakUpdate
	}
	g.recordLocked(a, kind, a.Status, &score, score.Timestamp)
}

// keepScore adds score to a.Scores, evicting the lowest merged score once the list
// is full. The opening score at index 0 is never evicted.
func keepScore(a *models.Alert, score models.AnomalyScore) {
	if len(a.Scores) < models.MaxAlertScores {
		a.Scores = append(a.Scores, score)
		return
	}
	low := 1
	for i := 2; i < len(a.Scores); i++ {
		if a.Scores[i].CombinedScore < a.Scores[low].CombinedScore {
			low = i
		}
	}
	if score.CombinedScore <= a.Scores[low].CombinedScore {
		return
	}
	a.Scores = append(a.Scores[:low], a.Scores[low+1:]...)
	a.Scores = append(a.Scores, score)
}

// expireLocked closes the open alert of key if it has been silent past the silence period.
func (g *Generator) expireLocked(key models.EntityKey, asOf time.Time) bool {
	cur := g.open[key]
	if cur == nil || asOf.Sub(cur.Window.End) <= g.cfg.Silence {
		return false
	}
	g.transitionLocked(cur, models.TransitionExpired, models.AlertExpired, "", cur.Window.End.Add(g.cfg.Silence))
	delete(g.open, key)
	return true
}

func (g *Generator) transitionLocked(a *models.Alert, kind models.TransitionKind, to models.AlertStatus, eventID string, at time.Time) {
	from := a.Status
	a.Status = to
	if at.After(a.UpdatedAt) {
		a.UpdatedAt = at
	}
	g.recordTransitionLocked(a, kind, from, eventID, nil, at)
}

func (g *Generator) recordLocked(a *models.Alert, kind models.TransitionKind, from models.AlertStatus, score *models.AnomalyScore, at time.Time) {
	g.recordTransitionLocked(a, kind, from, score.EventID, score, at)
}

// recordTransitionLocked appends one audit entry. It carries the alert summary and
// the triggering score only, so its size does not grow with the alert.
func (g *Generator) recordTransitionLocked(a *models.Alert, kind models.TransitionKind, from models.AlertStatus, eventID string, score *models.AnomalyScore, at time.Time) {
	g.seq++
	t := models.AlertTransition{
		Seq:       g.seq,
		AlertID:   a.AlertID,
		EntityKey: a.EntityKey,
		Kind:      kind,
		From:      from,
		To:        a.Status,
		PeakScore: a.PeakScore,
		EventID:   eventID,
		At:        at,
		Alert:     a.Summary(),
	}
	if score != nil {
		s := *score
		t.Score = &s
	}
	g.pending = append(g.pending, t)
}

// Sweep expires every open alert silent as of asOf and returns how many expired.
func (g *Generator) Sweep(asOf time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]models.EntityKey, 0, len(g.open))
	for k := range g.open {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	n := 0
	for _, k := range keys {
		if g.expireLocked(k, asOf) {
			n++
		}
	}
	return n
}

// Drain hands over the transitions recorded since the previous call.
func (g *Generator) Drain() []models.AlertTransition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.pending
	g.pending = nil
	return out
}

// Open returns copies of the open alerts, ranked.
func (g *Generator) Open() []*models.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*models.Alert, 0, len(g.open))
	for _, a := range g.open {
		out = append(out, a.Clone())
	}
	Rank(out)
	return out
}

// All returns copies of every alert held in memory, optionally filtered by status.
func (g *Generator) All(status models.AlertStatus) []*models.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*models.Alert, 0, len(g.alerts))
	for _, a := range g.alerts {
		if status == "" || a.Status == status {
			out = append(out, a.Clone())
		}
	}
	Rank(out)
	return out
}

func (g *Generator) Get(id string) (*models.Alert, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.alerts[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Compact drops closed alerts last updated before cutoff from memory. Their full
// history stays in the audit store.
func (g *Generator) Compact(cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, a := range g.alerts {
		if a.Status != models.AlertOpen && a.UpdatedAt.Before(cutoff) {
			delete(g.alerts, id)
			n++
		}
	}
	return n
}

// Rank orders alerts by peak score descending, then alert id.
func Rank(as []*models.Alert) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].PeakScore != as[j].PeakScore {
			return as[i].PeakScore > as[j].PeakScore
		}
		return as[i].AlertID < as[j].AlertID
	})
}
