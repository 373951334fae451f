package models

import "time"

type AlertStatus string

const (
	AlertOpen       AlertStatus = "open"
	AlertSuppressed AlertStatus = "suppressed"
	AlertExpired    AlertStatus = "expired"
)

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MaxAlertScores bounds Alert.Scores: the opening score plus the highest-scoring
// merges. ScoreCount still counts every score.
const MaxAlertScores = 16

// Alert is never deleted; status changes are recorded as AlertTransitions.
type Alert struct {
	AlertID     string         `json:"alert_id"`
	EntityKey   EntityKey      `json:"entity_key"`
	Window      TimeRange      `json:"window"`
	PeakScore   float64        `json:"peak_score"`
	Status      AlertStatus    `json:"status"`
	ScoreCount  int            `json:"score_count"`
	Scores      []AnomalyScore `json:"scores,omitempty"`
	Explanation []string       `json:"explanation"`
	OpenedAt    time.Time      `json:"opened_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (a *Alert) Clone() *Alert {
	c := a.Summary()
	c.Scores = append([]AnomalyScore(nil), a.Scores...)
	return c
}

// Summary copies a without its scores.
func (a *Alert) Summary() *Alert {
	c := *a
	c.Scores = nil
	c.Explanation = append([]string(nil), a.Explanation...)
	return &c
}

type TransitionKind string

const (
	TransitionOpened     TransitionKind = "opened"
	TransitionPeakUpdate TransitionKind = "peak_updated"
	TransitionMerged     TransitionKind = "score_merged"
	TransitionSuppressed TransitionKind = "suppressed"
	TransitionExpired    TransitionKind = "expired"
)

// AlertTransition is one entry of the append-only alert audit log. Alert is a
// summary; Score is the score that caused the transition, if any.
type AlertTransition struct {
	Seq       uint64         `json:"seq"`
	AlertID   string         `json:"alert_id"`
	EntityKey EntityKey      `json:"entity_key"`
	Kind      TransitionKind `json:"kind"`
	From      AlertStatus    `json:"from,omitempty"`
	To        AlertStatus    `json:"to"`
	PeakScore float64        `json:"peak_score"`
	EventID   string         `json:"event_id,omitempty"`
	At        time.Time      `json:"at"`
	Score     *AnomalyScore  `json:"score,omitempty"`
	Alert     *Alert         `json:"alert"`
}
