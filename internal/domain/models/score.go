package models

import "time"

type DetectorResult struct {
	DetectorName string   `json:"detector_name"`
	Score        float64  `json:"score"`
	Normalized   float64  `json:"normalized"`
	Weight       float64  `json:"weight"`
	Contribution float64  `json:"contribution"`
	Explanation  []string `json:"explanation"`
}

type AnomalyScore struct {
	EntityKey     EntityKey        `json:"entity_key"`
	EventID       string           `json:"event_id"`
	Timestamp     time.Time        `json:"timestamp"`
	CombinedScore float64          `json:"combined_score"`
	NoSignal      bool             `json:"no_signal,omitempty"`
	Results       []DetectorResult `json:"results"`
	Failed        []string         `json:"failed,omitempty"`
}

// Explanation lists contributing features, highest-contributing detector first, without repeats.
func (s *AnomalyScore) Explanation() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range s.Results {
		for _, name := range r.Explanation {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
