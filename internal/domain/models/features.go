package models

import (
	"fmt"
	"sort"
	"time"
)

const (
	FeatureVolumeZScore        = "volume_zscore"
	FeatureNotionalZScore      = "notional_zscore"
	FeaturePeerDeviation       = "peer_deviation"
	FeatureDisclosureProximity = "disclosure_proximity_days"
	FeatureRelationshipDist    = "relationship_distance"
	FeatureTradeNotional       = "trade_notional"
	FeatureIsBuy               = "is_buy"
	FeatureIsSell              = "is_sell"
	FeatureActivityShare       = "activity_share"
	FeatureWeekday             = "weekday"
	FeatureDaysSinceLastTrade  = "days_since_last_trade"
	FeatureUnusualVolume       = "unusual_volume"
)

// TradeValueMean names the rolling mean trade value of a security over size,
// e.g. "trade_value_7d_mean".
func TradeValueMean(size time.Duration) string {
	if size%(24*time.Hour) == 0 {
		return fmt.Sprintf("trade_value_%dd_mean", size/(24*time.Hour))
	}
	return fmt.Sprintf("trade_value_%dh_mean", size/time.Hour)
}

// Reasons attached to missing features.
const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonNoPeerCohort        = "no_peer_cohort"
	ReasonNoDisclosure        = "no_disclosure_in_horizon"
	ReasonNoKnownInsider      = "no_known_insider"
	ReasonNoSecurityActivity  = "no_security_activity"
	ReasonFirstTrade          = "first_trade"
	ReasonOutOfOrder          = "out_of_order"
)

// Feature is a single named value. A missing feature is never read as zero.
type Feature struct {
	Value   float64 `json:"value"`
	Missing bool    `json:"missing,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

func Present(v float64) Feature     { return Feature{Value: v} }
func Missing(reason string) Feature { return Feature{Missing: true, Reason: reason} }

type FeatureVector struct {
	EntityKey  EntityKey          `json:"entity_key"`
	EventID    string             `json:"event_id"`
	SecurityID string             `json:"security_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Features   map[string]Feature `json:"features"`
}

// Get returns the value and whether it is present.
func (fv *FeatureVector) Get(name string) (float64, bool) {
	f, ok := fv.Features[name]
	if !ok || f.Missing {
		return 0, false
	}
	return f.Value, true
}

// Values flattens present features, for transports that have no notion of missing.
func (fv *FeatureVector) Values() map[string]float64 {
	out := make(map[string]float64, len(fv.Features))
	for name, f := range fv.Features {
		if !f.Missing {
			out[name] = f.Value
		}
	}
	return out
}

func (fv *FeatureVector) Names() []string {
	names := make([]string, 0, len(fv.Features))
	for name := range fv.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
