package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent is a validated, canonical trade. Immutable once normalized.
type TradeEvent struct {
	EventID    string          `json:"event_id"`
	TraderID   string          `json:"trader_id"`
	SecurityID string          `json:"security_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Notional   decimal.Decimal `json:"notional"`
	Venue      string          `json:"venue,omitempty"`
	Source     string          `json:"source,omitempty"`
}

// QuantityFloat and NotionalFloat feed the window aggregates.
func (t *TradeEvent) QuantityFloat() float64 { return t.Quantity.InexactFloat64() }
func (t *TradeEvent) NotionalFloat() float64 { return t.Notional.InexactFloat64() }

// RawTradeEvent is a trade record as it arrives from a connector, before validation.
type RawTradeEvent struct {
	EventID    string              `json:"event_id" validate:"required"`
	TraderID   string              `json:"trader_id" validate:"required"`
	SecurityID string              `json:"security_id" validate:"required"`
	Timestamp  RawValue            `json:"timestamp" validate:"required"`
	Side       string              `json:"side" validate:"required"`
	Quantity   decimal.NullDecimal `json:"quantity"`
	Price      decimal.NullDecimal `json:"price"`
	Venue      string              `json:"venue"`
	Source     string              `json:"source"`
}

// DisclosureEvent is a corporate event used for proximity features.
type DisclosureEvent struct {
	DisclosureID       string    `json:"disclosure_id" yaml:"disclosure_id"`
	SecurityID         string    `json:"security_id" yaml:"security_id"`
	EventType          string    `json:"event_type" yaml:"event_type"`
	EffectiveTimestamp time.Time `json:"effective_timestamp" yaml:"effective_timestamp"`
	Material           bool      `json:"materiality_flag" yaml:"materiality_flag"`
}

type RawDisclosureEvent struct {
	DisclosureID       string   `json:"disclosure_id" validate:"required"`
	SecurityID         string   `json:"security_id" validate:"required"`
	EventType          string   `json:"event_type" validate:"required"`
	EffectiveTimestamp RawValue `json:"effective_timestamp" validate:"required"`
	Material           bool     `json:"materiality_flag"`
}

// RawValue holds a JSON scalar (string or number) verbatim, unquoted.
type RawValue string

func (v *RawValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = RawValue(s)
		return nil
	}
	*v = RawValue(b)
	return nil
}
