package normalizer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/domain/repository"
	"InsiderWatch/pkg/util"
)

// Normalizer validates raw records and turns them into canonical events.
// It never touches window state.
type Normalizer struct {
	seen      repository.SeenStore
	seenTTL   time.Duration
	clockSkew time.Duration
	now       func() time.Time
	validate  *validator.Validate
}

type Option func(*Normalizer)

// WithClock overrides the wall clock used for the future-timestamp check.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithClockSkew sets how far in the future a timestamp may be.
func WithClockSkew(d time.Duration) Option {
	return func(n *Normalizer) { n.clockSkew = d }
}

// WithSeenTTL sets how long processed event ids are remembered.
func WithSeenTTL(d time.Duration) Option {
	return func(n *Normalizer) { n.seenTTL = d }
}

func New(seen repository.SeenStore, opts ...Option) *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	n := &Normalizer{
		seen:      seen,
		clockSkew: 30 * time.Second,
		now:       time.Now,
		validate:  v,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates raw and returns the canonical event. A repeated event id is not
// an error: the event comes back with duplicate set to true.
func (n *Normalizer) Normalize(ctx context.Context, in *models.RawTradeEvent) (ev *models.TradeEvent, duplicate bool, err error) {
	if in == nil {
		return nil, false, &models.ValidationError{Field: "event", Reason: "missing"}
	}
	raw := *in
	raw.EventID = strings.TrimSpace(raw.EventID)
	raw.TraderID = strings.TrimSpace(raw.TraderID)
	raw.SecurityID = strings.TrimSpace(raw.SecurityID)

	if err := n.validate.Struct(&raw); err != nil {
		return nil, false, toValidationError(raw.EventID, err)
	}

	ts, err := n.timestamp(raw.EventID, raw.Timestamp)
	if err != nil {
		return nil, false, err
	}

	side, ok := ParseSide(raw.Side)
	if !ok {
		return nil, false, &models.ValidationError{EventID: raw.EventID, Field: "side", Reason: fmt.Sprintf("unknown side %q", raw.Side)}
	}

	qty, err := positive(raw.EventID, "quantity", raw.Quantity)
	if err != nil {
		return nil, false, err
	}
	price, err := positive(raw.EventID, "price", raw.Price)
	if err != nil {
		return nil, false, err
	}

	ev = &models.TradeEvent{
		EventID:    raw.EventID,
		TraderID:   raw.TraderID,
		SecurityID: strings.ToUpper(raw.SecurityID),
		Timestamp:  ts,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Notional:   qty.Mul(price),
		Venue:      strings.ToLower(strings.TrimSpace(raw.Venue)),
		Source:     strings.ToLower(strings.TrimSpace(raw.Source)),
	}

	first, err := n.seen.MarkSeen(ctx, ev.EventID, n.seenTTL)
	if err != nil {
		return nil, false, fmt.Errorf("dedup check: %w", err)
	}
	return ev, !first, nil
}

// Release forgets an event id so a redelivery is processed again. Used when
// processing stopped before any state was changed.
func (n *Normalizer) Release(ctx context.Context, eventID string) error {
	return n.seen.Forget(ctx, eventID)
}

// NormalizeDisclosure validates a corporate event.
func (n *Normalizer) NormalizeDisclosure(in *models.RawDisclosureEvent) (*models.DisclosureEvent, error) {
	if in == nil {
		return nil, &models.ValidationError{Field: "disclosure", Reason: "missing"}
	}
	raw := *in
	raw.DisclosureID = strings.TrimSpace(raw.DisclosureID)
	raw.SecurityID = strings.TrimSpace(raw.SecurityID)
	if err := n.validate.Struct(&raw); err != nil {
		return nil, toValidationError(raw.DisclosureID, err)
	}
	ts, ok := util.ParseTime(string(raw.EffectiveTimestamp))
	if !ok {
		return nil, &models.ValidationError{EventID: raw.DisclosureID, Field: "effective_timestamp", Reason: "unparseable"}
	}
	return &models.DisclosureEvent{
		DisclosureID:       raw.DisclosureID,
		SecurityID:         strings.ToUpper(raw.SecurityID),
		EventType:          strings.ToLower(strings.TrimSpace(raw.EventType)),
		EffectiveTimestamp: ts,
		Material:           raw.Material,
	}, nil
}

func (n *Normalizer) timestamp(eventID string, raw models.RawValue) (time.Time, error) {
	ts, ok := util.ParseTime(string(raw))
	if !ok {
		return time.Time{}, &models.ValidationError{EventID: eventID, Field: "timestamp", Reason: fmt.Sprintf("unparseable %q", raw)}
	}
	if limit := n.now().Add(n.clockSkew); ts.After(limit) {
		return time.Time{}, &models.ValidationError{EventID: eventID, Field: "timestamp", Reason: fmt.Sprintf("%s is beyond allowed clock skew", ts.Format(time.RFC3339))}
	}
	return ts, nil
}

// ParseSide accepts buy/sell and the usual filing aliases.
func ParseSide(s string) (models.Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b", "purchase", "p":
		return models.SideBuy, true
	case "sell", "s", "sale":
		return models.SideSell, true
	}
	return "", false
}

func positive(eventID, field string, d decimal.NullDecimal) (decimal.Decimal, error) {
	if !d.Valid {
		return decimal.Decimal{}, &models.ValidationError{EventID: eventID, Field: field, Reason: "required"}
	}
	if !d.Decimal.IsPositive() {
		return decimal.Decimal{}, &models.ValidationError{EventID: eventID, Field: field, Reason: "must be greater than zero"}
	}
	return d.Decimal, nil
}

func toValidationError(eventID string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &models.ValidationError{EventID: eventID, Field: verrs[0].Field(), Reason: verrs[0].Tag()}
	}
	return &models.ValidationError{EventID: eventID, Field: "event", Reason: err.Error()}
}
