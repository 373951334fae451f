package normalizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/service/cache"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newNormalizer() *Normalizer {
	clock := func() time.Time { return now }
	return New(cache.NewMemorySeenStore(clock), WithClock(clock), WithClockSkew(time.Minute), WithSeenTTL(time.Hour))
}

func decode(t *testing.T, s string) *models.RawTradeEvent {
	t.Helper()
	var raw models.RawTradeEvent
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return &raw
}

func TestNormalizeCanonicalizes(t *testing.T) {
	n := newNormalizer()
	raw := decode(t, `{"event_id":" e1 ","trader_id":"T1","security_id":"acme","timestamp":"2024-03-04T10:00:00+02:00",
		"side":"Sale","quantity":"150","price":12.5,"venue":" XNYS ","source":"Form4"}`)

	ev, dup, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, "e1", ev.EventID)
	assert.Equal(t, "ACME", ev.SecurityID)
	assert.Equal(t, models.SideSell, ev.Side)
	assert.Equal(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "1875", ev.Notional.String())
	assert.Equal(t, "xnys", ev.Venue)
	assert.Equal(t, "form4", ev.Source)
	assert.Equal(t, " e1 ", raw.EventID, "input is not modified")
}

func TestNormalizeUnixTimestamp(t *testing.T) {
	n := newNormalizer()
	raw := decode(t, `{"event_id":"e1","trader_id":"T1","security_id":"ACME","timestamp":1709546400,"side":"buy","quantity":1,"price":1}`)
	ev, _, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1709546400, 0).UTC(), ev.Timestamp)
}

func TestNormalizeDuplicateIsNotAnError(t *testing.T) {
	n := newNormalizer()
	body := `{"event_id":"e1","trader_id":"T1","security_id":"ACME","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":10,"price":2}`

	_, dup, err := n.Normalize(context.Background(), decode(t, body))
	require.NoError(t, err)
	assert.False(t, dup)

	ev, dup, err := n.Normalize(context.Background(), decode(t, body))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "e1", ev.EventID)

	require.NoError(t, n.Release(context.Background(), "e1"))
	_, dup, err = n.Normalize(context.Background(), decode(t, body))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"missing trader":   {`{"event_id":"e","security_id":"A","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":1,"price":1}`, "trader_id"},
		"blank security":   {`{"event_id":"e","trader_id":"T","security_id":"  ","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":1,"price":1}`, "security_id"},
		"bad timestamp":    {`{"event_id":"e","trader_id":"T","security_id":"A","timestamp":"last tuesday","side":"buy","quantity":1,"price":1}`, "timestamp"},
		"future timestamp": {`{"event_id":"e","trader_id":"T","security_id":"A","timestamp":"2024-03-04T12:05:00Z","side":"buy","quantity":1,"price":1}`, "timestamp"},
		"unknown side":     {`{"event_id":"e","trader_id":"T","security_id":"A","timestamp":"2024-03-04T10:00:00Z","side":"gift","quantity":1,"price":1}`, "side"},
		"zero quantity":    {`{"event_id":"e","trader_id":"T","security_id":"A","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":0,"price":1}`, "quantity"},
		"missing price":    {`{"event_id":"e","trader_id":"T","security_id":"A","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":5}`, "price"},
		"negative price":   {`{"event_id":"e","trader_id":"T","security_id":"A","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":5,"price":"-1.5"}`, "price"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			n := newNormalizer()
			_, _, err := n.Normalize(context.Background(), decode(t, tc.body))
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestRejectedEventIsNotMarkedSeen(t *testing.T) {
	n := newNormalizer()
	bad := `{"event_id":"e1","trader_id":"T1","security_id":"ACME","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":0,"price":2}`
	good := `{"event_id":"e1","trader_id":"T1","security_id":"ACME","timestamp":"2024-03-04T10:00:00Z","side":"buy","quantity":3,"price":2}`

	_, _, err := n.Normalize(context.Background(), decode(t, bad))
	require.Error(t, err)
	_, dup, err := n.Normalize(context.Background(), decode(t, good))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestNormalizeDisclosure(t *testing.T) {
	n := newNormalizer()
	var raw models.RawDisclosureEvent
	require.NoError(t, json.Unmarshal([]byte(`{"disclosure_id":"d1","security_id":"acme","event_type":"Earnings",
		"effective_timestamp":"2024-03-05T13:30:00Z","materiality_flag":true}`), &raw))

	d, err := n.NormalizeDisclosure(&raw)
	require.NoError(t, err)
	assert.Equal(t, "ACME", d.SecurityID)
	assert.Equal(t, "earnings", d.EventType)
	assert.True(t, d.Material)

	raw.EffectiveTimestamp = ""
	_, err = n.NormalizeDisclosure(&raw)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "effective_timestamp", verr.Field)
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]models.Side{"BUY": models.SideBuy, "p": models.SideBuy, "Sale": models.SideSell, " s ": models.SideSell} {
		got, ok := ParseSide(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseSide("hold")
	assert.False(t, ok)
}
