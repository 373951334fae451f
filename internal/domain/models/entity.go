package models

import "strings"

type EntityKind string

const (
	EntityTrader   EntityKind = "trader"
	EntitySecurity EntityKind = "security"
	EntityPair     EntityKind = "pair"
)

// EntityKey identifies a tracked entity, e.g. "pair:T1|ACME".
type EntityKey string

func TraderKey(traderID string) EntityKey     { return EntityKey("trader:" + traderID) }
func SecurityKey(securityID string) EntityKey { return EntityKey("security:" + securityID) }

func PairKey(traderID, securityID string) EntityKey {
	return EntityKey("pair:" + traderID + "|" + securityID)
}

func (k EntityKey) Kind() EntityKind {
	kind, _, _ := strings.Cut(string(k), ":")
	return EntityKind(kind)
}

// KeysFor returns the entity keys a trade updates, pair key first.
func KeysFor(t *TradeEvent) []EntityKey {
	return []EntityKey{
		PairKey(t.TraderID, t.SecurityID),
		SecurityKey(t.SecurityID),
		TraderKey(t.TraderID),
	}
}
