package metadata

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/btree"

	"InsiderWatch/internal/domain/models"
)

// View is an indexed, read-only metadata snapshot. It is never mutated after
// construction; changes produce a new View.
type View struct {
	version  string
	loadedAt time.Time

	adjacency map[string][]string            // person -> related people
	insiders  map[string]map[string]struct{} // security -> traders
	roles     map[string]string
	cohortOf  map[string]string
	cohorts   map[string][]string
	byRole    map[string][]string

	calendar      map[string]*btree.BTreeG[models.DisclosureEvent] // security -> disclosures by time
	disclosureIDs *btree.Set[string]
}

func disclosureLess(a, b models.DisclosureEvent) bool {
	if !a.EffectiveTimestamp.Equal(b.EffectiveTimestamp) {
		return a.EffectiveTimestamp.Before(b.EffectiveTimestamp)
	}
	return a.DisclosureID < b.DisclosureID
}

// Compile indexes a declarative snapshot.
func Compile(ms *models.MetadataSnapshot) (*View, error) {
	if ms == nil {
		ms = &models.MetadataSnapshot{}
	}
	v := &View{
		version:       ms.Version,
		loadedAt:      ms.LoadedAt,
		adjacency:     make(map[string][]string),
		insiders:      make(map[string]map[string]struct{}),
		roles:         make(map[string]string, len(ms.Roles)),
		cohortOf:      make(map[string]string),
		cohorts:       make(map[string][]string, len(ms.Cohorts)),
		byRole:        make(map[string][]string),
		calendar:      make(map[string]*btree.BTreeG[models.DisclosureEvent]),
		disclosureIDs: &btree.Set[string]{},
	}

	for _, r := range ms.Relationships {
		if r.From == "" || r.To == "" {
			return nil, fmt.Errorf("relationship %q-%q: both ends are required", r.From, r.To)
		}
		if r.From == r.To {
			continue
		}
		v.adjacency[r.From] = append(v.adjacency[r.From], r.To)
		v.adjacency[r.To] = append(v.adjacency[r.To], r.From)
	}
	for person := range v.adjacency {
		sort.Strings(v.adjacency[person])
	}

	for security, traders := range ms.Insiders {
		set := make(map[string]struct{}, len(traders))
		for _, t := range traders {
			set[t] = struct{}{}
		}
		v.insiders[strings.ToUpper(security)] = set
	}

	for trader, role := range ms.Roles {
		role = NormalizeRole(role)
		v.roles[trader] = role
		v.byRole[role] = append(v.byRole[role], trader)
	}
	for role := range v.byRole {
		sort.Strings(v.byRole[role])
	}

	cohortNames := make([]string, 0, len(ms.Cohorts))
	for name := range ms.Cohorts {
		cohortNames = append(cohortNames, name)
	}
	sort.Strings(cohortNames)
	for _, name := range cohortNames {
		members := append([]string(nil), ms.Cohorts[name]...)
		sort.Strings(members)
		v.cohorts[name] = members
		for _, m := range members {
			if _, ok := v.cohortOf[m]; !ok {
				v.cohortOf[m] = name
			}
		}
	}

	for _, d := range ms.Disclosures {
		if d.DisclosureID == "" {
			return nil, fmt.Errorf("disclosure without id for security %s", d.SecurityID)
		}
		v.insertDisclosure(d)
	}
	return v, nil
}

func (v *View) Version() string     { return v.version }
func (v *View) LoadedAt() time.Time { return v.loadedAt }
func (v *View) Role(trader string) string {
	if r, ok := v.roles[trader]; ok {
		return r
	}
	return RoleOther
}

// Peers returns the comparable traders for trader: its cohort, or failing that
// everyone sharing its role. The trader itself is excluded.
func (v *View) Peers(trader string) []string {
	var group []string
	if c, ok := v.cohortOf[trader]; ok {
		group = v.cohorts[c]
	} else if r, ok := v.roles[trader]; ok {
		group = v.byRole[r]
	}
	peers := make([]string, 0, len(group))
	for _, p := range group {
		if p != trader {
			peers = append(peers, p)
		}
	}
	return peers
}

// RelationshipDistance is the shortest path length from trader to any known insider of
// security, searched up to maxDepth. A path longer than maxDepth reports maxDepth+1.
// known is false when no insider is on file for the security.
func (v *View) RelationshipDistance(trader, security string, maxDepth int) (distance int, known bool) {
	targets := v.insiders[security]
	if len(targets) == 0 {
		return 0, false
	}
	if _, ok := targets[trader]; ok {
		return 0, true
	}

	visited := map[string]struct{}{trader: {}}
	frontier := []string{trader}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, nb := range v.adjacency[node] {
				if _, seen := visited[nb]; seen {
					continue
				}
				if _, ok := targets[nb]; ok {
					return depth, true
				}
				visited[nb] = struct{}{}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return maxDepth + 1, true
}

// NearestMaterialDisclosure finds the material disclosure on security closest in time
// to ts, looking no further than window either side. Ties go to the upcoming one.
func (v *View) NearestMaterialDisclosure(security string, ts time.Time, window time.Duration) (models.DisclosureEvent, bool) {
	tree := v.calendar[security]
	if tree == nil {
		return models.DisclosureEvent{}, false
	}

	var before, after models.DisclosureEvent
	var hasBefore, hasAfter bool

	tree.Ascend(models.DisclosureEvent{EffectiveTimestamp: ts}, func(d models.DisclosureEvent) bool {
		if d.EffectiveTimestamp.Sub(ts) > window {
			return false
		}
		if d.Material {
			after, hasAfter = d, true
			return false
		}
		return true
	})
	tree.Descend(models.DisclosureEvent{EffectiveTimestamp: ts}, func(d models.DisclosureEvent) bool {
		if !d.EffectiveTimestamp.Before(ts) {
			return true
		}
		if ts.Sub(d.EffectiveTimestamp) > window {
			return false
		}
		if d.Material {
			before, hasBefore = d, true
			return false
		}
		return true
	})

	switch {
	case hasBefore && hasAfter:
		if ts.Sub(before.EffectiveTimestamp) < after.EffectiveTimestamp.Sub(ts) {
			return before, true
		}
		return after, true
	case hasAfter:
		return after, true
	case hasBefore:
		return before, true
	}
	return models.DisclosureEvent{}, false
}

// HasDisclosure reports whether a disclosure id is already on the calendar.
func (v *View) HasDisclosure(id string) bool {
	return v.disclosureIDs.Contains(id)
}

// Disclosures returns every disclosure on the calendar.
func (v *View) Disclosures() []models.DisclosureEvent {
	out := make([]models.DisclosureEvent, 0, v.DisclosureCount())
	for _, tree := range v.calendar {
		tree.Scan(func(d models.DisclosureEvent) bool {
			out = append(out, d)
			return true
		})
	}
	return out
}

// DisclosureCount is the number of disclosures on the calendar.
func (v *View) DisclosureCount() int {
	return v.disclosureIDs.Len()
}

// WithDisclosure returns a copy of v with d added. Only the touched security's tree is
// copied; the btree copies are lazy.
func (v *View) WithDisclosure(d models.DisclosureEvent) *View {
	d.SecurityID = strings.ToUpper(d.SecurityID)
	if v.HasDisclosure(d.DisclosureID) {
		return v
	}
	next := *v
	next.calendar = make(map[string]*btree.BTreeG[models.DisclosureEvent], len(v.calendar)+1)
	for sec, tree := range v.calendar {
		next.calendar[sec] = tree
	}
	if tree, ok := next.calendar[d.SecurityID]; ok {
		next.calendar[d.SecurityID] = tree.Copy()
	}
	next.disclosureIDs = v.disclosureIDs.Copy()
	next.insertDisclosure(d)
	return &next
}

func (v *View) insertDisclosure(d models.DisclosureEvent) {
	if v.disclosureIDs.Contains(d.DisclosureID) {
		return
	}
	d.SecurityID = strings.ToUpper(d.SecurityID)
	tree, ok := v.calendar[d.SecurityID]
	if !ok {
		tree = btree.NewBTreeG(disclosureLess)
		v.calendar[d.SecurityID] = tree
	}
	tree.Set(d)
	v.disclosureIDs.Insert(d.DisclosureID)
}
