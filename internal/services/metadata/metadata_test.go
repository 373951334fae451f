package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/pkg/logger"
)

var day = time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC) // Wednesday

func snapshot() *models.MetadataSnapshot {
	return &models.MetadataSnapshot{
		Version: "v1",
		Relationships: []models.Relationship{
			{From: "alice", To: "bob", Kind: "spouse"},
			{From: "bob", To: "carol"},
			{From: "carol", To: "dave"},
		},
		Insiders: map[string][]string{"acme": {"alice"}},
		Roles:    map[string]string{"alice": "Chief Executive Officer", "erin": "Director", "frank": "dir", "gina": "Director"},
		Cohorts:  map[string][]string{"acme-desk": {"bob", "carol", "zed"}},
		Disclosures: []models.DisclosureEvent{
			{DisclosureID: "d1", SecurityID: "ACME", EventType: "earnings", EffectiveTimestamp: day.AddDate(0, 0, 1), Material: true},
			{DisclosureID: "d2", SecurityID: "ACME", EventType: "dividend", EffectiveTimestamp: day.AddDate(0, 0, -1), Material: false},
			{DisclosureID: "d3", SecurityID: "ACME", EventType: "merger", EffectiveTimestamp: day.AddDate(0, 0, -20), Material: true},
		},
	}
}

func TestRelationshipDistance(t *testing.T) {
	v, err := Compile(snapshot())
	require.NoError(t, err)

	cases := []struct {
		trader   string
		maxDepth int
		want     int
	}{
		{"alice", 3, 0},
		{"bob", 3, 1},
		{"carol", 3, 2},
		{"dave", 3, 3},
		{"dave", 2, 3}, // capped: beyond max depth reports max+1
		{"stranger", 3, 4},
	}
	for _, c := range cases {
		d, known := v.RelationshipDistance(c.trader, "ACME", c.maxDepth)
		assert.True(t, known)
		assert.Equal(t, c.want, d, "%s depth %d", c.trader, c.maxDepth)
	}

	_, known := v.RelationshipDistance("bob", "GLOBEX", 3)
	assert.False(t, known, "no insiders on file for the security")
}

func TestPeers(t *testing.T) {
	v, err := Compile(snapshot())
	require.NoError(t, err)

	assert.Equal(t, []string{"carol", "zed"}, v.Peers("bob"))
	assert.Equal(t, []string{"frank", "gina"}, v.Peers("erin"), "role fallback")
	assert.Empty(t, v.Peers("nobody"))
	assert.Equal(t, RoleCEO, v.Role("alice"))
	assert.Equal(t, RoleOther, v.Role("nobody"))
}

func TestNearestMaterialDisclosure(t *testing.T) {
	v, err := Compile(snapshot())
	require.NoError(t, err)

	d, ok := v.NearestMaterialDisclosure("ACME", day, 14*24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, "d1", d.DisclosureID, "immaterial d2 is closer but skipped")

	_, ok = v.NearestMaterialDisclosure("ACME", day.AddDate(0, 0, -40), 14*24*time.Hour)
	assert.False(t, ok)

	d, ok = v.NearestMaterialDisclosure("ACME", day.AddDate(0, 0, -18), 14*24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, "d3", d.DisclosureID)

	_, ok = v.NearestMaterialDisclosure("GLOBEX", day, time.Hour)
	assert.False(t, ok)
}

func TestWithDisclosureLeavesOriginalUntouched(t *testing.T) {
	v, err := Compile(snapshot())
	require.NoError(t, err)

	added := models.DisclosureEvent{DisclosureID: "d9", SecurityID: "acme", EffectiveTimestamp: day, Material: true}
	next := v.WithDisclosure(added)

	assert.True(t, next.HasDisclosure("d9"))
	assert.False(t, v.HasDisclosure("d9"))
	assert.Equal(t, 3, v.DisclosureCount())
	assert.Equal(t, 4, next.DisclosureCount())

	d, ok := v.NearestMaterialDisclosure("ACME", day, 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, "d1", d.DisclosureID)
	d, ok = next.NearestMaterialDisclosure("ACME", day, 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, "d9", d.DisclosureID)

	assert.Same(t, next, next.WithDisclosure(added), "known ids are a no-op")
}

type fakeSource struct{ snap *models.MetadataSnapshot }

func (f *fakeSource) Load(context.Context) (*models.MetadataSnapshot, error) {
	cp := *f.snap
	return &cp, nil
}

func TestHolderReloadKeepsStreamedDisclosures(t *testing.T) {
	h := NewHolder(&fakeSource{snap: snapshot()}, logger.Nop())
	assert.True(t, h.AddDisclosure(models.DisclosureEvent{DisclosureID: "live", SecurityID: "ACME", EffectiveTimestamp: day, Material: true}))
	assert.False(t, h.AddDisclosure(models.DisclosureEvent{DisclosureID: "live", SecurityID: "ACME", EffectiveTimestamp: day}))

	v, err := h.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", v.Version())
	assert.True(t, v.HasDisclosure("live"))
	assert.True(t, v.HasDisclosure("d1"))
	assert.Same(t, v, h.Current())
}

func TestHolderConcurrentAdds(t *testing.T) {
	h := NewHolder(nil, logger.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.AddDisclosure(models.DisclosureEvent{
				DisclosureID:       string(rune('A' + i)),
				SecurityID:         "ACME",
				EffectiveTimestamp: day.Add(time.Duration(i) * time.Hour),
			})
			_ = h.Current().DisclosureCount()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, h.Current().DisclosureCount())
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, RoleCFO, NormalizeRole("Chief Financial Officer"))
	assert.Equal(t, RoleCEO, NormalizeRole("CEO, Director"))
	assert.Equal(t, RoleDirector, NormalizeRole("Director"))
	assert.Equal(t, RoleOfficer, NormalizeRole("EVP Sales"))
	assert.Equal(t, RoleOther, NormalizeRole("10% Owner"))
}
