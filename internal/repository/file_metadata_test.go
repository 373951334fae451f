package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetadata = `
version: "2024-03"
relationships:
  - {from: T1, to: CEO1, kind: family}
insiders:
  ACME: [CEO1]
roles:
  CEO1: Chief Executive Officer
cohorts:
  desk-a: [T1, T2, T3]
disclosures:
  - disclosure_id: D1
    security_id: ACME
    event_type: earnings
    effective_timestamp: 2024-02-01T15:00:00Z
    materiality_flag: true
`

func TestFileMetadataSourceLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMetadata), 0o600))

	snap, err := NewFileMetadataSource(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-03", snap.Version)
	assert.False(t, snap.LoadedAt.IsZero())
	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, "CEO1", snap.Relationships[0].To)
	assert.Equal(t, []string{"CEO1"}, snap.Insiders["ACME"])
	assert.Equal(t, []string{"T1", "T2", "T3"}, snap.Cohorts["desk-a"])
	require.Len(t, snap.Disclosures, 1)
	assert.True(t, snap.Disclosures[0].Material)
	assert.True(t, snap.Disclosures[0].EffectiveTimestamp.Equal(time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC)))
}

func TestFileMetadataSourceMissingFile(t *testing.T) {
	_, err := NewFileMetadataSource(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	assert.Error(t, err)
}
