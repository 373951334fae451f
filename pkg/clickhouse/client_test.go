package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := &ClientConfig{Port: 9000}
	for _, opt := range []ClientOption{
		WithAddress("ch.internal", 8123),
		WithDatabase("surveillance"),
		WithCredentials("svc", "secret"),
		WithHTTP(true),
		WithAsyncInsert(true),
		WithMaxExecutionTime(90 * time.Second),
	} {
		opt(cfg)
	}

	o := options(cfg)
	require.Len(t, o.Addr, 1)
	assert.Equal(t, "ch.internal:8123", o.Addr[0])
	assert.Equal(t, ch.HTTP, o.Protocol)
	assert.Equal(t, "surveillance", o.Auth.Database)
	assert.Equal(t, "svc", o.Auth.Username)
	assert.Equal(t, 90, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["wait_for_async_insert"])
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}
