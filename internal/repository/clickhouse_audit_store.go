package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
	pkgch "InsiderWatch/pkg/clickhouse"
	applogger "InsiderWatch/pkg/logger"
)

const chunkSize = 2000

// AuditSchema creates the append-only audit tables.
var AuditSchema = []string{
	`CREATE TABLE IF NOT EXISTS alert_transitions (
		at          DateTime64(9, 'UTC'),
		seq         UInt64,
		alert_id    String,
		entity_key  String,
		kind        LowCardinality(String),
		from_status LowCardinality(String),
		to_status   LowCardinality(String),
		peak_score  Float64,
		event_id    String,
		score       String,
		alert       String
	) ENGINE = MergeTree ORDER BY (alert_id, at, seq)`,
	`CREATE TABLE IF NOT EXISTS dispositions (
		at         DateTime64(9, 'UTC'),
		event_id   String,
		entity_key String,
		state      LowCardinality(String),
		code       LowCardinality(String),
		reason     String,
		alert_id   String,
		attempt    UInt8
	) ENGINE = MergeTree ORDER BY (event_id, at)`,
	`CREATE TABLE IF NOT EXISTS window_aggregates (
		entity_key      String,
		window_seconds  UInt32,
		start           DateTime64(9, 'UTC'),
		end             DateTime64(9, 'UTC'),
		count           Int64,
		sum             Float64,
		sum_sq          Float64,
		max             Float64,
		min             Float64,
		notional_sum    Float64,
		notional_sum_sq Float64,
		revision        UInt32
	) ENGINE = ReplacingMergeTree(revision) ORDER BY (entity_key, window_seconds, start)`,
}

// CHAuditStore writes alert transitions, dispositions and closed windows to ClickHouse.
type CHAuditStore struct {
	client *pkgch.Client
	db     *sql.DB
	l      *applogger.Logger
}

func NewCHAuditStore(client *pkgch.Client, l *applogger.Logger) *CHAuditStore {
	return &CHAuditStore{client: client, db: client.DB(), l: l}
}

func (s *CHAuditStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, AuditSchema)
}

func (s *CHAuditStore) PublishTransitions(ctx context.Context, ts []models.AlertTransition) error {
	rows := make([][]any, 0, len(ts))
	for _, t := range ts {
		snapshot, err := json.Marshal(t.Alert)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", t.AlertID, err)
		}
		var score []byte
		if t.Score != nil {
			if score, err = json.Marshal(t.Score); err != nil {
				return fmt.Errorf("marshal score of alert %s: %w", t.AlertID, err)
			}
		}
		rows = append(rows, []any{
			t.At, t.Seq, t.AlertID, string(t.EntityKey), string(t.Kind),
			string(t.From), string(t.To), t.PeakScore, t.EventID, string(score), string(snapshot),
		})
	}
	return s.insert(ctx, "alert_transitions",
		[]string{"at", "seq", "alert_id", "entity_key", "kind", "from_status", "to_status", "peak_score", "event_id", "score", "alert"}, rows)
}

func (s *CHAuditStore) RecordDispositions(ctx context.Context, ds []models.Disposition) error {
	rows := make([][]any, 0, len(ds))
	for _, d := range ds {
		rows = append(rows, []any{
			d.At, d.EventID, string(d.EntityKey), string(d.State), d.Code, d.Reason, d.AlertID, uint8(d.Attempt),
		})
	}
	return s.insert(ctx, "dispositions",
		[]string{"at", "event_id", "entity_key", "state", "code", "reason", "alert_id", "attempt"}, rows)
}

func (s *CHAuditStore) StoreAggregates(ctx context.Context, as []models.WindowAggregate) error {
	rows := make([][]any, 0, len(as))
	for _, a := range as {
		rows = append(rows, []any{
			string(a.EntityKey), uint32(a.WindowSize.Seconds()), a.Start, a.End,
			a.Count, a.Sum, a.SumSq, a.Max, a.Min, a.NotionalSum, a.NotionalSumSq, uint32(a.Revision),
		})
	}
	return s.insert(ctx, "window_aggregates",
		[]string{"entity_key", "window_seconds", "start", "end", "count", "sum", "sum_sq", "max", "min", "notional_sum", "notional_sum_sq", "revision"}, rows)
}

// insert writes rows with multi-row VALUES statements, chunkSize rows at a time.
func (s *CHAuditStore) insert(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*len(cols))
		for _, r := range rows[start:end] {
			values = append(values, tuple)
			args = append(args, r...)
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ", "), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse insert error",
					applogger.String("table", table),
					applogger.Int("rows", end-start),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *CHAuditStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *CHAuditStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}

var _ domrepo.AuditStore = (*CHAuditStore)(nil)
