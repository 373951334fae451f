package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
)

// Querier is the subset of pgxpool.Pool the metadata source uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresMetadataSource loads reference data maintained by the compliance team.
//
//	relationships(person_a, person_b, kind)
//	insiders(security_id, trader_id)
//	trader_roles(trader_id, role)
//	peer_cohorts(cohort, trader_id)
//	disclosures(disclosure_id, security_id, event_type, effective_at, material)
//	metadata_versions(version, created_at)
type PostgresMetadataSource struct {
	db Querier
}

func NewPostgresMetadataSource(db Querier) *PostgresMetadataSource {
	return &PostgresMetadataSource{db: db}
}

// NewPool opens a pgx pool and verifies it.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (s *PostgresMetadataSource) Load(ctx context.Context) (*models.MetadataSnapshot, error) {
	snap := &models.MetadataSnapshot{
		LoadedAt: time.Now().UTC(),
		Insiders: map[string][]string{},
		Roles:    map[string]string{},
		Cohorts:  map[string][]string{},
	}

	err := s.db.QueryRow(ctx, `SELECT version FROM metadata_versions ORDER BY created_at DESC LIMIT 1`).Scan(&snap.Version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("metadata version: %w", err)
	}

	if err := s.each(ctx, `SELECT person_a, person_b, kind FROM relationships`, func(r pgx.Rows) error {
		var rel models.Relationship
		if err := r.Scan(&rel.From, &rel.To, &rel.Kind); err != nil {
			return err
		}
		snap.Relationships = append(snap.Relationships, rel)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.each(ctx, `SELECT security_id, trader_id FROM insiders ORDER BY security_id, trader_id`, func(r pgx.Rows) error {
		var sec, trader string
		if err := r.Scan(&sec, &trader); err != nil {
			return err
		}
		snap.Insiders[sec] = append(snap.Insiders[sec], trader)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.each(ctx, `SELECT trader_id, role FROM trader_roles`, func(r pgx.Rows) error {
		var trader, role string
		if err := r.Scan(&trader, &role); err != nil {
			return err
		}
		snap.Roles[trader] = role
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.each(ctx, `SELECT cohort, trader_id FROM peer_cohorts ORDER BY cohort, trader_id`, func(r pgx.Rows) error {
		var cohort, trader string
		if err := r.Scan(&cohort, &trader); err != nil {
			return err
		}
		snap.Cohorts[cohort] = append(snap.Cohorts[cohort], trader)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.each(ctx, `SELECT disclosure_id, security_id, event_type, effective_at, material FROM disclosures`, func(r pgx.Rows) error {
		var d models.DisclosureEvent
		if err := r.Scan(&d.DisclosureID, &d.SecurityID, &d.EventType, &d.EffectiveTimestamp, &d.Material); err != nil {
			return err
		}
		d.EffectiveTimestamp = d.EffectiveTimestamp.UTC()
		snap.Disclosures = append(snap.Disclosures, d)
		return nil
	}); err != nil {
		return nil, err
	}

	if snap.Version == "" {
		snap.Version = "pg-" + snap.LoadedAt.Format(time.RFC3339)
	}
	return snap, nil
}

func (s *PostgresMetadataSource) each(ctx context.Context, q string, fn func(pgx.Rows) error) error {
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("metadata query %q: %w", q, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("metadata scan: %w", err)
		}
	}
	return rows.Err()
}

var (
	_ domrepo.MetadataSource = (*PostgresMetadataSource)(nil)
	_ Querier                = (*pgxpool.Pool)(nil)
)
