package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/fleetcore/pkg/types"
)

// RuleStore persists the Fleet Reconciler's desired-state rules and the
// Health-Check Scheduler's per-worker check configuration.
type RuleStore struct {
	pool *pgxpool.Pool
}

func NewRuleStore(ctx context.Context, databaseURL string) (*RuleStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating rule store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging rule store: %w", err)
	}
	return &RuleStore{pool: pool}, nil
}

func (s *RuleStore) Close() {
	s.pool.Close()
}

// Ping checks connectivity to the backing CockroachDB cluster.
func (s *RuleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListRules returns every active rule, one row per (provider, region).
func (s *RuleStore) ListRules(ctx context.Context) ([]types.Rule, error) {
	rows, err := s.pool.Query(ctx, `SELECT provider, region, desired_count FROM rules ORDER BY provider, region`)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var rules []types.Rule
	for rows.Next() {
		var provider, region string
		var desired int
		if err := rows.Scan(&provider, &region, &desired); err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		rules = append(rules, types.Rule{
			Provider:     types.Provider(provider),
			Region:       region,
			DesiredCount: desired,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule rows: %w", err)
	}
	return rules, nil
}

// UpsertRule creates or replaces the desired count for a (provider, region)
// pair.
func (s *RuleStore) UpsertRule(ctx context.Context, rule types.Rule) error {
	const query = `
		INSERT INTO rules (provider, region, desired_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, region)
		DO UPDATE SET desired_count = EXCLUDED.desired_count`

	if _, err := s.pool.Exec(ctx, query, string(rule.Provider), rule.Region, rule.DesiredCount); err != nil {
		return fmt.Errorf("upserting rule for %s/%s: %w", rule.Provider, rule.Region, err)
	}
	return nil
}

// DeleteRule removes a (provider, region) rule. Deleting a rule that does
// not exist is not an error.
func (s *RuleStore) DeleteRule(ctx context.Context, provider types.Provider, region string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE provider = $1 AND region = $2`, string(provider), region); err != nil {
		return fmt.Errorf("deleting rule for %s/%s: %w", provider, region, err)
	}
	return nil
}

// HealthCheckRow is a stored HealthCheckConfig scoped to one worker, keyed
// by its Config.Path.
type HealthCheckRow struct {
	WorkerID string
	Region   string
	Address  string
	Config   types.HealthCheckConfig
}

// ListHealthChecks returns every configured health check across all
// workers, for the scheduler to start at process boot.
func (s *RuleStore) ListHealthChecks(ctx context.Context) ([]HealthCheckRow, error) {
	const query = `SELECT worker_id, region, address, config FROM health_checks`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing health checks: %w", err)
	}
	defer rows.Close()

	var result []HealthCheckRow
	for rows.Next() {
		var row HealthCheckRow
		var raw []byte
		if err := rows.Scan(&row.WorkerID, &row.Region, &row.Address, &raw); err != nil {
			return nil, fmt.Errorf("scanning health check row: %w", err)
		}
		if err := json.Unmarshal(raw, &row.Config); err != nil {
			return nil, fmt.Errorf("decoding health check config for %s: %w", row.Config.Path, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating health check rows: %w", err)
	}
	return result, nil
}

// UpsertHealthCheck creates or replaces the health check keyed by
// cfg.Path.
func (s *RuleStore) UpsertHealthCheck(ctx context.Context, workerID, region, address string, cfg types.HealthCheckConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid health check config: %w", err)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding health check config: %w", err)
	}

	const query = `
		INSERT INTO health_checks (path, worker_id, region, address, config)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (path) DO UPDATE
		SET worker_id = EXCLUDED.worker_id, region = EXCLUDED.region, address = EXCLUDED.address, config = EXCLUDED.config`

	if _, err := s.pool.Exec(ctx, query, cfg.Path, workerID, region, address, raw); err != nil {
		return fmt.Errorf("upserting health check %s: %w", cfg.Path, err)
	}
	return nil
}

// DeleteHealthCheck removes a health check by its path. Returns
// pgx.ErrNoRows if no such health check exists.
func (s *RuleStore) DeleteHealthCheck(ctx context.Context, path string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM health_checks WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("deleting health check %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
