// Package store implements fleetcore's two persistence layers: the
// relational Rule/HealthCheckConfig store over CockroachDB (via pgx), and
// the shared worker liveness store over Redis.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/fleetcore/pkg/types"
)

// LivenessStore is the shared, keyed store every Health-Check Scheduler
// instance writes into; the API surface pings it for readiness.
type LivenessStore struct {
	client    *redis.Client
	projectID string
}

func NewLivenessStore(client *redis.Client, projectID string) *LivenessStore {
	return &LivenessStore{client: client, projectID: projectID}
}

// Ping checks connectivity to the backing Redis instance.
func (s *LivenessStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *LivenessStore) key(workerID, region string) string {
	return fmt.Sprintf("pj:%s:wkr:%s:%s", s.projectID, workerID, region)
}

// Set writes the latest liveness observation for a worker. Each field is
// stored independently so a reader can fetch just "available" without
// paying for a full struct decode.
func (s *LivenessStore) Set(ctx context.Context, workerID, region string, liveness types.WorkerLiveness) error {
	key := s.key(workerID, region)
	fields := map[string]any{
		"available":         strconv.FormatBool(liveness.Available),
		"last_health_check": liveness.LastHealthCheck.UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("writing liveness for %s/%s: %w", workerID, region, err)
	}
	return nil
}

// Get reads the latest liveness observation for a worker. A cache miss
// (worker never reported) returns the zero value and no error.
func (s *LivenessStore) Get(ctx context.Context, workerID, region string) (types.WorkerLiveness, error) {
	key := s.key(workerID, region)
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return types.WorkerLiveness{}, fmt.Errorf("reading liveness for %s/%s: %w", workerID, region, err)
	}
	if len(values) == 0 {
		return types.WorkerLiveness{}, nil
	}

	available, _ := strconv.ParseBool(values["available"])
	lastCheck, _ := time.Parse(time.RFC3339Nano, values["last_health_check"])

	return types.WorkerLiveness{Available: available, LastHealthCheck: lastCheck}, nil
}

// ListRegion returns every worker's liveness under a region, keyed by
// worker ID.
func (s *LivenessStore) ListRegion(ctx context.Context, region string) (map[string]types.WorkerLiveness, error) {
	pattern := fmt.Sprintf("pj:%s:wkr:*:%s", s.projectID, region)
	result := make(map[string]types.WorkerLiveness)

	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		workerID, ok := workerIDFromKey(key, s.projectID, region)
		if !ok {
			continue
		}
		liveness, err := s.Get(ctx, workerID, region)
		if err != nil {
			return nil, err
		}
		result[workerID] = liveness
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning liveness keys for region %s: %w", region, err)
	}

	return result, nil
}

func workerIDFromKey(key, projectID, region string) (string, bool) {
	prefix := fmt.Sprintf("pj:%s:wkr:", projectID)
	suffix := ":" + region
	if len(key) <= len(prefix)+len(suffix) {
		return "", false
	}
	if key[:len(prefix)] != prefix || key[len(key)-len(suffix):] != suffix {
		return "", false
	}
	return key[len(prefix) : len(key)-len(suffix)], true
}
