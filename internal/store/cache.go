package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kalshi-edge/pkg/types"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// result tables the dashboard polls. Writes go to the primary and invalidate
// the affected keys; everything else passes straight through.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around primary.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveCalibrationResult(ctx context.Context, r *types.CalibrationResult) error {
	if err := s.Store.SaveCalibrationResult(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, calibrationKey(r.BinningMode))
	return nil
}

func (s *CachedStore) SaveBacktestResult(ctx context.Context, r *types.BacktestResult) error {
	if err := s.Store.SaveBacktestResult(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, backtestsKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestCalibrationResult(ctx context.Context, binningMode string) (types.CalibrationResult, error) {
	key := calibrationKey(binningMode)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var r types.CalibrationResult
		if json.Unmarshal(data, &r) == nil {
			return r, nil
		}
	}

	r, err := s.Store.LatestCalibrationResult(ctx, binningMode)
	if err != nil {
		return types.CalibrationResult{}, err
	}
	s.cache(ctx, key, r)
	return r, nil
}

func (s *CachedStore) LatestBacktestResults(ctx context.Context) ([]types.BacktestResult, error) {
	if data, err := s.rdb.Get(ctx, backtestsKey).Bytes(); err == nil {
		var out []types.BacktestResult
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := s.Store.LatestBacktestResults(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, backtestsKey, out)
	return out, nil
}

// Close closes both the primary store and the Redis client.
func (s *CachedStore) Close() {
	s.Store.Close()
	_ = s.rdb.Close()
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const backtestsKey = "kalshi-edge:backtests:latest"

func calibrationKey(mode string) string { return fmt.Sprintf("kalshi-edge:calibration:%s", mode) }
