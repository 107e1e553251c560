package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ConnectionManager owns the connection pools of the analytics stores, keyed by store name
// ("postgres", "clickhouse")
type ConnectionManager interface {
	// GetConnection returns the pool of a store
	GetConnection(store string) (*sql.DB, error)

	// Ping checks every store and returns the failures by store name
	Ping(ctx context.Context) map[string]error

	// GetStats returns connection statistics
	GetStats() ConnectionStats

	// Close closes all pools
	Close() error
}

// ConnectionStats provides visibility into connection usage
type ConnectionStats struct {
	Stores                map[string]ConnectionPoolStats `json:"stores"`
	TotalOpenConnections  int                            `json:"total_open_connections"`
	TotalInUseConnections int                            `json:"total_in_use_connections"`
	TotalIdleConnections  int                            `json:"total_idle_connections"`
}

// ConnectionPoolStats provides stats for a single connection pool
type ConnectionPoolStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	MaxOpen         int           `json:"max_open"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
}

// ErrUnknownStore is returned for a store the manager has no pool for
var ErrUnknownStore = errors.New("unknown store")

type connectionManager struct {
	mu     sync.RWMutex
	pools  map[string]*sql.DB
	closed bool
}

// NewConnectionManager takes ownership of pools
func NewConnectionManager(pools map[string]*sql.DB) ConnectionManager {
	owned := make(map[string]*sql.DB, len(pools))
	for name, db := range pools {
		if db != nil {
			owned[name] = db
		}
	}
	return &connectionManager{pools: owned}
}

func (cm *connectionManager) GetConnection(store string) (*sql.DB, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.closed {
		return nil, fmt.Errorf("connection manager is closed")
	}
	db, ok := cm.pools[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	return db, nil
}

func (cm *connectionManager) Ping(ctx context.Context) map[string]error {
	cm.mu.RLock()
	pools := make(map[string]*sql.DB, len(cm.pools))
	for name, db := range cm.pools {
		pools[name] = db
	}
	cm.mu.RUnlock()

	failures := make(map[string]error)
	for name, db := range pools {
		if err := db.PingContext(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func (cm *connectionManager) GetStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		Stores: make(map[string]ConnectionPoolStats, len(cm.pools)),
	}

	for name, db := range cm.pools {
		poolStats := db.Stats()
		stats.Stores[name] = ConnectionPoolStats{
			OpenConnections: poolStats.OpenConnections,
			InUse:           poolStats.InUse,
			Idle:            poolStats.Idle,
			MaxOpen:         poolStats.MaxOpenConnections,
			WaitCount:       poolStats.WaitCount,
			WaitDuration:    poolStats.WaitDuration,
		}
		stats.TotalOpenConnections += poolStats.OpenConnections
		stats.TotalInUseConnections += poolStats.InUse
		stats.TotalIdleConnections += poolStats.Idle
	}

	return stats
}

// Close closes every pool once and reports the failures in store order
func (cm *connectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true

	names := make([]string, 0, len(cm.pools))
	for name := range cm.pools {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := cm.pools[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s pool: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
