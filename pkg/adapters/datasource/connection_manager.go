package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxPools             = 16
	DefaultPoolMaxConns         = 4
	DefaultPoolMinConns         = 0
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes   int
	MaxPools     int
	PoolMaxConns int32
	PoolMinConns int32
}

// PoolCreator opens a new pool for a key. It is called at most once per key while
// the key is live and is retried on transient failures.
type PoolCreator func(ctx context.Context, cfg ConnectionManagerConfig) (PoolConnector, error)

// ConnectionManager shares connection pools between adapter instances. Sources that
// need one pool per database (Postgres) key pools by adapter and database. Idle
// pools are closed after the TTL, and when MaxPools is reached the least recently
// used idle pool is evicted.
type ConnectionManager struct {
	mu          sync.Mutex
	connections map[string]*ManagedConnection // key: "{adapter}:{database}"
	cfg         ConnectionManagerConfig
	ttl         time.Duration
	stopped     bool
	stopChan    chan struct{}
	logger      *zap.Logger
}

// ManagedConnection is a pooled connection plus usage bookkeeping.
type ManagedConnection struct {
	pool     PoolConnector
	lastUsed time.Time
	inUse    int
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns < 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		connections: make(map[string]*ManagedConnection),
		cfg:         cfg,
		ttl:         time.Duration(cfg.TTLMinutes) * time.Minute,
		stopChan:    make(chan struct{}),
		logger:      logger.Named("connections"),
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// Config returns the effective configuration.
func (m *ConnectionManager) Config() ConnectionManagerConfig {
	return m.cfg
}

// PoolKey builds the map key for an adapter/database pair.
func PoolKey(adapter, database string) string {
	return adapter + ":" + database
}

// Acquire returns the pool for key, creating it with create if needed. The caller
// must call release exactly once when done; pools are never evicted while acquired.
func (m *ConnectionManager) Acquire(ctx context.Context, key string, create PoolCreator) (PoolConnector, func(), error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("connection manager is closed")
	}

	if managed, exists := m.connections[key]; exists {
		managed.inUse++
		managed.lastUsed = time.Now()
		m.mu.Unlock()
		return managed.pool, m.releaser(key, managed), nil
	}

	if len(m.connections) >= m.cfg.MaxPools {
		m.evictIdleLocked()
	}
	m.mu.Unlock()

	// Create outside the lock; connecting can take seconds.
	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (PoolConnector, error) {
		return create(ctx, m.cfg)
	})
	if err != nil {
		m.logger.Error("failed to create pool after retries",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, nil, &apperrors.ConnectionError{Adapter: key, Op: "connect", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have created the same pool meanwhile; keep theirs.
	if managed, exists := m.connections[key]; exists {
		_ = pool.Close()
		managed.inUse++
		managed.lastUsed = time.Now()
		return managed.pool, m.releaser(key, managed), nil
	}

	managed := &ManagedConnection{pool: pool, lastUsed: time.Now(), inUse: 1}
	m.connections[key] = managed
	m.logger.Debug("created new connection pool",
		zap.String("key", key),
		zap.String("type", pool.Kind()),
		zap.Int("total_pools", len(m.connections)),
	)
	return pool, m.releaser(key, managed), nil
}

func (m *ConnectionManager) releaser(key string, managed *ManagedConnection) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			managed.inUse--
			managed.lastUsed = time.Now()
			if m.stopped && managed.inUse == 0 {
				_ = managed.pool.Close()
			}
		})
	}
}

// evictIdleLocked closes the least recently used pool that nobody holds.
// Caller must hold m.mu.
func (m *ConnectionManager) evictIdleLocked() {
	var oldestKey string
	var oldest time.Time
	for key, managed := range m.connections {
		if managed.inUse > 0 {
			continue
		}
		if oldestKey == "" || managed.lastUsed.Before(oldest) {
			oldestKey, oldest = key, managed.lastUsed
		}
	}
	if oldestKey == "" {
		return
	}
	_ = m.connections[oldestKey].pool.Close()
	delete(m.connections, oldestKey)
	m.logger.Debug("evicted idle connection pool", zap.String("key", oldestKey))
}

// cleanupExpiredConnections runs periodically to remove expired connections.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes idle connections that haven't been used within TTL.
func (m *ConnectionManager) performCleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}

	removed := 0
	for key, managed := range m.connections {
		if managed.inUse == 0 && now.Sub(managed.lastUsed) > m.ttl {
			_ = managed.pool.Close()
			delete(m.connections, key)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("cleaned up expired connections",
			zap.Int("count", removed),
			zap.Int("remaining", len(m.connections)),
		)
	}
	return removed
}

// Close closes all idle pools and stops the cleanup goroutine. Pools still
// acquired are closed on their final release.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for key, managed := range m.connections {
		if managed.inUse == 0 {
			_ = managed.pool.Close()
		}
		delete(m.connections, key)
	}

	m.logger.Debug("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ConnectionStats{
		TotalPools:  len(m.connections),
		MaxPools:    m.cfg.MaxPools,
		TTLMinutes:  int(m.ttl.Minutes()),
		PoolsByType: make(map[string]int),
	}
	for _, managed := range m.connections {
		stats.PoolsByType[managed.pool.Kind()]++
		if managed.inUse > 0 {
			stats.InUse++
		}
	}
	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalPools  int            `json:"total_pools"`
	InUse       int            `json:"in_use"`
	MaxPools    int            `json:"max_pools"`
	TTLMinutes  int            `json:"ttl_minutes"`
	PoolsByType map[string]int `json:"pools_by_type"`
}
