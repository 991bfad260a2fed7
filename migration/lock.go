package migration

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DistributedLock provides mutual exclusion for lifecycle operations across
// multiple processes or nodes. Keys are scoped per (tenant, module) so that
// parallelism across different pairs stays unconstrained.
type DistributedLock interface {
	// Acquire obtains the lock for the given key. The returned release
	// function must be called to release the lock.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LockKey builds the canonical lock key for a (tenant, module) pair.
func LockKey(tenantID, moduleID string) string {
	return tenantID + "/" + moduleID
}

// PostgresLock implements DistributedLock using PostgreSQL advisory locks.
type PostgresLock struct {
	pool *pgxpool.Pool
}

// NewPostgresLock creates a new PostgresLock.
func NewPostgresLock(pool *pgxpool.Pool) *PostgresLock {
	return &PostgresLock{pool: pool}
}

// Acquire obtains a PostgreSQL advisory lock. The string key is hashed to an
// int64 advisory lock ID.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	_, err := l.pool.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockID)
	if err != nil {
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	release := func() {
		_, _ = l.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}
	return release, nil
}

// ProcessLock implements DistributedLock with per-key in-process mutexes.
// Sufficient for single-node deployments where the SQLite store is in use.
type ProcessLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProcessLock creates a new ProcessLock.
func NewProcessLock() *ProcessLock {
	return &ProcessLock{locks: make(map[string]*sync.Mutex)}
}

// Acquire obtains the mutex for the key. Returns an error if the context is
// already cancelled.
func (l *ProcessLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock. Uses FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
