package postgres

import (
	"context"

	"github.com/datakeel/migrec/internal/database"
)

// AdvisoryLock provides mutual exclusion for migration runs using
// PostgreSQL advisory locks.
//
// The engine itself is lock-free: apply/rollback/fresh/refresh all read the
// store position and then act on it, which races if two processes run at
// once. Callers acquire this lock around the whole manager operation.
type AdvisoryLock struct {
	db database.DB
}

// NewAdvisoryLock creates an AdvisoryLock over the given connection.
func NewAdvisoryLock(db database.DB) *AdvisoryLock {
	return &AdvisoryLock{db: db}
}

// Acquire obtains the advisory lock for the given key, blocking until it is
// available. The returned release function must be called to release the
// lock; it uses a fresh context so a cancelled caller still unlocks.
func (l *AdvisoryLock) Acquire(ctx context.Context, key string) (release func(), err error) {
	lockID := hashLockKey(key)

	if _, err := l.db.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		return nil, err
	}

	release = func() {
		_, _ = l.db.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}
	return release, nil
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock. FNV-1a, truncated to the positive int64 range.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}
