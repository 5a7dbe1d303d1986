package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	sqliteRetryAttempts = 4
	sqliteRetryBackoff  = 50 * time.Millisecond
)

func isRetryableSQLiteError(err error) bool {
	if err == nil || errors.Is(err, ErrDuplicateKey) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "sqlite_busy")
}

func isStoreUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "primary key must be unique")
}

// withSQLiteRetry reruns op while SQLite reports lock contention, which happens
// when the sync and images jobs write from separate processes.
func withSQLiteRetry(ctx context.Context, op func() error) error {
	var err error
	backoff := sqliteRetryBackoff
	for i := 0; i < sqliteRetryAttempts; i++ {
		err = op()
		if err == nil || !isRetryableSQLiteError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
