package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyAttempts bounds ExecRetry. Attempt n waits n*busyStep before retrying.
const (
	busyAttempts = 3
	busyStep     = 100 * time.Millisecond
)

// IsBusy reports whether err is SQLite lock contention worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ExecRetry runs a write statement, retrying on lock contention. Path rules
// are edited while the session's watcher polls the same file.
func ExecRetry(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= busyAttempts; attempt++ {
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !IsBusy(err) {
			return nil, err
		}
		lastErr = err
		if attempt == busyAttempts {
			break
		}
		t := time.NewTimer(time.Duration(attempt) * busyStep)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("dbopen: retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("dbopen: still busy after %d attempts: %w", busyAttempts, lastErr)
}
