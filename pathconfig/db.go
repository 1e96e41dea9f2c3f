// CLAUDE:SUMMARY Stores path rules in SQLite and hot-reloads a Live config when the table changes.
package pathconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/navbridge/internal/dbopen"
)

// Schema for the path_rules table.
const Schema = `
CREATE TABLE IF NOT EXISTS path_rules (
	id          TEXT PRIMARY KEY,
	position    INTEGER NOT NULL DEFAULT 0,
	patterns    TEXT NOT NULL DEFAULT '[]',
	properties  TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// LoadDB reads all active rules ordered by position and compiles them.
func LoadDB(ctx context.Context, db *sql.DB) (*Config, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, patterns, properties
		FROM path_rules
		WHERE status = 'active'
		ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("pathconfig: query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var id, patternsJSON, propsJSON string
		if err := rows.Scan(&id, &patternsJSON, &propsJSON); err != nil {
			return nil, fmt.Errorf("pathconfig: scan rule: %w", err)
		}
		var r Rule
		if err := json.Unmarshal([]byte(patternsJSON), &r.Patterns); err != nil {
			return nil, fmt.Errorf("pathconfig: rule %s patterns: %w", id, err)
		}
		if err := json.Unmarshal([]byte(propsJSON), &r.Properties); err != nil {
			return nil, fmt.Errorf("pathconfig: rule %s properties: %w", id, err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pathconfig: iterate rules: %w", err)
	}
	return New(rules)
}

// PutRule inserts or replaces the rule stored under id.
func PutRule(ctx context.Context, db *sql.DB, id string, position int, r Rule) error {
	if _, err := New([]Rule{r}); err != nil {
		return err
	}
	patterns, err := json.Marshal(r.Patterns)
	if err != nil {
		return fmt.Errorf("pathconfig: encode patterns: %w", err)
	}
	props := r.Properties
	if props == nil {
		props = Properties{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("pathconfig: encode properties: %w", err)
	}
	_, err = dbopen.ExecRetry(ctx, db, `
		INSERT INTO path_rules (id, position, patterns, properties, status, updated_at)
		VALUES (?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position,
			patterns = excluded.patterns,
			properties = excluded.properties,
			status = 'active',
			updated_at = excluded.updated_at
	`, id, position, string(patterns), string(propsJSON), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("pathconfig: put rule %s: %w", id, err)
	}
	return nil
}

// DisableRule marks a rule inactive without deleting it.
func DisableRule(ctx context.Context, db *sql.DB, id string) error {
	_, err := dbopen.ExecRetry(ctx, db,
		`UPDATE path_rules SET status = 'disabled', updated_at = ? WHERE id = ?`,
		time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("pathconfig: disable rule %s: %w", id, err)
	}
	return nil
}

// WatchOptions tunes Watch.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before reloading.
	// 0 reloads on the poll that saw the change.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type tableVersion struct {
	rows    int64
	updated int64
}

func readVersion(ctx context.Context, db *sql.DB) (tableVersion, error) {
	var v tableVersion
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(updated_at), 0) FROM path_rules`).Scan(&v.rows, &v.updated)
	return v, err
}

// Watch polls path_rules until ctx is cancelled and stores a freshly loaded
// Config into live whenever the table changes. A failed reload leaves the
// previous Config in place and is retried on the next poll.
func Watch(ctx context.Context, db *sql.DB, live *Live, opts WatchOptions) {
	opts.defaults()
	log := opts.Logger

	seen, err := readVersion(ctx, db)
	if err != nil {
		log.Warn("pathconfig: initial version check failed", "error", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var (
		debounce <-chan time.Time
		timer    *time.Timer
		pending  *tableVersion
	)

	reload := func(v tableVersion) {
		cfg, err := LoadDB(ctx, db)
		if err != nil {
			log.Error("pathconfig: reload failed", "error", err)
			return
		}
		live.Store(cfg)
		seen = v
		log.Info("pathconfig: reloaded", "rules", cfg.Rules())
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-ticker.C:
			cur, err := readVersion(ctx, db)
			if err != nil {
				log.Warn("pathconfig: version check failed", "error", err)
				continue
			}
			if cur == seen || (pending != nil && cur == *pending) {
				continue
			}
			if opts.Debounce <= 0 {
				reload(cur)
				continue
			}
			pending = &cur
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(opts.Debounce)
			debounce = timer.C

		case <-debounce:
			debounce = nil
			if pending != nil {
				reload(*pending)
				pending = nil
			}
		}
	}
}
