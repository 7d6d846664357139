package db

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"
)

type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) EnsureStateTable(ctx context.Context, db *sql.DB, table string) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  version TEXT NOT NULL,
  sequence TEXT NOT NULL,
  description TEXT NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  applied_by TEXT NOT NULL,
  duration_ms BIGINT NOT NULL,
  outcome TEXT NOT NULL CHECK (outcome IN ('success','failed')),
  execution_order BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS %s_version_sequence ON %s (version, sequence);
`, table, table, table)
	_, err := db.ExecContext(ctx, ddl)
	return err
}

func (Postgres) Rebind(query string) string { return rebindDollar(query) }

func (Postgres) ObjectExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	row := db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = $1`, name)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// lockID hashes the key into the bigint space pg_advisory_lock expects.
func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func (Postgres) TryLock(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		row := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID(key))
		var got bool
		if err := row.Scan(&got); err != nil {
			return false, err
		}
		if got {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (Postgres) Unlock(ctx context.Context, conn *sql.Conn, key string) error {
	row := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lockID(key))
	var rel bool
	_ = row.Scan(&rel)
	return nil
}
