package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) EnsureStateTable(ctx context.Context, db *sql.DB, table string) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id BIGINT PRIMARY KEY AUTO_INCREMENT,
  version VARCHAR(32) NOT NULL,
  sequence VARCHAR(16) NOT NULL,
  description VARCHAR(255) NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  applied_by VARCHAR(255) NOT NULL,
  duration_ms BIGINT NOT NULL,
  outcome ENUM('success','failed') NOT NULL,
  execution_order BIGINT NOT NULL,
  KEY idx_version_sequence (version, sequence)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`, table)
	_, err := db.ExecContext(ctx, ddl)
	return err
}

func (MySQL) Rebind(query string) string { return query }

func (MySQL) ObjectExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	row := db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_name = ?`, name)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (MySQL) TryLock(ctx context.Context, conn *sql.Conn, key string, timeout time.Duration) (bool, error) {
	row := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, int(timeout.Seconds()))
	var got sql.NullInt64
	if err := row.Scan(&got); err != nil {
		return false, err
	}
	return got.Valid && got.Int64 == 1, nil
}

func (MySQL) Unlock(ctx context.Context, conn *sql.Conn, key string) error {
	row := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", key)
	var rel sql.NullInt64
	_ = row.Scan(&rel) // do not fail on release
	return nil
}
