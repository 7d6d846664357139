package engine

import (
	"context"
	"database/sql"
)

// Executor runs one migration script against the target. Implementations
// own the transactional boundary for a single unit.
type Executor interface {
	Exec(ctx context.Context, script []byte) error
}

// SQLExecutor applies each unit inside its own transaction where the
// target supports it; DDL on some targets auto-commits regardless, which
// is why the engine never assumes a failed unit was fully undone.
type SQLExecutor struct {
	DB *sql.DB
}

func (e *SQLExecutor) Exec(ctx context.Context, script []byte) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
