package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/schemactl/schemactl/internal/db"
	"github.com/schemactl/schemactl/internal/version"
)

// Tracker is the durable applied-state store.
type Tracker interface {
	Load(ctx context.Context) (SchemaState, error)
	Record(ctx context.Context, rec Record) error
	Remove(ctx context.Context, id version.ID) error
}

// SQLTracker keeps records in one table on the target database, the same
// place the advisory lock lives, so state and schema move together.
type SQLTracker struct {
	DB      *sql.DB
	Dialect db.Dialect
	Table   string
}

func (t *SQLTracker) Ensure(ctx context.Context) error {
	return t.Dialect.EnsureStateTable(ctx, t.DB, t.Table)
}

func (t *SQLTracker) Load(ctx context.Context) (SchemaState, error) {
	q := fmt.Sprintf(`SELECT version, sequence, description, checksum, applied_at, applied_by, duration_ms, outcome, execution_order FROM %s ORDER BY execution_order`, t.Table)
	rows, err := t.DB.QueryContext(ctx, q)
	if err != nil {
		return SchemaState{}, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var (
			r        Record
			ver, seq string
			outcome  string
		)
		if err := rows.Scan(&ver, &seq, &r.Description, &r.Checksum, &r.AppliedAt, &r.AppliedBy, &r.DurationMS, &outcome, &r.ExecutionOrder); err != nil {
			return SchemaState{}, err
		}
		v, err := version.Parse(ver)
		if err != nil {
			return SchemaState{}, fmt.Errorf("corrupt state row: %w", err)
		}
		r.ID = version.ID{Version: v, Sequence: seq}
		r.Outcome = Outcome(outcome)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return SchemaState{}, err
	}
	return build(records), nil
}

// Record appends one row. The execution order is allocated here so each
// unit's record is a single atomic insert.
func (t *SQLTracker) Record(ctx context.Context, rec Record) error {
	next, err := t.nextExecutionOrder(ctx)
	if err != nil {
		return err
	}
	rec.ExecutionOrder = next
	q := t.Dialect.Rebind(fmt.Sprintf(`
INSERT INTO %s (version, sequence, description, checksum, applied_at, applied_by, duration_ms, outcome, execution_order)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, t.Table))
	_, err = t.DB.ExecContext(ctx, q,
		rec.ID.Version.String(), rec.ID.Sequence, rec.Description, rec.Checksum,
		rec.AppliedAt, rec.AppliedBy, rec.DurationMS, string(rec.Outcome), rec.ExecutionOrder,
	)
	return err
}

// Remove drops every record for id after a successful down script, so the
// derived state reflects the lower current version.
func (t *SQLTracker) Remove(ctx context.Context, id version.ID) error {
	q := t.Dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE version = ? AND sequence = ?`, t.Table))
	_, err := t.DB.ExecContext(ctx, q, id.Version.String(), id.Sequence)
	return err
}

func (t *SQLTracker) nextExecutionOrder(ctx context.Context) (int64, error) {
	row := t.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(execution_order), 0) FROM %s`, t.Table))
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}
