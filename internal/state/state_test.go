package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/schemactl/schemactl/internal/db"
	"github.com/schemactl/schemactl/internal/version"
)

func id(t *testing.T, s string) version.ID {
	t.Helper()
	parsed, err := version.ParseID(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return parsed
}

func TestBuildDerivesCurrentFromSuccessOnly(t *testing.T) {
	rows := []Record{
		{ID: id(t, "1.0-001"), Outcome: OutcomeSuccess, ExecutionOrder: 1},
		{ID: id(t, "1.1-001"), Outcome: OutcomeFailed, ExecutionOrder: 2},
	}
	st := build(rows)
	if st.Current == nil || st.Current.String() != "1.0-001" {
		t.Fatalf("current must ignore failed records: %v", st.Current)
	}
	if st.IsApplied(id(t, "1.1-001")) {
		t.Fatal("failed unit must not count as applied")
	}
	if !st.IsApplied(id(t, "1.0-001")) {
		t.Fatal("successful unit must count as applied")
	}
}

func TestBuildFailedThenSuccessRetry(t *testing.T) {
	rows := []Record{
		{ID: id(t, "1.0-001"), Outcome: OutcomeFailed, ExecutionOrder: 1},
		{ID: id(t, "1.0-001"), Outcome: OutcomeSuccess, ExecutionOrder: 2},
	}
	st := build(rows)
	if !st.IsApplied(id(t, "1.0-001")) {
		t.Fatal("latest success record must win")
	}
	if len(st.Applied) != 1 {
		t.Fatalf("expected one applied record, got %d", len(st.Applied))
	}
}

func TestBuildCurrentIsHighestIdentity(t *testing.T) {
	// Execution order and identity order disagree; current follows
	// identity.
	rows := []Record{
		{ID: id(t, "1.10-001"), Outcome: OutcomeSuccess, ExecutionOrder: 1},
		{ID: id(t, "1.2-001"), Outcome: OutcomeSuccess, ExecutionOrder: 2},
	}
	st := build(rows)
	if st.Current.String() != "1.10-001" {
		t.Fatalf("current must be the highest identity: %v", st.Current)
	}
}

func TestSQLTrackerLoad(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	columns := []string{"version", "sequence", "description", "checksum", "applied_at", "applied_by", "duration_ms", "outcome", "execution_order"}
	mock.ExpectQuery("SELECT version, sequence").WillReturnRows(
		sqlmock.NewRows(columns).
			AddRow("1.0", "001", "create_users", "aaa", time.Now(), "dba", int64(12), "success", int64(1)).
			AddRow("1.1", "001", "seed_users", "bbb", time.Now(), "dba", int64(3), "failed", int64(2)))

	tr := &SQLTracker{DB: sqlDB, Dialect: db.MySQL{}, Table: "schema_migrations"}
	st, err := tr.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Current == nil || st.Current.String() != "1.0-001" {
		t.Fatalf("unexpected current: %v", st.Current)
	}
	if len(st.History) != 2 || len(st.Applied) != 1 {
		t.Fatalf("unexpected state: history=%d applied=%d", len(st.History), len(st.Applied))
	}
}

func TestSQLTrackerRecordAppends(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"m"}).AddRow(int64(4)))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("1.2", "001", "add_orders", "ccc", sqlmock.AnyArg(), "dba", int64(20), "success", int64(5)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tr := &SQLTracker{DB: sqlDB, Dialect: db.MySQL{}, Table: "schema_migrations"}
	rec := Record{
		ID:          id(t, "1.2-001"),
		Description: "add_orders",
		Checksum:    "ccc",
		AppliedAt:   time.Now(),
		AppliedBy:   "dba",
		DurationMS:  20,
		Outcome:     OutcomeSuccess,
	}
	if err := tr.Record(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLTrackerRemove(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectExec("DELETE FROM schema_migrations").
		WithArgs("1.2", "001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tr := &SQLTracker{DB: sqlDB, Dialect: db.MySQL{}, Table: "schema_migrations"}
	if err := tr.Remove(context.Background(), id(t, "1.2-001")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDriftErrorUnwraps(t *testing.T) {
	e := &DriftError{ID: id(t, "1.0-001"), Stored: "a", Actual: "b"}
	if !errors.Is(e, ErrDrift) {
		t.Fatal("DriftError must unwrap to ErrDrift")
	}
}
