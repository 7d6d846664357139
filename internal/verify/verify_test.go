package verify

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/schemactl/schemactl/internal/db"
	"github.com/schemactl/schemactl/internal/source"
	"github.com/schemactl/schemactl/internal/version"
)

func unitWithCreates(t *testing.T, id string, objects ...string) source.Unit {
	t.Helper()
	parsed, err := version.ParseID(id)
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	return source.Unit{ID: parsed, Creates: objects}
}

func TestExpectPresentReportsMissing(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT COUNT").WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT").WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))

	v := &SchemaVerifier{DB: sqlDB, Dialect: db.MySQL{}}
	issues := v.ExpectPresent(context.Background(), []source.Unit{
		unitWithCreates(t, "1.0-001", "users"),
		unitWithCreates(t, "1.1-001", "orders"),
	})
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
	if issues[0].UnitID != "1.1-001" || issues[0].Object != "orders" {
		t.Fatalf("unexpected issue: %+v", issues[0])
	}
}

func TestExpectAbsentReportsLeftovers(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT COUNT").WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	v := &SchemaVerifier{DB: sqlDB, Dialect: db.MySQL{}}
	issues := v.ExpectAbsent(context.Background(), []source.Unit{
		unitWithCreates(t, "2.0-001", "orders"),
	})
	if len(issues) != 1 {
		t.Fatalf("expected leftover issue, got %v", issues)
	}
}

func TestProbeErrorBecomesIssue(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT COUNT").WithArgs("users").
		WillReturnError(context.DeadlineExceeded)

	v := &SchemaVerifier{DB: sqlDB, Dialect: db.MySQL{}}
	issues := v.ExpectPresent(context.Background(), []source.Unit{
		unitWithCreates(t, "1.0-001", "users"),
	})
	if len(issues) != 1 {
		t.Fatalf("probe failure must surface as an issue, got %v", issues)
	}
}
