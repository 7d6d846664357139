// Package verify confirms post-condition schema shape after apply and
// rollback. Mismatches are reported, never auto-corrected: the statements
// already ran, so a failed check is operator attention, not an unwind.
package verify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/schemactl/schemactl/internal/db"
	"github.com/schemactl/schemactl/internal/source"
)

// Issue is a non-fatal verification warning.
type Issue struct {
	UnitID  string `json:"unit_id"`
	Object  string `json:"object"`
	Message string `json:"message"`
}

type Verifier interface {
	// ExpectPresent checks that each unit's declared objects exist.
	ExpectPresent(ctx context.Context, units []source.Unit) []Issue
	// ExpectAbsent checks that each unit's declared objects are gone,
	// used after rolling back past the units that introduced them.
	ExpectAbsent(ctx context.Context, units []source.Unit) []Issue
}

// SchemaVerifier probes information_schema on the target connection.
type SchemaVerifier struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func (v *SchemaVerifier) ExpectPresent(ctx context.Context, units []source.Unit) []Issue {
	return v.check(ctx, units, true)
}

func (v *SchemaVerifier) ExpectAbsent(ctx context.Context, units []source.Unit) []Issue {
	return v.check(ctx, units, false)
}

func (v *SchemaVerifier) check(ctx context.Context, units []source.Unit, wantPresent bool) []Issue {
	var issues []Issue
	for _, u := range units {
		for _, obj := range u.Creates {
			exists, err := v.Dialect.ObjectExists(ctx, v.DB, obj)
			if err != nil {
				issues = append(issues, Issue{
					UnitID:  u.ID.String(),
					Object:  obj,
					Message: fmt.Sprintf("existence probe failed: %v", err),
				})
				continue
			}
			if exists == wantPresent {
				continue
			}
			if wantPresent {
				issues = append(issues, Issue{
					UnitID:  u.ID.String(),
					Object:  obj,
					Message: "expected object is missing after apply",
				})
			} else {
				issues = append(issues, Issue{
					UnitID:  u.ID.String(),
					Object:  obj,
					Message: "object introduced after the rollback target still exists",
				})
			}
		}
	}
	return issues
}
