package engine

import (
	"errors"
	"fmt"

	"github.com/schemactl/schemactl/internal/version"
)

var (
	// ErrValidation marks a run blocked by an ERROR-severity rule
	// violation before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrBackupRequired marks a destructive operation refused or aborted
	// because no fresh snapshot could be taken.
	ErrBackupRequired = errors.New("backup required before destructive operation")
	// ErrNotRevertible marks a rollback refused because a selected unit
	// has no down script. Partial rollback past such a unit is never
	// attempted.
	ErrNotRevertible = errors.New("unit is not revertible")
	// ErrConfirmationRequired marks a rollback invoked without the
	// explicit confirmation flag.
	ErrConfirmationRequired = errors.New("rollback requires explicit confirmation")
)

// UnitError reports the exact unit whose script failed mid-run. Prior
// units stay applied; recovery is operator-driven.
type UnitError struct {
	Op  string // apply | rollback
	ID  version.ID
	Err error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s of unit %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }
