package engine

import (
	"github.com/schemactl/schemactl/internal/backup"
	"github.com/schemactl/schemactl/internal/validate"
	"github.com/schemactl/schemactl/internal/verify"
	"github.com/schemactl/schemactl/internal/version"
)

// State names the engine's position in the run pipeline.
type State string

const (
	StateIdle        State = "IDLE"
	StateDiscovering State = "DISCOVERING"
	StateValidating  State = "VALIDATING"
	StatePlanning    State = "PLANNING"
	StateBackingUp   State = "BACKING_UP"
	StateApplying    State = "APPLYING"
	StateRecording   State = "RECORDING"
	StateVerifying   State = "VERIFYING"
	StateRollingBack State = "ROLLING_BACK"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Result is the run-scoped aggregate returned by every engine
// invocation; nothing about a run is kept in process-wide state.
type Result struct {
	// State is DONE or FAILED after the run ends; on cancellation it
	// names the stage the run stopped in.
	State State
	// Plan lists the delta in execution order (descending for rollback).
	Plan []version.ID
	// Applied lists units whose up script ran and was recorded.
	Applied []version.ID
	// RolledBack lists units whose down script ran and whose record was
	// removed.
	RolledBack []version.ID
	// Issues holds every validation finding, warnings included.
	Issues []validate.Issue
	// Warnings holds post-condition verification findings; never fatal.
	Warnings []verify.Issue
	// Backup is the snapshot taken for this run, handed back for audit
	// retention. Nil for no-op and dry runs.
	Backup *backup.Handle
	// CancelledAt names the first unit that did not run because the
	// context was cancelled between units.
	CancelledAt *version.ID
	DryRun      bool
}
