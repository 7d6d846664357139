// Package engine is the apply/rollback state machine. One invocation is
// one run: discover, validate, plan, back up, execute, record, verify.
// Runs against the same schema are serialized by an advisory lock; the
// engine fails fast on contention instead of queueing.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/schemactl/schemactl/internal/backup"
	"github.com/schemactl/schemactl/internal/checksum"
	"github.com/schemactl/schemactl/internal/logger"
	"github.com/schemactl/schemactl/internal/source"
	"github.com/schemactl/schemactl/internal/state"
	"github.com/schemactl/schemactl/internal/validate"
	"github.com/schemactl/schemactl/internal/verify"
	"github.com/schemactl/schemactl/internal/version"
)

// Locker serializes runs per target schema.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

type Engine struct {
	Source    source.Source
	Validator *validate.Validator
	Tracker   state.Tracker
	Backup    backup.Backup
	Verifier  verify.Verifier
	Executor  Executor
	Locker    Locker // optional; nil when the caller serializes runs itself
	Log       *logger.Logger

	// TargetID names the schema for backup handles.
	TargetID  string
	AppliedBy string

	// SkipVerify drops the VERIFYING stage. Backup is never skippable.
	SkipVerify bool
}

type ApplyOptions struct {
	DryRun bool
}

type RollbackOptions struct {
	// Confirmed is the explicit confirmation token; rollback refuses to
	// mutate without it. A flag rather than a prompt keeps the engine
	// embeddable.
	Confirmed bool
	DryRun    bool
}

// Apply discovers, validates, plans and executes the pending delta.
func (e *Engine) Apply(ctx context.Context, opts ApplyOptions) (*Result, error) {
	res := &Result{State: StateIdle, DryRun: opts.DryRun}
	if e.Locker != nil {
		if err := e.Locker.Acquire(ctx); err != nil {
			return e.fail(res, err)
		}
		defer func() { _ = e.Locker.Release(ctx) }()
	}

	units, err := e.discover(ctx, res)
	if err != nil {
		return e.fail(res, err)
	}
	if err := e.validateAll(res, units); err != nil {
		return e.fail(res, err)
	}

	e.transition(res, StatePlanning)
	st, err := e.Tracker.Load(ctx)
	if err != nil {
		return e.fail(res, err)
	}
	delta, err := e.plan(res, units, st)
	if err != nil {
		return e.fail(res, err)
	}
	if len(delta) == 0 {
		e.info("nothing to apply", nil)
		e.transition(res, StateDone)
		return res, nil
	}
	if opts.DryRun {
		e.info("dry run: stopping after planning", map[string]any{"pending": len(delta)})
		e.transition(res, StateDone)
		return res, nil
	}

	if err := e.snapshot(ctx, res); err != nil {
		return e.fail(res, err)
	}

	for _, u := range delta {
		if ctx.Err() != nil {
			// Cancellation lands between units, never mid-unit. Whatever
			// completed stays applied.
			id := u.ID
			res.CancelledAt = &id
			e.warn("run cancelled", map[string]any{"before_unit": id.String()})
			return res, ctx.Err()
		}
		if err := e.applyOne(ctx, res, u); err != nil {
			return e.fail(res, err)
		}
	}

	e.verifyApplied(ctx, res, delta)
	e.transition(res, StateDone)
	return res, nil
}

// Rollback reverts every applied unit above target, in descending order.
func (e *Engine) Rollback(ctx context.Context, target version.ID, opts RollbackOptions) (*Result, error) {
	res := &Result{State: StateIdle, DryRun: opts.DryRun}
	if e.Locker != nil {
		if err := e.Locker.Acquire(ctx); err != nil {
			return e.fail(res, err)
		}
		defer func() { _ = e.Locker.Release(ctx) }()
	}

	units, err := e.discover(ctx, res)
	if err != nil {
		return e.fail(res, err)
	}
	byID := map[string]source.Unit{}
	for _, u := range units {
		byID[u.ID.String()] = u
	}

	e.transition(res, StatePlanning)
	st, err := e.Tracker.Load(ctx)
	if err != nil {
		return e.fail(res, err)
	}
	selected := selectAbove(st, target)
	if len(selected) == 0 {
		e.info("nothing to roll back", map[string]any{"target": target.String()})
		e.transition(res, StateDone)
		return res, nil
	}

	// Refuse the whole rollback up front if any selected unit cannot be
	// reverted; stopping halfway past a non-revertible unit would strand
	// the schema between versions.
	plan := make([]source.Unit, 0, len(selected))
	for _, rec := range selected {
		u, ok := byID[rec.ID.String()]
		if !ok {
			return e.fail(res, fmt.Errorf("%w: %s is applied but missing from the source", ErrNotRevertible, rec.ID))
		}
		if !u.Revertible() {
			return e.fail(res, fmt.Errorf("%w: %s has no down script", ErrNotRevertible, u.ID))
		}
		plan = append(plan, u)
		res.Plan = append(res.Plan, u.ID)
	}

	if opts.DryRun {
		e.info("dry run: stopping after planning", map[string]any{"to_revert": len(plan)})
		e.transition(res, StateDone)
		return res, nil
	}
	if !opts.Confirmed {
		return e.fail(res, ErrConfirmationRequired)
	}
	if err := e.snapshot(ctx, res); err != nil {
		return e.fail(res, err)
	}

	e.transition(res, StateRollingBack)
	for _, u := range plan {
		if ctx.Err() != nil {
			id := u.ID
			res.CancelledAt = &id
			e.warn("rollback cancelled", map[string]any{"before_unit": id.String()})
			return res, ctx.Err()
		}
		e.info("reverting unit", map[string]any{"unit": u.ID.String()})
		if err := e.Executor.Exec(ctx, u.Down); err != nil {
			return e.fail(res, &UnitError{Op: "rollback", ID: u.ID, Err: err})
		}
		if err := e.Tracker.Remove(ctx, u.ID); err != nil {
			return e.fail(res, err)
		}
		res.RolledBack = append(res.RolledBack, u.ID)
	}

	if !e.SkipVerify && e.Verifier != nil {
		e.transition(res, StateVerifying)
		res.Warnings = e.Verifier.ExpectAbsent(ctx, plan)
		for _, w := range res.Warnings {
			e.warn("verification warning", map[string]any{"unit": w.UnitID, "object": w.Object, "detail": w.Message})
		}
	}
	e.transition(res, StateDone)
	return res, nil
}

func (e *Engine) discover(ctx context.Context, res *Result) ([]source.Unit, error) {
	e.transition(res, StateDiscovering)
	units, err := e.Source.Load(ctx)
	if err != nil {
		return nil, err
	}
	e.info("discovered units", map[string]any{"count": len(units)})
	return units, nil
}

// validateAll gates the whole run: one ERROR anywhere blocks execution
// before the database is touched, preserving the ordering invariant for
// every unit after the offender.
func (e *Engine) validateAll(res *Result, units []source.Unit) error {
	e.transition(res, StateValidating)
	var firstError *validate.Issue
	for _, u := range units {
		issues := e.Validator.Validate(u)
		res.Issues = append(res.Issues, issues...)
		for i := range issues {
			if issues[i].Severity == validate.SeverityError && firstError == nil {
				firstError = &issues[i]
			}
		}
	}
	for _, is := range res.Issues {
		fields := map[string]any{"unit": is.UnitID, "rule": is.Rule, "detail": is.Message}
		if is.Severity == validate.SeverityError {
			e.error("validation error", fields)
		} else {
			e.warn("validation warning", fields)
		}
	}
	if firstError != nil {
		return fmt.Errorf("%w: rule %s on unit %s: %s", ErrValidation, firstError.Rule, firstError.UnitID, firstError.Message)
	}
	return nil
}

// plan computes the delta and surfaces drift on any already-applied unit
// whose content hash changed since it ran.
func (e *Engine) plan(res *Result, units []source.Unit, st state.SchemaState) ([]source.Unit, error) {
	var delta []source.Unit
	for _, u := range units {
		if rec, ok := st.Lookup(u.ID); ok && rec.Outcome == state.OutcomeSuccess {
			if !checksum.Equal(rec.Checksum, u.Checksum) {
				return nil, &state.DriftError{ID: u.ID, Stored: rec.Checksum, Actual: u.Checksum}
			}
			continue
		}
		if st.Current != nil && u.ID.Compare(*st.Current) <= 0 && !hasFailedRecord(st, u.ID) {
			// Below current with no record at all: an out-of-order unit
			// that appeared after later versions ran. Skipping silently
			// would hide it forever.
			return nil, fmt.Errorf("%w: unit %s is below current version %s but was never applied",
				source.ErrDiscovery, u.ID, st.Current)
		}
		delta = append(delta, u)
		res.Plan = append(res.Plan, u.ID)
	}
	return delta, nil
}

func hasFailedRecord(st state.SchemaState, id version.ID) bool {
	rec, ok := st.Lookup(id)
	return ok && rec.Outcome == state.OutcomeFailed
}

func (e *Engine) snapshot(ctx context.Context, res *Result) error {
	e.transition(res, StateBackingUp)
	if e.Backup == nil {
		return ErrBackupRequired
	}
	h, err := e.Backup.Snapshot(ctx, e.TargetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackupRequired, err)
	}
	res.Backup = &h
	e.info("snapshot taken", map[string]any{"backup_id": h.ID, "path": h.Path})
	return nil
}

func (e *Engine) applyOne(ctx context.Context, res *Result, u source.Unit) error {
	e.transition(res, StateApplying)
	e.info("applying unit", map[string]any{"unit": u.ID.String(), "kind": string(u.Kind)})
	start := time.Now()
	if err := e.Executor.Exec(ctx, u.Up); err != nil {
		rec := e.record(u, state.OutcomeFailed, time.Since(start))
		if recErr := e.Tracker.Record(ctx, rec); recErr != nil {
			e.error("failed to record failed unit", map[string]any{"unit": u.ID.String(), "error": recErr.Error()})
		}
		return &UnitError{Op: "apply", ID: u.ID, Err: err}
	}
	e.transition(res, StateRecording)
	rec := e.record(u, state.OutcomeSuccess, time.Since(start))
	if err := e.Tracker.Record(ctx, rec); err != nil {
		return err
	}
	res.Applied = append(res.Applied, u.ID)
	return nil
}

func (e *Engine) record(u source.Unit, outcome state.Outcome, d time.Duration) state.Record {
	return state.Record{
		ID:          u.ID,
		Description: u.Description,
		Checksum:    u.Checksum,
		AppliedAt:   time.Now().UTC(),
		AppliedBy:   e.AppliedBy,
		DurationMS:  d.Milliseconds(),
		Outcome:     outcome,
	}
}

func (e *Engine) verifyApplied(ctx context.Context, res *Result, applied []source.Unit) {
	if e.SkipVerify || e.Verifier == nil {
		return
	}
	e.transition(res, StateVerifying)
	res.Warnings = e.Verifier.ExpectPresent(ctx, applied)
	for _, w := range res.Warnings {
		e.warn("verification warning", map[string]any{"unit": w.UnitID, "object": w.Object, "detail": w.Message})
	}
}

// selectAbove returns applied records strictly above target, highest
// first.
func selectAbove(st state.SchemaState, target version.ID) []state.Record {
	var out []state.Record
	for _, rec := range st.Applied {
		if rec.ID.Compare(target) > 0 {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) > 0 })
	return out
}

func (e *Engine) fail(res *Result, err error) (*Result, error) {
	res.State = StateFailed
	return res, err
}

func (e *Engine) transition(res *Result, s State) {
	res.State = s
	e.debug("state", map[string]any{"state": string(s)})
}

func (e *Engine) debug(msg string, fields map[string]any) {
	if e.Log != nil {
		e.Log.Debug(msg, fields)
	}
}

func (e *Engine) info(msg string, fields map[string]any) {
	if e.Log != nil {
		e.Log.Info(msg, fields)
	}
}

func (e *Engine) warn(msg string, fields map[string]any) {
	if e.Log != nil {
		e.Log.Warn(msg, fields)
	}
}

func (e *Engine) error(msg string, fields map[string]any) {
	if e.Log != nil {
		e.Log.Error(msg, fields)
	}
}
