// Package state is the durable record of applied migration units. The
// store is an append-only log: a SUCCESS row is never overwritten, and
// checksum disagreement with a re-discovered unit surfaces as drift
// instead of a silent update.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/schemactl/schemactl/internal/version"
)

// ErrDrift reports a previously-applied unit whose content hash no longer
// matches the recorded one. Never auto-resolved; an operator has to decide
// which side is right.
var ErrDrift = errors.New("checksum drift detected")

// DriftError carries the diverging digests for operator triage.
type DriftError struct {
	ID     version.ID
	Stored string
	Actual string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("checksum drift detected: %s (recorded=%s file=%s)", e.ID, e.Stored, e.Actual)
}

func (e *DriftError) Unwrap() error { return ErrDrift }

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Record is one applied-state row.
type Record struct {
	ID             version.ID
	Description    string
	Checksum       string
	AppliedAt      time.Time
	AppliedBy      string
	DurationMS     int64
	Outcome        Outcome
	ExecutionOrder int64
}

// SchemaState is derived from the tracker at the start of every engine
// invocation and never cached across runs.
type SchemaState struct {
	// Current is the identity of the highest applied SUCCESS record, nil
	// on an empty schema.
	Current *version.ID
	// Applied holds the latest terminal record per unit, in execution
	// order. A FAILED latest record leaves the unit pending.
	Applied []Record
	// History holds every record in execution order.
	History []Record
}

// Lookup returns the latest terminal record for id.
func (s SchemaState) Lookup(id version.ID) (Record, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].ID.Compare(id) == 0 {
			return s.History[i], true
		}
	}
	return Record{}, false
}

// IsApplied reports whether id's latest record is SUCCESS.
func (s SchemaState) IsApplied(id version.ID) bool {
	rec, ok := s.Lookup(id)
	return ok && rec.Outcome == OutcomeSuccess
}

// build derives SchemaState from raw rows ordered by execution order.
func build(rows []Record) SchemaState {
	st := SchemaState{History: rows}
	latest := map[string]Record{}
	for _, r := range rows {
		latest[r.ID.String()] = r
	}
	for _, r := range rows {
		cur, ok := latest[r.ID.String()]
		if !ok || cur.ExecutionOrder != r.ExecutionOrder || cur.Outcome != OutcomeSuccess {
			continue
		}
		st.Applied = append(st.Applied, r)
		if st.Current == nil || r.ID.Compare(*st.Current) > 0 {
			id := r.ID
			st.Current = &id
		}
	}
	return st
}
