// Package source discovers migration units. Two loaders produce the same
// Unit shape: ScriptSource reads paired .sql files from a directory, and
// ChangesetSource reads a YAML changelog. Loaders hold no state between
// calls, so a source can be re-enumerated at any time.
package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/schemactl/schemactl/internal/version"
)

var (
	// ErrDiscovery reports two units resolving to the same (version, sequence).
	ErrDiscovery = errors.New("discovery failed")
	// ErrMalformedUnit reports a unit whose name or header does not encode a
	// parseable identity.
	ErrMalformedUnit = errors.New("malformed migration unit")
)

type Kind string

const (
	KindDDL Kind = "DDL"
	KindDML Kind = "DML"
)

// Unit is a single, independently identified schema or data change.
type Unit struct {
	ID          version.ID
	Description string
	Kind        Kind
	UpPath      string
	DownPath    string
	Up          []byte
	Down        []byte // empty means not revertible
	Checksum    string // SHA-256 of Up
	Creates     []string
}

func (u Unit) Revertible() bool { return len(u.Down) > 0 }

// Source enumerates units sorted by (version, sequence). Implementations
// are read-only and re-enumerable.
type Source interface {
	Load(ctx context.Context) ([]Unit, error)
}

var (
	ddlRe          = regexp.MustCompile(`(?im)^\s*(create|alter|drop|truncate|rename)\b`)
	createTableRe  = regexp.MustCompile(`(?i)create\s+table\s+(?:if\s+not\s+exists\s+)?` + "[`\"]?" + `([a-zA-Z0-9_.]+)`)
	createIndexRe  = regexp.MustCompile(`(?i)create\s+(?:unique\s+)?index\s+(?:if\s+not\s+exists\s+)?` + "[`\"]?" + `([a-zA-Z0-9_.]+)`)
	createViewRe   = regexp.MustCompile(`(?i)create\s+(?:or\s+replace\s+)?view\s+` + "[`\"]?" + `([a-zA-Z0-9_.]+)`)
)

// classify marks a script DDL when any statement starts with a
// structure-changing keyword, DML otherwise.
func classify(script []byte) Kind {
	if ddlRe.Match(script) {
		return KindDDL
	}
	return KindDML
}

// sniffCreates extracts the schema objects a script introduces, used as
// post-apply verification expectations when the unit carries no explicit
// metadata.
func sniffCreates(script []byte) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{createTableRe, createIndexRe, createViewRe} {
		for _, m := range re.FindAllSubmatch(script, -1) {
			name := strings.Trim(string(m[1]), "`\"")
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// finish sorts units and rejects duplicate identities.
func finish(units []Unit) ([]Unit, error) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].ID.Compare(units[j].ID) < 0
	})
	for i := 1; i < len(units); i++ {
		if units[i].ID.Compare(units[i-1].ID) == 0 {
			return nil, fmt.Errorf("%w: duplicate unit %s (%s and %s)",
				ErrDiscovery, units[i].ID, units[i-1].UpPath, units[i].UpPath)
		}
	}
	return units, nil
}
