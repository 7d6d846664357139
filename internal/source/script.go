package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/schemactl/schemactl/internal/checksum"
	"github.com/schemactl/schemactl/internal/version"
)

// Two filename grammars map onto the same unit identity:
//
//	1.2-001_add_orders.up.sql / 1.2-001_add_orders.down.sql
//	V1.2__add_orders.sql      / U1.2__add_orders.sql
//
// The V-style convention has no sequence token; those units get sequence
// "001".
var (
	pairRe    = regexp.MustCompile(`^(\d+\.\d+)-(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)
	flywayRe  = regexp.MustCompile(`^([VU])(\d+\.\d+)__([a-zA-Z0-9_\-]+)\.sql$`)
	sqlFileRe = regexp.MustCompile(`\.sql$`)
)

const defaultSequence = "001"

// ScriptSource loads paired up/down scripts from a directory. FS may be an
// embedded filesystem; when nil the local disk is read.
type ScriptSource struct {
	FS      fs.FS
	RootDir string
}

type scriptEntry struct {
	id       version.ID
	desc     string
	upPath   string
	downPath string
}

func (s ScriptSource) Load(ctx context.Context) ([]Unit, error) {
	entries, err := s.readDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	byKey := map[string]*scriptEntry{}
	for _, e := range entries {
		if e.IsDir() || !sqlFileRe.MatchString(e.Name()) {
			continue
		}
		id, desc, down, err := parseScriptName(e.Name())
		if err != nil {
			return nil, err
		}
		key := id.String()
		ent := byKey[key]
		if ent == nil {
			ent = &scriptEntry{id: id, desc: desc}
			byKey[key] = ent
		}
		full := filepath.Join(s.RootDir, e.Name())
		if down {
			if ent.downPath != "" {
				return nil, fmt.Errorf("%w: duplicate down script for %s", ErrDiscovery, id)
			}
			ent.downPath = full
		} else {
			if ent.upPath != "" {
				return nil, fmt.Errorf("%w: duplicate up script for %s", ErrDiscovery, id)
			}
			ent.upPath = full
		}
	}

	units := make([]Unit, 0, len(byKey))
	for _, ent := range byKey {
		if ent.upPath == "" {
			return nil, fmt.Errorf("%w: %s has a down script but no up script", ErrDiscovery, ent.id)
		}
		up, err := s.readFile(ent.upPath)
		if err != nil {
			return nil, err
		}
		var down []byte
		if ent.downPath != "" {
			if down, err = s.readFile(ent.downPath); err != nil {
				return nil, err
			}
		}
		units = append(units, Unit{
			ID:          ent.id,
			Description: ent.desc,
			Kind:        classify(up),
			UpPath:      ent.upPath,
			DownPath:    ent.downPath,
			Up:          up,
			Down:        down,
			Checksum:    checksum.SHA256(up),
			Creates:     sniffCreates(up),
		})
	}
	return finish(units)
}

// parseScriptName maps a filename onto (identity, description, isDown).
// A .sql file matching neither grammar is malformed, not skipped: silently
// ignoring it would drop a migration from the order.
func parseScriptName(name string) (version.ID, string, bool, error) {
	if m := pairRe.FindStringSubmatch(name); m != nil {
		v, err := version.Parse(m[1])
		if err != nil {
			return version.ID{}, "", false, fmt.Errorf("%w: %s: %v", ErrMalformedUnit, name, err)
		}
		return version.ID{Version: v, Sequence: m[2]}, m[3], m[4] == "down", nil
	}
	if m := flywayRe.FindStringSubmatch(name); m != nil {
		v, err := version.Parse(m[2])
		if err != nil {
			return version.ID{}, "", false, fmt.Errorf("%w: %s: %v", ErrMalformedUnit, name, err)
		}
		return version.ID{Version: v, Sequence: defaultSequence}, m[3], m[1] == "U", nil
	}
	return version.ID{}, "", false, fmt.Errorf("%w: %s does not match any naming grammar", ErrMalformedUnit, name)
}

func (s ScriptSource) readDir() ([]fs.DirEntry, error) {
	if s.FS != nil {
		return fs.ReadDir(s.FS, s.RootDir)
	}
	return os.ReadDir(s.RootDir)
}

func (s ScriptSource) readFile(path string) ([]byte, error) {
	if s.FS != nil {
		return fs.ReadFile(s.FS, path)
	}
	return os.ReadFile(path)
}
