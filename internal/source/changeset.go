package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schemactl/schemactl/internal/checksum"
	"github.com/schemactl/schemactl/internal/version"
)

// ChangesetSource loads units from a YAML changelog. Each changeset
// carries its identity explicitly and may inline its SQL or reference
// files relative to the changelog location.
type ChangesetSource struct {
	FS   fs.FS // nil means local disk
	Path string
}

type changelogDoc struct {
	Changesets []changesetDoc `yaml:"changesets"`
}

type changesetDoc struct {
	ID          string   `yaml:"id"`
	Author      string   `yaml:"author"`
	Description string   `yaml:"description"`
	Kind        string   `yaml:"kind"`
	Up          string   `yaml:"up"`
	UpFile      string   `yaml:"upFile"`
	Down        string   `yaml:"down"`
	DownFile    string   `yaml:"downFile"`
	Creates     []string `yaml:"creates"`
}

func (c ChangesetSource) Load(ctx context.Context) ([]Unit, error) {
	body, err := c.readFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	var doc changelogDoc
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedUnit, c.Path, err)
	}

	baseDir := filepath.Dir(c.Path)
	units := make([]Unit, 0, len(doc.Changesets))
	for i, cs := range doc.Changesets {
		id, err := version.ParseID(cs.ID)
		if err != nil || id.Sequence == "" {
			return nil, fmt.Errorf("%w: changeset %d id %q (want version-sequence)", ErrMalformedUnit, i, cs.ID)
		}
		up, upPath, err := c.payload(cs.Up, cs.UpFile, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%w: changeset %s: %v", ErrDiscovery, id, err)
		}
		if len(up) == 0 {
			return nil, fmt.Errorf("%w: changeset %s has no up payload", ErrMalformedUnit, id)
		}
		down, downPath, err := c.payload(cs.Down, cs.DownFile, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%w: changeset %s: %v", ErrDiscovery, id, err)
		}

		kind, err := parseKind(cs.Kind, up)
		if err != nil {
			return nil, fmt.Errorf("%w: changeset %s: %v", ErrMalformedUnit, id, err)
		}
		creates := cs.Creates
		if len(creates) == 0 {
			creates = sniffCreates(up)
		}
		units = append(units, Unit{
			ID:          id,
			Description: cs.Description,
			Kind:        kind,
			UpPath:      upPath,
			DownPath:    downPath,
			Up:          up,
			Down:        down,
			Checksum:    checksum.SHA256(up),
			Creates:     creates,
		})
	}
	return finish(units)
}

// payload resolves inline SQL or a referenced file; inline wins when both
// are set.
func (c ChangesetSource) payload(inline, file, baseDir string) ([]byte, string, error) {
	if inline != "" {
		return []byte(inline), c.Path, nil
	}
	if file == "" {
		return nil, "", nil
	}
	path := filepath.Join(baseDir, file)
	body, err := c.readFile(path)
	if err != nil {
		return nil, "", err
	}
	return body, path, nil
}

func parseKind(s string, up []byte) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return classify(up), nil
	case string(KindDDL):
		return KindDDL, nil
	case string(KindDML):
		return KindDML, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

func (c ChangesetSource) readFile(path string) ([]byte, error) {
	if c.FS != nil {
		return fs.ReadFile(c.FS, path)
	}
	return os.ReadFile(path)
}
