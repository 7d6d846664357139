// Package backup produces restorable snapshots before destructive
// operations. The engine snapshots and hands the handle back to the
// caller; Restore is an operator-driven recovery path and is never
// invoked automatically.
package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/go-sql-driver/mysql"
)

// Handle is an opaque reference to one snapshot, retained for audit.
type Handle struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id"`
	Path      string    `json:"path"`
	Tool      string    `json:"tool"`
	CreatedAt time.Time `json:"created_at"`
}

type Backup interface {
	Snapshot(ctx context.Context, targetID string) (Handle, error)
	Restore(ctx context.Context, h Handle) error
}

// Dumper shells out to the provider's dump/restore tools.
type Dumper struct {
	Dir      string
	Provider string // mysql | postgres
	DSN      string

	// command is swapped in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewDumper(dir, provider, dsn string) *Dumper {
	return &Dumper{Dir: dir, Provider: provider, DSN: dsn, command: exec.CommandContext}
}

func (d *Dumper) Snapshot(ctx context.Context, targetID string) (Handle, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("backup dir: %w", err)
	}
	now := time.Now().UTC()
	h := Handle{
		ID:        uuid.NewString(),
		TargetID:  targetID,
		CreatedAt: now,
	}
	h.Path = filepath.Join(d.Dir, fmt.Sprintf("%s-%s-%s.sql", targetID, now.Format("20060102150405"), h.ID))

	name, args, err := d.dumpCommand(h.Path)
	if err != nil {
		return Handle{}, err
	}
	h.Tool = name
	cmd := d.command(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(h.Path)
		return Handle{}, fmt.Errorf("%s failed: %w: %s", name, err, out)
	}
	if fi, err := os.Stat(h.Path); err != nil || fi.Size() == 0 {
		return Handle{}, fmt.Errorf("%s produced no snapshot at %s", name, h.Path)
	}
	return h, nil
}

func (d *Dumper) Restore(ctx context.Context, h Handle) error {
	name, args, err := d.restoreCommand(h.Path)
	if err != nil {
		return err
	}
	cmd := d.command(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, out)
	}
	return nil
}

func (d *Dumper) dumpCommand(outPath string) (string, []string, error) {
	switch d.Provider {
	case "mysql":
		cfg, err := mysql.ParseDSN(d.DSN)
		if err != nil {
			return "", nil, fmt.Errorf("backup dsn: %w", err)
		}
		host, port := splitHostPort(cfg.Addr)
		return "mysqldump", []string{
			"--host=" + host, "--port=" + port,
			"--user=" + cfg.User, "--password=" + cfg.Passwd,
			"--single-transaction", "--routines", "--triggers",
			"--result-file=" + outPath,
			cfg.DBName,
		}, nil
	case "postgres", "postgresql":
		return "pg_dump", []string{"--format=plain", "--file=" + outPath, d.DSN}, nil
	}
	return "", nil, fmt.Errorf("unsupported provider %q", d.Provider)
}

func (d *Dumper) restoreCommand(inPath string) (string, []string, error) {
	switch d.Provider {
	case "mysql":
		cfg, err := mysql.ParseDSN(d.DSN)
		if err != nil {
			return "", nil, fmt.Errorf("backup dsn: %w", err)
		}
		host, port := splitHostPort(cfg.Addr)
		return "mysql", []string{
			"--host=" + host, "--port=" + port,
			"--user=" + cfg.User, "--password=" + cfg.Passwd,
			cfg.DBName,
			"-e", "source " + inPath,
		}, nil
	case "postgres", "postgresql":
		return "psql", []string{"--file=" + inPath, d.DSN}, nil
	}
	return "", nil, fmt.Errorf("unsupported provider %q", d.Provider)
}

func splitHostPort(addr string) (string, string) {
	host, port := addr, "3306"
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host, port = addr[:i], addr[i+1:]
			break
		}
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port
}
