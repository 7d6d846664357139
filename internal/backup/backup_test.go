package backup

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// fakeCommand replaces the dump tool with a shell snippet that writes a
// non-empty file at the --result-file / --file argument.
func fakeCommand(t *testing.T, fail bool) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	t.Helper()
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if fail {
			return exec.CommandContext(ctx, "false")
		}
		var out string
		for _, a := range args {
			if strings.HasPrefix(a, "--result-file=") {
				out = strings.TrimPrefix(a, "--result-file=")
			}
			if strings.HasPrefix(a, "--file=") {
				out = strings.TrimPrefix(a, "--file=")
			}
		}
		return exec.CommandContext(ctx, "sh", "-c", "echo '-- dump' > "+out)
	}
}

func TestSnapshotWritesHandle(t *testing.T) {
	dir := t.TempDir()
	d := NewDumper(dir, "mysql", "user:pass@tcp(localhost:3306)/appdb")
	d.command = fakeCommand(t, false)

	h, err := d.Snapshot(context.Background(), "appdb")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if h.ID == "" || h.TargetID != "appdb" || h.Tool != "mysqldump" {
		t.Fatalf("unexpected handle: %+v", h)
	}
	if filepath.Dir(h.Path) != dir {
		t.Fatalf("snapshot outside backup dir: %s", h.Path)
	}
	if _, err := os.Stat(h.Path); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
}

func TestSnapshotToolFailure(t *testing.T) {
	d := NewDumper(t.TempDir(), "postgres", "postgres://u:p@localhost/shop")
	d.command = fakeCommand(t, true)
	if _, err := d.Snapshot(context.Background(), "shop"); err == nil {
		t.Fatal("expected error when dump tool fails")
	}
}

func TestDumpCommandPerProvider(t *testing.T) {
	d := NewDumper("/b", "mysql", "user:pass@tcp(db.example:3307)/appdb")
	name, args, err := d.dumpCommand("/b/out.sql")
	if err != nil {
		t.Fatalf("mysql dump command: %v", err)
	}
	if name != "mysqldump" {
		t.Fatalf("tool mismatch: %s", name)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--host=db.example") || !strings.Contains(joined, "--port=3307") || !strings.Contains(joined, "appdb") {
		t.Fatalf("unexpected args: %v", args)
	}

	d = NewDumper("/b", "postgres", "postgres://u:p@localhost/shop")
	name, _, err = d.dumpCommand("/b/out.sql")
	if err != nil || name != "pg_dump" {
		t.Fatalf("postgres dump command: %s %v", name, err)
	}

	d = NewDumper("/b", "oracle", "dsn")
	if _, _, err := d.dumpCommand("/b/out.sql"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
