package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const changelog = `changesets:
  - id: 1.0-001
    author: dba
    description: create_users
    kind: DDL
    up: |
      CREATE TABLE users (id BIGINT PRIMARY KEY, created_at TIMESTAMP, updated_at TIMESTAMP);
    down: |
      DROP TABLE users;
    creates: [users]
  - id: 1.1-001
    description: seed_users
    up: |
      INSERT INTO users (id) VALUES (1);
  - id: 1.0-002
    description: create_orders
    upFile: sql/create_orders.sql
    downFile: sql/drop_orders.sql
`

func writeChangelog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "changelog.yaml")
	if err := os.WriteFile(path, []byte(changelog), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sql"), 0o755); err != nil {
		t.Fatal(err)
	}
	write(t, filepath.Join(dir, "sql"), "create_orders.sql", "CREATE TABLE orders (id BIGINT PRIMARY KEY);")
	write(t, filepath.Join(dir, "sql"), "drop_orders.sql", "DROP TABLE orders;")
	return path
}

func TestChangesetSourceLoad(t *testing.T) {
	path := writeChangelog(t)
	units, err := ChangesetSource{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	// Sorted by identity, not document order.
	want := []string{"1.0-001", "1.0-002", "1.1-001"}
	for i, w := range want {
		if units[i].ID.String() != w {
			t.Fatalf("position %d: got %s want %s", i, units[i].ID, w)
		}
	}
	users := units[0]
	if users.Kind != KindDDL || !users.Revertible() {
		t.Fatalf("unexpected users unit: %+v", users)
	}
	if len(users.Creates) != 1 || users.Creates[0] != "users" {
		t.Fatalf("explicit creates not honored: %v", users.Creates)
	}
	orders := units[1]
	if string(orders.Up) != "CREATE TABLE orders (id BIGINT PRIMARY KEY);" {
		t.Fatalf("file payload mismatch: %q", orders.Up)
	}
	if len(orders.Creates) != 1 || orders.Creates[0] != "orders" {
		t.Fatalf("sniffed creates mismatch: %v", orders.Creates)
	}
	seed := units[2]
	if seed.Kind != KindDML || seed.Revertible() {
		t.Fatalf("unexpected seed unit: %+v", seed)
	}
}

func TestChangesetSourceBadID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changelog.yaml")
	body := "changesets:\n  - id: not-a-version\n    up: SELECT 1;\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ChangesetSource{Path: path}.Load(context.Background())
	if !errors.Is(err, ErrMalformedUnit) {
		t.Fatalf("expected ErrMalformedUnit, got %v", err)
	}
}

func TestChangesetSourceDuplicateID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changelog.yaml")
	body := "changesets:\n  - id: 1.0-001\n    up: SELECT 1;\n  - id: 1.0-001\n    up: SELECT 2;\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ChangesetSource{Path: path}.Load(context.Background())
	if !errors.Is(err, ErrDiscovery) {
		t.Fatalf("expected ErrDiscovery, got %v", err)
	}
}

func TestChangesetSourceMissingUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changelog.yaml")
	body := "changesets:\n  - id: 1.0-001\n    description: empty\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ChangesetSource{Path: path}.Load(context.Background())
	if !errors.Is(err, ErrMalformedUnit) {
		t.Fatalf("expected ErrMalformedUnit, got %v", err)
	}
}
