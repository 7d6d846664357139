package version

import (
	"sort"
	"testing"
)

func TestParse(t *testing.T) {
	v, err := Parse("1.10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.Major != 1 || v.Minor != 10 {
		t.Fatalf("unexpected version: %+v", v)
	}
	for _, bad := range []string{"", "1", "1.2.3", "a.b", "-1.0", "1.x"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestVersionCompareNumeric(t *testing.T) {
	a, _ := Parse("1.10")
	b, _ := Parse("1.2")
	if a.Compare(b) != 1 {
		t.Fatal("1.10 must sort after 1.2")
	}
	if b.Compare(a) != -1 {
		t.Fatal("1.2 must sort before 1.10")
	}
	if a.Compare(a) != 0 {
		t.Fatal("equal versions must compare 0")
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("1.2-001")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Version.String() != "1.2" || id.Sequence != "001" {
		t.Fatalf("unexpected id: %+v", id)
	}
	if id.String() != "1.2-001" {
		t.Fatalf("round trip mismatch: %s", id)
	}
	bare, err := ParseID("2.0")
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	if bare.Sequence != "" {
		t.Fatalf("bare id should have empty sequence: %+v", bare)
	}
	for _, bad := range []string{"1.2-", "1.2-x1", "1-001"} {
		if _, err := ParseID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestIDOrdering(t *testing.T) {
	ids := []string{"1.10-001", "1.2-002", "1.2-001"}
	parsed := make([]ID, 0, len(ids))
	for _, s := range ids {
		id, err := ParseID(s)
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		parsed = append(parsed, id)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Compare(parsed[j]) < 0 })
	want := []string{"1.2-001", "1.2-002", "1.10-001"}
	for i, w := range want {
		if parsed[i].String() != w {
			t.Fatalf("position %d: got %s want %s", i, parsed[i], w)
		}
	}
}

func TestCompareSequencePadding(t *testing.T) {
	if CompareSequence("2", "002") != 0 {
		t.Fatal("2 and 002 must be equal")
	}
	if CompareSequence("010", "2") != 1 {
		t.Fatal("010 must sort after 2")
	}
}

func TestBareVersionTargetKeepsOwnSequences(t *testing.T) {
	target, _ := ParseID("1.0")
	kept, _ := ParseID("1.0-002")
	above, _ := ParseID("1.1-001")
	if kept.Compare(target) > 0 {
		t.Fatal("1.0-002 must not sort above the bare 1.0 target")
	}
	if above.Compare(target) <= 0 {
		t.Fatal("1.1-001 must sort above the bare 1.0 target")
	}
}
