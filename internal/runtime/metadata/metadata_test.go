package metadata

import "testing"

func TestClone_DoesNotAliasOriginal(t *testing.T) {
	t.Parallel()

	original := Metadata{"a": "1"}
	cloned := original.Clone()
	cloned["a"] = "2"

	if original["a"] != "1" {
		t.Fatal("clone mutated the original")
	}
}

func TestClone_Nil(t *testing.T) {
	t.Parallel()

	var md Metadata
	cloned := md.Clone()
	if cloned == nil {
		t.Fatal("expected non-nil clone of nil metadata")
	}
	cloned["k"] = "v"
	if cloned["k"] != "v" {
		t.Fatal("expected clone to be writable")
	}
}

func TestWith(t *testing.T) {
	t.Parallel()

	original := Metadata{"a": "1"}
	updated := original.With("b", "2")

	if updated["a"] != "1" || updated["b"] != "2" {
		t.Fatalf("unexpected result: %v", updated)
	}
	if _, ok := original["b"]; ok {
		t.Fatal("With mutated the original")
	}
}

func TestWithAll(t *testing.T) {
	t.Parallel()

	original := Metadata{"a": "1"}
	updated := original.WithAll(Metadata{"b": "2", "a": "override"})

	if updated["a"] != "override" || updated["b"] != "2" {
		t.Fatalf("unexpected result: %v", updated)
	}
	if original["a"] != "1" {
		t.Fatal("WithAll mutated the original")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	md := New("a", "1", "b", "2")
	if md["a"] != "1" || md["b"] != "2" {
		t.Fatalf("unexpected result: %v", md)
	}

	// Odd trailing key is dropped.
	md = New("a", "1", "dangling")
	if len(md) != 1 {
		t.Fatalf("unexpected result: %v", md)
	}
}
