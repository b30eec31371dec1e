package mergerag

import "testing"

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()
	if len(id1) != 36 {
		t.Errorf("expected 36 chars (UUIDv7), got %d: %s", len(id1), id1)
	}
	if id1 == id2 {
		t.Error("two IDs should be unique")
	}
	if id1 >= id2 {
		t.Error("sequential UUIDv7s should be time-ordered")
	}
}

func TestNodeIDStable(t *testing.T) {
	a := NodeID("docs", 1, 10, 20, "hello world")
	b := NodeID("docs", 1, 10, 20, "hello world")
	if a != b {
		t.Errorf("same input gave %s and %s", a, b)
	}
	if len(a) != 36 {
		t.Errorf("expected 36 chars, got %d", len(a))
	}
}

func TestNodeIDDistinguishes(t *testing.T) {
	base := NodeID("docs", 0, 0, 10, "text")
	others := []string{
		NodeID("other", 0, 0, 10, "text"),
		NodeID("docs", 1, 0, 10, "text"),
		NodeID("docs", 0, 1, 10, "text"),
		NodeID("docs", 0, 0, 11, "text"),
		NodeID("docs", 0, 0, 10, "texts"),
	}
	for i, o := range others {
		if o == base {
			t.Errorf("variant %d collides with base id", i)
		}
	}
}
