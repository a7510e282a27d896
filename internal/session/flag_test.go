package session

import (
	"path/filepath"
	"testing"
)

func TestFileFlagConsumedOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	f := NewFileFlag(dir)

	if set, err := f.Consume(); err != nil || set {
		t.Fatalf("fresh flag should be clear, got %v %v", set, err)
	}
	if err := f.Set(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// A second instance models a restarted process.
	if set, err := NewFileFlag(dir).Consume(); err != nil || !set {
		t.Fatalf("expected flag to survive restart, got %v %v", set, err)
	}
	if set, _ := f.Consume(); set {
		t.Fatalf("flag must be consumed exactly once")
	}
}

func TestMemoryFlag(t *testing.T) {
	var f MemoryFlag
	_ = f.Set()
	if set, _ := f.Consume(); !set {
		t.Fatalf("expected set")
	}
	if set, _ := f.Consume(); set {
		t.Fatalf("expected cleared")
	}
}
