package indexcache

import "testing"

func TestCache(t *testing.T) {
	c, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, ok := c.Lookup("a.fbank", 1024); ok {
		t.Error("empty cache reported a hit")
	}

	if err := c.Store("a.fbank", 1024, 250); err != nil {
		t.Fatal(err)
	}
	n, ok := c.Lookup("a.fbank", 1024)
	if !ok || n != 250 {
		t.Errorf("Lookup = %d, %v; want 250, true", n, ok)
	}

	// A size change invalidates the entry.
	if _, ok := c.Lookup("a.fbank", 2048); ok {
		t.Error("stale entry served after size change")
	}

	// Overwrite refreshes.
	if err := c.Store("a.fbank", 2048, 500); err != nil {
		t.Fatal(err)
	}
	n, ok = c.Lookup("a.fbank", 2048)
	if !ok || n != 500 {
		t.Errorf("Lookup after refresh = %d, %v; want 500, true", n, ok)
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("expected error for missing Dir")
	}
}
