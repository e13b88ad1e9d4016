package vectorcache

import (
	"fmt"
	"testing"
)

func vec(n int, fill float32) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestGetMiss(t *testing.T) {
	c := New(4, 1024)
	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache returned a hit")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(4, 1024)
	c.Put("a", []float32{1, 2, 3})

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("got %v, want [1 2 3]", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(4, 1024)
	c.Put("a", []float32{1, 2, 3})

	got, _ := c.Get("a")
	got[0] = 99

	again, _ := c.Get("a")
	if again[0] != 1 {
		t.Errorf("cache entry mutated through returned slice: %v", again)
	}
}

func TestCountEviction(t *testing.T) {
	c := New(2, 1<<20)
	c.Put("a", vec(4, 1))
	c.Put("b", vec(4, 2))
	c.Put("c", vec(4, 3))

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	for _, key := range []string{"b", "c"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("entry %q missing", key)
		}
	}
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New(2, 1<<20)
	c.Put("a", vec(4, 1))
	c.Put("b", vec(4, 2))

	// Touch "a" so "b" becomes least recently used.
	c.Get("a")
	c.Put("c", vec(4, 3))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently touched entry should survive")
	}
}

func TestMemoryBudgetEviction(t *testing.T) {
	// Budget holds exactly two 4-element vectors (4*8 = 32 bytes each).
	c := New(100, 64)
	c.Put("a", vec(4, 1))
	c.Put("b", vec(4, 2))
	c.Put("c", vec(4, 3))

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if c.MemoryBytes() > 64 {
		t.Errorf("MemoryBytes = %d, exceeds budget", c.MemoryBytes())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted for memory")
	}
}

func TestOversizedEntryDegeneratesToSingle(t *testing.T) {
	c := New(100, 64)
	c.Put("a", vec(4, 1))
	c.Put("big", vec(100, 2)) // 800 bytes, alone exceeds budget

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("big"); !ok {
		t.Error("oversized entry should be the sole survivor")
	}
}

func TestReplaceAdjustsBytes(t *testing.T) {
	c := New(100, 1<<20)
	c.Put("a", vec(100, 1))
	before := c.MemoryBytes()

	c.Put("a", vec(4, 1))
	after := c.MemoryBytes()

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if after >= before {
		t.Errorf("replacing with a smaller vector did not shrink bytes: %d -> %d", before, after)
	}
	if after != 32 {
		t.Errorf("MemoryBytes = %d, want 32", after)
	}
}

func TestInvariantsHoldAfterEveryPut(t *testing.T) {
	const maxEntries, maxBytes = 8, 256
	c := New(maxEntries, maxBytes)

	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("key-%d", i%13), vec(1+i%10, float32(i)))
		if c.Len() > maxEntries {
			t.Fatalf("after put %d: Len = %d exceeds budget %d", i, c.Len(), maxEntries)
		}
		if c.MemoryBytes() > maxBytes {
			t.Fatalf("after put %d: MemoryBytes = %d exceeds budget %d", i, c.MemoryBytes(), maxBytes)
		}
	}
}

func TestClear(t *testing.T) {
	c := New(4, 1024)
	c.Put("a", vec(4, 1))
	c.Put("b", vec(4, 2))
	c.Clear()

	if c.Len() != 0 || c.MemoryBytes() != 0 {
		t.Errorf("after Clear: Len = %d, MemoryBytes = %d", c.Len(), c.MemoryBytes())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("entry survived Clear")
	}
}
