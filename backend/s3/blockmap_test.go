package s3

import "testing"

func TestBlockIndexMapGetOrCreateInstallsOnce(t *testing.T) {
	m := newBlockIndexMap()
	s1, created1 := m.getOrCreate(5)
	if !created1 {
		t.Fatal("expected first getOrCreate to create a new state")
	}
	s2, created2 := m.getOrCreate(5)
	if created2 {
		t.Fatal("expected second getOrCreate for the same index to reuse the existing state")
	}
	if s1 != s2 {
		t.Fatal("expected the same *blockState instance for repeated indices")
	}
}

func TestBlockIndexMapEvictRemovesEntry(t *testing.T) {
	m := newBlockIndexMap()
	m.getOrCreate(1)
	m.getOrCreate(2)
	if m.len() != 2 {
		t.Fatalf("len = %d, want 2", m.len())
	}
	m.evict(1)
	if m.len() != 1 {
		t.Fatalf("len after evict = %d, want 1", m.len())
	}
	if _, ok := m.get(1); ok {
		t.Fatal("evicted block should no longer be present")
	}
	if _, ok := m.get(2); !ok {
		t.Fatal("non-evicted block should still be present")
	}
}

func TestBlockStateResolveUnblocksWaiters(t *testing.T) {
	s := newBlockState()
	done := make(chan struct{})
	var gotData []byte
	var gotErr error
	go func() {
		gotData, gotErr = s.wait()
		close(done)
	}()
	s.resolve([]byte("payload"), nil)
	<-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if string(gotData) != "payload" {
		t.Fatalf("data = %q, want %q", gotData, "payload")
	}
}

func TestCompareBlockIndexOrdering(t *testing.T) {
	cases := []struct {
		a, b int64
		want int
	}{
		{1, 2, -1},
		{2, 1, 1},
		{3, 3, 0},
	}
	for _, c := range cases {
		got, err := compareBlockIndex(c.a, c.b)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Fatalf("compareBlockIndex(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
