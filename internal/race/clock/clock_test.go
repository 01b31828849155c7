package clock

import "testing"

func TestThreadClock_OwnAndSet(t *testing.T) {
	c := NewThreadClock(3)
	if c.Own() != 0 {
		t.Fatalf("expected zero initial epoch, got %d", c.Own())
	}
	c.Set(3, 5)
	if c.Own() != 5 {
		t.Fatalf("expected Own() == 5, got %d", c.Own())
	}
}

func TestThreadClock_HappensBefore(t *testing.T) {
	c := NewThreadClock(1)
	c.Set(2, 10)

	if !c.HappensBefore(2, 10) {
		t.Error("expected e == self.Get(tid) to happen-before")
	}
	if !c.HappensBefore(2, 5) {
		t.Error("expected e < self.Get(tid) to happen-before")
	}
	if c.HappensBefore(2, 11) {
		t.Error("expected e > self.Get(tid) to NOT happen-before")
	}
}

func TestReleaseAcquire_TransfersHappensBefore(t *testing.T) {
	a := NewThreadClock(1)
	b := NewThreadClock(2)
	sc := NewSyncClock()

	a.Set(1, 7)
	a.Release(sc)

	if b.HappensBefore(1, 7) {
		t.Fatal("b should not know about a's epoch before acquiring")
	}

	b.Acquire(sc)
	if !b.HappensBefore(1, 7) {
		t.Error("b should happen-after a's release once acquired")
	}
}

func TestRelease_DoesNotBumpOwnEntryImplicitly(t *testing.T) {
	a := NewThreadClock(1)
	sc := NewSyncClock()

	// Own entry is zero; releasing without Set should leave sc's view of
	// tid 1 at zero.
	a.Release(sc)
	if sc.Get(1) != 0 {
		t.Errorf("expected release to not implicitly bump own entry, got %d", sc.Get(1))
	}
}

func TestSyncClock_SparseChunkAllocation(t *testing.T) {
	sc := NewSyncClock()
	sc.Set(100, 42)

	if sc.Get(100) != 42 {
		t.Errorf("Get(100) = %d, want 42", sc.Get(100))
	}
	if sc.Get(0) != 0 {
		t.Errorf("untouched tid should read zero, got %d", sc.Get(0))
	}
}

func TestSyncClock_Reset(t *testing.T) {
	sc := NewSyncClock()
	sc.Set(5, 9)
	sc.Reset()

	if sc.Get(5) != 0 {
		t.Errorf("expected Reset to clear entries, got %d", sc.Get(5))
	}
}

func TestThreadClock_AcquireIsMaxNotOverwrite(t *testing.T) {
	a := NewThreadClock(1)
	sc := NewSyncClock()

	a.Set(9, 100)
	sc.Set(9, 50)

	a.Acquire(sc)
	if a.Get(9) != 100 {
		t.Errorf("Acquire should keep the max, got %d", a.Get(9))
	}
}
