package detector

import (
	"testing"
)

type capturingSink struct{ report **ReportDesc }

func (s capturingSink) OnReport(desc *ReportDesc, suppressed bool) bool {
	*s.report = desc
	return false
}

func (s capturingSink) PrintReport(*ReportDesc) {}

// TestReportRace_ReusedTidDoesNotReplayStaleStack exercises the tid-reuse
// cycle described by component design 4.5: a thread races, finishes, is
// joined, and its slot is handed to an unrelated thread before the race
// against its stale shadow cell is actually reported. Without a staleness
// guard, reportRace would replay the new occupant's (empty) trace against
// the old thread's epoch and hand back a fabricated, non-nil stack instead
// of admitting it has nothing trustworthy to show.
func TestReportRace_ReusedTidDoesNotReplayStaleStack(t *testing.T) {
	d := New(Options{})
	const raceAddr = uintptr(0xc000)

	p := newTestContext(t, d, 1)

	aTid, ok := d.Registry().Create(p.Clock, 100, false) // joinable, not detached
	if !ok {
		t.Fatalf("registry exhausted")
	}
	a := d.Registry().Start(aTid)
	if a == nil {
		t.Fatalf("Start(%d) returned nil", aTid)
	}

	// Leaves a stale write cell for aTid in the shadow block, then bumps a's
	// epoch further before it exits so its join handoff carries a higher
	// epoch than the racy cell it left behind.
	d.MemoryAccess(a, 0, raceAddr, 8, true)
	d.MemoryAccess(a, 0, raceAddr+8, 8, true)

	a.Clock.Set(a.Tid, a.Clock.Own())
	d.Registry().Finish(a)
	if !d.Registry().Join(p.Clock, 100) {
		t.Fatalf("Join(100) failed")
	}

	// p now knows a's final epoch. Creating b reuses a's freed slot with
	// that happens-before knowledge folded into b's own Epoch0.
	bTid, ok := d.Registry().Create(p.Clock, 200, true)
	if !ok {
		t.Fatalf("registry exhausted")
	}
	if bTid != aTid {
		t.Fatalf("expected slot reuse: got tid %d, want %d", bTid, aTid)
	}
	b := d.Registry().Start(bTid)
	if b.ReuseCount == 0 {
		t.Errorf("expected ReuseCount to be bumped on slot reuse")
	}
	if b.Epoch0 == 0 {
		t.Fatalf("expected b to inherit a's happens-before knowledge, got Epoch0=0")
	}

	var captured *ReportDesc
	d.Sink = capturingSink{report: &captured}

	c := newTestContext(t, d, 300)
	d.MemoryAccess(c, 0, raceAddr, 8, true) // conflicts with a's now-stale cell

	if captured == nil {
		t.Fatalf("expected a race report")
	}
	if captured.Prior.Stack != nil {
		t.Errorf("expected stale prior stack to fall back to nil, got %v", captured.Prior.Stack)
	}
}
