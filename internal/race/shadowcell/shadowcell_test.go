package shadowcell

import (
	"testing"

	"github.com/kolkov/racedetector/internal/race/config"
	"github.com/kolkov/racedetector/internal/race/diag"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := Encode(7, 12345, 0, 3, true)

	if c.Empty() {
		t.Fatal("encoded cell should not be empty")
	}
	if c.Tid() != 7 {
		t.Errorf("Tid() = %d, want 7", c.Tid())
	}
	if c.Epoch() != 12345 {
		t.Errorf("Epoch() = %d, want 12345", c.Epoch())
	}
	if c.Addr0() != 0 || c.Addr1() != 3 {
		t.Errorf("range = [%d,%d], want [0,3]", c.Addr0(), c.Addr1())
	}
	if !c.Write() {
		t.Error("Write() should be true")
	}
}

func TestEncode_Tid0DoesNotCollideWithEmpty(t *testing.T) {
	c := Encode(0, 0, 0, 0, false)
	if c.Empty() {
		t.Fatal("a legitimate first access by tid 0 must not read as empty")
	}
	if c.Tid() != 0 {
		t.Errorf("Tid() = %d, want 0", c.Tid())
	}
}

func TestEncode_LargestUsableTidRoundTrips(t *testing.T) {
	tid := uint16(config.KUsableTids - 1)
	c := Encode(tid, 1, 0, 7, true)
	if c.Tid() != tid {
		t.Errorf("Tid() = %d, want %d", c.Tid(), tid)
	}
	if c.Empty() {
		t.Fatal("a legitimate access by the largest usable tid must not read as empty")
	}
}

func TestEncode_ReservedTidDies(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Encode(KMaxTid-1, ...) to panic via diag.Die")
		}
	}()
	// KMaxTid-1 (== KUsableTids) is reserved: tid+1 would overflow the
	// packed field and wrap to 0, which Tid() would then decode as
	// uint16(0)-1 -- out of range for any [config.KMaxTid]Epoch array.
	// threadregistry.Registry never hands this tid out; Encode must still
	// refuse it rather than silently corrupt the cell.
	reserved := uint16(config.KMaxTid - 1)
	_ = Encode(reserved, 1, 0, 7, false)
}

func TestEncode_ReservedTidPanicsWithFatalError(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic")
		}
		if _, ok := r.(*diag.FatalError); !ok {
			t.Errorf("recovered %T, want *diag.FatalError", r)
		}
	}()
	_ = Encode(uint16(config.KMaxTid-1), 1, 0, 0, false)
}

func TestZeroCellIsEmpty(t *testing.T) {
	var c Cell
	if !c.Empty() {
		t.Error("zero-value Cell should be Empty")
	}
}

func TestSameRange(t *testing.T) {
	a := Encode(1, 1, 0, 3, false)
	b := Encode(2, 1, 0, 3, true)
	c := Encode(2, 1, 4, 7, true)

	if !a.SameRange(b) {
		t.Error("expected identical ranges to match")
	}
	if a.SameRange(c) {
		t.Error("expected disjoint ranges to not match")
	}
}

func TestOverlaps(t *testing.T) {
	a := Encode(1, 1, 0, 3, false)
	b := Encode(2, 1, 2, 5, false)
	c := Encode(2, 1, 4, 7, false)

	if !a.Overlaps(b) {
		t.Error("expected [0,3] and [2,5] to overlap")
	}
	if a.Overlaps(c) {
		t.Error("expected [0,3] and [4,7] to not overlap")
	}
}

func TestBlock_GetPut(t *testing.T) {
	var blk Block
	c := Encode(3, 99, 0, 7, true)
	blk.Put(2, c)

	if got := blk.Get(2); got != c {
		t.Errorf("Get(2) = %v, want %v", got, c)
	}
	if !blk.Get(0).Empty() {
		t.Error("untouched slot should be Empty")
	}
}

func TestScanOffset(t *testing.T) {
	tests := []struct {
		addr uintptr
		size int
		want int
	}{
		{0x1000, 1, 0},
		{0x1003, 1, 3},
		{0x1002, 2, 2},
		{0x1004, 4, 4},
		{0x1000, 8, 0},
	}
	for _, tc := range tests {
		if got := ScanOffset(tc.addr, tc.size); got != tc.want {
			t.Errorf("ScanOffset(%#x, %d) = %d, want %d", tc.addr, tc.size, got, tc.want)
		}
	}
}
