// Package shadowcell implements the packed 64-bit shadow-memory record and
// the fixed-size per-block cell array it lives in.
//
// This is a direct descendant of the teacher's epoch package: that package
// packed (tid, clock) into a single word to give FastTrack an O(1)
// happens-before check. A ShadowCell is the same idea extended with the
// byte range and write bit the access covered, per component design 4.1 /
// 4.9 ("packed ShadowCell ... single 64-bit integer with accessor helpers").
package shadowcell

import (
	"strconv"
	"sync/atomic"

	"github.com/kolkov/racedetector/internal/race/clock"
	"github.com/kolkov/racedetector/internal/race/config"
	"github.com/kolkov/racedetector/internal/race/diag"
)

// cellSlot wraps atomic.Uint64 so Block's element type documents intent
// (a shadow cell, not a bare counter) without hiding the relaxed-atomic
// access pattern the component design calls for.
type cellSlot struct {
	v atomic.Uint64
}

//go:nosplit
func (s *cellSlot) load() uint64 { return s.v.Load() }

//go:nosplit
func (s *cellSlot) store(v uint64) { s.v.Store(v) }

const (
	tidShift   = config.KClkBits + 7
	epochShift = 7
	addr0Shift = 4
	addr1Shift = 1
	writeShift = 0

	tidMask   = uint64(1)<<config.KTidBits - 1
	epochMask = uint64(1)<<config.KClkBits - 1
	addrMask  = uint64(0x7)
	writeMask = uint64(0x1)
)

// Cell is a packed shadow-memory record: tid, epoch, the inclusive byte
// range [addr0, addr1] inside the owning 8-byte block, and the write bit.
// A zero Cell is empty -- every valid encoding has a nonzero tid+1 offset,
// see Encode.
type Cell uint64

// Encode packs a shadow record. tid is stored as tid+1 so that (tid=0,
// epoch=0, addr0=0, addr1=0, write=false) -- a legitimate first access by
// thread 0 -- never collides with the all-zero "empty" sentinel. tid+1 must
// still fit in config.KTidBits, so tid must be < config.KUsableTids;
// threadregistry.Registry never hands out config.KMaxTid-1 for exactly this
// reason, and hitting this check means that invariant was violated upstream.
func Encode(tid uint16, e clock.Epoch, addr0, addr1 uint8, write bool) Cell {
	if tid >= config.KUsableTids {
		diag.Die("shadowcell: tid %d >= KUsableTids %d, tid+1 would overflow the packed tid field", tid, config.KUsableTids)
	}
	w := uint64(0)
	if write {
		w = 1
	}
	return Cell(
		(uint64(tid)+1)<<tidShift |
			(uint64(e)&epochMask)<<epochShift |
			(uint64(addr0)&addrMask)<<addr0Shift |
			(uint64(addr1)&addrMask)<<addr1Shift |
			w<<writeShift,
	)
}

// Empty reports whether the cell holds no access record.
//
//go:nosplit
func (c Cell) Empty() bool {
	return c == 0
}

// Tid returns the encoded thread id.
//
//go:nosplit
func (c Cell) Tid() uint16 {
	return uint16((uint64(c)>>tidShift)&tidMask) - 1
}

// Epoch returns the encoded epoch.
//
//go:nosplit
func (c Cell) Epoch() clock.Epoch {
	return clock.Epoch((uint64(c) >> epochShift) & epochMask)
}

// Addr0 returns the low byte offset (0-7) of the covered range.
//
//go:nosplit
func (c Cell) Addr0() uint8 {
	return uint8((uint64(c) >> addr0Shift) & addrMask)
}

// Addr1 returns the high byte offset (0-7) of the covered range.
//
//go:nosplit
func (c Cell) Addr1() uint8 {
	return uint8((uint64(c) >> addr1Shift) & addrMask)
}

// Write reports whether the encoded access was a write.
//
//go:nosplit
func (c Cell) Write() bool {
	return uint64(c)&writeMask != 0
}

// SameRange reports whether c and other cover the identical byte range.
//
//go:nosplit
func (c Cell) SameRange(other Cell) bool {
	return c.Addr0() == other.Addr0() && c.Addr1() == other.Addr1()
}

// Overlaps reports whether c and other's byte ranges intersect.
//
//go:nosplit
func (c Cell) Overlaps(other Cell) bool {
	lo := c.Addr0()
	if other.Addr0() > lo {
		lo = other.Addr0()
	}
	hi := c.Addr1()
	if other.Addr1() < hi {
		hi = other.Addr1()
	}
	return lo <= hi
}

// String renders a cell for diagnostics and race reports.
func (c Cell) String() string {
	if c.Empty() {
		return "<empty>"
	}
	kind := "R"
	if c.Write() {
		kind = "W"
	}
	return kind + "@t" + strconv.Itoa(int(c.Tid())) +
		"/e" + strconv.FormatUint(uint64(c.Epoch()), 10) +
		"[" + strconv.Itoa(int(c.Addr0())) + ":" + strconv.Itoa(int(c.Addr1())) + "]"
}

// Block is the config.KShadowCnt cells shadowing one 8-byte-aligned
// application memory block. Cells are read and written with relaxed
// atomics: a torn or stale read can only cause a missed race (an empty or
// out-of-date cell looks harmless), never a false positive, because every
// non-empty cell is internally consistent -- it was written by a single
// atomic store.
type Block [config.KShadowCnt]cellSlot

// Get performs a relaxed atomic load of cell i.
//
//go:nosplit
func (b *Block) Get(i int) Cell {
	return Cell(b[i].load())
}

// Put performs a relaxed atomic store of cell i.
//
//go:nosplit
func (b *Block) Put(i int, c Cell) {
	b[i].store(uint64(c))
}

// ScanOffset picks the starting index for the config.KShadowCnt scan so
// that repeated same-column accesses from one thread tend to land on the
// same cell first, per component design 4.6.
//
//go:nosplit
func ScanOffset(addr uintptr, size int) int {
	switch size {
	case 1:
		return int(addr & 7)
	case 2:
		return int(addr & 6)
	case 4:
		return int(addr & 4)
	default:
		return 0
	}
}
