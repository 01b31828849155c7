// Package api provides the runtime entry points called by compiler
// instrumentation and by cmd/racedetector's AST rewriter: the
// Instrumentation API surface (component design §6). These functions are
// invoked on every memory access in instrumented code, making them
// CRITICAL HOT PATHS.
//
// Goroutines are not the same thing as the pthread-style threads the
// distilled core's ThreadCreate/ThreadStart/ThreadJoin/ThreadDetach were
// written for: Go does not give an instrumentation layer a hook at the
// `go` statement unless the source is rewritten to insert one. Where a
// caller does call ThreadCreate/ThreadStart explicitly (hand-written
// instrumentation; cmd/racedetector does not rewrite `go f()` into that
// pair), this package wires straight into internal/race/threadregistry's
// state machine. Where a goroutine is first observed inside
// RaceRead/RaceWrite with no prior ThreadCreate -- every goroutine in code
// instrumented by cmd/racedetector -- it is lazily registered as its own
// independent, detached thread, uid equal to its runtime goroutine id.
// This mirrors the teacher's original TID-pool "allocate on first touch"
// behavior while still running every access through the full state
// machine underneath.
package api

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kolkov/racedetector/internal/race/clock"
	"github.com/kolkov/racedetector/internal/race/config"
	"github.com/kolkov/racedetector/internal/race/detector"
	"github.com/kolkov/racedetector/internal/race/diag"
	"github.com/kolkov/racedetector/internal/race/stats"
	"github.com/kolkov/racedetector/internal/race/threadregistry"
)

var (
	enabled atomic.Bool

	det *detector.Detector

	// gidToTid maps a runtime goroutine id to its registry tid. Lock-free
	// reads dominate (repeated accesses from an already-registered
	// goroutine); writes only happen once per goroutine's lifetime.
	gidToTid sync.Map // int64 -> uint16

	// nextUID allocates synthetic uids for goroutines created through
	// ThreadCreate, distinct from the gid space so a child can be told its
	// uid before it has a gid of its own.
	nextUID atomic.Uint64

	// cleanupCounter triggers a periodic scan for goroutines that exited
	// without an explicit ThreadFinish, mirroring the teacher's
	// maybeCleanup/cleanupDeadGoroutines pattern.
	cleanupCounter atomic.Uint32
)

const cleanupInterval = 4096

func init() {
	det = detector.New(detector.Options{})
	enabled.Store(true)
}

// currentContext resolves the calling goroutine's ThreadContext, lazily
// registering it as an independent detached thread if this is its first
// instrumented call.
//
//go:nosplit
func currentContext() *threadregistry.ThreadContext {
	gid := getGoroutineID()
	if v, ok := gidToTid.Load(gid); ok {
		if ctx := det.Registry().Lookup(v.(uint16)); ctx != nil {
			return ctx
		}
	}
	return registerLazily(gid)
}

func registerLazily(gid int64) *threadregistry.ThreadContext {
	uid := uint64(gid)
	// A brand-new, unparented thread (the main goroutine, or one spawned
	// before instrumentation covered its `go` statement) has no releaser:
	// an all-zero genesis clock releases no happens-before information,
	// which is exactly right when there is no known creator.
	genesis := clock.NewThreadClock(0)
	tid, ok := det.Registry().Create(genesis, uid, true)
	if !ok {
		// kMaxTid exhausted; degrade to tid 0 rather than crash the
		// target program (§7: the instrumentation API never fails
		// observably).
		return det.Registry().Lookup(0)
	}
	ctx := det.Registry().Start(tid)
	if ctx == nil {
		ctx = det.Registry().Lookup(tid)
	}
	gidToTid.Store(gid, tid)
	maybeCleanup()
	return ctx
}

// maybeCleanup periodically scans for goroutines that have exited without
// going through ThreadFinish (the common case for lazily-registered
// goroutines) and frees their slots.
func maybeCleanup() {
	if cleanupCounter.Add(1)%cleanupInterval != 0 {
		return
	}
	live := liveGoroutineIDs()
	liveSet := make(map[int64]struct{}, len(live))
	for _, g := range live {
		liveSet[g] = struct{}{}
	}

	gidToTid.Range(func(key, value any) bool {
		gid := key.(int64)
		if _, alive := liveSet[gid]; alive {
			return true
		}
		tid := value.(uint16)
		if ctx := det.Registry().Lookup(tid); ctx != nil {
			ctx.Clock.Set(ctx.Tid, ctx.Clock.Own())
			det.Registry().Finish(ctx)
		}
		gidToTid.Delete(gid)
		return true
	})
}

// liveGoroutineIDs parses runtime.Stack(true) output for goroutine ids,
// the same technique the teacher used for GC of dead-goroutine contexts.
func liveGoroutineIDs() []int64 {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return parseAllGIDs(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// parseAllGIDs scans a runtime.Stack(all=true) dump for every "goroutine N
// [...]:" header line. Only header lines match parseGID's required
// "goroutine " prefix, so no special-casing of the frame lines in between
// is needed.
func parseAllGIDs(buf []byte) []int64 {
	var ids []int64
	for len(buf) > 0 {
		idx := indexByte(buf, '\n')
		var line []byte
		if idx < 0 {
			line = buf
			buf = nil
		} else {
			line = buf[:idx]
			buf = buf[idx+1:]
		}
		if id := parseGID(line); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func getcallerpc() uintptr {
	var pcs [3]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return 0
	}
	return pcs[0]
}

// === Instrumentation API (component design §6) ===

// Init implements Initialize(): once per process, before any thread
// operation. Safe to call multiple times.
func Init() {
	enabled.Store(true)
}

// Fini implements Finalize() -> exit_code: sweeps every still-live thread
// slot to Dead (component design §4.5) so a race found while other
// goroutines are still unwinding can still be symbolized, then does the
// final report flush.
func Fini() int {
	det.Shutdown()
	if det.RacesDetected() > 0 {
		return 66 // matches the exit code Go's official race detector uses.
	}
	return 0
}

// Enable turns race detection on.
func Enable() { enabled.Store(true) }

// Disable turns race detection off.
func Disable() { enabled.Store(false) }

// IsEnabled reports whether race detection is currently active.
func IsEnabled() bool { return enabled.Load() }

// RacesDetected returns the number of unique races reported.
func RacesDetected() int { return int(det.RacesDetected()) }

// Stats returns a snapshot of the global StatsCounters (component design
// §2). Every field reads zero when config.KCollectStats is false.
func Stats() stats.Snapshot { return det.GlobalStats() }

// ThreadStats returns tid's per-thread StatsCounters snapshot, or
// ok=false if the slot is not currently live.
func ThreadStats(tid uint16) (snap stats.Snapshot, ok bool) { return det.ThreadStats(tid) }

// Reset clears all detector state. Used by tests.
func Reset() {
	det = detector.New(detector.Options{})
	gidToTid = sync.Map{}
}

// ThreadCreate implements ThreadCreate(pc, detached) -> uid: the parent
// releases its current happens-before state into the new slot, and returns
// the uid the child must pass to ThreadStart. A caller that ignores the
// return path (a `go` statement the AST tool has not rewritten) simply
// never calls ThreadStart, and the child registers itself lazily on first
// access instead, same as any other unwrapped goroutine.
func ThreadCreate(detached bool) uint64 {
	parent := currentContext()
	uid := nextUID.Add(1)
	parent.Clock.Set(parent.Tid, parent.Clock.Own())
	if _, ok := det.Registry().Create(parent.Clock, uid, detached); !ok {
		return 0
	}
	return uid
}

// ThreadStart implements ThreadStart(tid): the child thread calls this on
// entry with the uid it was handed by ThreadCreate.
func ThreadStart(uid uint64) {
	tid, ctx := findByUID(uid)
	if ctx == nil {
		return
	}
	started := det.Registry().Start(tid)
	if started == nil {
		return
	}
	gidToTid.Store(getGoroutineID(), tid)
}

func findByUID(uid uint64) (uint16, *threadregistry.ThreadContext) {
	for tid := uint16(0); tid < config.KMaxTid; tid++ {
		ctx := det.Registry().Lookup(tid)
		if ctx != nil && ctx.UID == uid && ctx.Status == threadregistry.Created {
			return tid, ctx
		}
	}
	return 0, nil
}

// ThreadFinish implements ThreadFinish().
func ThreadFinish() {
	ctx := currentContext()
	ctx.Clock.Set(ctx.Tid, ctx.Clock.Own())
	det.Registry().Finish(ctx)
}

// ThreadJoin implements ThreadJoin(pc, uid). Join on a non-existent or
// non-finished joinable thread is a user-misuse case (component design
// §4.5): it is reported via the diagnostic channel and returns without
// blocking, rather than failing silently.
func ThreadJoin(uid uint64) bool {
	ctx := currentContext()
	if !det.Registry().Join(ctx.Clock, uid) {
		diag.Report("ThreadJoin: uid %d not found or not finished", uid)
		return false
	}
	return true
}

// ThreadDetach implements ThreadDetach(pc, uid).
func ThreadDetach(uid uint64) bool {
	return det.Registry().Detach(uid)
}

// MutexCreate implements MutexCreate(pc, addr, is_rw, recursive).
func MutexCreate(addr uintptr, isRW, recursive bool) {
	if !enabled.Load() {
		return
	}
	det.MutexCreate(addr, isRW, recursive)
}

// MutexDestroy implements MutexDestroy(pc, addr).
func MutexDestroy(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.MutexDestroy(addr)
}

// MutexLock implements MutexLock(pc, addr).
//
//go:nosplit
func MutexLock(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.MutexLock(currentContext(), addr)
}

// MutexUnlock implements MutexUnlock(pc, addr).
//
//go:nosplit
func MutexUnlock(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.MutexUnlock(currentContext(), addr)
}

// MutexReadLock implements MutexReadLock(pc, addr).
func MutexReadLock(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.MutexReadLock(currentContext(), addr)
}

// MutexReadUnlock implements MutexReadUnlock(pc, addr).
func MutexReadUnlock(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.MutexReadUnlock(currentContext(), addr)
}

// Acquire implements Acquire(pc, addr).
//
//go:nosplit
func Acquire(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.Acquire(currentContext(), addr)
}

// Release implements Release(pc, addr).
//
//go:nosplit
func Release(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.Release(currentContext(), addr)
}

// MemoryAccess implements MemoryAccess(pc, addr, size, is_write).
//
//go:nosplit
func MemoryAccess(addr uintptr, size int, isWrite bool) {
	if !enabled.Load() {
		return
	}
	det.MemoryAccess(currentContext(), getcallerpc(), addr, size, isWrite)
}

// MemoryAccessRange implements MemoryAccessRange(pc, addr, size, is_write).
func MemoryAccessRange(addr uintptr, size int, isWrite bool) {
	if !enabled.Load() {
		return
	}
	det.MemoryAccessRange(currentContext(), getcallerpc(), addr, size, isWrite)
}

// FuncEntry implements FuncEntry(pc).
//
//go:nosplit
func FuncEntry(pc uintptr) {
	if !enabled.Load() {
		return
	}
	det.FuncEntry(currentContext(), pc)
}

// FuncExit implements FuncExit().
//
//go:nosplit
func FuncExit() {
	if !enabled.Load() {
		return
	}
	det.FuncExit(currentContext())
}

// === Compatibility surface matching the original narrower API, kept for
// existing manual instrumentation and cmd/racedetector's current AST
// rewriter (see race/api.go). ===

func RaceRead(addr uintptr)  { MemoryAccess(addr, 8, false) }
func RaceWrite(addr uintptr) { MemoryAccess(addr, 8, true) }

func RaceAcquire(addr uintptr) { Acquire(addr) }
func RaceRelease(addr uintptr) { Release(addr) }

func RaceReleaseMerge(addr uintptr) { Release(addr) }

// RaceChannelSendBefore/After bracket ch <- v; RaceChannelRecvBefore/After
// bracket v := <-ch. The Before hooks exist only for symmetry with the
// instrumentation tool's before/after call convention -- the happens-before
// edge is entirely carried by the After hooks.
func RaceChannelSendBefore(ch uintptr) {}
func RaceChannelSendAfter(ch uintptr) {
	if !enabled.Load() {
		return
	}
	det.ChannelSend(currentContext(), ch)
}
func RaceChannelRecvBefore(ch uintptr) {}
func RaceChannelRecvAfter(ch uintptr) {
	if !enabled.Load() {
		return
	}
	det.ChannelRecv(currentContext(), ch)
}
func RaceChannelClose(ch uintptr) {
	if !enabled.Load() {
		return
	}
	det.ChannelClose(currentContext(), ch)
}

// RaceWaitGroupAdd/Done/Wait bracket sync.WaitGroup's three methods.
func RaceWaitGroupAdd(addr uintptr, delta int32) {
	if !enabled.Load() {
		return
	}
	det.WaitGroupAdd(addr, delta)
}
func RaceWaitGroupDone(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.WaitGroupDone(currentContext(), addr)
}
func RaceWaitGroupWait(addr uintptr) {
	if !enabled.Load() {
		return
	}
	det.WaitGroupWait(currentContext(), addr)
}
