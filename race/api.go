// Package race provides the public API for the Pure-Go race detector.
//
// See doc.go for detailed documentation and examples.
package race

import internal "github.com/kolkov/racedetector/internal/race/api"

// Init initializes the race detector runtime.
//
// This function must be called before any other race detector operations.
// The racedetector tool appends an init function that calls it to every
// file it instruments.
//
// For manual instrumentation, call Init() at program startup:
//
//	func main() {
//		race.Init()
//		defer race.Fini()
//		// ... rest of program
//	}
//
// Init is safe to call multiple times (subsequent calls are no-ops).
func Init() {
	internal.Init()
}

// Fini finalizes the race detector and returns a process exit code: 66 if
// any race was reported (matching Go's official race detector), 0
// otherwise. The racedetector tool does not insert a call to Fini.
func Fini() int {
	return internal.Fini()
}

// Enable turns race detection on. Detection starts enabled; Enable only
// matters after a prior Disable.
func Enable() { internal.Enable() }

// Disable turns race detection off without discarding any state already
// collected.
func Disable() { internal.Disable() }

// RacesDetected returns the number of unique races reported so far.
func RacesDetected() int { return internal.RacesDetected() }

// Reset clears all detector state. Intended for tests that need a clean
// slate between cases without restarting the process.
func Reset() { internal.Reset() }

// Stats reports aggregate event counts collected while the runtime was
// built with counters enabled (config.KCollectStats); every field reads
// zero otherwise. Useful for judging instrumentation overhead.
type Stats struct {
	MemoryAccesses uint64
	FuncEvents     uint64
	SyncEvents     uint64
	ThreadEvents   uint64
	RacesReported  uint64
}

// CollectStats returns a snapshot of the process-wide event counters.
func CollectStats() Stats {
	s := internal.Stats()
	return Stats{
		MemoryAccesses: s.MemoryAccesses,
		FuncEvents:     s.FuncEvents,
		SyncEvents:     s.SyncEvents,
		ThreadEvents:   s.ThreadEvents,
		RacesReported:  s.RacesReported,
	}
}

// RaceRead records a memory read operation at the given address.
//
//nolint:revive // RaceRead naming matches Go's official race detector API
func RaceRead(addr uintptr) {
	internal.RaceRead(addr)
}

// RaceWrite records a memory write operation at the given address.
//
//nolint:revive // RaceWrite naming matches Go's official race detector API
func RaceWrite(addr uintptr) {
	internal.RaceWrite(addr)
}

// MemoryAccess records an access of size bytes at addr, read or write. This
// is the general form RaceRead/RaceWrite specialize to the common 8-byte
// case. The instrumentation tool emits only RaceRead/RaceWrite; this is
// for manual instrumentation that knows the operand's exact width.
func MemoryAccess(addr uintptr, size int, isWrite bool) {
	internal.MemoryAccess(addr, size, isWrite)
}

// MemoryAccessRange records an access spanning size bytes starting at addr,
// for slice/array/struct copies recorded by manual instrumentation; the
// instrumentation tool does not emit it.
func MemoryAccessRange(addr uintptr, size int, isWrite bool) {
	internal.MemoryAccessRange(addr, size, isWrite)
}

// FuncEntry/FuncExit bracket an instrumented function body, feeding the
// call-stack reconstruction used by race reports.
func FuncEntry(pc uintptr) { internal.FuncEntry(pc) }
func FuncExit()            { internal.FuncExit() }

// RaceAcquire records the acquisition of a synchronization object,
// establishing that everything before a corresponding RaceRelease is
// visible to everything after this call.
//
// Typically used for sync.Mutex.Lock/RLock, channel receive, WaitGroup.Wait.
//
//nolint:revive // RaceAcquire naming matches Go's official race detector API
func RaceAcquire(addr uintptr) {
	internal.RaceAcquire(addr)
}

// RaceRelease records the release of a synchronization object.
//
// Typically used for sync.Mutex.Unlock/RUnlock, channel send, WaitGroup.Done.
//
//nolint:revive // RaceRelease naming matches Go's official race detector API
func RaceRelease(addr uintptr) {
	internal.RaceRelease(addr)
}

// RaceReleaseMerge is like RaceRelease but for a release that folds in
// happens-before state from multiple prior acquires (a recursive mutex
// reacquired by the same holder, for instance).
func RaceReleaseMerge(addr uintptr) {
	internal.RaceReleaseMerge(addr)
}

// MutexCreate/Destroy/Lock/Unlock/ReadLock/ReadUnlock instrument
// sync.Mutex and sync.RWMutex directly, giving the detector the isRW and
// recursive flags RaceAcquire/RaceRelease alone cannot express.
func MutexCreate(addr uintptr, isRW, recursive bool) { internal.MutexCreate(addr, isRW, recursive) }
func MutexDestroy(addr uintptr)                      { internal.MutexDestroy(addr) }
func MutexLock(addr uintptr)                         { internal.MutexLock(addr) }
func MutexUnlock(addr uintptr)                       { internal.MutexUnlock(addr) }
func MutexReadLock(addr uintptr)                     { internal.MutexReadLock(addr) }
func MutexReadUnlock(addr uintptr)                   { internal.MutexReadUnlock(addr) }

// RaceChannelSendBefore/After and RaceChannelRecvBefore/After bracket a
// channel send/receive; RaceChannelClose brackets close(ch).
func RaceChannelSendBefore(ch uintptr) { internal.RaceChannelSendBefore(ch) }
func RaceChannelSendAfter(ch uintptr)  { internal.RaceChannelSendAfter(ch) }
func RaceChannelRecvBefore(ch uintptr) { internal.RaceChannelRecvBefore(ch) }
func RaceChannelRecvAfter(ch uintptr)  { internal.RaceChannelRecvAfter(ch) }
func RaceChannelClose(ch uintptr)      { internal.RaceChannelClose(ch) }

// RaceWaitGroupAdd/Done/Wait bracket sync.WaitGroup's three methods.
func RaceWaitGroupAdd(addr uintptr, delta int32) { internal.RaceWaitGroupAdd(addr, delta) }
func RaceWaitGroupDone(addr uintptr)             { internal.RaceWaitGroupDone(addr) }
func RaceWaitGroupWait(addr uintptr)             { internal.RaceWaitGroupWait(addr) }

// ThreadCreate/ThreadStart/ThreadFinish/ThreadJoin/ThreadDetach instrument
// goroutine creation by hand; the instrumentation tool does not rewrite
// `go` statements. A goroutine without these calls registers itself lazily
// on first access instead, as an independent thread with no happens-before
// edge from its creator.
func ThreadCreate(detached bool) uint64 { return internal.ThreadCreate(detached) }
func ThreadStart(uid uint64)            { internal.ThreadStart(uid) }
func ThreadFinish()                     { internal.ThreadFinish() }
func ThreadJoin(uid uint64) bool        { return internal.ThreadJoin(uid) }
func ThreadDetach(uid uint64) bool      { return internal.ThreadDetach(uid) }
