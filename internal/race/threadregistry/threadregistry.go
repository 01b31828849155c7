// Package threadregistry implements the slot-indexed thread lifecycle state
// machine (component design 4.5). It replaces the teacher's goroutine
// package (a bare {tid, clock, epoch} struct) and the ad hoc TID pool in
// internal/race/api/race.go with the explicit Invalid/Created/Running/
// Finished/Dead machine the distilled core calls for, including the
// bounded recently-dead list used for post-mortem stack reconstruction.
package threadregistry

import (
	"sync"

	"github.com/google/btree"

	"github.com/kolkov/racedetector/internal/race/clock"
	"github.com/kolkov/racedetector/internal/race/config"
	"github.com/kolkov/racedetector/internal/race/stats"
	"github.com/kolkov/racedetector/internal/race/tracering"
)

// Status is a ThreadContext's position in the lifecycle state machine.
type Status uint8

const (
	Invalid Status = iota
	Created
	Running
	Finished
	Dead
)

// DeadInfo is what a Dead thread's slot leaves behind for stack
// reconstruction of races involving a since-finished thread.
type DeadInfo struct {
	Trace      *tracering.Ring
	FinalEpoch clock.Epoch
}

// ThreadContext is one slot of the registry (component design §3).
type ThreadContext struct {
	Tid        uint16
	UID        uint64
	Status     Status
	Detached   bool
	Epoch0     clock.Epoch
	ReuseCount uint32

	// Sync is the creation/join handoff clock: the parent releases into it
	// on ThreadCreate, the child acquires from it on ThreadStart; the
	// finishing thread releases into it again on ThreadFinish, the joiner
	// acquires on ThreadJoin.
	Sync *clock.SyncClock

	// Clock is the thread's own vector clock, live only while Running.
	Clock *clock.ThreadClock

	// Trace is the thread's event log, live from Created through Dead so a
	// race reported after the thread exits can still be symbolized.
	Trace *tracering.Ring

	// FastSynchEpoch is this thread's own epoch at its most recent
	// acquire/release, used to collapse intra-sync-era same-thread
	// accesses into one shadow slot (component design 4.6, glossary).
	FastSynchEpoch clock.Epoch

	Dead DeadInfo

	// Stats is this thread's StatsCounters (component design §2), touched
	// only when config.KCollectStats is true; every other caller pays
	// nothing for it beyond the field's storage.
	Stats stats.Counters
}

type deadEntry struct {
	seq uint64
	tid uint16
}

func deadLess(a, b deadEntry) bool { return a.seq < b.seq }

// Registry is the process-wide slot table.
type Registry struct {
	mu       sync.Mutex
	slots    [config.KMaxTid]*ThreadContext
	free     []uint16
	uidIndex map[uint64]uint16
	deadSeq  uint64
	dead     *btree.BTreeG[deadEntry]
	nextSlot uint16
}

// New returns an empty Registry with every slot free.
func New() *Registry {
	r := &Registry{
		uidIndex: make(map[uint64]uint16),
		dead:     btree.NewG(32, deadLess),
	}
	return r
}

func (r *Registry) allocSlotLocked() (uint16, bool) {
	if n := len(r.free); n > 0 {
		tid := r.free[n-1]
		r.free = r.free[:n-1]
		return tid, true
	}
	if int(r.nextSlot) >= config.KUsableTids {
		return 0, false
	}
	tid := r.nextSlot
	r.nextSlot++
	return tid, true
}

// Create implements ThreadCreate: allocates a slot for the new thread,
// records uid/detached, and lets the parent release its happens-before
// state into the slot's handoff clock. parentClock must already have the
// parent's own latest epoch set in its own slot (Set(parent.Tid(), epoch))
// before this call, per component design 4.2 ("no implicit increments of
// the releaser's own entry").
//
// Returns (0, false) if the registry is exhausted (config.KUsableTids live
// threads).
func (r *Registry) Create(parentClock *clock.ThreadClock, uid uint64, detached bool) (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tid, ok := r.allocSlotLocked()
	if !ok {
		return 0, false
	}

	ctx := r.slots[tid]
	var reuse uint32
	if ctx != nil {
		reuse = ctx.ReuseCount + 1
	}

	ctx = &ThreadContext{
		Tid:        tid,
		UID:        uid,
		Status:     Created,
		Detached:   detached,
		Sync:       clock.NewSyncClock(),
		Trace:      tracering.NewRing(),
		ReuseCount: reuse,
	}
	r.slots[tid] = ctx
	r.uidIndex[uid] = tid

	parentClock.Release(ctx.Sync)
	if config.KCollectStats {
		ctx.Stats.IncThreadEvent()
	}
	return tid, true
}

// Start implements ThreadStart: the child transitions Created->Running,
// gets its own ThreadClock, and acquires the parent's handoff state.
func (r *Registry) Start(tid uint16) *ThreadContext {
	r.mu.Lock()
	ctx := r.slots[tid]
	if ctx == nil || ctx.Status != Created {
		r.mu.Unlock()
		return nil
	}
	ctx.Status = Running
	ctx.Clock = clock.NewThreadClock(tid)
	r.mu.Unlock()

	ctx.Clock.Acquire(ctx.Sync)
	ctx.Epoch0 = ctx.Clock.Own()
	if config.KCollectStats {
		ctx.Stats.IncThreadEvent()
	}
	return ctx
}

// Finish implements ThreadFinish. thr's clock must already have its own
// epoch set before calling, matching the release convention used
// throughout. If the thread is detached the slot is freed immediately
// (Invalid); otherwise it moves to Finished, awaiting ThreadJoin.
func (r *Registry) Finish(ctx *ThreadContext) {
	ctx.Clock.Release(ctx.Sync)
	if config.KCollectStats {
		ctx.Stats.IncThreadEvent()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Detached {
		r.freeLocked(ctx.Tid)
		return
	}
	ctx.Status = Finished
}

// Join implements ThreadJoin(pc, uid): finds the finished thread with the
// given uid, has the caller acquire its handoff clock, and frees the slot.
// Returns ok=false if uid does not name a currently-finished joinable
// thread; per component design 4.5 this is reported to the user via the
// diagnostic channel by the caller, not treated as fatal.
func (r *Registry) Join(joiner *clock.ThreadClock, uid uint64) (ok bool) {
	r.mu.Lock()
	tid, present := r.uidIndex[uid]
	if !present {
		r.mu.Unlock()
		return false
	}
	ctx := r.slots[tid]
	if ctx == nil || ctx.Status != Finished {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	joiner.Acquire(ctx.Sync)
	if config.KCollectStats {
		ctx.Stats.IncThreadEvent()
	}

	r.mu.Lock()
	r.freeLocked(tid)
	r.mu.Unlock()
	return true
}

// Detach implements ThreadDetach(pc, uid): frees the slot immediately if
// already Finished, otherwise marks it detached so a later Finish frees it
// without waiting for a join.
func (r *Registry) Detach(uid uint64) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tid, present := r.uidIndex[uid]
	if !present {
		return false
	}
	ctx := r.slots[tid]
	if ctx == nil {
		return false
	}
	if config.KCollectStats {
		ctx.Stats.IncThreadEvent()
	}
	if ctx.Status == Finished {
		r.freeLocked(tid)
		return true
	}
	ctx.Detached = true
	return true
}

// LiveTids returns every slot currently Running or Finished: the set the
// component design §4.5 state table sends to Dead at process exit
// ("Running/Finished -> process exit -> Dead"), as opposed to Created
// (never started) or already-Invalid/Dead slots.
func (r *Registry) LiveTids() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []uint16
	for tid, ctx := range r.slots {
		if ctx != nil && (ctx.Status == Running || ctx.Status == Finished) {
			live = append(live, uint16(tid))
		}
	}
	return live
}

// freeLocked transitions a slot to Invalid and returns it to the free
// list. Callers must hold r.mu.
func (r *Registry) freeLocked(tid uint16) {
	ctx := r.slots[tid]
	if ctx == nil {
		return
	}
	ctx.Status = Invalid
	delete(r.uidIndex, ctx.UID)
	r.free = append(r.free, tid)
}

// MarkDead moves a still-live slot (Running or Finished) to Dead at
// process exit, retaining its trace in the bounded recently-dead list
// (design note: "recently-dead-thread list has a bounded size; oldest
// entries are freed when full") instead of freeing the slot outright, so a
// race reported during shutdown can still be symbolized.
func (r *Registry) MarkDead(tid uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := r.slots[tid]
	if ctx == nil {
		return
	}
	ctx.Status = Dead
	if ctx.Clock != nil {
		ctx.Dead.FinalEpoch = ctx.Clock.Own()
	}
	ctx.Dead.Trace = ctx.Trace

	r.deadSeq++
	seq := r.deadSeq
	r.dead.ReplaceOrInsert(deadEntry{seq: seq, tid: tid})

	if r.dead.Len() > config.KDeadThreadsRetained {
		oldest, ok := r.dead.Min()
		if ok {
			r.dead.Delete(oldest)
			if r.slots[oldest.tid] == ctx || r.slots[oldest.tid].Status == Dead {
				delete(r.uidIndex, r.slots[oldest.tid].UID)
				r.slots[oldest.tid] = nil
			}
		}
	}
}

// Lookup returns the context for tid, or nil if the slot is Invalid.
func (r *Registry) Lookup(tid uint16) *ThreadContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx := r.slots[tid]
	if ctx == nil || ctx.Status == Invalid {
		return nil
	}
	return ctx
}
