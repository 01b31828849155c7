// Package stats implements StatsCounters (component design §2): per-thread
// and global event counters, active only when config.KCollectStats is
// true. Every counter is a plain atomic uint64 rather than a mutex-guarded
// struct, matching the lock-free discipline the rest of the hot path
// (shadowcell, clock) already holds to.
package stats

import "sync/atomic"

// Snapshot is a point-in-time copy of a Counters or Global, safe to read
// after the source thread's slot has gone away.
type Snapshot struct {
	MemoryAccesses uint64
	FuncEvents     uint64
	SyncEvents     uint64
	ThreadEvents   uint64
	RacesReported  uint64
}

// Counters is one thread's event counts (component design §2: "per-thread
// ... event counters"). The zero value is ready to use.
type Counters struct {
	memoryAccesses uint64
	funcEvents     uint64
	syncEvents     uint64
	threadEvents   uint64
}

func (c *Counters) IncMemoryAccess() { atomic.AddUint64(&c.memoryAccesses, 1) }
func (c *Counters) IncFuncEvent()    { atomic.AddUint64(&c.funcEvents, 1) }
func (c *Counters) IncSyncEvent()    { atomic.AddUint64(&c.syncEvents, 1) }
func (c *Counters) IncThreadEvent()  { atomic.AddUint64(&c.threadEvents, 1) }

// Load returns a consistent-enough snapshot for diagnostics; individual
// fields may be read from slightly different instants under concurrent
// updates, which is acceptable for a monitoring counter.
func (c *Counters) Load() Snapshot {
	return Snapshot{
		MemoryAccesses: atomic.LoadUint64(&c.memoryAccesses),
		FuncEvents:     atomic.LoadUint64(&c.funcEvents),
		SyncEvents:     atomic.LoadUint64(&c.syncEvents),
		ThreadEvents:   atomic.LoadUint64(&c.threadEvents),
	}
}

// Global aggregates event counts across the whole process (component
// design §2: "... and global event counters"), plus the one counter that
// has no per-thread equivalent: races reported.
type Global struct {
	Counters
	racesReported uint64
}

func (g *Global) IncRacesReported() { atomic.AddUint64(&g.racesReported, 1) }

func (g *Global) Load() Snapshot {
	s := g.Counters.Load()
	s.RacesReported = atomic.LoadUint64(&g.racesReported)
	return s
}
