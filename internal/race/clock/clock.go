// Package clock implements the vector clocks used to decide happens-before.
//
// ThreadClock is the private, per-thread view of logical time across every
// thread slot; SyncClock is the compact form stored inside a SyncVar (or a
// thread's own "sync" field for creation/join handoff) that ThreadClocks
// acquire from and release into.
//
// Both are built the same way the teacher's FastTrack vector clock was: a
// fixed-size array indexed by tid, joined element-wise by max. What changes
// here is that SyncClock additionally tracks which slots are actually in
// use, so release/acquire only walk touched slots instead of the full
// config.KMaxTid width -- the teacher's array was always dense because it
// was sized for a much smaller, fully-populated thread population; at
// config.KMaxTid slots a dense walk on every acquire would dominate the
// hot path.
package clock

import (
	"strconv"
	"strings"
	"sync"

	"github.com/kolkov/racedetector/internal/race/config"
)

// Epoch is a thread's own logical time: a monotonically increasing counter
// bumped on every memory access, function entry/exit and synchronization
// event. It never carries a tid; pairing it with a tid is the job of
// ShadowCell.
type Epoch uint64

// ThreadClock is the full vector clock a running thread keeps in its
// ThreadState. Unlike SyncClock it is never chunked: a live thread pays the
// full config.KMaxTid array once and reuses it for the thread's lifetime.
type ThreadClock struct {
	tid    uint16
	values [config.KMaxTid]Epoch
}

// NewThreadClock returns a zeroed clock for the given tid.
func NewThreadClock(tid uint16) *ThreadClock {
	return &ThreadClock{tid: tid}
}

// Get returns the clock value this thread currently believes tid has
// reached.
//
//go:nosplit
func (c *ThreadClock) Get(tid uint16) Epoch {
	return c.values[tid]
}

// Set assigns tid's slot directly. Used by the thread to publish its own
// epoch into its own slot before a release: "self[self.tid] = self.epoch".
//
//go:nosplit
func (c *ThreadClock) Set(tid uint16, e Epoch) {
	c.values[tid] = e
}

// Own returns this clock's own tid's current value.
//
//go:nosplit
func (c *ThreadClock) Own() Epoch {
	return c.values[c.tid]
}

// Tid returns the tid this clock belongs to.
func (c *ThreadClock) Tid() uint16 {
	return c.tid
}

// Acquire performs self[tid] := max(self[tid], other[tid]) for every tid
// present in other. Called on lock acquisition, channel receive, thread
// start/join.
func (c *ThreadClock) Acquire(other *SyncClock) {
	other.mu.Lock()
	defer other.mu.Unlock()
	for idx, chunk := range other.chunks {
		if chunk == nil {
			continue
		}
		base := idx * chunkSize
		for off, e := range chunk {
			tid := base + off
			if e > c.values[tid] {
				c.values[tid] = e
			}
		}
	}
}

// Release performs other[tid] := max(other[tid], self[tid]) for every tid.
// The releaser's own entry is not implicitly bumped: callers that want their
// latest event visible must Set their own slot first.
func (c *ThreadClock) Release(other *SyncClock) {
	other.mu.Lock()
	defer other.mu.Unlock()
	for tid, e := range c.values {
		if e == 0 {
			continue
		}
		idx, off := tid/chunkSize, tid%chunkSize
		chunk := other.chunks[idx]
		if chunk == nil {
			chunk = getChunk()
			other.chunks[idx] = chunk
		}
		if e > chunk[off] {
			chunk[off] = e
		}
	}
}

// HappensBefore reports whether the event (tid, e) is ordered before this
// clock's view, i.e. e <= self.Get(tid).
//
//go:nosplit
func (c *ThreadClock) HappensBefore(tid uint16, e Epoch) bool {
	return e <= c.values[tid]
}

// String renders the non-zero entries for debugging and race reports.
func (c *ThreadClock) String() string {
	var parts []string
	for tid, e := range c.values {
		if e != 0 {
			parts = append(parts, strconv.Itoa(tid)+":"+strconv.FormatUint(uint64(e), 10))
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// chunkSize is the number of tid slots covered by one slab chunk. A SyncVar
// that only ever sees a handful of threads (the overwhelmingly common case
// for a mutex) allocates one chunk, not the full config.KMaxTid width.
const chunkSize = 32

const numChunks = (config.KMaxTid + chunkSize - 1) / chunkSize

// chunkPool is the process-wide slab allocator: chunks carry no
// destructors, so returning one is just putting the zeroed array back.
var chunkPool = sync.Pool{
	New: func() any { return new([chunkSize]Epoch) },
}

func getChunk() *[chunkSize]Epoch {
	return chunkPool.Get().(*[chunkSize]Epoch)
}

func putChunk(c *[chunkSize]Epoch) {
	*c = [chunkSize]Epoch{}
	chunkPool.Put(c)
}

// SyncClock is the compact vector clock stored in synchronization metadata:
// a SyncVar's release clock, or a ThreadContext's creation/join handoff
// clock. Storage is split into fixed-size chunks drawn from a process-wide
// pool on first touch, per component design note 9 ("slab allocators");
// a clock that only ever sees threads 3 and 4 never allocates the other
// numChunks-1 chunks.
//
// SyncClock is only ever mutated while its owning SyncVar's short lock (or
// the thread registry lock, for creation/join handoff clocks) is already
// held by the caller; the mutex here exists solely to protect the chunk
// slice against the lazy-allocation race between concurrent Acquire and
// Release calls on the same clock.
type SyncClock struct {
	mu     sync.Mutex
	chunks [numChunks]*[chunkSize]Epoch
}

// NewSyncClock returns an empty SyncClock, ready for use.
func NewSyncClock() *SyncClock {
	return &SyncClock{}
}

// Set assigns tid's slot directly, used when a thread bumps its own entry
// before releasing into this clock.
func (s *SyncClock) Set(tid uint16, e Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, off := tid/chunkSize, tid%chunkSize
	c := s.chunks[idx]
	if c == nil {
		c = getChunk()
		s.chunks[idx] = c
	}
	if e > c[off] {
		c[off] = e
	}
}

// Get returns tid's current value in this clock.
func (s *SyncClock) Get(tid uint16) Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunks[tid/chunkSize]
	if c == nil {
		return 0
	}
	return c[tid%chunkSize]
}

// Reset clears every entry and returns its chunks to the slab pool. Used
// when a SyncVar is destroyed.
func (s *SyncClock) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.chunks {
		if c != nil {
			putChunk(c)
			s.chunks[i] = nil
		}
	}
}

