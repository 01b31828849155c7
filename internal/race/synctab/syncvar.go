// Package synctab implements the concurrent address-to-SyncVar table
// (component design 4.4) and the polymorphic SyncVar record it stores
// (design note 9: "tagged value with a shared header ... branch on tag").
//
// This replaces the teacher's syncshadow package, which mapped addresses to
// SyncVar-like state through a single sync.Map with no striping, no
// lock-while-held discipline, and no remove operation -- adequate for
// mutexes that live for the program's duration, but not for the SyncTab
// contract this component needs (insert-fails-if-present,
// get-and-lock-if-exists, get-and-remove-if-exists). The channel/WaitGroup
// state the teacher tracked in syncvar.go is kept, folded into the Generic
// variant's extra field instead of living in its own package.
package synctab

import (
	"sync"

	"github.com/kolkov/racedetector/internal/race/clock"
)

// Kind tags which SyncVar variant a record holds.
type Kind uint8

const (
	KindMutex Kind = iota
	KindGeneric
)

// Provenance is a (tid, pc) pair naming a writer through a SyncVar.
// SyncVar.LastWrite holds one; nothing in this module assigns it, so it
// stays zero and no race report reads it.
type Provenance struct {
	Tid uint16
	PC  uintptr
}

// channelExtra holds the send/receive/close bookkeeping the teacher's
// ChannelState tracked, layered onto a Generic SyncVar's clock instead of
// three separate clocks: the SyncVar's own Clock plays the role of
// sendClock, and closed is the only state a channel keeps beyond that.
type channelExtra struct {
	closed bool
}

// waitGroupExtra holds the Add/Done counter the teacher's WaitGroupState
// tracked for optional misuse validation; happens-before itself is carried
// entirely by the SyncVar's Clock (every Done releases into it, Wait
// acquires from it).
type waitGroupExtra struct {
	counter int32
}

// SyncVar is the record kept for one application-level synchronization
// address: a mutex, a channel, a WaitGroup, or an Acquire/Release
// annotation target. Per design note 9 there is no dynamic dispatch --
// callers branch on Kind.
type SyncVar struct {
	Addr uintptr
	Kind Kind

	// Clock is the release clock: threads acquire from it on Lock/Recv/Wait
	// and release into it on Unlock/Send/Done.
	Clock *clock.SyncClock

	IsRW      bool
	Recursive bool

	// mu is the SyncVar's own short lock, serializing concurrent operations
	// on this one address. Per component design 4.4/5, callers must release
	// it before acquiring any thread-registry lock.
	mu sync.Mutex

	LastWrite Provenance

	channel   *channelExtra
	waitGroup *waitGroupExtra
}

// NewMutexVar returns a SyncVar for a newly created mutex.
func NewMutexVar(addr uintptr, isRW, recursive bool) *SyncVar {
	return &SyncVar{
		Addr:      addr,
		Kind:      KindMutex,
		Clock:     clock.NewSyncClock(),
		IsRW:      isRW,
		Recursive: recursive,
	}
}

// NewGenericVar returns a SyncVar for a generic Acquire/Release annotation
// target, a channel, or a WaitGroup.
func NewGenericVar(addr uintptr) *SyncVar {
	return &SyncVar{
		Addr:  addr,
		Kind:  KindGeneric,
		Clock: clock.NewSyncClock(),
	}
}

// Lock acquires the SyncVar's short lock. Held only across the handful of
// clock operations in §4.7/4.2/4.3, never across a user callback.
func (sv *SyncVar) Lock() { sv.mu.Lock() }

// Unlock releases the SyncVar's short lock.
func (sv *SyncVar) Unlock() { sv.mu.Unlock() }

// AsChannel lazily attaches channel bookkeeping and returns it. Caller must
// hold sv's short lock.
func (sv *SyncVar) AsChannel() *channelExtra {
	if sv.channel == nil {
		sv.channel = &channelExtra{}
	}
	return sv.channel
}

// AsWaitGroup lazily attaches WaitGroup bookkeeping and returns it. Caller
// must hold sv's short lock.
func (sv *SyncVar) AsWaitGroup() *waitGroupExtra {
	if sv.waitGroup == nil {
		sv.waitGroup = &waitGroupExtra{}
	}
	return sv.waitGroup
}

// Closed reports whether Close has marked this channel closed.
func (c *channelExtra) Closed() bool { return c.closed }

// Close marks this channel closed.
func (c *channelExtra) Close() { c.closed = true }

// Add adjusts the WaitGroup's outstanding counter by delta.
func (w *waitGroupExtra) Add(delta int32) { w.counter += delta }

// Counter returns the WaitGroup's outstanding counter.
func (w *waitGroupExtra) Counter() int32 { return w.counter }
