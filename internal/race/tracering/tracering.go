// Package tracering implements the per-thread event log used to
// reconstruct a call stack after a race is found (component design 4.3).
//
// Nothing in the teacher project keeps an event-log-with-replay trace: its
// stackdepot instead hashes and stores full runtime.Callers() snapshots
// taken eagerly at every access. That is exactly the design this component
// exists to avoid -- the hot path here never calls into the runtime's stack
// walker; it appends one 64-bit word to a flat buffer. Stack reconstruction
// happens only when a race is actually reported, by replaying the
// FuncEnter/FuncExit/Mop events recorded since the enclosing part began.
// The hashing/dedup idiom this package's counterpart (stackdepot) still
// provides is reused unchanged for the *reconstructed* stacks, once
// replay has turned events back into a []uintptr.
package tracering

import (
	"sync"

	"github.com/kolkov/racedetector/internal/race/clock"
	"github.com/kolkov/racedetector/internal/race/config"
)

// EventType tags the high 3 bits of a trace event.
type EventType uint8

const (
	EventMop EventType = iota
	EventFuncEnter
	EventFuncExit
	EventLock
	EventUnlock
)

const (
	typeShift = 61
	typeMask  = uint64(0x7)
	pcMask    = uint64(1)<<48 - 1
)

// Event is one packed trace-ring word: 3-bit EventType, 48-bit pc/address.
type Event uint64

// EncodeEvent packs a type and payload into an Event.
func EncodeEvent(t EventType, pc uintptr) Event {
	return Event(uint64(t)<<typeShift | (uint64(pc) & pcMask))
}

// Type returns the event's tag.
func (e Event) Type() EventType { return EventType((uint64(e) >> typeShift) & typeMask) }

// PC returns the event's payload (program counter or address).
func (e Event) PC() uintptr { return uintptr(uint64(e) & pcMask) }

// header records the epoch a trace part began at.
type header struct {
	epoch0 clock.Epoch
}

// Ring is a single thread's flat, pre-allocated event buffer, split into
// config.KTraceParts parts of config.KTracePartSize events each. It is
// single-producer (only the owning thread appends) and multi-consumer
// under its short lock (ReportBuilder replays it while symbolizing a
// race).
type Ring struct {
	mu      sync.Mutex
	events  [config.KTraceSize]Event
	headers [config.KTraceParts]header
}

// NewRing allocates a zeroed ring. There is no growth: the buffer is sized
// once at thread-state creation and reused for the thread's lifetime.
func NewRing() *Ring {
	return &Ring{}
}

// Append records ev at the slot for epoch, switching to a new part first
// if epoch lands on a part boundary. Called by the AccessEngine on every
// significant event; must not block except for the brief short-lock hold
// during a part switch.
func (r *Ring) Append(epoch clock.Epoch, ev Event) {
	pos := uint64(epoch) % config.KTraceSize
	if pos%config.KTracePartSize == 0 {
		r.switchPart(epoch, pos/config.KTracePartSize)
	}
	r.events[pos] = ev
}

func (r *Ring) switchPart(epoch clock.Epoch, part uint64) {
	r.mu.Lock()
	r.headers[part%config.KTraceParts].epoch0 = epoch
	r.mu.Unlock()
}

// RestoreStack reconstructs the call stack visible at epoch by replaying
// events from the enclosing part's epoch0 forward. Returns nil if epoch
// has rotated out of the retained window -- a silent drop per the error
// handling design, never an error.
func (r *Ring) RestoreStack(epoch clock.Epoch) []uintptr {
	part := (uint64(epoch) / config.KTracePartSize) % config.KTraceParts

	r.mu.Lock()
	epoch0 := r.headers[part].epoch0
	r.mu.Unlock()

	if epoch < epoch0 {
		return nil
	}

	var stack []uintptr
	start := uint64(epoch0) % config.KTraceSize
	end := uint64(epoch) % config.KTraceSize

	walk := func(pos uint64) {
		ev := r.events[pos]
		if ev == 0 {
			// A zero word is a slot not written since NewRing (epoch 0, or
			// epochs before the thread's first event). A Mop with pc 0
			// encodes the same way and carries no frame either; both are
			// skipped.
			return
		}
		switch ev.Type() {
		case EventFuncEnter:
			stack = append(stack, ev.PC())
		case EventFuncExit:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case EventMop, EventLock, EventUnlock:
			if len(stack) > 0 {
				stack[len(stack)-1] = ev.PC()
			} else {
				stack = append(stack, ev.PC())
			}
		}
	}

	if start <= end {
		for pos := start; pos <= end; pos++ {
			walk(pos)
		}
	} else {
		// The part wrapped around the ring; walk start..end-of-buffer
		// then 0..end. This only happens when a part straddles the
		// ring's wraparound point.
		for pos := start; pos < config.KTraceSize; pos++ {
			walk(pos)
		}
		for pos := uint64(0); pos <= end; pos++ {
			walk(pos)
		}
	}

	// Reverse for leaf-first order.
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}
