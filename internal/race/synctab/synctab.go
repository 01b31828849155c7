package synctab

import (
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/cpu"
)

// stripeCount is the number of independent lock stripes the table is split
// into, per design note 9 ("striped hash map; for each stripe a short
// mutex"). A power of two so addr-to-stripe is a mask, not a modulo.
const stripeCount = 256

// stripe holds one lock stripe's mutex and map. Two adjacent stripes'
// mutexes would otherwise share a cache line in the [stripeCount]*stripe
// array under contention -- CacheLinePad keeps concurrent locks on
// different stripes from bouncing the same line between cores.
type stripe struct {
	mu   sync.Mutex
	vars map[uintptr]*SyncVar
	_    cpu.CacheLinePad
}

// Table is the concurrent address -> *SyncVar map (component design 4.4).
// Deletion requires the owning stripe's lock; stripe locks are never held
// across a user callback.
type Table struct {
	stripes [stripeCount]*stripe
	group   singleflight.Group
}

// New returns an empty Table.
func New() *Table {
	t := &Table{}
	for i := range t.stripes {
		t.stripes[i] = &stripe{vars: make(map[uintptr]*SyncVar)}
	}
	return t
}

func (t *Table) stripeFor(addr uintptr) *stripe {
	return t.stripes[addr&(stripeCount-1)]
}

// Insert adds sv, failing if an entry already exists at sv.Addr.
func (t *Table) Insert(sv *SyncVar) (inserted bool) {
	s := t.stripeFor(sv.Addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vars[sv.Addr]; exists {
		return false
	}
	s.vars[sv.Addr] = sv
	return true
}

// GetAndLockIfExists finds the SyncVar at addr and returns it with its
// short lock already held, or nil if absent.
func (t *Table) GetAndLockIfExists(addr uintptr) *SyncVar {
	s := t.stripeFor(addr)
	s.mu.Lock()
	sv := s.vars[addr]
	s.mu.Unlock()
	if sv == nil {
		return nil
	}
	sv.Lock()
	return sv
}

// GetOrCreateMutex returns the existing mutex SyncVar at addr, or lazily
// creates and inserts one. This is the "lazily creates a mutex in
// MutexLock" behavior design note 9 flags as an open question inherited
// from the original TSan sources. Creation here is unconditional; a
// detector built with Options.StrictMode still calls this and only adds a
// diag.Report line for the missing MutexCreate.
//
// singleflight collapses concurrent first-lock races on the same address
// into a single SyncVar allocation instead of a LoadOrStore-and-discard
// pattern, so only one goroutine ever pays the allocation.
func (t *Table) GetOrCreateMutex(addr uintptr, isRW, recursive bool) *SyncVar {
	if sv := t.GetAndLockIfExists(addr); sv != nil {
		return sv
	}
	v, _, _ := t.group.Do(mapKey(addr), func() (any, error) {
		sv := NewMutexVar(addr, isRW, recursive)
		t.Insert(sv) // best effort; a racing creator may have won already.
		return nil, nil
	})
	_ = v
	return t.GetAndLockIfExists(addr)
}

// GetAndRemoveIfExists removes and returns the SyncVar at addr, or nil if
// absent.
func (t *Table) GetAndRemoveIfExists(addr uintptr) *SyncVar {
	s := t.stripeFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.vars[addr]
	if sv == nil {
		return nil
	}
	delete(s.vars, addr)
	return sv
}

func mapKey(addr uintptr) string {
	const hextab = "0123456789abcdef"
	buf := make([]byte, 2+16)
	buf[0], buf[1] = '0', 'x'
	for i := 0; i < 16; i++ {
		shift := uint(60 - i*4)
		buf[2+i] = hextab[(addr>>shift)&0xf]
	}
	return string(buf)
}
