package detector

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/kolkov/racedetector/internal/race/config"
	"github.com/kolkov/racedetector/internal/race/shadowcell"
	"github.com/kolkov/racedetector/internal/race/threadregistry"
)

// Frame is one symbolized stack frame, the output of a Symbolizer.
type Frame struct {
	Func string
	File string
	Line int
}

// AccessDesc is one side of a ReportDesc: which thread, which cell, and its
// reconstructed, symbolized stack.
type AccessDesc struct {
	Tid    uint16
	Write  bool
	Addr0  uint8
	Addr1  uint8
	Stack  []uintptr
	Frames []Frame
}

// ReportDesc is what ReportBuilder hands to the external collaborators:
// two conflicting accesses to the same application address (component
// design 4.8).
type ReportDesc struct {
	Addr    uintptr
	Current AccessDesc
	Prior   AccessDesc
	Kind    string
}

// Symbolizer is the out-of-core collaborator that turns a pc into a
// function/file/line (§6: "Symbolization: SymbolizeCode(pc, ...)").
type Symbolizer interface {
	SymbolizeCode(pc uintptr) (Frame, bool)
}

// Suppressor is the out-of-core suppression-file collaborator (§6:
// "IsSuppressed(kind, stack) -> bool").
type Suppressor interface {
	IsSuppressed(kind string, stack []uintptr) bool
}

// ReportSink is the out-of-core report collaborator (§6: "OnReport(desc,
// suppressed) -> bool; PrintReport(desc)"). OnReport returns true to veto
// (suppress) the report.
type ReportSink interface {
	OnReport(desc *ReportDesc, suppressed bool) (veto bool)
	PrintReport(desc *ReportDesc)
}

// defaultSymbolizer uses runtime.CallersFrames, the same mechanism the
// teacher used inline in its report.go; here it is only ever invoked from
// ReportBuilder, off the hot path, exactly the boundary component design
// 4.8/§6 draws between the core and this external collaborator.
type defaultSymbolizer struct{}

func (defaultSymbolizer) SymbolizeCode(pc uintptr) (Frame, bool) {
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.Function == "" {
		return Frame{}, false
	}
	return Frame{Func: frame.Function, File: frame.File, Line: frame.Line}, true
}

type noSuppression struct{}

func (noSuppression) IsSuppressed(string, []uintptr) bool { return false }

// defaultReportSink formats a report matching Go's official race detector
// output, the shape the teacher's report.go already produced.
type defaultReportSink struct{}

func (defaultReportSink) OnReport(*ReportDesc, bool) bool { return false }

func (defaultReportSink) PrintReport(desc *ReportDesc) {
	desc.Format(os.Stderr)
}

// Format renders a ReportDesc to match Go's official race detector output.
func (d *ReportDesc) Format(w io.Writer) {
	fmt.Fprintln(w, "==================")
	fmt.Fprintln(w, "WARNING: DATA RACE")

	writeAccess(w, "", &d.Current, d.Addr)
	fmt.Fprintln(w)
	writeAccess(w, "Previous ", &d.Prior, d.Addr)

	fmt.Fprintln(w, "==================")
}

func writeAccess(w io.Writer, prefix string, a *AccessDesc, addr uintptr) {
	kind := "Read"
	if a.Write {
		kind = "Write"
	}
	fmt.Fprintf(w, "%s%s at 0x%016x by goroutine %d:\n", prefix, kind, addr, a.Tid)
	if len(a.Frames) == 0 {
		fmt.Fprintln(w, "  (stack trace not available)")
		return
	}
	for _, f := range a.Frames {
		fmt.Fprintf(w, "  %s()\n", f.Func)
		fmt.Fprintf(w, "      %s:%d\n", f.File, f.Line)
	}
}

func (d *ReportDesc) String() string {
	var buf strings.Builder
	d.Format(&buf)
	return buf.String()
}

// reportRace implements ReportBuilder (component design 4.8): on a race,
// under the global report mutex, replay both threads' traces, symbolize,
// check suppression, then hand off to the report sink.
func (d *Detector) reportRace(ctx *threadregistry.ThreadContext, addr uintptr, s0, racy shadowcell.Cell) {
	kind := raceKind(s0, racy)
	key := dedupKey(kind, addr, ctx.Tid, racy.Tid())
	if _, already := d.reportedRaces.LoadOrStore(key, struct{}{}); already {
		return
	}

	d.reportMu.Lock()
	defer d.reportMu.Unlock()

	desc := &ReportDesc{
		Addr: addr,
		Kind: kind,
		Current: AccessDesc{
			Tid:   ctx.Tid,
			Write: s0.Write(),
			Addr0: s0.Addr0(),
			Addr1: s0.Addr1(),
			Stack: ctx.Trace.RestoreStack(s0.Epoch()),
		},
		Prior: AccessDesc{
			Tid:   racy.Tid(),
			Write: racy.Write(),
			Addr0: racy.Addr0(),
			Addr1: racy.Addr1(),
		},
	}
	if priorCtx := d.registry.Lookup(racy.Tid()); priorCtx != nil && !staleAgainst(priorCtx, racy) {
		desc.Prior.Stack = priorCtx.Trace.RestoreStack(racy.Epoch())
	}

	desc.Current.Frames = symbolize(d.Symbolizer, desc.Current.Stack)
	desc.Prior.Frames = symbolize(d.Symbolizer, desc.Prior.Stack)

	suppressed := d.Suppressor.IsSuppressed(kind, desc.Current.Stack)
	veto := d.Sink.OnReport(desc, suppressed)
	if suppressed || veto {
		return
	}

	d.racesDetected++
	if config.KCollectStats {
		d.stats.IncRacesReported()
	}

	d.Sink.PrintReport(desc)
}

// symbolCache deduplicates symbolized stacks by the xxhash of their raw PC
// slice, the same depot idea the teacher used for stack traces, keyed by a
// faster non-cryptographic hash instead of FNV-1a since collisions here only
// cost a redundant runtime.CallersFrames call, never correctness.
var symbolCache sync.Map // uint64 -> []Frame

func stackHash(stack []uintptr) uint64 {
	if len(stack) == 0 {
		return 0
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&stack[0])), len(stack)*int(unsafe.Sizeof(stack[0])))
	return xxhash.Sum64(b)
}

func symbolize(sym Symbolizer, stack []uintptr) []Frame {
	if len(stack) == 0 {
		return nil
	}
	key := stackHash(stack)
	if cached, ok := symbolCache.Load(key); ok {
		return cached.([]Frame)
	}

	frames := make([]Frame, 0, len(stack))
	for _, pc := range stack {
		if f, ok := sym.SymbolizeCode(pc); ok {
			frames = append(frames, f)
		}
	}
	symbolCache.Store(key, frames)
	return frames
}

// staleAgainst reports whether racy was written by an earlier occupant of
// racy.Tid()'s slot than the one priorCtx now names. A cell's epoch is only
// ever meaningful against the ThreadClock that produced it; once a tid is
// freed and reused (threadregistry.Registry.Create's slot-reuse path bumps
// ReuseCount and Start rebuilds Clock from zero), the new occupant's own
// epoch sequence starts over and its Trace only records its own events from
// Epoch0 onward. An epoch below Epoch0 could not have been produced by
// priorCtx, so replaying it against priorCtx.Trace would symbolize the
// wrong thread's stack.
func staleAgainst(priorCtx *threadregistry.ThreadContext, racy shadowcell.Cell) bool {
	return racy.Epoch() < priorCtx.Epoch0
}

func raceKind(s0, racy shadowcell.Cell) string {
	switch {
	case s0.Write() && racy.Write():
		return "write-write"
	case s0.Write() && !racy.Write():
		return "write-read"
	case !s0.Write() && racy.Write():
		return "read-write"
	default:
		return "read-read"
	}
}

func dedupKey(kind string, addr uintptr, tidA, tidB uint16) string {
	lo, hi := tidA, tidB
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%s:0x%x:%d:%d", kind, addr, lo, hi)
}
