// Package diag implements the diagnostic channel used for user-misuse
// warnings and fatal invariant failures (component §6/§7): Printf, Report,
// Die. The teacher writes these directly with fmt.Fprintf(os.Stderr, ...)
// throughout internal/race/api/race.go and internal/race/detector; this
// package keeps that exact idiom but funnels it through a Sink interface
// so tests can capture output instead of the process's real stderr, and so
// the report sink in internal/race/detector can share the same
// destination.
package diag

import (
	"fmt"
	"os"
)

// Sink receives diagnostic output. The zero value of Default writes to
// os.Stderr, matching every diagnostic call site in the teacher project.
type Sink interface {
	Printf(format string, args ...any)
}

type stderrSink struct{}

func (stderrSink) Printf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// Default is the process-wide sink used by Printf/Report/Die. Tests may
// swap it out to capture output.
var Default Sink = stderrSink{}

// Printf writes a formatted diagnostic line, no prefix, no severity.
func Printf(format string, args ...any) {
	Default.Printf(format, args...)
}

// Report emits a user-misuse diagnostic: double-destroy, unlock-without-
// lock, join of a non-joinable thread. Execution continues.
func Report(format string, args ...any) {
	Default.Printf("race: "+format+"\n", args...)
}

// FatalError wraps a CHECK-class invariant failure: an impossible state
// transition, a shadow-mem mapping failure, a packed-encoding precondition
// violated by the caller. race.FatalError is a type alias for this type, so
// callers outside this module can still recover()/errors.As against it by
// the name the AMBIENT STACK's error contract documents.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return e.Msg }

// Die reports a fatal invariant failure and panics with a *FatalError.
// Used only for CHECK-class failures -- impossible state transitions,
// shadow-mem mapping failures -- never for ordinary user misuse, which goes
// through Report instead and lets execution continue.
func Die(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Default.Printf("race: FATAL: %s\n", msg)
	panic(&FatalError{Msg: msg})
}
