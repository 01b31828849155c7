package race

import "github.com/kolkov/racedetector/internal/race/diag"

// FatalError is the panic value a CHECK-class invariant failure produces --
// an impossible state transition, a shadow-mem mapping failure, a packed-
// encoding precondition the caller violated. Ordinary user misuse (double
// unlock, join of a non-joinable thread) never panics; it goes through the
// diagnostic channel instead and execution continues.
//
// FatalError is a type alias, not a new type, so callers that catch a panic
// from anywhere in this module's call tree can match it with a plain
// type-assertion against *race.FatalError regardless of which internal
// package raised it.
type FatalError = diag.FatalError
