// Package race provides a Pure-Go race detector runtime API without CGO dependency.
//
// This package enables data race detection in Go programs compiled with CGO_ENABLED=0,
// serving as a drop-in replacement for Go's official race detector. The race detector
// tracks per-thread vector clocks against a fixed-width shadow-memory record per
// 8-byte-aligned block, the same family of algorithm ThreadSanitizer v2 uses.
//
// # Quick Start
//
// The race package is automatically injected by the racedetector tool:
//
//	$ racedetector build myprogram.go
//	$ ./myprogram
//
// For manual instrumentation in advanced scenarios:
//
//	package main
//
//	import (
//		"github.com/kolkov/racedetector/race"
//		"unsafe"
//	)
//
//	var counter int
//
//	func main() {
//		race.Init()
//		defer race.Fini()
//
//		// Manual instrumentation (normally done by racedetector tool)
//		race.RaceWrite(uintptr(unsafe.Pointer(&counter)))
//		counter = 42
//	}
//
// # API Overview
//
// The package provides functions for:
//   - Initialization and finalization: [Init], [Fini]
//   - Memory access tracking: [RaceRead], [RaceWrite], [MemoryAccess], [MemoryAccessRange]
//   - Synchronization primitives: [RaceAcquire], [RaceRelease], [MutexLock], [MutexUnlock]
//   - Channels and WaitGroups: [RaceChannelSendAfter], [RaceChannelRecvAfter], [RaceWaitGroupWait]
//   - Thread lifecycle: [ThreadCreate], [ThreadStart], [ThreadFinish], [ThreadJoin]
//   - Version information: [GetInfo], [Version]
//
// # How It Works
//
// The racedetector tool instruments your code by inserting RaceRead/RaceWrite
// calls before plain memory accesses; synchronization operations are not
// rewritten:
//
//	// Original code:
//	x = 42
//
//	// Instrumented code:
//	race.RaceWrite(uintptr(unsafe.Pointer(&x)))
//	x = 42
//
// The race detector uses vector clocks to track happens-before relationships
// and detect unsynchronized concurrent accesses to shared memory. When a race
// is detected, a detailed report is printed showing:
//   - The conflicting memory accesses (read/write or write/write)
//   - The detector's thread slot ids (tids) of the goroutines involved, printed as "goroutine N"
//   - Stack traces showing where the accesses occurred
//   - File:line locations for debugging
//
// # Performance Characteristics
//
// The Pure-Go race detector is designed for production use with minimal overhead:
//
//	Runtime overhead:  5-15x slowdown (typical for race detection)
//	Memory overhead:   Fixed-width shadow cells per 8-byte block, slab-pooled sync clocks
//	Scalability:       Bounded by the compiled-in thread-slot count
//	False positives:   None from a torn shadow-cell read; a stale read only misses a race
//
// # Compatibility
//
// Platform support:
//   - Operating systems: Linux, macOS, Windows
//   - Go version: 1.19 or later
//   - CGO requirement: None (works with CGO_ENABLED=0)
//   - Architecture: amd64, arm64
//
// # Examples
//
// See package-level examples in the documentation:
//   - [Example] - Basic race detection usage
//   - [Example_mutexProtected] - Race-free code with mutex
//   - [Example_automaticInstrumentation] - How the tool works
//
// # Links
//
// Project repository:
// https://github.com/kolkov/racedetector
//
// Documentation:
// https://pkg.go.dev/github.com/kolkov/racedetector/race
//
// Installation guide:
// https://github.com/kolkov/racedetector/blob/main/docs/INSTALLATION.md
//
// Usage guide:
// https://github.com/kolkov/racedetector/blob/main/docs/USAGE_GUIDE.md
package race
