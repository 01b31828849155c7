// Package detector implements dynamic data-race detection over a fixed-
// width shadow-cell scheme, the same family of algorithm ThreadSanitizer
// v2 uses in place of classic FastTrack.
//
// # Architecture
//
//  1. AccessEngine (engine.go): MemoryAccess/MemoryAccessRange, called on
//     every instrumented load and store.
//  2. Shadow memory (shadow.go): a shadowcell.Block of config.KShadowCnt
//     packed cells per 8-byte-aligned application block.
//  3. Sync/thread state (synctab, threadregistry, clock packages): mutex
//     and generic happens-before tracking, thread lifecycle.
//  4. ReportBuilder (report.go): stack reconstruction, symbolization,
//     suppression, and formatting once MemoryAccess finds a conflict.
//
// # Race Detection Rule
//
// Every access to an 8-byte-aligned block scans its shadow cells. A cell
// from the same thread and the same happens-before era is a fast-path
// match: no further work. A cell from a different thread that has not
// happened-before the current access and that overlaps in byte range,
// with at least one side a write, is a race.
//
// # Performance Characteristics
//
// MemoryAccess is allocation-free once its per-thread trace ring and
// shadow blocks are warm. //go:nosplit marks the hot-path entry points.
//
// # Thread Safety
//
// shadowMemory uses sync.Map, matching sync.Map's optimized case: reads
// of already-shadowed blocks vastly outnumber first-touch writes.
// synctab.Table stripes its locks across 256 buckets. threadregistry
// guards its slot table with a single mutex, held only briefly per call.
package detector
