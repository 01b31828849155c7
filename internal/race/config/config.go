// Package config holds the compile-time tunables shared by every layer of
// the race detector core. These are constants, not a runtime config file:
// the detector core is compiled into the target binary, and changing a
// bit width or a buffer size changes the layout of every packed word that
// depends on it, so it is not something a process can reload.
package config

const (
	// KTidBits is the width, in bits, of the thread-id field packed into a
	// ShadowCell. 8 bits gives KMaxTid live thread slots -- the spec's own
	// illustrative figure, and small enough that a dense per-thread
	// ThreadClock and a slab chunk both stay cheap.
	KTidBits = 8

	// KClkBits is the width, in bits, of the epoch field packed into a
	// ShadowCell. KTidBits + KClkBits + 7 == 64 is a hard invariant: the
	// remaining 7 bits are addr0 (3), addr1 (3) and the write bit (1). This
	// leaves epochs a 49-bit range rather than the illustrative "42-bit"
	// figure quoted for the general concept; see DESIGN.md for why the
	// packed-cell bit-budget invariant took priority over the illustrative
	// epoch width once KMaxTid was fixed at 256.
	KClkBits = 49

	// KMaxTid is the width of the tid field's address space (also the size
	// of the dense arrays indexed by tid in ThreadClock and the
	// ThreadRegistry slot table).
	KMaxTid = 1 << KTidBits

	// KUsableTids is the number of tids the ThreadRegistry may actually
	// hand out: KMaxTid-1, not KMaxTid. shadowcell.Encode stores tid+1 so
	// that a legitimate (tid=0, epoch=0, ...) cell never collides with the
	// all-zero "empty" sentinel; tid+1 must still fit in KTidBits, so
	// tid == KMaxTid-1 is reserved and never allocated by
	// threadregistry.Registry.allocSlotLocked.
	KUsableTids = KMaxTid - 1

	// KMaxEpoch is the largest epoch a ShadowCell can encode before a
	// thread's counter would wrap. In practice no thread runs long enough
	// to reach it; it exists so overflow can be checked explicitly rather
	// than silently wrapping into another thread's tid field.
	KMaxEpoch = 1<<KClkBits - 1

	// KShadowCnt is the number of shadow cells kept per 8-byte-aligned
	// application memory block.
	KShadowCnt = 8

	// KTraceSize is the number of events retained per thread, split into
	// KTraceParts equal parts. Must be a power of two.
	KTraceSize = 64 * 1024

	// KTraceParts is the number of partitions of a thread's trace. Must be
	// a power of two and must divide KTraceSize evenly.
	KTraceParts = 8

	// KTracePartSize is the number of events per trace part.
	KTracePartSize = KTraceSize / KTraceParts

	// KDeadThreadsRetained bounds the size of the ThreadRegistry's
	// recently-dead list; the oldest entry is evicted once the list is
	// full.
	KDeadThreadsRetained = 512

	// KCollectStats enables per-thread and global event counters. Kept as
	// a compile-time constant rather than a flag because the counters are
	// incremented on the hot path: flipping it means recompiling, not
	// reconfiguring.
	KCollectStats = true
)
