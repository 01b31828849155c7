package detector

import (
	"sync/atomic"
)

// SamplerConfig configures LiteRace-style sampling of the AccessEngine hot
// path (component design 4.6): whether every MemoryAccess call actually
// runs the shadow-slot scan, or only a fraction of them do.
//
// Sampling trades detection recall for overhead: skipped accesses cost a
// single atomic increment and a modulo compare instead of a full
// shadowcell.Block scan, which matters when MemoryAccess sits on the
// instrumented program's hottest path.
//
// Usage:
//
//	// Default: no sampling, every access runs the full scan.
//	d := detector.New(detector.Options{})
//
//	// Check 1 in 10 accesses.
//	d := detector.New(detector.Options{
//	    Sampler: detector.SamplerConfig{Enabled: true, Rate: 10},
//	})
type SamplerConfig struct {
	// Enabled determines if sampling is active.
	// When false, all memory accesses are checked (100% detection).
	Enabled bool

	// Rate determines the sampling frequency.
	// - Rate=1: Check every access (no sampling, same as Enabled=false)
	// - Rate=10: Check 1 in 10 accesses
	// - Rate=100: Check 1 in 100 accesses
	Rate uint64
}

// Sampler gates AccessEngine.MemoryAccess (component design 4.6) behind a
// LiteRace-style probabilistic filter, the same trace_pos idea
// ThreadSanitizer uses: an atomic counter incremented on every access,
// selected by modulo against the configured rate. No RNG is involved --
// the counter's own concurrent increments from unrelated goroutines
// already supply enough jitter for a uniform-enough sample.
//
// All methods are safe for concurrent calls; ShouldSample is called on
// every instrumented memory access, so it stays branch-light when
// disabled and a single atomic add plus modulo when enabled.
type Sampler struct {
	config SamplerConfig

	// tracePos is the atomic counter MemoryAccess consults; every call
	// bumps it whether or not the access ends up sampled.
	tracePos uint64

	stats SamplerStats
}

// SamplerStats tracks how many MemoryAccess calls the sampler let through
// versus skipped, for reporting instrumentation overhead.
type SamplerStats struct {
	TotalAccesses   uint64
	SampledAccesses uint64
	SkippedAccesses uint64
}

// NewSampler creates a new Sampler with the given configuration.
//
// If rate is 0 or 1, sampling is effectively disabled (all accesses checked).
func NewSampler(config SamplerConfig) *Sampler {
	if config.Rate == 0 {
		config.Rate = 1
	}
	return &Sampler{config: config}
}

// ShouldSample reports whether the current call into AccessEngine.MemoryAccess
// should run its shadow-slot scan. Called on every instrumented memory
// access, so it must stay as fast as possible when sampling is disabled.
//
//go:nosplit
func (s *Sampler) ShouldSample() bool {
	if !s.config.Enabled || s.config.Rate <= 1 {
		return true
	}
	pos := atomic.AddUint64(&s.tracePos, 1)
	return (pos % s.config.Rate) == 0
}

// ShouldSampleWithStats is like ShouldSample but also updates SamplerStats.
// Meant for diagnostics; MemoryAccess itself calls the cheaper ShouldSample.
//
//go:nosplit
func (s *Sampler) ShouldSampleWithStats() bool {
	atomic.AddUint64(&s.stats.TotalAccesses, 1)
	shouldSample := s.ShouldSample()
	if shouldSample {
		atomic.AddUint64(&s.stats.SampledAccesses, 1)
	} else {
		atomic.AddUint64(&s.stats.SkippedAccesses, 1)
	}
	return shouldSample
}

// GetStats returns a copy of the current sampling statistics.
func (s *Sampler) GetStats() SamplerStats {
	return SamplerStats{
		TotalAccesses:   atomic.LoadUint64(&s.stats.TotalAccesses),
		SampledAccesses: atomic.LoadUint64(&s.stats.SampledAccesses),
		SkippedAccesses: atomic.LoadUint64(&s.stats.SkippedAccesses),
	}
}

// GetConfig returns the current sampling configuration.
func (s *Sampler) GetConfig() SamplerConfig {
	return s.config
}

// IsEnabled returns true if sampling is enabled.
func (s *Sampler) IsEnabled() bool {
	return s.config.Enabled && s.config.Rate > 1
}

// GetEffectiveRate returns the actual sampling rate being used.
// Returns 1 if sampling is disabled (all accesses checked).
func (s *Sampler) GetEffectiveRate() uint64 {
	if !s.IsEnabled() {
		return 1
	}
	return s.config.Rate
}

// ExpectedDetectionRate returns the theoretical probability of catching a
// race that manifests on accessesPerRace accesses, at the sampler's
// current rate:
//
//	P(detect) = 1 - (1 - 1/R)^N
func (s *Sampler) ExpectedDetectionRate(accessesPerRace int) float64 {
	if !s.IsEnabled() || accessesPerRace <= 0 {
		return 1.0
	}

	rate := float64(s.config.Rate)
	probMiss := 1.0
	for i := 0; i < accessesPerRace; i++ {
		probMiss *= 1.0 - 1.0/rate
	}
	if probMiss < 0 {
		probMiss = 0
	}
	if probMiss > 1 {
		probMiss = 1
	}
	return 1.0 - probMiss
}
