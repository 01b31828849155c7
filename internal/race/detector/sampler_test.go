package detector

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kolkov/racedetector/internal/race/clock"
	"github.com/kolkov/racedetector/internal/race/threadregistry"
)

// newTestContext registers and starts a running, unparented thread for use
// as a test fixture, mirroring how the api package brings a goroutine's
// context into existence on first access.
func newTestContext(t *testing.T, d *Detector, uid uint64) *threadregistry.ThreadContext {
	t.Helper()
	tid, ok := d.Registry().Create(clock.NewThreadClock(0), uid, true)
	if !ok {
		t.Fatalf("registry exhausted")
	}
	ctx := d.Registry().Start(tid)
	if ctx == nil {
		t.Fatalf("Start(%d) returned nil", tid)
	}
	return ctx
}

// === Sampler unit tests ===

func TestNewSampler_DefaultConfig(t *testing.T) {
	s := NewSampler(SamplerConfig{})

	if s.config.Rate != 1 {
		t.Errorf("Expected rate 1, got %d", s.config.Rate)
	}
	if s.IsEnabled() {
		t.Error("Expected sampler to be disabled by default")
	}
}

func TestNewSampler_EnabledWithRate(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 10})

	if !s.IsEnabled() {
		t.Error("Expected sampler to be enabled")
	}
	if s.GetEffectiveRate() != 10 {
		t.Errorf("Expected rate 10, got %d", s.GetEffectiveRate())
	}
}

func TestSampler_DisabledAlwaysSamples(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: false, Rate: 100})

	for i := 0; i < 1000; i++ {
		if !s.ShouldSample() {
			t.Error("ShouldSample should always return true when disabled")
		}
	}
}

func TestSampler_Rate1AlwaysSamples(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 1})

	for i := 0; i < 1000; i++ {
		if !s.ShouldSample() {
			t.Error("ShouldSample should always return true with rate 1")
		}
	}
}

func TestSampler_Rate10SamplesApproximately10Percent(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 10})

	sampled, total := 0, 10000
	for i := 0; i < total; i++ {
		if s.ShouldSample() {
			sampled++
		}
	}

	if sampled < 800 || sampled > 1200 {
		t.Errorf("Expected ~1000 samples (10%%), got %d (%.1f%%)",
			sampled, float64(sampled)/float64(total)*100)
	}
}

func TestSampler_Rate100SamplesApproximately1Percent(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 100})

	sampled, total := 0, 100000
	for i := 0; i < total; i++ {
		if s.ShouldSample() {
			sampled++
		}
	}

	if sampled < 800 || sampled > 1200 {
		t.Errorf("Expected ~1000 samples (1%%), got %d (%.2f%%)",
			sampled, float64(sampled)/float64(total)*100)
	}
}

func TestSampler_ShouldSampleWithStats(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 10})

	total, sampled := 1000, 0
	for i := 0; i < total; i++ {
		if s.ShouldSampleWithStats() {
			sampled++
		}
	}

	stats := s.GetStats()
	if stats.TotalAccesses != uint64(total) {
		t.Errorf("Expected %d total accesses, got %d", total, stats.TotalAccesses)
	}
	if stats.SampledAccesses != uint64(sampled) {
		t.Errorf("Expected %d sampled accesses, got %d", sampled, stats.SampledAccesses)
	}
	if stats.SkippedAccesses != uint64(total-sampled) {
		t.Errorf("Expected %d skipped accesses, got %d", total-sampled, stats.SkippedAccesses)
	}
}

func TestSampler_ConcurrentAccess(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 10})

	var wg sync.WaitGroup
	var totalSampled uint64

	goroutines, iterations := 10, 10000
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var sampled uint64
			for i := 0; i < iterations; i++ {
				if s.ShouldSample() {
					sampled++
				}
			}
			atomic.AddUint64(&totalSampled, sampled)
		}()
	}
	wg.Wait()

	total := goroutines * iterations
	expectedMin := int(float64(total) * 0.08)
	expectedMax := int(float64(total) * 0.12)
	if int(totalSampled) < expectedMin || int(totalSampled) > expectedMax {
		t.Errorf("Expected ~10%% samples (%d-%d), got %d (%.1f%%)",
			expectedMin, expectedMax, totalSampled,
			float64(totalSampled)/float64(total)*100)
	}
}

func TestSampler_ExpectedDetectionRate(t *testing.T) {
	tests := []struct {
		name            string
		rate            uint64
		accessesPerRace int
		minExpected     float64
		maxExpected     float64
	}{
		{"disabled", 1, 10, 1.0, 1.0},
		{"rate10_10accesses", 10, 10, 0.60, 0.70},
		{"rate10_100accesses", 10, 100, 0.99, 1.0},
		{"rate100_10accesses", 100, 10, 0.08, 0.12},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSampler(SamplerConfig{Enabled: tc.rate > 1, Rate: tc.rate})
			rate := s.ExpectedDetectionRate(tc.accessesPerRace)
			if rate < tc.minExpected || rate > tc.maxExpected {
				t.Errorf("Expected detection rate %.2f-%.2f, got %.2f",
					tc.minExpected, tc.maxExpected, rate)
			}
		})
	}
}

// === Detector sampling integration ===

func TestDetector_DefaultNoSampling(t *testing.T) {
	d := New(Options{})
	if d.sampler.IsEnabled() {
		t.Error("Expected sampling to be disabled by default")
	}
}

func TestDetector_WithSampling(t *testing.T) {
	d := New(Options{Sampler: SamplerConfig{Enabled: true, Rate: 10}})
	if !d.sampler.IsEnabled() {
		t.Error("Expected sampling to be enabled")
	}
	if d.sampler.GetEffectiveRate() != 10 {
		t.Errorf("Expected rate 10, got %d", d.sampler.GetEffectiveRate())
	}
}

func TestDetector_NoSamplingStillDetectsSameThreadNoRace(t *testing.T) {
	d := New(Options{})
	ctx := newTestContext(t, d, 1)

	d.MemoryAccess(ctx, 0, 0x1000, 8, true)
	d.MemoryAccess(ctx, 0, 0x1000, 8, false)

	if d.RacesDetected() != 0 {
		t.Error("Should not detect a race within a single thread")
	}
}

// === Benchmarks ===

func BenchmarkSampler_ShouldSample_Disabled(b *testing.B) {
	s := NewSampler(SamplerConfig{Enabled: false, Rate: 10})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.ShouldSample()
	}
}

func BenchmarkSampler_ShouldSample_Enabled(b *testing.B) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 10})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.ShouldSample()
	}
}

func BenchmarkSampler_ShouldSample_Enabled_Concurrent(b *testing.B) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 10})
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = s.ShouldSample()
		}
	})
}

func BenchmarkSampler_ShouldSampleWithStats(b *testing.B) {
	s := NewSampler(SamplerConfig{Enabled: true, Rate: 10})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.ShouldSampleWithStats()
	}
}

func BenchmarkDetector_MemoryAccess_NoSampling(b *testing.B) {
	d := New(Options{})
	tid, _ := d.Registry().Create(clock.NewThreadClock(0), 1, true)
	ctx := d.Registry().Start(tid)
	addr := uintptr(0x1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.MemoryAccess(ctx, 0, addr+uintptr(8*(i%1000)), 8, true)
	}
}

func BenchmarkDetector_MemoryAccess_WithSampling_Rate10(b *testing.B) {
	d := New(Options{Sampler: SamplerConfig{Enabled: true, Rate: 10}})
	tid, _ := d.Registry().Create(clock.NewThreadClock(0), 1, true)
	ctx := d.Registry().Start(tid)
	addr := uintptr(0x1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.MemoryAccess(ctx, 0, addr+uintptr(8*(i%1000)), 8, true)
	}
}
