package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

type MetricsState struct {
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{
			MStimes: [AVG_COUNT]float64{0},
		}
	})
	return nil
}

func MetricsUpdate(frame_elapsed_time float64) {
	// Calculate frame ms average
	frame_ms := (frame_elapsed_time * 1000.0)
	metricsState.MStimes[metricsState.FrameAVGCounter] = frame_ms
	if metricsState.FrameAVGCounter == AVG_COUNT-1 {
		metricsState.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			metricsState.MSavg += metricsState.MStimes[i]
		}

		metricsState.MSavg /= float64(AVG_COUNT)
	}
	metricsState.FrameAVGCounter++
	metricsState.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frame_ms
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	// Count all Frames.
	metricsState.Frames++
}

func MetricsFrame() (float64, float64) {
	return metricsState.FPS, metricsState.MSavg
}

// GpuTiming is one resolved profiling scope.
type GpuTiming struct {
	Name    string
	Elapsed time.Duration
}

type gpuTimingHistory struct {
	samples [AVG_COUNT]time.Duration
	count   uint8
	next    uint8
}

func (h *gpuTimingHistory) add(d time.Duration) {
	h.samples[h.next] = d
	h.next = (h.next + 1) % AVG_COUNT
	if h.count < AVG_COUNT {
		h.count++
	}
}

func (h *gpuTimingHistory) average() time.Duration {
	if h.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := uint8(0); i < h.count; i++ {
		sum += h.samples[i]
	}
	return sum / time.Duration(h.count)
}

// GpuStats collects published GPU scope timings. It keeps the last published
// frame as-is and a rolling average over AVG_COUNT samples per scope name.
type GpuStats struct {
	mu       sync.Mutex
	frame    uint64
	last     []GpuTiming
	history  map[string]*gpuTimingHistory
	received uint64
}

func NewGpuStats() *GpuStats {
	return &GpuStats{
		history: make(map[string]*gpuTimingHistory),
	}
}

func (s *GpuStats) PublishGpuTimings(frame uint64, timings []GpuTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = frame
	s.last = append(s.last[:0], timings...)
	s.received++
	for _, t := range timings {
		h, ok := s.history[t.Name]
		if !ok {
			h = &gpuTimingHistory{}
			s.history[t.Name] = h
		}
		h.add(t.Elapsed)
	}
}

// Last returns the frame number and timings of the most recent publish.
func (s *GpuStats) Last() (uint64, []GpuTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]GpuTiming, len(s.last))
	copy(out, s.last)
	return s.frame, out
}

// Published returns how many times timings were published.
func (s *GpuStats) Published() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func (s *GpuStats) Average(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.history[name]; ok {
		return h.average()
	}
	return 0
}

// String formats the last frame one scope per line, "name=0.00 ms".
func (s *GpuStats) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.last))
	elapsed := make(map[string]time.Duration, len(s.last))
	for _, t := range s.last {
		if _, ok := elapsed[t.Name]; !ok {
			names = append(names, t.Name)
		}
		elapsed[t.Name] += t.Elapsed
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s=%04.2f ms\n", n, float64(elapsed[n])/float64(time.Millisecond))
	}
	return b.String()
}
