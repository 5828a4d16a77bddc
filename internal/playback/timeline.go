package playback

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Timeline is a software output context. It keeps a sample clock, mixes
// scheduled sources onto it and renders signed 16-bit little-endian mono PCM
// through Read, so an oto player can pull from it. Read never returns EOF;
// with nothing scheduled it renders silence and the clock keeps running.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64 // next sample index to render
	sources map[*source]struct{}
	scratch []float32
}

type source struct {
	tl      *Timeline
	samples []float32
	start   int64
	done    func()
}

// NewTimeline creates a timeline running at rate samples per second.
func NewTimeline(rate int) *Timeline {
	return &Timeline{
		rate:    rate,
		sources: make(map[*source]struct{}),
	}
}

// SampleRate returns the timeline rate.
func (t *Timeline) SampleRate() int {
	return t.rate
}

// CurrentTime returns the clock position of the next sample to render.
func (t *Timeline) CurrentTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

// Schedule places samples at clock time at. Times in the past start at the
// next rendered sample, with the part already due skipped.
func (t *Timeline) Schedule(samples []float32, at time.Duration, done func()) Handle {
	src := &source{
		tl:      t,
		samples: samples,
		start:   t.toIndex(at),
		done:    done,
	}

	t.mu.Lock()
	t.sources[src] = struct{}{}
	t.mu.Unlock()
	return src
}

// Stop removes the source without running its completion callback.
func (s *source) Stop() {
	s.tl.mu.Lock()
	delete(s.tl.sources, s)
	s.tl.mu.Unlock()
}

// Pending returns the number of sources not yet finished or stopped.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sources)
}

// Read renders len(p)/2 samples.
func (t *Timeline) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	if cap(t.scratch) < n {
		t.scratch = make([]float32, n)
	}
	mix := t.scratch[:n]
	finished := t.renderLocked(mix)
	t.mu.Unlock()

	for i, v := range mix {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(floatToInt16(v)))
	}

	for _, done := range finished {
		done()
	}
	return n * 2, nil
}

// Render advances the clock by len(out) samples and writes the mix to out.
func (t *Timeline) Render(out []float32) {
	t.mu.Lock()
	finished := t.renderLocked(out)
	t.mu.Unlock()

	for _, done := range finished {
		done()
	}
}

func (t *Timeline) renderLocked(out []float32) []func() {
	clear(out)
	from := t.pos
	to := from + int64(len(out))

	var finished []func()
	for src := range t.sources {
		end := src.start + int64(len(src.samples))
		lo := max(src.start, from)
		hi := min(end, to)
		for i := lo; i < hi; i++ {
			out[i-from] += src.samples[i-src.start]
		}
		if end <= to {
			delete(t.sources, src)
			if src.done != nil {
				finished = append(finished, src.done)
			}
		}
	}

	t.pos = to
	return finished
}

func (t *Timeline) toIndex(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) toDuration(idx int64) time.Duration {
	return time.Duration(idx * int64(time.Second) / int64(t.rate))
}

func floatToInt16(v float32) int16 {
	switch {
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	}
	return int16(v * 32768)
}
