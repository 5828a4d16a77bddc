// Package playback schedules agent audio chunks back to back on an output
// clock and cancels them all at once when the user barges in.
package playback

import (
	"time"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/rs/zerolog"
)

// Handle is one scheduled chunk that can still be silenced.
type Handle interface {
	Stop()
}

// Output is an audio output context with a monotonic clock. done runs once
// when a chunk finishes naturally and never for a stopped chunk. It may be
// called from the output's own goroutine.
type Output interface {
	CurrentTime() time.Duration
	Schedule(samples []float32, at time.Duration, done func()) Handle
}

// Gate reports whether agent audio arriving at now must be discarded.
type Gate interface {
	Dropping(now time.Time) bool
}

// Config holds scheduling parameters.
type Config struct {
	SampleRate int
	// Lead is the forward buffer applied when playback restarts after the
	// output has caught up with the schedule.
	Lead time.Duration
}

// Scheduled describes an accepted chunk.
type Scheduled struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// Scheduler is not safe for concurrent use; it belongs to the session loop.
// Natural completions must be handed back through Completed on that loop.
type Scheduler struct {
	out    Output
	gate   Gate
	cfg    Config
	notify func(id uint64)
	logger zerolog.Logger

	// OnDrop observes chunks discarded by the ignore window.
	OnDrop func()
	// OnActiveChange observes the size of the active set.
	OnActiveChange func(n int)

	nextStart time.Duration
	active    map[uint64]Handle
	nextID    uint64
}

// NewScheduler creates a scheduler. notify is called with a chunk ID when
// the output reports natural completion; it must route the ID to Completed.
func NewScheduler(out Output, gate Gate, cfg Config, notify func(id uint64), logger zerolog.Logger) *Scheduler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &Scheduler{
		out:    out,
		gate:   gate,
		cfg:    cfg,
		notify: notify,
		logger: observability.WithComponent(logger, "playback"),
		active: make(map[uint64]Handle),
	}
}

// SetGate replaces the ignore-window gate. The gate usually owns the
// scheduler too, so it is wired after construction.
func (s *Scheduler) SetGate(g Gate) {
	s.gate = g
}

// EnqueueBytes decodes a little-endian PCM16 payload and enqueues it.
func (s *Scheduler) EnqueueBytes(data []byte, now time.Time) (Scheduled, bool, error) {
	samples, err := audio.DecodePCM16LE(data)
	if err != nil {
		return Scheduled{}, false, err
	}
	sc, ok := s.Enqueue(samples, now)
	return sc, ok, nil
}

// Enqueue schedules chunk directly after everything already scheduled.
// It returns false when the chunk is empty or falls inside the ignore
// window; a dropped chunk leaves the schedule untouched.
func (s *Scheduler) Enqueue(chunk []int16, now time.Time) (Scheduled, bool) {
	if len(chunk) == 0 {
		return Scheduled{}, false
	}
	if s.gate != nil && s.gate.Dropping(now) {
		s.logger.Debug().Int("samples", len(chunk)).Msg("Dropping stale agent audio")
		if s.OnDrop != nil {
			s.OnDrop()
		}
		return Scheduled{}, false
	}

	samples := audio.PCM16ToFloat(chunk)

	if current := s.out.CurrentTime(); s.nextStart < current {
		s.nextStart = current + s.cfg.Lead
	}

	s.nextID++
	id := s.nextID
	start := s.nextStart
	duration := audio.SamplesDuration(len(samples), s.cfg.SampleRate)

	s.active[id] = s.out.Schedule(samples, start, func() {
		if s.notify != nil {
			s.notify(id)
		}
	})
	s.nextStart += duration
	s.activeChanged()

	return Scheduled{ID: id, Start: start, Duration: duration}, true
}

// Completed removes a naturally finished chunk from the active set. It
// reports false for chunks already removed, including ones cancelled while
// their completion was in flight.
func (s *Scheduler) Completed(id uint64) bool {
	if _, ok := s.active[id]; !ok {
		return false
	}
	delete(s.active, id)
	s.activeChanged()
	return true
}

// CancelAll silences every scheduled chunk, empties the active set and
// restarts the schedule at the output's current time.
func (s *Scheduler) CancelAll() {
	n := len(s.active)
	for id, h := range s.active {
		h.Stop()
		delete(s.active, id)
	}
	s.nextStart = s.out.CurrentTime()

	if n > 0 {
		s.logger.Debug().Int("cancelled", n).Msg("Playback cancelled")
		s.activeChanged()
	}
}

// Active returns the number of chunks playing or pending.
func (s *Scheduler) Active() int {
	return len(s.active)
}

// NextStartTime returns where the next chunk would be placed, before the
// idle lead is applied.
func (s *Scheduler) NextStartTime() time.Duration {
	return s.nextStart
}

func (s *Scheduler) activeChanged() {
	if s.OnActiveChange != nil {
		s.OnActiveChange(len(s.active))
	}
}
