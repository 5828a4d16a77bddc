// Package turn decides when the user has taken the floor and performs the
// turn reset that silences the agent.
package turn

import (
	"time"

	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/rs/zerolog"
)

// State is the controller's turn state.
type State int

const (
	Idle State = iota
	ReadyForInput
	CoolingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ReadyForInput:
		return "ready_for_input"
	case CoolingDown:
		return "cooling_down"
	}
	return "unknown"
}

// Reasons passed to Reset.
const (
	ReasonBargeIn    = "barge_in"
	ReasonDisconnect = "disconnect"
	ReasonManual     = "manual"
)

// PlaybackCanceler stops every scheduled agent chunk.
type PlaybackCanceler interface {
	CancelAll()
}

// TranscriptClearer drops in-progress transcript fragments.
type TranscriptClearer interface {
	ClearAccumulators()
}

// MetricsClearer forgets the current turn's latency and tool state.
type MetricsClearer interface {
	ClearTurn()
}

// Config holds the turn timing windows.
type Config struct {
	// Cooldown is the minimum spacing between speech-triggered resets.
	Cooldown time.Duration
	// IgnoreWindow is how long agent audio is discarded after a reset.
	IgnoreWindow time.Duration
}

// Snapshot is a read-only copy of the turn state.
type Snapshot struct {
	State         State     `json:"state"`
	ResetInFlight bool      `json:"reset_in_flight"`
	IgnoreUntil   time.Time `json:"ignore_until"`
	CooldownUntil time.Time `json:"cooldown_until"`
	Resets        int       `json:"resets"`
}

// Controller is not safe for concurrent use; it belongs to the session loop.
type Controller struct {
	cfg        Config
	playback   PlaybackCanceler
	transcript TranscriptClearer
	metrics    MetricsClearer
	logger     zerolog.Logger

	// OnReset, when set, observes every completed reset.
	OnReset func(reason string, now time.Time)

	connected     bool
	resetInFlight bool
	ignoreUntil   time.Time
	cooldownUntil time.Time
	resets        int
}

// NewController creates a controller that resets the given components.
// Any of them may be nil.
func NewController(cfg Config, playback PlaybackCanceler, transcript TranscriptClearer, metrics MetricsClearer, logger zerolog.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		playback:   playback,
		transcript: transcript,
		metrics:    metrics,
		logger:     observability.WithComponent(logger, "turn"),
	}
}

// State returns the turn state at now. Cooldown expiry is evaluated lazily.
func (c *Controller) State(now time.Time) State {
	switch {
	case !c.connected:
		return Idle
	case now.Before(c.cooldownUntil):
		return CoolingDown
	default:
		return ReadyForInput
	}
}

// Connected moves the controller out of Idle.
func (c *Controller) Connected() {
	c.connected = true
}

// Disconnected performs a full reset and returns to Idle.
func (c *Controller) Disconnected(now time.Time) {
	c.Reset(now, ReasonDisconnect)
	c.connected = false
	c.cooldownUntil = time.Time{}
}

// SpeechDetected is called for each capture block above the energy
// threshold. Outside the cooldown it resets the turn, arms a new cooldown
// and returns true.
func (c *Controller) SpeechDetected(now time.Time) bool {
	if now.Before(c.cooldownUntil) {
		return false
	}
	c.cooldownUntil = now.Add(c.cfg.Cooldown)
	c.Reset(now, ReasonBargeIn)
	return true
}

// Reset cancels agent playback, clears both transcript accumulators and the
// current turn metrics, and opens the ignore window. It is re-entrant: a
// reset issued while one is running only extends the ignore window.
func (c *Controller) Reset(now time.Time, reason string) {
	ignoreUntil := now.Add(c.cfg.IgnoreWindow)
	if ignoreUntil.After(c.ignoreUntil) {
		c.ignoreUntil = ignoreUntil
	}
	if c.resetInFlight {
		return
	}

	c.resetInFlight = true
	defer func() { c.resetInFlight = false }()

	if c.playback != nil {
		c.playback.CancelAll()
	}
	if c.transcript != nil {
		c.transcript.ClearAccumulators()
	}
	if c.metrics != nil {
		c.metrics.ClearTurn()
	}
	c.resets++

	c.logger.Debug().
		Str("reason", reason).
		Time("ignore_until", c.ignoreUntil).
		Msg("Turn reset")

	if c.OnReset != nil {
		c.OnReset(reason, now)
	}
}

// Dropping reports whether agent audio arriving at now is stale.
func (c *Controller) Dropping(now time.Time) bool {
	return now.Before(c.ignoreUntil)
}

// Snapshot returns a copy of the turn state at now.
func (c *Controller) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		State:         c.State(now),
		ResetInFlight: c.resetInFlight,
		IgnoreUntil:   c.ignoreUntil,
		CooldownUntil: c.cooldownUntil,
		Resets:        c.resets,
	}
}
