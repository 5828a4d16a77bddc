package turn

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	cancels, clears, metricClears int
}

func (r *recorder) CancelAll() { r.cancels++ }
func (r *recorder) ClearAccumulators() { r.clears++ }
func (r *recorder) ClearTurn() { r.metricClears++ }

func newTestController() (*Controller, *recorder) {
	r := &recorder{}
	c := NewController(Config{Cooldown: 2 * time.Second, IgnoreWindow: 500 * time.Millisecond}, r, r, r, zerolog.Nop())
	return c, r
}

var t0 = time.Unix(1700000000, 0)

func TestController_States(t *testing.T) {
	c, _ := newTestController()
	assert.Equal(t, Idle, c.State(t0))

	c.Connected()
	assert.Equal(t, ReadyForInput, c.State(t0))

	require.True(t, c.SpeechDetected(t0))
	assert.Equal(t, CoolingDown, c.State(t0.Add(time.Second)))
	assert.Equal(t, ReadyForInput, c.State(t0.Add(2*time.Second)))

	c.Disconnected(t0.Add(3 * time.Second))
	assert.Equal(t, Idle, c.State(t0.Add(3*time.Second)))
}

func TestController_ResetClearsEverything(t *testing.T) {
	c, r := newTestController()
	c.Connected()

	c.Reset(t0, ReasonManual)

	assert.Equal(t, 1, r.cancels)
	assert.Equal(t, 1, r.clears)
	assert.Equal(t, 1, r.metricClears)
	assert.True(t, c.Dropping(t0.Add(200*time.Millisecond)))
	assert.False(t, c.Dropping(t0.Add(600*time.Millisecond)))
	assert.False(t, c.Snapshot(t0).ResetInFlight)
}

func TestController_ResetDebounce(t *testing.T) {
	c, r := newTestController()
	c.Connected()

	// 3 s of continuous loud input at 128 ms per block
	var resetsAt []time.Duration
	for elapsed := time.Duration(0); elapsed < 3*time.Second; elapsed += 128 * time.Millisecond {
		if c.SpeechDetected(t0.Add(elapsed)) {
			resetsAt = append(resetsAt, elapsed)
		}
	}

	require.Len(t, resetsAt, 2)
	assert.Equal(t, time.Duration(0), resetsAt[0])
	assert.GreaterOrEqual(t, resetsAt[1], 2*time.Second)
	assert.Less(t, resetsAt[1], 2*time.Second+128*time.Millisecond)
	assert.Equal(t, 2, r.cancels)
}

func TestController_CooldownExpiresExactly(t *testing.T) {
	c, _ := newTestController()
	c.Connected()

	require.True(t, c.SpeechDetected(t0))
	assert.False(t, c.SpeechDetected(t0.Add(1999*time.Millisecond)))
	assert.True(t, c.SpeechDetected(t0.Add(2*time.Second)))
}

func TestController_ResetDuringCooldownRefreshesIgnoreWindow(t *testing.T) {
	c, r := newTestController()
	c.Connected()
	require.True(t, c.SpeechDetected(t0))

	c.Reset(t0.Add(time.Second), ReasonManual)

	assert.Equal(t, 2, r.cancels)
	assert.True(t, c.Dropping(t0.Add(1400*time.Millisecond)))
	assert.Equal(t, CoolingDown, c.State(t0.Add(1500*time.Millisecond)))
}

// reentrant resets the controller again from inside CancelAll.
type reentrant struct {
	c       *Controller
	at      time.Time
	cancels int
}

func (r *reentrant) CancelAll() {
	r.cancels++
	r.c.Reset(r.at, ReasonManual)
}

func TestController_ResetIsReentrant(t *testing.T) {
	p := &reentrant{at: t0.Add(100 * time.Millisecond)}
	c := NewController(Config{Cooldown: 2 * time.Second, IgnoreWindow: 500 * time.Millisecond}, p, nil, nil, zerolog.Nop())
	p.c = c

	c.Reset(t0, ReasonManual)

	assert.Equal(t, 1, p.cancels)
	assert.Equal(t, 1, c.Snapshot(t0).Resets)
	assert.True(t, c.Dropping(t0.Add(550*time.Millisecond)), "nested reset extends the window")
}

func TestController_OnReset(t *testing.T) {
	c, _ := newTestController()
	var reasons []string
	c.OnReset = func(reason string, now time.Time) { reasons = append(reasons, reason) }

	c.Connected()
	c.SpeechDetected(t0)
	c.Disconnected(t0.Add(time.Second))

	assert.Equal(t, []string{ReasonBargeIn, ReasonDisconnect}, reasons)
}

func TestController_DisconnectClearsCooldown(t *testing.T) {
	c, _ := newTestController()
	c.Connected()
	require.True(t, c.SpeechDetected(t0))

	c.Disconnected(t0.Add(100 * time.Millisecond))
	c.Connected()

	assert.True(t, c.SpeechDetected(t0.Add(200*time.Millisecond)))
}
