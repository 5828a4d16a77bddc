package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	agentConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_agent_connected",
		Help: "Whether the agent connection is open (1) or not (0)",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_sessions_total",
		Help: "Total number of agent sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_session_duration_seconds",
		Help:    "Duration of agent sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Turn metrics
	ttfbSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_ttfb_seconds",
		Help:    "Agent time to first byte per turn, as reported by the agent",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_client_tool_latency_seconds",
		Help:    "Subagent/tool invocation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"agent"})

	turnResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_turn_resets_total",
		Help: "Total number of turn resets (barge-ins and disconnects)",
	})

	// Playback metrics
	staleChunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_stale_chunks_dropped_total",
		Help: "Agent audio chunks discarded inside the post-reset ignore window",
	})

	activePlayback = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_active_playback_handles",
		Help: "Number of scheduled or playing agent audio chunks",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_bytes_total",
		Help: "Total audio bytes exchanged with the agent",
	}, []string{"direction"}) // direction: "in" or "out"
)

// SessionMetrics records Prometheus metrics for one agent session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics recorder for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{sessionID: sessionID}
}

// RecordConnected records the agent connection opening
func (m *SessionMetrics) RecordConnected() {
	m.startTime = time.Now()
	agentConnected.Set(1)
	sessionsTotal.Inc()
}

// RecordDisconnected records the agent connection closing
func (m *SessionMetrics) RecordDisconnected() {
	agentConnected.Set(0)
	if !m.startTime.IsZero() {
		sessionDuration.Observe(time.Since(m.startTime).Seconds())
		m.startTime = time.Time{}
	}
}

// ObserveTTFB records a per-turn time to first byte
func (m *SessionMetrics) ObserveTTFB(d time.Duration) {
	ttfbSeconds.Observe(d.Seconds())
}

// ObserveToolLatency records a completed subagent invocation
func (m *SessionMetrics) ObserveToolLatency(agent string, d time.Duration) {
	if agent == "" {
		agent = "unknown"
	}
	toolLatency.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordReset records a turn reset
func (m *SessionMetrics) RecordReset() {
	turnResets.Inc()
}

// RecordStaleChunk records an agent chunk dropped by the ignore window
func (m *SessionMetrics) RecordStaleChunk() {
	staleChunksDropped.Inc()
}

// SetActivePlayback records the size of the active playback set
func (m *SessionMetrics) SetActivePlayback(n int) {
	activePlayback.Set(float64(n))
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes exchanged with the agent
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
