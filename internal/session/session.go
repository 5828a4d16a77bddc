// Package session wires the transport, capture, turn, playback, transcript
// and metrics components into one conversation with the agent.
//
// Every core component is owned by a single goroutine (Run). Device,
// transport and output goroutines only hand data to it over channels, so
// none of the components needs a lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/voice-client/internal/capture"
	"github.com/lexiqai/voice-client/internal/config"
	"github.com/lexiqai/voice-client/internal/metrics"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/playback"
	"github.com/lexiqai/voice-client/internal/protocol"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/lexiqai/voice-client/internal/transcript"
	"github.com/lexiqai/voice-client/internal/transport"
	"github.com/lexiqai/voice-client/internal/turn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrClosed is returned by calls on a closed session.
	ErrClosed = errors.New("session: closed")
	// ErrAlreadyConnected is returned by Connect while a connection is open.
	ErrAlreadyConnected = errors.New("session: already connected")
	// ErrNoMicrophone is returned by StartRecording when no capture device was configured.
	ErrNoMicrophone = errors.New("session: no capture device")
)

// Conn is the part of a transport session the conversation uses.
type Conn interface {
	SendControl(v any) error
	SendAudio(frame []int16) error
	Close() error
}

// Dialer opens a connection to the agent.
type Dialer func(ctx context.Context, url string, opts transport.Options) (Conn, error)

// DialTransport is the default Dialer.
func DialTransport(ctx context.Context, url string, opts transport.Options) (Conn, error) {
	return transport.Open(ctx, url, opts)
}

// Options configures a Session.
type Options struct {
	Config *config.Config
	// Microphone may be nil, in which case recording is unavailable.
	Microphone capture.Device
	// Output is the playback output context, usually a *playback.Timeline.
	Output playback.Output
	Logger zerolog.Logger
	Tracer trace.Tracer
	Dial   Dialer
	// OnToolResponse observes every tool_response event. It runs on the
	// session goroutine and must not block.
	OnToolResponse func(protocol.ToolResponse)
	// Now overrides the wall clock used for turn timing.
	Now func() time.Time
}

// State is a read-only snapshot for presentation.
type State struct {
	SessionID      string                `json:"session_id"`
	Connected      bool                  `json:"connected"`
	Recording      bool                  `json:"recording"`
	Turn           turn.Snapshot         `json:"turn"`
	Transcript     []transcript.Entry    `json:"transcript"`
	Metrics        metrics.Snapshot      `json:"metrics"`
	Flight         *protocol.FlightOffer `json:"flight,omitempty"`
	ActivePlayback int                   `json:"active_playback"`
	DroppedBlocks  int64                 `json:"dropped_capture_blocks"`
	SendBreaker    BreakerState          `json:"send_breaker"`
}

// BreakerState reports the circuit breaker guarding outbound audio.
type BreakerState struct {
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Requests    int64   `json:"requests"`
	Failures    int64   `json:"failures"`
	Rejected    int64   `json:"rejected"`
	FailureRate float64 `json:"failure_rate"`
}

func breakerState(cb *resilience.CircuitBreaker) BreakerState {
	stats := cb.GetStats()
	return BreakerState{
		Name:        cb.Name(),
		State:       stats.State.String(),
		Requests:    stats.Requests,
		Failures:    stats.Failures,
		Rejected:    stats.Rejected,
		FailureRate: stats.FailureRate(),
	}
}

type inbound struct {
	gen    uint64
	binary []byte
	event  protocol.Event
}

type closed struct {
	gen   uint64
	cause error
}

// Session is one conversation with the agent.
type Session struct {
	id      string
	cfg     *config.Config
	logger  zerolog.Logger
	tracer  trace.Tracer
	dial    Dialer
	now     func() time.Time
	onTool  func(protocol.ToolResponse)
	metrics *observability.SessionMetrics
	breaker *resilience.CircuitBreaker

	// owned by the run goroutine
	engine     *capture.Engine
	scheduler  *playback.Scheduler
	aggregator *transcript.Aggregator
	tracker    *metrics.Tracker
	controller *turn.Controller
	conn       Conn
	gen        uint64
	earlyClose *closed
	flight     *protocol.FlightOffer
	sendErrors int

	inbound     chan inbound
	closedCh    chan closed
	completions chan uint64
	requests    chan func()

	quit      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
	connectMu sync.Mutex
}

// New builds a session. Call Run to start processing.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("session: config is required")
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("session: output is required")
	}
	if opts.Dial == nil {
		opts.Dial = DialTransport
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer()
	}

	cfg := opts.Config
	id := uuid.New().String()
	logger := observability.WithSession(opts.Logger, id)

	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      logger,
		tracer:      opts.Tracer,
		dial:        opts.Dial,
		now:         opts.Now,
		onTool:      opts.OnToolResponse,
		metrics:     observability.NewSessionMetrics(id),
		aggregator:  transcript.NewAggregator(),
		inbound:     make(chan inbound, 64),
		closedCh:    make(chan closed, 4),
		completions: make(chan uint64, 256),
		requests:    make(chan func()),
		quit:        make(chan struct{}),
		finished:    make(chan struct{}),
	}

	s.tracker = metrics.NewTracker(s.metrics, opts.Tracer)

	s.breaker = resilience.NewCircuitBreaker("agent_audio", cfg.SendBreakerMaxFailures,
		time.Duration(cfg.SendBreakerResetTimeout)*time.Second)
	s.breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	}

	s.scheduler = playback.NewScheduler(opts.Output, nil, playback.Config{
		SampleRate: cfg.PlaybackSampleRate,
		Lead:       cfg.PlaybackLead(),
	}, s.notifyCompleted, logger)
	s.scheduler.OnDrop = s.metrics.RecordStaleChunk
	s.scheduler.OnActiveChange = s.metrics.SetActivePlayback

	s.controller = turn.NewController(turn.Config{
		Cooldown:     cfg.ResetCooldown(),
		IgnoreWindow: cfg.IgnoreWindow(),
	}, s.scheduler, s.aggregator, s.tracker, logger)
	s.controller.OnReset = s.onReset

	s.scheduler.SetGate(s.controller)

	if opts.Microphone != nil {
		s.engine = capture.NewEngine(opts.Microphone, capture.Config{
			BlockSize:       cfg.CaptureBlockSize,
			SpeechThreshold: cfg.SpeechEnergyThreshold,
		}, logger)
	}

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Run processes events until ctx is done or Close is called, then releases
// the connection and the capture device.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.finished)
	defer s.teardown()
	defer s.Close()

	var blocks <-chan []float32
	if s.engine != nil {
		blocks = s.engine.Blocks()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil

		case block := <-blocks:
			s.handleBlock(block)

		case msg := <-s.inbound:
			if msg.gen != s.gen {
				continue
			}
			if msg.event != nil {
				s.handleEvent(ctx, msg.event)
			} else {
				s.handleAudio(msg.binary)
			}

		case id := <-s.completions:
			s.scheduler.Completed(id)

		case c := <-s.closedCh:
			s.handleClosed(c)

		case fn := <-s.requests:
			fn()
		}
	}
}

// Close stops Run, which then releases the connection and the capture
// device. It is idempotent; use Done to wait for the release.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	return nil
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.requests <- func() { fn(); close(done) }:
	case <-s.quit:
		return ErrClosed
	case <-s.finished:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.finished:
		return ErrClosed
	}
}

// Connect dials the agent and sends the session setup. The dial runs off
// the session goroutine so capture and playback keep flowing meanwhile.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	var connected bool
	var gen uint64
	if err := s.do(ctx, func() {
		connected = s.conn != nil
		if !connected {
			s.gen++
			s.earlyClose = nil
		}
		gen = s.gen
	}); err != nil {
		return err
	}
	if connected {
		return ErrAlreadyConnected
	}

	// each connection starts with a closed breaker and fresh counters
	s.breaker.Reset()
	connLogger := observability.WithCorrelationID(s.logger, observability.NewCorrelationID())

	conn, err := s.dial(ctx, s.cfg.AgentURL, transport.Options{
		DialTimeout: time.Duration(s.cfg.DialTimeout) * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       s.cfg.DialMaxAttempts,
			InitialBackoff:    time.Duration(s.cfg.DialInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		SendBreaker: s.breaker,
		Logger:      connLogger,
		OnBinary: func(data []byte) {
			s.deliver(inbound{gen: gen, binary: data})
		},
		OnControl: func(ev protocol.Event) {
			s.deliver(inbound{gen: gen, event: ev})
		},
		OnClose: func(cause error) {
			select {
			case s.closedCh <- closed{gen: gen, cause: cause}:
			case <-s.quit:
			}
		},
	})
	if err != nil {
		s.metrics.RecordError("connect", "transport")
		return err
	}

	setup, err := s.setupMessage()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.SendControl(setup); err != nil {
		_ = conn.Close()
		return fmt.Errorf("session: send setup: %w", err)
	}

	if err := s.do(ctx, func() {
		s.conn = conn
		s.sendErrors = 0
		s.controller.Connected()
		s.metrics.RecordConnected()
		s.logger.Info().Str("agent_url", s.cfg.AgentURL).Msg("Session connected")

		if s.earlyClose != nil && s.earlyClose.gen == gen {
			s.handleDisconnect(s.earlyClose.cause)
			s.earlyClose = nil
		}
	}); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (s *Session) setupMessage() (protocol.Setup, error) {
	start, err := protocol.ParseSensitivity(s.cfg.StartSensitivity)
	if err != nil {
		return protocol.Setup{}, fmt.Errorf("session: %w", err)
	}
	end, err := protocol.ParseSensitivity(s.cfg.EndSensitivity)
	if err != nil {
		return protocol.Setup{}, fmt.Errorf("session: %w", err)
	}
	return protocol.Setup{
		VoiceName: s.cfg.VoiceName,
		VAD: protocol.VADSettings{
			SilenceDurationMs: s.cfg.VADSilenceDurationMs,
			PrefixPaddingMs:   s.cfg.VADPrefixPaddingMs,
		},
		ProactiveAudio:   s.cfg.ProactiveAudio,
		AffectiveDialog:  s.cfg.AffectiveDialog,
		StartSensitivity: start,
		EndSensitivity:   end,
	}, nil
}

// Disconnect closes the agent connection. Teardown (capture stop, full turn
// reset) runs on the session goroutine once the transport reports closure.
func (s *Session) Disconnect(ctx context.Context) error {
	var conn Conn
	if err := s.do(ctx, func() { conn = s.conn }); err != nil {
		return err
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// StartRecording opens the microphone. A *capture.DeviceError leaves
// recording disabled and the rest of the session unaffected.
func (s *Session) StartRecording() error {
	if s.engine == nil {
		return ErrNoMicrophone
	}
	select {
	case <-s.quit:
		return ErrClosed
	default:
	}

	if err := s.engine.Start(); err != nil {
		s.metrics.RecordError("device", "capture")
		s.logger.Error().Err(err).Msg("Failed to start recording")
		return err
	}
	return nil
}

// StopRecording closes the microphone. It is idempotent.
func (s *Session) StopRecording() error {
	if s.engine == nil {
		return nil
	}
	return s.engine.Stop()
}

// Snapshot returns a deep copy of the presentation state.
func (s *Session) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func() {
		now := s.now()
		st = State{
			SessionID:      s.id,
			Connected:      s.conn != nil,
			Recording:      s.engine != nil && s.engine.Running(),
			Turn:           s.controller.Snapshot(now),
			Transcript:     s.aggregator.Log(),
			Metrics:        s.tracker.Snapshot(),
			ActivePlayback: s.scheduler.Active(),
			SendBreaker:    breakerState(s.breaker),
		}
		if s.engine != nil {
			st.DroppedBlocks = s.engine.DroppedBlocks()
		}
		if s.flight != nil {
			f := *s.flight
			st.Flight = &f
		}
	})
	return st, err
}

// Connected reports whether the agent connection is open.
func (s *Session) Connected(ctx context.Context) (bool, error) {
	var connected bool
	err := s.do(ctx, func() { connected = s.conn != nil })
	return connected, err
}

// AudioSendReady reports whether outbound audio is flowing, that is whether
// the send breaker is not shedding frames.
func (s *Session) AudioSendReady(ctx context.Context) (bool, error) {
	if state := s.breaker.GetState(); state == resilience.StateOpen {
		return false, fmt.Errorf("audio send breaker %s is %s", s.breaker.Name(), state)
	}
	return true, nil
}

func (s *Session) deliver(msg inbound) {
	select {
	case s.inbound <- msg:
	case <-s.quit:
	}
}

func (s *Session) notifyCompleted(id uint64) {
	select {
	case s.completions <- id:
	case <-s.quit:
	}
}

// handleBlock analyses and forwards one capture block. Without a connection
// the block is discarded: there is no agent turn to interrupt.
func (s *Session) handleBlock(block []float32) {
	if s.conn == nil {
		return
	}

	res, err := s.engine.Tick(block, s.now(), s.controller, s.conn)
	switch {
	case errors.Is(err, capture.ErrNotStarted):
		return
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, transport.ErrClosed):
		return
	case err != nil:
		s.sendErrors++
		if s.sendErrors%50 == 1 {
			s.logger.Warn().Err(err).Int("failures", s.sendErrors).Msg("Failed to send audio frame")
		}
		s.metrics.RecordError("send_audio", "transport")
		return
	}
	s.sendErrors = 0
	s.metrics.RecordAudioBytes("out", len(res.Frame)*2)
	if res.Reset {
		s.logger.Info().Float64("rms", res.RMS).Msg("User speech detected, interrupting agent")
	}
}

func (s *Session) handleAudio(data []byte) {
	s.metrics.RecordAudioBytes("in", len(data))
	if _, _, err := s.scheduler.EnqueueBytes(data, s.now()); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed audio chunk")
		s.metrics.RecordError("decode_audio", "playback")
	}
}

func (s *Session) handleEvent(ctx context.Context, ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.Transcript:
		s.aggregator.Apply(ev)
	case protocol.SubagentStart:
		s.tracker.StartInvocation(ctx, ev.Agent, ev.Args)
		s.logger.Info().Str("agent", ev.Agent).Msg("Subagent started")
	case protocol.SubagentComplete:
		s.tracker.CompleteInvocation(ev.Agent, ev.Duration, ev.Result)
		s.logger.Info().Str("agent", ev.Agent).Dur("latency", ev.Duration).Msg("Subagent completed")
	case protocol.TTFB:
		s.tracker.RecordTTFB(ev.Duration)
	case protocol.ToolResponse:
		if ev.Flight != nil {
			f := *ev.Flight
			s.flight = &f
		}
		if s.onTool != nil {
			s.onTool(ev)
		}
	case protocol.Legacy:
		s.logger.Debug().Str("role", string(ev.Role)).Msg("Ignoring legacy text message")
	}
}

// handleClosed routes a transport close. A close that overtakes the end of
// Connect is held until the connection is installed.
func (s *Session) handleClosed(c closed) {
	if c.gen != s.gen {
		return
	}
	if s.conn == nil {
		s.earlyClose = &c
		return
	}
	s.handleDisconnect(c.cause)
}

// handleDisconnect runs once per connection, whichever side closed it.
func (s *Session) handleDisconnect(cause error) {
	s.conn = nil
	s.gen++

	if err := s.StopRecording(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop recording")
	}
	s.controller.Disconnected(s.now())
	s.metrics.RecordDisconnected()

	ev := s.logger.Info()
	if cause != nil {
		ev = s.logger.Warn().Err(cause)
	}
	ev.Msg("Session disconnected")
}

func (s *Session) onReset(reason string, now time.Time) {
	s.metrics.RecordReset()
	_, span := s.tracer.Start(context.Background(), "turn.reset",
		trace.WithAttributes(
			attribute.String("turn.reset_reason", reason),
			attribute.String("session.id", s.id),
		))
	span.End()
}

// teardown releases scoped resources when Run exits.
func (s *Session) teardown() {
	if s.conn != nil {
		conn := s.conn
		_ = conn.Close()
		s.handleDisconnect(nil)
	} else if err := s.StopRecording(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop recording")
	}
	s.logger.Info().Msg("Session closed")
}
