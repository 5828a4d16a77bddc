// Package transport owns the persistent websocket connection to the agent.
// Outbound it carries the setup message and PCM16 audio frames; inbound it
// splits binary audio chunks from JSON control events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/protocol"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	closeGracePeriod    = time.Second
)

// Options configures a Session. Handlers are fixed at Open so the read
// goroutine never races a late registration.
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Retry        *resilience.RetryConfig
	Header       http.Header

	// SendBreaker guards audio writes. Nil disables it.
	SendBreaker *resilience.CircuitBreaker

	Logger zerolog.Logger

	// OnBinary receives every inbound binary payload in arrival order.
	OnBinary func(data []byte)
	// OnControl receives every decoded control event in arrival order.
	// Unknown event types are dropped before reaching it.
	OnControl func(ev protocol.Event)
	// OnClose is the teardown hook. It runs exactly once, with a nil cause
	// for a local Close and the read error for a remote close.
	OnClose func(cause error)
}

// Session is an open connection to the agent.
type Session struct {
	conn   *websocket.Conn
	opts   Options
	logger zerolog.Logger

	writeMu   sync.Mutex
	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Open dials the agent and starts the read loop. Failures are returned as
// *ConnectionError. Transient dial failures are retried per opts.Retry;
// once a session has been established it is never re-dialed.
func Open(ctx context.Context, url string, opts Options) (*Session, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	ctx, span := observability.Tracer().Start(ctx, "transport.open")
	defer span.End()
	span.SetAttributes(attribute.String("agent.url", url))

	logger := observability.WithComponent(opts.Logger, "transport")
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.DialTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	retry := opts.Retry
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	cfg := *retry
	userOnRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("Agent dial failed, retrying")
		if userOnRetry != nil {
			userOnRetry(attempt, err, wait)
		}
	}

	var conn *websocket.Conn
	attempts := 0
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempts++
		dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()

		c, resp, err := dialer.DialContext(dialCtx, url, opts.Header)
		if err != nil {
			if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
				hs := &HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status}
				if hs.Temporary() {
					return resilience.NewRetryableError(hs)
				}
				return hs
			}
			return err
		}
		conn = c
		return nil
	}, &cfg, isRetryableDial)

	span.SetAttributes(attribute.Int("dial.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, &ConnectionError{URL: url, Attempts: attempts, Err: err}
	}

	s := &Session{
		conn:   conn,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.connected.Store(true)

	go s.readLoop()

	logger.Info().Str("url", url).Int("attempts", attempts).Msg("Agent connection established")
	return s, nil
}

func isRetryableDial(err error) bool {
	var hs *HandshakeError
	if errors.As(err, &hs) && !resilience.IsRetryable(err) {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}

// Connected reports whether the session is still open.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendControl writes v as a JSON text frame.
func (s *Session) SendControl(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal control message: %w", err)
	}
	return s.write(websocket.TextMessage, data)
}

// SendAudio writes one frame of signed 16-bit samples as little-endian PCM.
// While the send breaker is open frames are rejected with
// resilience.ErrCircuitOpen without touching the socket.
func (s *Session) SendAudio(frame []int16) error {
	if !s.connected.Load() {
		return ErrClosed
	}
	data := audio.EncodePCM16LE(frame)
	if s.opts.SendBreaker == nil {
		return s.write(websocket.BinaryMessage, data)
	}

	var closed bool
	err := s.opts.SendBreaker.Call(func() error {
		err := s.write(websocket.BinaryMessage, data)
		if errors.Is(err, ErrClosed) {
			// a closed session is not a sink failure
			closed = true
			return nil
		}
		return err
	})
	if closed {
		return ErrClosed
	}
	return err
}

// write sends one frame. A failed write leaves the connection unusable, so
// it shuts the session down and runs the teardown hook with the write error.
func (s *Session) write(messageType int, data []byte) error {
	if !s.connected.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err == nil {
		err = s.conn.WriteMessage(messageType, data)
	}
	s.writeMu.Unlock()

	if err == nil {
		return nil
	}
	if !s.connected.Load() {
		return ErrClosed
	}
	s.logger.Warn().Err(err).Msg("WebSocket write failed, closing connection")
	s.shutdown(err)
	return fmt.Errorf("transport: write: %w", err)
}

// readLoop owns the read side of the connection until it fails or the
// session is closed.
func (s *Session) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.connected.Load() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				s.logger.Info().Err(err).Msg("Agent closed the connection")
			}
			s.shutdown(err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if s.opts.OnBinary != nil {
				s.opts.OnBinary(data)
			}
		case websocket.TextMessage:
			s.dispatchControl(data)
		}
	}
}

func (s *Session) dispatchControl(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed control message")
		return
	}
	if unknown, ok := ev.(protocol.Unknown); ok {
		s.logger.Debug().Str("type", unknown.Type).Msg("Ignoring unknown control message")
		return
	}
	if s.opts.OnControl != nil {
		s.opts.OnControl(ev)
	}
}

// Close shuts the session down. It is safe to call more than once and from
// any goroutine; only the first call runs the teardown hook.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.connected.Store(false)

		if cause == nil {
			s.writeMu.Lock()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
			s.writeMu.Unlock()
		}
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Error closing connection")
		}

		close(s.done)
		if s.opts.OnClose != nil {
			s.opts.OnClose(cause)
		}
	})
}
