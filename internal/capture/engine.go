// Package capture turns microphone callbacks into fixed-size PCM16 frames
// for the agent and flags loud blocks as user speech.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/rs/zerolog"
)

// ErrNotStarted is returned by Tick for blocks that arrive while the engine
// is stopped.
var ErrNotStarted = errors.New("capture: engine not started")

// DeviceError reports that the capture device could not be opened, most
// often because microphone access was denied.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Device is a mono float32 sample source. Start delivers samples to
// onSamples from the device's own goroutine until Stop returns.
type Device interface {
	Start(onSamples func(samples []float32)) error
	Stop() error
}

// Gate is told about every block loud enough to be speech. It decides
// whether that interrupts the agent and reports whether a reset happened.
type Gate interface {
	SpeechDetected(now time.Time) bool
}

// Sink accepts outbound audio frames.
type Sink interface {
	SendAudio(frame []int16) error
}

// Config holds capture parameters.
type Config struct {
	BlockSize       int
	SpeechThreshold float64
	// QueueDepth bounds the blocks waiting for the session loop.
	QueueDepth int
}

// TickResult describes one processed block.
type TickResult struct {
	RMS    float64
	Speech bool
	Reset  bool
	Frame  []int16
}

// Engine owns the capture device lifecycle and per-block processing.
// Start, Stop and the device callback may run on any goroutine; Tick is
// meant for the single session loop that consumes Blocks.
type Engine struct {
	device    Device
	detector  *audio.EnergyDetector
	ring      *audio.RingBuffer
	blockSize int
	blocks    chan []float32
	logger    zerolog.Logger

	mu      sync.Mutex
	running atomic.Bool

	droppedBlocks atomic.Int64
}

// NewEngine creates an engine around device.
func NewEngine(device Device, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 2048
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	return &Engine{
		device:    device,
		detector:  audio.NewEnergyDetector(cfg.SpeechThreshold),
		ring:      audio.NewRingBuffer(cfg.BlockSize*8 + 1),
		blockSize: cfg.BlockSize,
		blocks:    make(chan []float32, cfg.QueueDepth),
		logger:    observability.WithComponent(logger, "capture"),
	}
}

// Blocks delivers fixed-size sample blocks in capture order.
func (e *Engine) Blocks() <-chan []float32 {
	return e.blocks
}

// Running reports whether the device is open.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// DroppedBlocks returns how many blocks were discarded because the session
// loop fell behind.
func (e *Engine) DroppedBlocks() int64 {
	return e.droppedBlocks.Load()
}

// Start opens the capture device. A failure is returned as *DeviceError and
// leaves the engine stopped. Starting a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil
	}

	e.ring.Clear()
	e.running.Store(true)
	if err := e.device.Start(e.onSamples); err != nil {
		e.running.Store(false)
		return &DeviceError{Op: "start", Err: err}
	}

	e.logger.Info().Int("block_size", e.blockSize).Msg("Capture started")
	return nil
}

// Stop closes the capture device. It is idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Swap(false) {
		return nil
	}

	err := e.device.Stop()
	e.ring.Clear()
	e.drain()
	if err != nil {
		return &DeviceError{Op: "stop", Err: err}
	}

	e.logger.Info().Msg("Capture stopped")
	return nil
}

// drain discards blocks queued before Stop.
func (e *Engine) drain() {
	for {
		select {
		case <-e.blocks:
		default:
			return
		}
	}
}

// onSamples runs on the device goroutine. It re-blocks arbitrary callback
// sizes into blockSize chunks and never blocks the device.
func (e *Engine) onSamples(samples []float32) {
	if !e.running.Load() {
		return
	}

	for len(samples) > 0 {
		n := e.ring.Write(samples)
		samples = samples[n:]

		for e.ring.Available() >= e.blockSize {
			block := make([]float32, e.blockSize)
			if e.ring.Read(block) < e.blockSize {
				// cleared by Stop
				return
			}
			select {
			case e.blocks <- block:
			default:
				if e.droppedBlocks.Add(1)%50 == 1 {
					e.logger.Warn().Int64("dropped", e.droppedBlocks.Load()).Msg("Capture queue full, dropping block")
				}
			}
		}
	}
}

// Tick processes one block: measures its energy, reports speech to gate and
// converts it to a PCM16 frame for sink. The frame is sent whether or not the
// gate reset the turn. A nil sink skips sending.
func (e *Engine) Tick(block []float32, now time.Time, gate Gate, sink Sink) (TickResult, error) {
	if !e.running.Load() {
		return TickResult{}, ErrNotStarted
	}

	var res TickResult
	res.RMS, res.Speech = e.detector.Process(block)
	if res.Speech && gate != nil {
		res.Reset = gate.SpeechDetected(now)
	}

	res.Frame = audio.FloatToPCM16(block)
	if sink == nil {
		return res, nil
	}
	if err := sink.SendAudio(res.Frame); err != nil {
		return res, fmt.Errorf("capture: send frame: %w", err)
	}
	return res, nil
}
