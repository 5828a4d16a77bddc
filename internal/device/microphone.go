// Package device binds the capture engine and the playback timeline to the
// host audio hardware.
package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/rs/zerolog"
)

// Microphone captures mono float32 samples from the default input device.
type Microphone struct {
	sampleRate int
	logger     zerolog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMicrophone creates a microphone that captures at sampleRate. The device
// is not opened until Start.
func NewMicrophone(sampleRate int, logger zerolog.Logger) *Microphone {
	return &Microphone{
		sampleRate: sampleRate,
		logger:     observability.WithComponent(logger, "microphone"),
	}
}

// Start opens the input device and delivers every captured period to
// onSamples from the audio thread.
func (m *Microphone) Start(onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return nil
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, ctxConfig, func(msg string) {
		m.logger.Debug().Str("backend", msg).Msg("Audio backend message")
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			onSamples(audio.DecodeFloat32LE(input))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device
	m.logger.Info().Int("sample_rate", m.sampleRate).Msg("Microphone started")
	return nil
}

// Stop closes the input device. It is idempotent.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil
	}

	err := m.device.Stop()
	m.device.Uninit()
	m.device = nil

	if uerr := m.ctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	m.ctx.Free()
	m.ctx = nil

	m.logger.Info().Msg("Microphone stopped")
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}
