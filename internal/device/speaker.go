package device

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/playback"
	"github.com/rs/zerolog"
)

// Speaker plays a timeline through the default output device. The oto
// player pulls from the timeline, so the timeline clock follows the
// hardware.
type Speaker struct {
	ctx    *oto.Context
	player *oto.Player
	logger zerolog.Logger
}

// NewSpeaker opens the output device at the timeline rate and starts
// playback.
func NewSpeaker(tl *playback.Timeline, logger zerolog.Logger) (*Speaker, error) {
	return newSpeaker(tl, tl.SampleRate(), logger)
}

func newSpeaker(src io.Reader, sampleRate int, logger zerolog.Logger) (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(src)
	player.Play()

	s := &Speaker{
		ctx:    ctx,
		player: player,
		logger: observability.WithComponent(logger, "speaker"),
	}
	s.logger.Info().Int("sample_rate", sampleRate).Msg("Speaker started")
	return s, nil
}

// Close stops playback.
func (s *Speaker) Close() error {
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("close speaker: %w", err)
	}
	return nil
}

// Drain advances the timeline in real time without an output device, so
// scheduled chunks still complete on hosts with no speaker. It returns when
// ctx is done.
func Drain(ctx context.Context, tl *playback.Timeline, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	buf := make([]float32, samplesPer(period, tl.SampleRate()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tl.Render(buf)
		}
	}
}

func samplesPer(period time.Duration, rate int) int {
	n := int(int64(period) * int64(rate) / int64(time.Second))
	return max(n, 1)
}
