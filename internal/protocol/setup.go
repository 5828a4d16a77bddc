// Package protocol defines the messages exchanged with the remote agent:
// the outbound session setup and the inbound control events.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sensitivity is the agent's speech-detection sensitivity level.
type Sensitivity int

const (
	SensitivityLow Sensitivity = iota
	SensitivityUnspecified
	SensitivityHigh
)

var sensitivityNames = map[Sensitivity]string{
	SensitivityLow:         "LOW",
	SensitivityUnspecified: "UNSPECIFIED",
	SensitivityHigh:        "HIGH",
}

// ParseSensitivity parses LOW, UNSPECIFIED (or MEDIUM) and HIGH, case-insensitively.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SensitivityLow, nil
	case "UNSPECIFIED", "MEDIUM":
		return SensitivityUnspecified, nil
	case "HIGH":
		return SensitivityHigh, nil
	}
	return SensitivityLow, fmt.Errorf("unknown sensitivity %q", s)
}

func (s Sensitivity) String() string {
	if name, ok := sensitivityNames[s]; ok {
		return name
	}
	return "UNSPECIFIED"
}

// StartOfSpeech returns the wire value for start_of_speech_sensitivity.
func (s Sensitivity) StartOfSpeech() string {
	return "START_SENSITIVITY_" + s.String()
}

// EndOfSpeech returns the wire value for end_of_speech_sensitivity.
func (s Sensitivity) EndOfSpeech() string {
	return "END_SENSITIVITY_" + s.String()
}

// VADSettings controls server-side voice activity detection.
type VADSettings struct {
	SilenceDurationMs int `json:"silence_duration_ms"`
	PrefixPaddingMs   int `json:"prefix_padding_ms"`
}

// Setup is the one-shot session configuration sent right after the
// connection opens.
type Setup struct {
	VoiceName        string
	VAD              VADSettings
	ProactiveAudio   bool
	AffectiveDialog  bool
	StartSensitivity Sensitivity
	EndSensitivity   Sensitivity
}

type setupBody struct {
	VoiceName                string      `json:"voice_name"`
	VADSettings              VADSettings `json:"vad_settings"`
	ProactiveAudio           bool        `json:"proactive_audio"`
	AffectiveDialog          bool        `json:"affective_dialog"`
	StartOfSpeechSensitivity string      `json:"start_of_speech_sensitivity"`
	EndOfSpeechSensitivity   string      `json:"end_of_speech_sensitivity"`
}

// MarshalJSON encodes the setup wrapped in its {"setup": {...}} envelope.
func (s Setup) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Setup setupBody `json:"setup"`
	}{
		Setup: setupBody{
			VoiceName:                s.VoiceName,
			VADSettings:              s.VAD,
			ProactiveAudio:           s.ProactiveAudio,
			AffectiveDialog:          s.AffectiveDialog,
			StartOfSpeechSensitivity: s.StartSensitivity.StartOfSpeech(),
			EndOfSpeechSensitivity:   s.EndSensitivity.EndOfSpeech(),
		},
	})
}
