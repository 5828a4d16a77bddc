package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupMarshalJSON(t *testing.T) {
	setup := Setup{
		VoiceName:        "Aoede",
		VAD:              VADSettings{SilenceDurationMs: 1000, PrefixPaddingMs: 300},
		ProactiveAudio:   true,
		AffectiveDialog:  true,
		StartSensitivity: SensitivityLow,
		EndSensitivity:   SensitivityHigh,
	}

	data, err := json.Marshal(setup)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"setup": {
			"voice_name": "Aoede",
			"vad_settings": {"silence_duration_ms": 1000, "prefix_padding_ms": 300},
			"proactive_audio": true,
			"affective_dialog": true,
			"start_of_speech_sensitivity": "START_SENSITIVITY_LOW",
			"end_of_speech_sensitivity": "END_SENSITIVITY_HIGH"
		}
	}`, string(data))
}

func TestParseSensitivity(t *testing.T) {
	tests := []struct {
		in   string
		want Sensitivity
	}{
		{"LOW", SensitivityLow},
		{"low", SensitivityLow},
		{"UNSPECIFIED", SensitivityUnspecified},
		{"medium", SensitivityUnspecified},
		{" HIGH ", SensitivityHigh},
	}
	for _, tt := range tests {
		got, err := ParseSensitivity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSensitivity("LOUD")
	assert.Error(t, err)
}

func TestSensitivityWireValues(t *testing.T) {
	assert.Equal(t, "START_SENSITIVITY_UNSPECIFIED", SensitivityUnspecified.StartOfSpeech())
	assert.Equal(t, "END_SENSITIVITY_LOW", SensitivityLow.EndOfSpeech())
}
