package audio

import (
	"math"
	"testing"
	"time"
)

func TestFloatToPCM16(t *testing.T) {
	got := FloatToPCM16([]float32{0, 1, -1, 0.5, 2, -3})
	want := []int16{0, 32767, -32767, 16383, 32767, -32767}

	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestPCM16ToFloat(t *testing.T) {
	got := PCM16ToFloat([]int16{0, -32768, 16384, 32767})

	if got[0] != 0 {
		t.Errorf("Expected 0, got %v", got[0])
	}
	if got[1] != -1 {
		t.Errorf("Expected -1, got %v", got[1])
	}
	if got[2] != 0.5 {
		t.Errorf("Expected 0.5, got %v", got[2])
	}
	if got[3] >= 1 {
		t.Errorf("Expected max sample below 1, got %v", got[3])
	}
}

func TestPCM16LE_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 258}
	data := EncodePCM16LE(samples)

	if len(data) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(data))
	}
	// 258 = 0x0102, little-endian
	if data[10] != 0x02 || data[11] != 0x01 {
		t.Errorf("Expected little-endian bytes [0x02 0x01], got [%#x %#x]", data[10], data[11])
	}

	decoded, err := DecodePCM16LE(data)
	if err != nil {
		t.Fatalf("DecodePCM16LE failed: %v", err)
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestDecodePCM16LE_OddLength(t *testing.T) {
	if _, err := DecodePCM16LE([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	data := make([]byte, 0, 9)
	for _, v := range []float32{0.25, -1} {
		bits := math.Float32bits(v)
		data = append(data, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	data = append(data, 0xff) // trailing partial sample

	got := DecodeFloat32LE(data)
	if len(got) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(got))
	}
	if got[0] != 0.25 || got[1] != -1 {
		t.Errorf("Expected [0.25 -1], got %v", got)
	}
}

func TestRMS(t *testing.T) {
	silence := make([]float32, 100)
	if rms := RMS(silence); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for silence, got %f", rms)
	}

	full := []float32{1, -1, 1, -1}
	if rms := RMS(full); math.Abs(rms-1.0) > 1e-9 {
		t.Errorf("Expected RMS 1.0 for full-scale square wave, got %f", rms)
	}

	if rms := RMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for empty block, got %f", rms)
	}
}

func TestSamplesDuration(t *testing.T) {
	if d := SamplesDuration(24000, 24000); d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
	if d := SamplesDuration(2048, 16000); d != 128*time.Millisecond {
		t.Errorf("Expected 128ms, got %v", d)
	}
	if d := SamplesDuration(100, 0); d != 0 {
		t.Errorf("Expected 0 for invalid rate, got %v", d)
	}
}
