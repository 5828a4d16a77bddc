package audio

// DefaultSpeechThreshold is the normalized RMS level above which a capture
// block is treated as the user speaking.
const DefaultSpeechThreshold = 0.1

// EnergyDetector flags capture blocks loud enough to count as speech.
type EnergyDetector struct {
	Threshold float64
}

// NewEnergyDetector creates a detector; a non-positive threshold falls back
// to DefaultSpeechThreshold.
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultSpeechThreshold
	}
	return &EnergyDetector{Threshold: threshold}
}

// Process returns the block energy and whether it exceeds the threshold.
// The comparison is strict: a block exactly at the threshold is not speech.
func (d *EnergyDetector) Process(samples []float32) (float64, bool) {
	rms := RMS(samples)
	return rms, rms > d.Threshold
}
