package playback

import "math"

// BassScale normalizes the lowest-bin magnitude into [0,1].
const BassScale = 65.0

// bassDecay weights the previous level in the moving average.
const bassDecay = 0.8

// InstantBass returns the normalized magnitude of the lowest non-DC bin of an interleaved
// FFT frame. ok is false for frames too short to carry that bin.
func InstantBass(frame []float64) (level float64, ok bool) {
	if len(frame) < 4 {
		return 0, false
	}
	mag := math.Hypot(frame[2], frame[3]) / BassScale
	return math.Max(0, math.Min(1, mag)), true
}

// SmoothBass applies the exponential moving average level*0.8 + instant*0.2.
func SmoothBass(level, instant float64) float64 {
	return level*bassDecay + instant*(1-bassDecay)
}
