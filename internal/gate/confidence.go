// Package gate holds the two decision gates of the ingestion pipeline: the
// confidence threshold and the per device+species cooldown.
package gate

import "math"

// Passes reports whether a detection clears the confidence threshold.
// A probability equal to the threshold passes. An absent probability passes
// only when the producer asserted the label itself; model output without a
// score never passes.
func Passes(prob *float64, threshold float64, explicitLabel bool) bool {
	if prob == nil {
		return explicitLabel
	}
	if math.IsNaN(*prob) {
		return false
	}
	return *prob >= threshold
}
