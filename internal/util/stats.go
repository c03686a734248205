package util

import (
	"fmt"
)

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// FormatCounters renders the four media byte counters on one line.
func FormatCounters(outVideo, inVideo, outAudio, inAudio uint64) string {
	return fmt.Sprintf("Video: %s↑ %s↓ | Audio: %s↑ %s↓",
		FormatBytes(float64(outVideo)),
		FormatBytes(float64(inVideo)),
		FormatBytes(float64(outAudio)),
		FormatBytes(float64(inAudio)),
	)
}
