// SPDX-License-Identifier: MIT
package engine

// CoverageThreshold is the percentage of server-credited watch time at which
// an item counts as complete.
const CoverageThreshold = 100.0

// Coverage is the percentage of the item duration the server has credited as
// watched, clamped to [0, 100]. It is computed from the server's watch record
// only, never from the simulated cursor.
func Coverage(watched, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	c := watched / duration * 100
	switch {
	case c > 100:
		return 100
	case c < 0:
		return 0
	}
	return c
}

// IsComplete reports whether the server-credited watch time reaches the
// coverage threshold. The server's completed flag is deliberately not an
// input: the platform sets it prematurely at times, and a flag without the
// matching coverage does not count.
func IsComplete(watched, duration float64) bool {
	return duration > 0 && Coverage(watched, duration) >= CoverageThreshold
}
