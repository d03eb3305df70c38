// SPDX-License-Identifier: MIT
package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoverage(t *testing.T) {
	tests := []struct {
		name     string
		watched  float64
		duration float64
		want     float64
	}{
		{"zero watch", 0, 600, 0},
		{"half", 300, 600, 50},
		{"full", 600, 600, 100},
		{"overshoot clamps", 720, 600, 100},
		{"negative watch clamps", -5, 600, 0},
		{"zero duration", 100, 0, 0},
		{"negative duration", 100, -3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Coverage(tt.watched, tt.duration), 1e-9)
		})
	}
}

func TestCoverageMonotonicInWatched(t *testing.T) {
	prev := 0.0
	for w := 0.0; w <= 700; w += 7 {
		c := Coverage(w, 600)
		assert.GreaterOrEqual(t, c, prev)
		prev = c
	}
}

func TestIsComplete(t *testing.T) {
	assert.False(t, IsComplete(599.99, 600))
	assert.True(t, IsComplete(600, 600))
	assert.True(t, IsComplete(650, 600))
	assert.False(t, IsComplete(100, 0), "unresolvable duration is never complete")
}
