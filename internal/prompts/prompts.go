// Package prompts manages the weighted prompt set that steers generative
// music: a fixed catalog of calming sound descriptions, each with an
// adjustable weight, a display color, and a MIDI control-channel binding.
//
// The [Synchronizer] owns the canonical prompt state and pushes the active
// subset to the live session through a coalescing rate limiter, so bursts of
// knob twists collapse into a single wire message.
package prompts

import (
	"fmt"
	"math/rand/v2"
)

// Weights live in [0, MaxWeight]. Changes smaller than WeightEpsilon are
// treated as no-ops so float jitter from UI controls never reaches the wire.
const (
	MaxWeight     = 2.0
	WeightEpsilon = 0.001
)

// MIDI control values span 0..127 and map linearly onto the weight range.
const midiMax = 127

// Prompt is one entry of the catalog with its current weight.
type Prompt struct {
	ID     string  `json:"promptId"`
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
	CC     int     `json:"cc"`
	Color  string  `json:"color"`
}

// catalogEntry is a catalog row before weights are assigned.
type catalogEntry struct {
	text  string
	color string
}

var catalog = []catalogEntry{
	{"Binaural Beats (Theta)", "#4A90E2"},
	{"Gentle Rain Sounds", "#5DA9E9"},
	{"Ocean Waves", "#46B1C9"},
	{"Forest Ambience", "#4CAF80"},
	{"Tibetan Singing Bowls", "#9B8CDE"},
	{"Ambient Drone", "#7986CB"},
	{"White Noise", "#B0BEC5"},
	{"Pink Noise", "#F48FB1"},
	{"Brown Noise", "#A1887F"},
	{"Crackling Fireplace", "#FF8A65"},
	{"Guided Meditation Aid", "#81C784"},
	{"Solfeggio Frequencies", "#BA68C8"},
}

// CatalogSize is the number of prompts in the fixed catalog.
func CatalogSize() int { return len(catalog) }

// defaultActiveCount is how many catalog entries start with a non-zero
// weight.
const defaultActiveCount = 3

// Defaults builds the full catalog with a random subset of three prompts
// activated at weight 1. Prompt IDs and control channels follow catalog
// order, so they are stable across calls.
func Defaults() []Prompt {
	active := make(map[int]bool, defaultActiveCount)
	for _, i := range rand.Perm(len(catalog))[:defaultActiveCount] {
		active[i] = true
	}

	out := make([]Prompt, len(catalog))
	for i, entry := range catalog {
		var weight float64
		if active[i] {
			weight = 1
		}
		out[i] = Prompt{
			ID:     fmt.Sprintf("prompt-%d", i),
			Text:   entry.text,
			Weight: weight,
			CC:     i,
			Color:  entry.color,
		}
	}
	return out
}
