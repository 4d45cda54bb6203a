package reply

import (
	"math/rand"
	"sync"
	"time"
)

// Style is the shape requested from the model for one turn
type Style string

const (
	StyleInquire Style = "inquire"
	StyleTip     Style = "tip"
	StyleStory   Style = "story"
)

var styles = []Style{StyleInquire, StyleTip, StyleStory}

var baseWeights = map[Style]float64{
	StyleInquire: 0.45,
	StyleTip:     0.35,
	StyleStory:   0.20,
}

var styleInstructions = map[Style]string{
	StyleInquire: "For this turn: reflect briefly, then ask one gentle, specific question.",
	StyleTip:     "For this turn: reflect briefly, then give one concrete technique the user can try right now. End with a statement, not a question.",
	StyleStory:   "For this turn: share a two-sentence example of someone handling something similar, then one practical takeaway.",
}

// styleWeights biases selection away from the previous style. After a tip
// or a story the model is nudged back toward asking.
func styleWeights(last Style) map[Style]float64 {
	w := make(map[Style]float64, len(baseWeights))
	for s, v := range baseWeights {
		w[s] = v
	}
	if last == StyleTip || last == StyleStory {
		w[StyleInquire] += 0.25
	}
	if _, ok := w[last]; ok {
		w[last] *= 0.5
	}
	return w
}

// lockedRand is a seedable random source safe for concurrent composers
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// newLockedRand seeds from the clock when seed is 0
func newLockedRand(seed int64) *lockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *lockedRand) pickStyle(last Style) Style {
	w := styleWeights(last)
	total := 0.0
	for _, s := range styles {
		total += w[s]
	}
	x := r.Float64() * total
	for _, s := range styles {
		x -= w[s]
		if x < 0 {
			return s
		}
	}
	return styles[len(styles)-1]
}
