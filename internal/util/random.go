// Package util provides utility functions for the DeskPipe application.
package util

import (
	"math/rand/v2"
	"time"
)

// Humanization bounds applied before automated replies.
const (
	// MinHumanizeDelay is the shortest pause inserted before a reply
	MinHumanizeDelay = 60 * time.Second
	// MaxHumanizeDelay is the longest pause inserted before a reply
	MaxHumanizeDelay = 420 * time.Second
)

// RandomDuration returns a duration uniformly chosen in [min, max].
// If max <= min, min is returned.
// Uses math/rand/v2; the value only needs to look irregular, not be unpredictable.
func RandomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

// HumanizeDelay returns a pause in [MinHumanizeDelay, MaxHumanizeDelay].
func HumanizeDelay() time.Duration {
	return RandomDuration(MinHumanizeDelay, MaxHumanizeDelay)
}

// PickRandom returns a uniformly chosen element of items and true,
// or the zero value and false when items is empty.
func PickRandom[T any](items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[rand.IntN(len(items))], true
}
