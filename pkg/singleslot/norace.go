//go:build !race

package singleslot

// RaceEnabled reports whether the race detector is active.
const RaceEnabled = false
