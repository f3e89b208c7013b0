//go:build race

package singleslot

// RaceEnabled reports whether the race detector is active. The control word
// is driven by atomix, whose acquire/release ordering the detector cannot
// observe, so concurrent tests of this package skip themselves when it is set.
const RaceEnabled = true
