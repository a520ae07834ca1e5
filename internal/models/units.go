package models

import "math"

// KilogramsPerPound is the international avoirdupois pound in kilograms.
const KilogramsPerPound = 0.45359237

// WeightUnit is the unit a weight was spoken in.
type WeightUnit string

const (
	Kilograms WeightUnit = "kg"
	Pounds    WeightUnit = "lb"
)

// ToKilograms converts w from unit u to kilograms. Unknown units are treated as kilograms.
func ToKilograms(w float64, u WeightUnit) float64 {
	if u == Pounds {
		return w * KilogramsPerPound
	}
	return w
}

// RPE bounds accepted by the remote platform.
const (
	MinRPE = 6.0
	MaxRPE = 10.0
)

// NormalizeRPE clamps v into [6, 10] and rounds it to the nearest 0.5.
// Normalizing an already valid value returns it unchanged.
func NormalizeRPE(v float64) float64 {
	if math.IsNaN(v) {
		return MinRPE
	}
	v = math.Max(MinRPE, math.Min(MaxRPE, v))
	return math.Round(v*2) / 2
}

// NormalizeRPEPtr normalizes an optional RPE. NaN values are dropped.
func NormalizeRPEPtr(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	n := NormalizeRPE(*v)
	return &n
}

// RPEFromRIR converts reps-in-reserve to an RPE estimate.
func RPEFromRIR(rir float64) float64 {
	return NormalizeRPE(10 - rir)
}
