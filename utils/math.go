package utils

import (
	"math"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// ModAngDeg maps any angle in degrees into [0, 360).
func ModAngDeg(ang float64) float64 {
	a := math.Mod(math.Mod(ang, 360)+360, 360)
	// math.Mod of a tiny negative value can round back up to exactly 360.
	if a >= 360 {
		a = 0
	}
	return a
}

// WrapRad maps an angle in radians into (-pi, pi].
func WrapRad(ang float64) float64 {
	a := math.Mod(ang+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// AbsInt returns the absolute value of n.
func AbsInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Int16FromBytesBE converts two big endian bytes into a signed 16 bit integer.
func Int16FromBytesBE(bytes []byte) int16 {
	return int16(uint16(bytes[0])<<8 | uint16(bytes[1]))
}

// Uint16FromBytesBE converts two big endian bytes into an unsigned 16 bit integer.
func Uint16FromBytesBE(bytes []byte) uint16 {
	return uint16(bytes[0])<<8 | uint16(bytes[1])
}
