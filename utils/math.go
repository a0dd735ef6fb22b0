// Package utils contains small shared helpers for angles, clamping, and timing.
package utils

import "math"

func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// AngleDiffDeg returns the closest difference from the two given
// angles. The arguments are commutative.
func AngleDiffDeg(a1, a2 float64) float64 {
	return float64(180) - math.Abs(math.Abs(a1-a2)-float64(180))
}

// ModAngDeg maps an angle into [0,360).
func ModAngDeg(ang float64) float64 {
	return math.Mod(math.Mod(ang, 360)+360, 360)
}

// NormalizeAngleDeg maps an angle into (-180,180].
func NormalizeAngleDeg(ang float64) float64 {
	ang = math.Mod(ang, 360)
	if ang > 180 {
		ang -= 360
	} else if ang <= -180 {
		ang += 360
	}
	return ang
}

func AbsInt(n int) int {
	if n < 0 {
		return -1 * n
	}
	return n
}

func AbsInt64(n int64) int64 {
	if n < 0 {
		return -1 * n
	}
	return n
}

func ClampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func ClampF64(n, min, max float64) float64 {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// ScaleByPct scales a max number by a floating point percentage between two bounds [0, n].
func ScaleByPct(n int, pct float64) int {
	scaled := int(float64(n) * pct)
	if scaled < 0 {
		scaled = 0
	} else if scaled > n {
		scaled = n
	}
	return scaled
}
