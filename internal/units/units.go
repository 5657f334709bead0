// Package units converts between the interchange units used at the
// edges of the system and the SI units everything internal runs on
// (metres, radians).
package units

import "math"

// Angle unit identifiers accepted on tool flags and map properties.
const (
	Radians = "rad"
	Degrees = "deg"
)

// Deg2Rad converts degrees to radians.
func Deg2Rad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Rad2Deg converts radians to degrees.
func Rad2Deg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// ParseAngle converts a value in the named unit to radians. Unknown
// units are treated as radians.
func ParseAngle(value float64, unit string) float64 {
	if unit == Degrees {
		return Deg2Rad(value)
	}
	return value
}

// MM2M converts millimetres (common in range-sensor payloads) to metres.
func MM2M(mm float64) float64 {
	return mm / 1000
}

// M2MM converts metres to millimetres.
func M2MM(m float64) float64 {
	return m * 1000
}
