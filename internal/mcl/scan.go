package mcl

import "time"

// LaserScan is one range-sensor sweep: an ordered array of ranges plus
// the metadata needed to recover each beam's direction in the sensor
// frame.
type LaserScan struct {
	Frame          string    // Sensor frame the ranges are expressed in
	Stamp          time.Time // Acquisition time
	AngleMin       float64   // Angle of beam 0, radians
	AngleIncrement float64   // Angle between consecutive beams, radians
	RangeMin       float64   // Below this a return is invalid, metres
	RangeMax       float64   // At or above this a beam is a no-return, metres
	Ranges         []float64 // Measured ranges, metres; NaN marks a dropped beam
}

// BeamAngle returns the direction of beam i in the sensor frame.
func (s *LaserScan) BeamAngle(i int) float64 {
	return s.AngleMin + float64(i)*s.AngleIncrement
}
