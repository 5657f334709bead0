package bus

import (
	"time"

	"github.com/banshee-data/mcl.localizer/internal/frames"
	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/mcl"
)

// ScanMessage is the wire form of one laser sweep.
type ScanMessage struct {
	SessionID      string    `json:"session_id,omitempty"`
	Frame          string    `json:"frame"`
	StampUnixNanos int64     `json:"stamp_unix_nanos"`
	AngleMin       float64   `json:"angle_min"`
	AngleIncrement float64   `json:"angle_increment"`
	RangeMin       float64   `json:"range_min"`
	RangeMax       float64   `json:"range_max"`
	Ranges         []float64 `json:"ranges"`
}

// ToLaserScan converts the wire form into the filter's scan type.
func (m *ScanMessage) ToLaserScan() *mcl.LaserScan {
	return &mcl.LaserScan{
		Frame:          m.Frame,
		Stamp:          time.Unix(0, m.StampUnixNanos),
		AngleMin:       m.AngleMin,
		AngleIncrement: m.AngleIncrement,
		RangeMin:       m.RangeMin,
		RangeMax:       m.RangeMax,
		Ranges:         m.Ranges,
	}
}

// TransformMessage is one frame relation update, typically the
// odometry integrator reporting odom -> base or a static calibration
// like base -> laser.
type TransformMessage struct {
	Parent         string  `json:"parent"`
	Child          string  `json:"child"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Yaw            float64 `json:"yaw"`
	StampUnixNanos int64   `json:"stamp_unix_nanos"`
}

// Relation converts the wire form into a frame relation.
func (m *TransformMessage) Relation() frames.Relation {
	return frames.Relation{
		Parent: m.Parent,
		Child:  m.Child,
		Pose:   geo.NewTransform2(geo.Vec2{X: m.X, Y: m.Y}, m.Yaw),
		Stamp:  time.Unix(0, m.StampUnixNanos),
	}
}

// SetPoseMessage asks the localizer to re-initialise its belief around
// a map-frame pose.
type SetPoseMessage struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Pose returns the requested pose as a transform.
func (m *SetPoseMessage) Pose() geo.Transform2 {
	return geo.NewTransform2(geo.Vec2{X: m.X, Y: m.Y}, m.Yaw)
}

// PoseMessage is the published estimate for one cycle.
type PoseMessage struct {
	SessionID      string  `json:"session_id"`
	StampUnixNanos int64   `json:"stamp_unix_nanos"`
	Frame          string  `json:"frame"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Yaw            float64 `json:"yaw"`

	// map -> odom correction, present when odometry was resolvable.
	HasCorrection bool    `json:"has_correction"`
	CorrectionX   float64 `json:"correction_x,omitempty"`
	CorrectionY   float64 `json:"correction_y,omitempty"`
	CorrectionYaw float64 `json:"correction_yaw,omitempty"`
}

// ParticleMessage is one pose hypothesis in a diagnostics snapshot.
type ParticleMessage struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Yaw    float64 `json:"yaw"`
	Weight float64 `json:"weight"`
}

// ParticlesMessage is the full weighted population, published for
// visualization. Write-only diagnostics, never read back.
type ParticlesMessage struct {
	SessionID      string            `json:"session_id"`
	StampUnixNanos int64             `json:"stamp_unix_nanos"`
	Frame          string            `json:"frame"`
	Particles      []ParticleMessage `json:"particles"`
}
