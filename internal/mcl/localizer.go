package mcl

import (
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/exp/rand"

	"github.com/banshee-data/mcl.localizer/internal/frames"
	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
)

// ErrNotLocalized reports that the particle set is empty, so no
// estimate exists. Recoverable: initialise the filter and retry.
var ErrNotLocalized = errors.New("not localized: particle set is empty")

// ErrTransformUnavailable is what Cycle errors wrap when a frame
// lookup fails; callers match it with errors.Is and retry next cycle.
var ErrTransformUnavailable = frames.ErrUnavailable

// FrameIDs names the coordinate frames the localizer operates in.
type FrameIDs struct {
	Map  string // Fixed world frame the map is expressed in
	Odom string // Drifting odometry origin
	Base string // Robot body frame
}

// LocalizerConfig bundles everything needed to run estimation cycles.
type LocalizerConfig struct {
	Frames       FrameIDs
	NumParticles int // Resampling target count

	OdomModel  OdomModelConfig
	LaserModel LaserModelConfig

	// Box used when re-initialising around a requested pose.
	InitPosHalfWidth float64 // metres each side of the request
	InitPosRes       float64
	InitYawHalfWidth float64 // radians each side of the request
	InitYawRes       float64

	// LaserHeight is the sensor mounting height above the base frame.
	// The frame service is 2D, so elevation is configuration.
	LaserHeight float64

	// Seed for the filter's random streams; 0 seeds from entropy.
	Seed uint64
}

// DefaultLocalizerConfig returns a runnable configuration with the
// frame IDs left empty.
func DefaultLocalizerConfig() LocalizerConfig {
	return LocalizerConfig{
		NumParticles:     500,
		OdomModel:        DefaultOdomModelConfig(),
		LaserModel:       DefaultLaserModelConfig(),
		InitPosHalfWidth: 0.3,
		InitPosRes:       0.05,
		InitYawHalfWidth: 0.1,
		InitYawRes:       0.05,
	}
}

// CycleStats carries per-cycle diagnostics.
type CycleStats struct {
	Duration            time.Duration
	LineCount           int
	ParticleCount       int
	EffectiveSampleSize float64
}

// CycleResult is the output of one successful estimation cycle.
type CycleResult struct {
	MeanPose  geo.Transform2 // map -> base estimate
	MapToOdom geo.Transform2 // map -> odom correction, valid when HasCorrection
	// HasCorrection is false when the odometry pose was unavailable
	// this cycle (possible right after a pose re-initialisation).
	HasCorrection bool
	Samples       []Sample // the weighted population, for diagnostics
	Stats         CycleStats
}

// Localizer owns the particle population and drives one
// predict -> weight -> resample -> estimate pass per sensor update.
// It is not safe for concurrent Cycle calls; the runtime triggers one
// cycle at a time.
type Localizer struct {
	cfg LocalizerConfig

	particles *ParticleSet
	odom      *OdomModel
	laser     *LaserModel

	source    frames.Source
	broadcast frames.Broadcaster // optional

	havePrevOdom bool
	prevOdom     geo.Transform2

	pendingPose    *geo.Transform2
	cachedSegments []worldmodel.LineSegment
	cachedRevision uint64
	haveSegments   bool

	debugLog *log.Logger
}

// NewLocalizer builds a localizer. source resolves laser-offset and
// odometry transforms; broadcast, if non-nil, receives the map->odom
// correction every successful cycle.
func NewLocalizer(cfg LocalizerConfig, source frames.Source, broadcast frames.Broadcaster) *Localizer {
	if cfg.NumParticles <= 0 {
		cfg.NumParticles = DefaultLocalizerConfig().NumParticles
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Localizer{
		cfg:       cfg,
		particles: NewParticleSetSeeded(seed),
		odom:      NewOdomModel(cfg.OdomModel, rand.NewSource(seed+1)),
		laser:     NewLaserModel(cfg.LaserModel),
		source:    source,
		broadcast: broadcast,
	}
}

// SetDebugLogger directs per-cycle timing output to the given logger.
func (l *Localizer) SetDebugLogger(logger *log.Logger) { l.debugLog = logger }

// Particles exposes the population for diagnostics and tests.
func (l *Localizer) Particles() *ParticleSet { return l.particles }

// InitUniform spreads the population uniformly over the given box and
// angle range. This moves the filter out of the uninitialised state.
func (l *Localizer) InitUniform(min, max geo.Vec2, posRes, minAngle, maxAngle, angleRes float64) {
	l.particles.InitUniform(min, max, posRes, minAngle, maxAngle, angleRes)
}

// SetPose queues a re-initialisation request around the given
// map-frame pose. The next cycle resets the population to a small
// uniform box centred there; within a cycle the most recent request
// wins.
func (l *Localizer) SetPose(pose geo.Transform2) {
	p := pose
	l.pendingPose = &p
}

// Cycle runs one estimation pass against the given world and scan.
// On recoverable failures (transform unavailable, empty particle set)
// it returns an error and leaves all persisted state unchanged.
func (l *Localizer) Cycle(world *worldmodel.World, scan *LaserScan) (*CycleResult, error) {
	started := time.Now()

	// Reject unusable scans before touching any state: once the motion
	// update runs, a failed cycle can no longer leave the belief as it
	// was.
	if scan == nil || len(scan.Ranges) == 0 {
		return nil, fmt.Errorf("sensor update: empty scan")
	}

	// Pending re-initialisation: reset the belief and report it
	// without a motion/sensor pass against the fresh population.
	if l.pendingPose != nil {
		return l.applyPendingPose(scan)
	}

	// Resolve the laser offset lazily, once.
	if !l.laser.HasLaserOffset() {
		offset, err := l.source.Lookup(l.cfg.Frames.Base, scan.Frame, scan.Stamp)
		if err != nil {
			return nil, fmt.Errorf("resolving laser offset %s -> %s: %w", l.cfg.Frames.Base, scan.Frame, err)
		}
		l.laser.SetLaserOffset(offset, l.cfg.LaserHeight)
	}

	// Relative motion since the previous cycle, from odometry.
	odomToBase, delta, err := l.odomDelta(scan.Stamp)
	if err != nil {
		return nil, err
	}

	if l.particles.Len() == 0 {
		return nil, ErrNotLocalized
	}

	segments := l.segments(world)

	l.odom.UpdatePoses(delta, l.particles)
	if err := l.laser.UpdateWeights(segments, scan, l.particles); err != nil {
		return nil, fmt.Errorf("sensor update: %w", err)
	}

	ess := l.particles.EffectiveSampleSize()
	l.particles.Resample(l.cfg.NumParticles)

	mean, ok := l.particles.MeanPose()
	if !ok {
		return nil, ErrNotLocalized
	}

	// map -> odom correction: mean is map -> base, odometry gives
	// odom -> base.
	mapToOdom := mean.Mul(odomToBase.Inverse())
	if l.broadcast != nil {
		if err := l.broadcast.Broadcast(frames.Relation{
			Parent: l.cfg.Frames.Map,
			Child:  l.cfg.Frames.Odom,
			Pose:   mapToOdom,
			Stamp:  scan.Stamp,
		}); err != nil {
			return nil, fmt.Errorf("broadcasting correction: %w", err)
		}
	}

	res := &CycleResult{
		MeanPose:      mean,
		MapToOdom:     mapToOdom,
		HasCorrection: true,
		Samples:       append([]Sample(nil), l.particles.Samples()...),
		Stats: CycleStats{
			Duration:            time.Since(started),
			LineCount:           len(segments),
			ParticleCount:       l.particles.Len(),
			EffectiveSampleSize: ess,
		},
	}

	if l.debugLog != nil {
		perSample := time.Duration(0)
		if n := res.Stats.ParticleCount; n > 0 {
			perSample = res.Stats.Duration / time.Duration(n)
		}
		l.debugLog.Printf("cycle: %d lines, %d particles, ess=%.1f, %v total, %v/sample",
			res.Stats.LineCount, res.Stats.ParticleCount, res.Stats.EffectiveSampleSize,
			res.Stats.Duration, perSample)
	}

	return res, nil
}

// applyPendingPose re-initialises the population around the requested
// pose and emits the fresh mean. The map->odom correction is included
// when odometry is resolvable, otherwise the result carries the pose
// only.
func (l *Localizer) applyPendingPose(scan *LaserScan) (*CycleResult, error) {
	req := *l.pendingPose
	l.pendingPose = nil

	yaw := req.Angle()
	l.particles.InitUniform(
		req.T.Sub(geo.Vec2{X: l.cfg.InitPosHalfWidth, Y: l.cfg.InitPosHalfWidth}),
		req.T.Add(geo.Vec2{X: l.cfg.InitPosHalfWidth, Y: l.cfg.InitPosHalfWidth}),
		l.cfg.InitPosRes,
		yaw-l.cfg.InitYawHalfWidth, yaw+l.cfg.InitYawHalfWidth,
		l.cfg.InitYawRes,
	)

	mean, ok := l.particles.MeanPose()
	if !ok {
		return nil, ErrNotLocalized
	}

	res := &CycleResult{
		MeanPose: mean,
		Samples:  append([]Sample(nil), l.particles.Samples()...),
		Stats:    CycleStats{ParticleCount: l.particles.Len()},
	}

	if odomToBase, err := l.source.Lookup(l.cfg.Frames.Odom, l.cfg.Frames.Base, scan.Stamp); err == nil {
		res.MapToOdom = mean.Mul(odomToBase.Inverse())
		res.HasCorrection = true
		l.prevOdom = odomToBase
		l.havePrevOdom = true
		if l.broadcast != nil {
			if err := l.broadcast.Broadcast(frames.Relation{
				Parent: l.cfg.Frames.Map,
				Child:  l.cfg.Frames.Odom,
				Pose:   res.MapToOdom,
				Stamp:  scan.Stamp,
			}); err != nil {
				return nil, fmt.Errorf("broadcasting correction: %w", err)
			}
		}
	}

	return res, nil
}

// odomDelta returns the current odom->base pose and the relative
// motion since the previous cycle, expressed in the base frame at the
// start of the interval.
//
// When the lookup fails but a previous reading exists, the previous
// absolute pose is reused with an identity delta: the cycle proceeds
// as if the robot did not move rather than aborting. (Treating a
// transient fault as zero motion is a deployment policy; see
// DESIGN.md.) With no previous reading the cycle aborts.
func (l *Localizer) odomDelta(stamp time.Time) (odomToBase, delta geo.Transform2, err error) {
	current, lookupErr := l.source.Lookup(l.cfg.Frames.Odom, l.cfg.Frames.Base, stamp)
	if lookupErr != nil {
		if !l.havePrevOdom {
			return geo.Transform2{}, geo.Transform2{},
				fmt.Errorf("odometry %s -> %s: %w", l.cfg.Frames.Odom, l.cfg.Frames.Base, lookupErr)
		}
		return l.prevOdom, geo.Identity(), nil
	}

	delta = geo.Identity()
	if l.havePrevOdom {
		delta = l.prevOdom.Inverse().Mul(current)
	}
	l.prevOdom = current
	l.havePrevOdom = true
	return current, delta, nil
}

// segments returns the flattened world line segments, cached until the
// world revision changes.
func (l *Localizer) segments(world *worldmodel.World) []worldmodel.LineSegment {
	rev := world.Revision()
	if !l.haveSegments || rev != l.cachedRevision {
		l.cachedSegments = world.LineSegments()
		l.cachedRevision = rev
		l.haveSegments = true
	}
	return l.cachedSegments
}
