package mcl

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mcl.localizer/internal/frames"
	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
)

var testFrames = FrameIDs{Map: "map", Odom: "odom", Base: "base"}

// flakySource wraps a frame tree and can be told to fail lookups,
// simulating a transform service outage.
type flakySource struct {
	tree *frames.Tree
	fail bool
}

func (f *flakySource) Lookup(parent, child string, stamp time.Time) (geo.Transform2, error) {
	if f.fail {
		return geo.Transform2{}, frames.ErrUnavailable
	}
	return f.tree.Lookup(parent, child, stamp)
}

func testWorld(t *testing.T, w, h float64) *worldmodel.World {
	t.Helper()
	world := worldmodel.NewWorld()
	world.SetEntity(worldmodel.Entity{
		ID:    "room",
		Pose:  geo.Identity(),
		Shape: boxRoom(w, h),
	})
	return world
}

func testTree(t *testing.T, odomToBase geo.Transform2) *frames.Tree {
	t.Helper()
	tree := frames.NewTree()
	require.NoError(t, tree.Broadcast(frames.Relation{
		Parent: "odom", Child: "base", Pose: odomToBase,
	}))
	require.NoError(t, tree.Broadcast(frames.Relation{
		Parent: "base", Child: "laser", Pose: geo.Identity(),
	}))
	return tree
}

func testLocalizerConfig() LocalizerConfig {
	cfg := DefaultLocalizerConfig()
	cfg.Frames = testFrames
	cfg.NumParticles = 200
	cfg.Seed = 99
	cfg.LaserModel.BeamStep = 4
	cfg.LaserModel.NumWorkers = 2
	// Keep the prediction tight so a single stationary cycle stays
	// comparable to the noise-free scan.
	cfg.OdomModel = OdomModelConfig{}
	return cfg
}

func TestCycleEmptySetReportsNotLocalized(t *testing.T) {
	t.Parallel()

	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	world := testWorld(t, 6, 4)
	tree := testTree(t, truth)
	scan := simulateScan(truth, world.LineSegments(), 180, 10)

	loc := NewLocalizer(testLocalizerConfig(), tree, tree)
	_, err := loc.Cycle(world, scan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotLocalized))
}

func TestCycleAbortsWhenLaserOffsetUnresolvable(t *testing.T) {
	t.Parallel()

	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	world := testWorld(t, 6, 4)
	scan := simulateScan(truth, world.LineSegments(), 180, 10)

	src := &flakySource{tree: testTree(t, truth), fail: true}
	loc := NewLocalizer(testLocalizerConfig(), src, nil)
	loc.InitUniform(geo.Vec2{X: 1, Y: 1}, geo.Vec2{X: 3, Y: 3}, 0.5, 0, 0, 1)

	before := append([]Sample(nil), loc.Particles().Samples()...)

	_, err := loc.Cycle(world, scan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, frames.ErrUnavailable))

	// State unchanged; the next cycle retries.
	assert.Equal(t, before, loc.Particles().Samples())

	src.fail = false
	_, err = loc.Cycle(world, scan)
	require.NoError(t, err)
}

func TestCycleRejectsEmptyScanBeforeMutatingState(t *testing.T) {
	t.Parallel()

	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	world := testWorld(t, 6, 4)
	tree := testTree(t, truth)

	loc := NewLocalizer(testLocalizerConfig(), tree, tree)
	loc.InitUniform(geo.Vec2{X: 1, Y: 1}, geo.Vec2{X: 3, Y: 3}, 0.5, 0, 0, 1)
	before := append([]Sample(nil), loc.Particles().Samples()...)

	empty := &LaserScan{Frame: "laser", Stamp: time.Now(), RangeMax: 10}
	_, err := loc.Cycle(world, empty)
	require.Error(t, err)

	// No motion, weighting, or resampling happened.
	require.Equal(t, before, loc.Particles().Samples())

	// The next cycle with a real scan runs a full pass.
	scan := simulateScan(truth, world.LineSegments(), 180, 10)
	res, err := loc.Cycle(world, scan)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Stats.ParticleCount)
}

func TestCycleOdomOutageFallsBackToZeroMotion(t *testing.T) {
	t.Parallel()

	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	world := testWorld(t, 6, 4)
	scan := simulateScan(truth, world.LineSegments(), 180, 10)

	src := &flakySource{tree: testTree(t, truth)}
	loc := NewLocalizer(testLocalizerConfig(), src, nil)
	loc.InitUniform(geo.Vec2{X: 1, Y: 1}, geo.Vec2{X: 3, Y: 3}, 0.5, 0, 0, 1)

	// First cycle records the absolute odom pose.
	_, err := loc.Cycle(world, scan)
	require.NoError(t, err)

	// Outage: the cycle proceeds on the previous pose with an
	// identity delta instead of aborting.
	src.fail = true
	res, err := loc.Cycle(world, scan)
	require.NoError(t, err)
	assert.True(t, res.HasCorrection)
}

func TestCycleOdomOutageWithNoHistoryAborts(t *testing.T) {
	t.Parallel()

	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	world := testWorld(t, 6, 4)
	scan := simulateScan(truth, world.LineSegments(), 180, 10)

	src := &flakySource{tree: testTree(t, truth)}
	loc := NewLocalizer(testLocalizerConfig(), src, nil)
	loc.InitUniform(geo.Vec2{X: 1, Y: 1}, geo.Vec2{X: 3, Y: 3}, 0.5, 0, 0, 1)

	// Resolve the laser offset first so the odom lookup is what fails.
	_, err := loc.Cycle(world, scan)
	require.NoError(t, err)

	fresh := NewLocalizer(testLocalizerConfig(), src, nil)
	fresh.InitUniform(geo.Vec2{X: 1, Y: 1}, geo.Vec2{X: 3, Y: 3}, 0.5, 0, 0, 1)
	// Laser offset resolves, then odometry fails with no history.
	srcAfterOffset := &offsetThenFail{tree: src.tree}
	fresh.source = srcAfterOffset

	_, err = fresh.Cycle(world, scan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, frames.ErrUnavailable))
}

// offsetThenFail resolves base->laser lookups but fails odometry.
type offsetThenFail struct {
	tree *frames.Tree
}

func (o *offsetThenFail) Lookup(parent, child string, stamp time.Time) (geo.Transform2, error) {
	if parent == "base" {
		return o.tree.Lookup(parent, child, stamp)
	}
	return geo.Transform2{}, frames.ErrUnavailable
}

func TestCycleConvergesOnTruePose(t *testing.T) {
	t.Parallel()

	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	world := testWorld(t, 6, 4)
	tree := testTree(t, truth)
	scan := simulateScan(truth, world.LineSegments(), 360, 10)

	loc := NewLocalizer(testLocalizerConfig(), tree, tree)

	// Uniform grid across the room; the truth pose is a lattice point.
	loc.InitUniform(geo.Vec2{X: 0.5, Y: 0.5}, geo.Vec2{X: 5.5, Y: 3.5}, 0.5, 0, 0, 1)
	initial := loc.Particles().Len()

	res, err := loc.Cycle(world, scan)
	require.NoError(t, err)
	require.Equal(t, 200, res.Stats.ParticleCount)

	// The population concentrates: far fewer distinct poses survive
	// resampling than the initial spread.
	distinct := map[geo.Transform2]bool{}
	for _, s := range res.Samples {
		distinct[s.Pose] = true
	}
	assert.Less(t, len(distinct), initial/4)

	// And the mean lands on the true pose.
	assert.InDelta(t, truth.T.X, res.MeanPose.T.X, 0.3)
	assert.InDelta(t, truth.T.Y, res.MeanPose.T.Y, 0.3)
	assert.InDelta(t, 0, res.MeanPose.Angle(), 0.1)

	// The correction maps odom onto map: here odom == truth, so the
	// correction is near identity.
	require.True(t, res.HasCorrection)
	assert.InDelta(t, 0, res.MapToOdom.T.Norm(), 0.3)

	// Published for downstream consumers.
	mapToOdom, err := tree.Lookup("map", "odom", scan.Stamp)
	require.NoError(t, err)
	assert.InDelta(t, res.MapToOdom.T.X, mapToOdom.T.X, 1e-9)
}

func TestCycleMotionTracking(t *testing.T) {
	t.Parallel()

	world := testWorld(t, 6, 4)
	start := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	tree := testTree(t, start)
	loc := NewLocalizer(testLocalizerConfig(), tree, tree)
	loc.InitUniform(geo.Vec2{X: 1.5, Y: 1.5}, geo.Vec2{X: 2.5, Y: 2.5}, 0.25, 0, 0, 1)

	scan := simulateScan(start, world.LineSegments(), 360, 10)
	_, err := loc.Cycle(world, scan)
	require.NoError(t, err)

	// Robot advances 0.5m; odometry and the scan agree.
	moved := geo.NewTransform2(geo.Vec2{X: 2.5, Y: 2}, 0)
	require.NoError(t, tree.Broadcast(frames.Relation{Parent: "odom", Child: "base", Pose: moved}))
	scan2 := simulateScan(moved, world.LineSegments(), 360, 10)

	res, err := loc.Cycle(world, scan2)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, res.MeanPose.T.X, 0.3)
	assert.InDelta(t, 2.0, res.MeanPose.T.Y, 0.3)
}

func TestSetPoseReinitialisesBelief(t *testing.T) {
	t.Parallel()

	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	world := testWorld(t, 6, 4)
	tree := testTree(t, truth)
	scan := simulateScan(truth, world.LineSegments(), 180, 10)

	loc := NewLocalizer(testLocalizerConfig(), tree, tree)
	loc.InitUniform(geo.Vec2{}, geo.Vec2{X: 6, Y: 4}, 0.5, 0, 0, 1)

	request := geo.NewTransform2(geo.Vec2{X: 4, Y: 1}, 0.5)
	loc.SetPose(request)
	// Most recent request wins within a cycle.
	request = geo.NewTransform2(geo.Vec2{X: 4, Y: 1.5}, 0.5)
	loc.SetPose(request)

	res, err := loc.Cycle(world, scan)
	require.NoError(t, err)

	// The belief is a small box around the request.
	assert.InDelta(t, request.T.X, res.MeanPose.T.X, 0.05)
	assert.InDelta(t, request.T.Y, res.MeanPose.T.Y, 0.05)
	assert.InDelta(t, request.Angle(), res.MeanPose.Angle(), 0.05)

	for _, s := range res.Samples {
		assert.InDelta(t, request.T.X, s.Pose.T.X, 0.31)
		assert.InDelta(t, request.T.Y, s.Pose.T.Y, 0.31)
	}

	// The next cycle runs the full pass again.
	res2, err := loc.Cycle(world, scan)
	require.NoError(t, err)
	assert.Equal(t, 200, res2.Stats.ParticleCount)
}
