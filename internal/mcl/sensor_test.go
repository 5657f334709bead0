package mcl

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
)

// boxRoom returns the walls of an axis-aligned rectangular room.
func boxRoom(w, h float64) []worldmodel.LineSegment {
	return []worldmodel.LineSegment{
		{Start: geo.Vec2{}, End: geo.Vec2{X: w}},
		{Start: geo.Vec2{X: w}, End: geo.Vec2{X: w, Y: h}},
		{Start: geo.Vec2{X: w, Y: h}, End: geo.Vec2{Y: h}},
		{Start: geo.Vec2{Y: h}, End: geo.Vec2{}},
	}
}

// simulateScan ray-casts a noise-free scan from the given sensor pose.
func simulateScan(pose geo.Transform2, segments []worldmodel.LineSegment, beams int, rangeMax float64) *LaserScan {
	scan := &LaserScan{
		Frame:          "laser",
		Stamp:          time.Now(),
		AngleMin:       -math.Pi,
		AngleIncrement: 2 * math.Pi / float64(beams),
		RangeMin:       0.05,
		RangeMax:       rangeMax,
		Ranges:         make([]float64, beams),
	}
	base := pose.Angle()
	for i := 0; i < beams; i++ {
		dir := base + scan.BeamAngle(i)
		d, hit := castRay(pose.T, geo.Vec2{X: math.Cos(dir), Y: math.Sin(dir)}, rangeMax, segments)
		if hit {
			scan.Ranges[i] = d
		} else {
			scan.Ranges[i] = rangeMax
		}
	}
	return scan
}

func newTestLaserModel(workers int) *LaserModel {
	cfg := DefaultLaserModelConfig()
	cfg.BeamStep = 4
	cfg.NumWorkers = workers
	lm := NewLaserModel(cfg)
	lm.SetLaserOffset(geo.Identity(), 0.3)
	return lm
}

func TestUpdateWeightsRequiresLaserOffset(t *testing.T) {
	t.Parallel()

	lm := NewLaserModel(DefaultLaserModelConfig())
	ps := NewParticleSetSeeded(1)
	ps.InitUniform(geo.Vec2{}, geo.Vec2{X: 1, Y: 1}, 0.5, 0, 0, 1)

	err := lm.UpdateWeights(boxRoom(4, 3), &LaserScan{Ranges: []float64{1}}, ps)
	assert.Error(t, err)
}

func TestUpdateWeightsRejectsEmptyScan(t *testing.T) {
	t.Parallel()

	lm := newTestLaserModel(1)
	ps := NewParticleSetSeeded(1)
	ps.InitUniform(geo.Vec2{}, geo.Vec2{X: 1, Y: 1}, 0.5, 0, 0, 1)

	assert.Error(t, lm.UpdateWeights(boxRoom(4, 3), &LaserScan{}, ps))
	assert.Error(t, lm.UpdateWeights(boxRoom(4, 3), nil, ps))
}

func TestUpdateWeightsFavoursTruePose(t *testing.T) {
	t.Parallel()

	room := boxRoom(6, 4)
	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	scan := simulateScan(truth, room, 180, 10)

	ps := NewParticleSetSeeded(1)
	ps.samples = []Sample{
		{Pose: truth, Weight: 1},
		{Pose: geo.NewTransform2(geo.Vec2{X: 5, Y: 1}, 1.0), Weight: 1},
	}

	lm := newTestLaserModel(1)
	require.NoError(t, lm.UpdateWeights(room, scan, ps))

	assert.Greater(t, ps.Samples()[0].Weight, ps.Samples()[1].Weight,
		"the pose matching the scan must outscore a wrong pose")
	assert.Greater(t, ps.Samples()[1].Weight, 0.0,
		"wrong poses keep a bounded non-zero likelihood")
}

func TestUpdateWeightsMultipliesNotReplaces(t *testing.T) {
	t.Parallel()

	room := boxRoom(6, 4)
	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)
	scan := simulateScan(truth, room, 180, 10)

	single := NewParticleSetSeeded(1)
	single.samples = []Sample{{Pose: truth, Weight: 1}}
	double := NewParticleSetSeeded(1)
	double.samples = []Sample{{Pose: truth, Weight: 1}}

	lm := newTestLaserModel(1)
	require.NoError(t, lm.UpdateWeights(room, scan, single))
	require.NoError(t, lm.UpdateWeights(room, scan, double))
	require.NoError(t, lm.UpdateWeights(room, scan, double))

	w1 := single.Samples()[0].Weight
	w2 := double.Samples()[0].Weight
	assert.InEpsilon(t, w1*w1, w2, 1e-9,
		"two updates on the same deterministic scan must square the single-update weight")
}

func TestUpdateWeightsSkipsInvalidBeams(t *testing.T) {
	t.Parallel()

	room := boxRoom(6, 4)
	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0)

	clean := simulateScan(truth, room, 64, 10)
	dirty := simulateScan(truth, room, 64, 10)
	for i := 0; i < len(dirty.Ranges); i += 2 {
		if i%4 == 0 {
			dirty.Ranges[i] = math.NaN()
		} else {
			dirty.Ranges[i] = -1
		}
	}

	cfg := DefaultLaserModelConfig()
	cfg.BeamStep = 2 // evaluate only even beams: all invalid in dirty
	cfg.NumWorkers = 1
	lm := NewLaserModel(cfg)
	lm.SetLaserOffset(geo.Identity(), 0)

	ps := NewParticleSetSeeded(1)
	ps.samples = []Sample{{Pose: truth, Weight: 0.5}}
	require.NoError(t, lm.UpdateWeights(room, dirty, ps))

	// Every evaluated beam was invalid: the weight is untouched.
	assert.InDelta(t, 0.5, ps.Samples()[0].Weight, 1e-12)

	// Sanity: the clean scan does change the weight.
	require.NoError(t, lm.UpdateWeights(room, clean, ps))
	assert.NotEqual(t, 0.5, ps.Samples()[0].Weight)
}

func TestUpdateWeightsOpenMapMaxRangeScan(t *testing.T) {
	t.Parallel()

	// No obstacles anywhere and every beam at max range: weights stay
	// bounded and strictly positive.
	scan := &LaserScan{
		Frame:          "laser",
		AngleMin:       -math.Pi / 2,
		AngleIncrement: math.Pi / 64,
		RangeMax:       8,
		Ranges:         make([]float64, 64),
	}
	for i := range scan.Ranges {
		scan.Ranges[i] = scan.RangeMax
	}

	ps := NewParticleSetSeeded(1)
	ps.InitUniform(geo.Vec2{}, geo.Vec2{X: 2, Y: 2}, 0.5, 0, 0, 1)

	lm := newTestLaserModel(2)
	require.NoError(t, lm.UpdateWeights(nil, scan, ps))

	for _, s := range ps.Samples() {
		assert.Greater(t, s.Weight, 0.0)
		assert.False(t, math.IsInf(s.Weight, 1))
	}
}

func TestUpdateWeightsParallelMatchesSerial(t *testing.T) {
	t.Parallel()

	room := boxRoom(6, 4)
	truth := geo.NewTransform2(geo.Vec2{X: 2, Y: 2}, 0.3)
	scan := simulateScan(truth, room, 180, 10)

	serial := NewParticleSetSeeded(5)
	serial.InitUniform(geo.Vec2{X: 1, Y: 1}, geo.Vec2{X: 5, Y: 3}, 0.5, -1, 1, 0.25)
	parallel := NewParticleSetSeeded(5)
	parallel.InitUniform(geo.Vec2{X: 1, Y: 1}, geo.Vec2{X: 5, Y: 3}, 0.5, -1, 1, 0.25)
	require.Equal(t, serial.Len(), parallel.Len())

	require.NoError(t, newTestLaserModel(1).UpdateWeights(room, scan, serial))
	require.NoError(t, newTestLaserModel(8).UpdateWeights(room, scan, parallel))

	for i := range serial.Samples() {
		assert.Equal(t, serial.Samples()[i].Weight, parallel.Samples()[i].Weight, "sample %d", i)
	}
}

func TestSetLaserOffsetOverwrites(t *testing.T) {
	t.Parallel()

	lm := NewLaserModel(DefaultLaserModelConfig())
	assert.False(t, lm.HasLaserOffset())

	lm.SetLaserOffset(geo.NewTransform2(geo.Vec2{X: 0.1}, 0), 0.2)
	require.True(t, lm.HasLaserOffset())
	assert.InDelta(t, 0.1, lm.LaserOffset().T.X, 1e-12)

	lm.SetLaserOffset(geo.NewTransform2(geo.Vec2{X: 0.4}, 0), 0.5)
	assert.InDelta(t, 0.4, lm.LaserOffset().T.X, 1e-12)
	assert.InDelta(t, 0.5, lm.LaserHeight(), 1e-12)
}
