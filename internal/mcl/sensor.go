package mcl

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
)

// LaserModelConfig holds the beam-likelihood parameters. The per-beam
// likelihood mixes a Gaussian around the predicted range, a uniform
// random-measurement floor, and a distinct max-range/no-return term.
type LaserModelConfig struct {
	HitSigma   float64 // Std dev of the Gaussian around the predicted range (metres)
	ZHit       float64 // Mixture weight of the Gaussian term
	ZRand      float64 // Mixture weight of the uniform random-measurement term
	ZMax       float64 // Likelihood for an agreeing no-return beam
	BeamStep   int     // Evaluate every BeamStep-th beam (sparsification)
	NumWorkers int     // Parallel particle scoring workers; 0 means GOMAXPROCS
}

// DefaultLaserModelConfig returns beam-model parameters that work for
// a typical indoor 2D lidar.
func DefaultLaserModelConfig() LaserModelConfig {
	return LaserModelConfig{
		HitSigma: 0.2,
		ZHit:     0.95,
		ZRand:    0.05,
		ZMax:     0.9,
		BeamStep: 10,
	}
}

// LaserModel scores particle poses by ray-casting predicted scans
// against the world's line segments and comparing them to the measured
// scan.
type LaserModel struct {
	cfg LaserModelConfig

	offset    geo.Transform2
	height    float64
	offsetSet bool
}

// NewLaserModel creates a sensor model with the given parameters.
func NewLaserModel(cfg LaserModelConfig) *LaserModel {
	if cfg.BeamStep < 1 {
		cfg.BeamStep = 1
	}
	if cfg.HitSigma <= 0 {
		cfg.HitSigma = DefaultLaserModelConfig().HitSigma
	}
	return &LaserModel{cfg: cfg}
}

// SetLaserOffset records where the range sensor sits relative to the
// robot body frame, plus its mounting height. Later calls overwrite.
func (lm *LaserModel) SetLaserOffset(offset geo.Transform2, height float64) {
	lm.offset = offset
	lm.height = height
	lm.offsetSet = true
}

// HasLaserOffset reports whether the sensor offset has been resolved.
func (lm *LaserModel) HasLaserOffset() bool { return lm.offsetSet }

// LaserOffset returns the configured body-to-sensor transform.
func (lm *LaserModel) LaserOffset() geo.Transform2 { return lm.offset }

// LaserHeight returns the configured sensor mounting height.
func (lm *LaserModel) LaserHeight() float64 { return lm.height }

// UpdateWeights multiplies every particle's weight by the likelihood
// of the scan given that particle's pose. Weights are multiplied, not
// replaced, so repeated updates within a cycle compound; normalization
// is left to consumers that need a distribution.
//
// Scoring is independent per particle and runs across a bounded worker
// pool; all writes complete before the call returns.
func (lm *LaserModel) UpdateWeights(segments []worldmodel.LineSegment, scan *LaserScan, set *ParticleSet) error {
	if !lm.offsetSet {
		return fmt.Errorf("laser offset not configured")
	}
	if scan == nil || len(scan.Ranges) == 0 {
		return fmt.Errorf("empty scan")
	}

	samples := set.Samples()
	if len(samples) == 0 {
		return nil
	}

	workers := lm.cfg.NumWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(samples) {
		workers = len(samples)
	}

	var wg sync.WaitGroup
	chunk := (len(samples) + workers - 1) / workers
	for start := 0; start < len(samples); start += chunk {
		end := start + chunk
		if end > len(samples) {
			end = len(samples)
		}
		wg.Add(1)
		go func(part []Sample) {
			defer wg.Done()
			for i := range part {
				part[i].Weight *= lm.scanLikelihood(part[i].Pose, segments, scan)
			}
		}(samples[start:end])
	}
	wg.Wait()

	return nil
}

// scanLikelihood returns the product of per-beam likelihoods for one
// pose hypothesis. Beams are strided by BeamStep to bound the cost.
func (lm *LaserModel) scanLikelihood(pose geo.Transform2, segments []worldmodel.LineSegment, scan *LaserScan) float64 {
	laserPose := pose.Mul(lm.offset)
	origin := laserPose.T
	baseAngle := laserPose.Angle()

	likelihood := 1.0
	for i := 0; i < len(scan.Ranges); i += lm.cfg.BeamStep {
		r := scan.Ranges[i]
		if math.IsNaN(r) || r < 0 || r < scan.RangeMin {
			continue // invalid beam, neutral weight
		}

		beam := baseAngle + scan.BeamAngle(i)
		dir := geo.Vec2{X: math.Cos(beam), Y: math.Sin(beam)}
		predicted, hit := castRay(origin, dir, scan.RangeMax, segments)

		likelihood *= lm.beamLikelihood(r, predicted, hit, scan.RangeMax)
	}
	return likelihood
}

// beamLikelihood scores one measured range against the predicted one.
func (lm *LaserModel) beamLikelihood(measured, predicted float64, hit bool, rangeMax float64) float64 {
	uniform := lm.cfg.ZRand / rangeMax

	if measured >= rangeMax {
		// No return. Agrees with the map when the predicted ray also
		// exits the mapped area (or reaches max range); bounded
		// disagreement otherwise.
		if !hit {
			return lm.cfg.ZMax
		}
		return uniform + 1e-6
	}

	if !hit {
		// Measured a return where the map predicts open space:
		// bounded "no obstacle" likelihood, never zero or undefined.
		return uniform + 1e-6
	}

	diff := measured - predicted
	gauss := math.Exp(-(diff * diff) / (2 * lm.cfg.HitSigma * lm.cfg.HitSigma))
	return lm.cfg.ZHit*gauss + uniform
}
