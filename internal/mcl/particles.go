package mcl

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/mcl.localizer/internal/geo"
)

// Sample is one weighted pose hypothesis.
type Sample struct {
	Pose   geo.Transform2
	Weight float64
}

// ParticleSet is an ordered collection of weighted pose hypotheses.
// Order carries no meaning; only the aggregate distribution does. The
// set owns its storage and is mutated by exactly one cycle at a time.
type ParticleSet struct {
	samples []Sample
	rng     *rand.Rand
}

// NewParticleSet returns an empty set with a time-seeded random source
// for resampling.
func NewParticleSet() *ParticleSet {
	return &ParticleSet{rng: rand.New(rand.NewSource(rand.Uint64()))}
}

// NewParticleSetSeeded returns an empty set with a deterministic
// random source. Intended for tests and replay runs.
func NewParticleSetSeeded(seed uint64) *ParticleSet {
	return &ParticleSet{rng: rand.New(rand.NewSource(seed))}
}

// Samples exposes the underlying storage. Callers must not grow or
// shrink the slice; the motion and sensor models mutate entries in
// place through it.
func (ps *ParticleSet) Samples() []Sample { return ps.samples }

// Len returns the number of samples.
func (ps *ParticleSet) Len() int { return len(ps.samples) }

// TotalWeight returns the sum of all sample weights.
func (ps *ParticleSet) TotalWeight() float64 {
	var total float64
	for i := range ps.samples {
		total += ps.samples[i].Weight
	}
	return total
}

// InitUniform replaces the sample set with a regular lattice spanning
// the position box [min, max] crossed with the angle range
// [minAngle, maxAngle], stepped by posRes and angleRes. Every lattice
// point gets equal weight. Both range ends are included, so a box of
// width 1.0 at resolution 0.5 yields 3 steps per axis. This is the
// only operation that changes the sample count.
func (ps *ParticleSet) InitUniform(min, max geo.Vec2, posRes, minAngle, maxAngle, angleRes float64) {
	ps.samples = ps.samples[:0]

	// A non-positive step cannot advance the loops. Clamp it to the
	// full span so each dimension still gets its range ends (a single
	// point when the span is zero too).
	if posRes <= 0 {
		posRes = math.Max(max.X-min.X, max.Y-min.Y)
		if posRes <= 0 {
			posRes = 1
		}
	}
	if angleRes <= 0 {
		angleRes = maxAngle - minAngle
		if angleRes <= 0 {
			angleRes = 1
		}
	}

	// The epsilon keeps the inclusive upper bound stable against
	// accumulated float error in the step loop.
	const eps = 1e-9
	for x := min.X; x <= max.X+eps; x += posRes {
		for y := min.Y; y <= max.Y+eps; y += posRes {
			for a := minAngle; a <= maxAngle+eps; a += angleRes {
				ps.samples = append(ps.samples, Sample{
					Pose: geo.NewTransform2(geo.Vec2{X: x, Y: y}, a),
				})
			}
		}
	}

	w := 1.0 / float64(len(ps.samples))
	for i := range ps.samples {
		ps.samples[i].Weight = w
	}
}

// Normalize scales weights so they sum to 1. Reports false (leaving
// weights untouched) when the total is zero or non-finite.
func (ps *ParticleSet) Normalize() bool {
	total := ps.TotalWeight()
	if total <= 0 || math.IsInf(total, 1) || math.IsNaN(total) {
		return false
	}
	inv := 1.0 / total
	for i := range ps.samples {
		ps.samples[i].Weight *= inv
	}
	return true
}

// EffectiveSampleSize returns 1/sum(w_norm^2), the standard particle
// degeneracy diagnostic. A healthy set is near Len(); a collapsed one
// is near 1. Returns 0 for an empty or zero-weight set.
func (ps *ParticleSet) EffectiveSampleSize() float64 {
	if len(ps.samples) == 0 {
		return 0
	}
	w := make([]float64, len(ps.samples))
	for i := range ps.samples {
		w[i] = ps.samples[i].Weight
	}
	total := floats.Sum(w)
	if total <= 0 {
		return 0
	}
	floats.Scale(1.0/total, w)
	sumSq := floats.Dot(w, w)
	if sumSq == 0 {
		return 0
	}
	return 1.0 / sumSq
}

// Resample replaces the population with target samples drawn with
// probability proportional to weight, using low-variance (systematic)
// resampling: one random offset plus a cumulative-weight walk, O(n).
// All weights come out uniform at 1/target.
//
// Degenerate-weight policy: if the weights sum to zero or a non-finite
// value (total sensor-model failure), the previous set is copied
// through unweighted instead of failing, so the filter holds its last
// belief rather than crashing.
func (ps *ParticleSet) Resample(target int) {
	if target <= 0 || len(ps.samples) == 0 {
		return
	}

	total := ps.TotalWeight()
	out := make([]Sample, 0, target)
	w := 1.0 / float64(target)

	if total <= 0 || math.IsInf(total, 1) || math.IsNaN(total) {
		// Fallback: cycle through the existing set ignoring weights.
		for i := 0; i < target; i++ {
			s := ps.samples[i%len(ps.samples)]
			s.Weight = w
			out = append(out, s)
		}
		ps.samples = out
		return
	}

	step := total / float64(target)
	offset := ps.rng.Float64() * step

	cum := ps.samples[0].Weight
	idx := 0
	for i := 0; i < target; i++ {
		u := offset + float64(i)*step
		for u > cum && idx < len(ps.samples)-1 {
			idx++
			cum += ps.samples[idx].Weight
		}
		s := ps.samples[idx]
		s.Weight = w
		out = append(out, s)
	}
	ps.samples = out
}

// MeanPose returns the weighted mean of the population: the weighted
// average translation and the weighted circular mean of heading
// (linear averaging of angles breaks at the +/-pi wrap). The second
// return is false when the set is empty. A zero weight sum falls back
// to an unweighted mean.
func (ps *ParticleSet) MeanPose() (geo.Transform2, bool) {
	if len(ps.samples) == 0 {
		return geo.Identity(), false
	}

	total := ps.TotalWeight()
	uniform := total <= 0 || math.IsInf(total, 1) || math.IsNaN(total)
	if uniform {
		total = float64(len(ps.samples))
	}

	var t geo.Vec2
	var dirX, dirY float64
	for i := range ps.samples {
		w := ps.samples[i].Weight
		if uniform {
			w = 1
		}
		t = t.Add(ps.samples[i].Pose.T.Scale(w))
		a := ps.samples[i].Pose.Angle()
		dirX += w * math.Cos(a)
		dirY += w * math.Sin(a)
	}

	t = t.Scale(1.0 / total)
	angle := math.Atan2(dirY, dirX)
	return geo.NewTransform2(t, angle), true
}
