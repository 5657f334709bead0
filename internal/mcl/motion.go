package mcl

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/mcl.localizer/internal/geo"
)

// OdomModelConfig holds the calibrated odometry noise coefficients.
// Noise magnitude scales with the motion itself: sigma_trans =
// TransTrans*d + TransRot*|da|, sigma_rot = RotTrans*d + RotRot*|da|,
// where d is the translated distance and da the rotated angle of the
// delta.
type OdomModelConfig struct {
	NoiseTransTrans float64 // Translation noise per metre translated
	NoiseTransRot   float64 // Translation noise per radian rotated
	NoiseRotTrans   float64 // Rotation noise per metre translated
	NoiseRotRot     float64 // Rotation noise per radian rotated
}

// DefaultOdomModelConfig returns coefficients suitable for a typical
// indoor differential-drive base.
func DefaultOdomModelConfig() OdomModelConfig {
	return OdomModelConfig{
		NoiseTransTrans: 0.1,
		NoiseTransRot:   0.02,
		NoiseRotTrans:   0.05,
		NoiseRotRot:     0.1,
	}
}

// OdomModel perturbs particle poses with an odometry-derived relative
// motion plus motion-scaled process noise.
type OdomModel struct {
	cfg  OdomModelConfig
	unit distuv.Normal
}

// NewOdomModel creates a motion model. A nil src seeds from the global
// random stream; tests pass a fixed source for determinism.
func NewOdomModel(cfg OdomModelConfig, src rand.Source) *OdomModel {
	if src == nil {
		src = rand.NewSource(rand.Uint64())
	}
	return &OdomModel{
		cfg:  cfg,
		unit: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

// UpdatePoses composes every particle pose with delta (expressed in
// the particle's local frame) and perturbs the result with zero-mean
// noise scaled by the motion magnitude. An identity delta leaves every
// pose exactly unchanged: no diffusion while stationary. Touches poses
// only, never weights.
func (m *OdomModel) UpdatePoses(delta geo.Transform2, set *ParticleSet) {
	if delta.IsIdentity() {
		return
	}

	dist := delta.T.Norm()
	rot := math.Abs(geo.NormalizeAngle(delta.Angle()))

	sigmaTrans := m.cfg.NoiseTransTrans*dist + m.cfg.NoiseTransRot*rot
	sigmaRot := m.cfg.NoiseRotTrans*dist + m.cfg.NoiseRotRot*rot

	samples := set.Samples()
	for i := range samples {
		pose := samples[i].Pose.Mul(delta)

		if sigmaTrans > 0 || sigmaRot > 0 {
			noise := geo.NewTransform2(geo.Vec2{
				X: m.sample(sigmaTrans),
				Y: m.sample(sigmaTrans),
			}, m.sample(sigmaRot))
			pose = pose.Mul(noise)
		}

		samples[i].Pose = pose
	}
}

func (m *OdomModel) sample(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return sigma * m.unit.Rand()
}
