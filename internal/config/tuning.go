package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the localizer.
// Fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for the rest.
type TuningConfig struct {
	// Filter params
	NumParticles *int    `json:"num_particles,omitempty"`
	Seed         *uint64 `json:"seed,omitempty"` // 0 or absent: seed from entropy

	// Frame identifiers
	MapFrame  *string `json:"map_frame,omitempty"`
	OdomFrame *string `json:"odom_frame,omitempty"`
	BaseFrame *string `json:"base_frame,omitempty"`

	// Motion model noise coefficients
	NoiseTransTrans *float64 `json:"noise_trans_trans,omitempty"`
	NoiseTransRot   *float64 `json:"noise_trans_rot,omitempty"`
	NoiseRotTrans   *float64 `json:"noise_rot_trans,omitempty"`
	NoiseRotRot     *float64 `json:"noise_rot_rot,omitempty"`

	// Sensor model params
	HitSigma    *float64 `json:"hit_sigma,omitempty"`
	ZHit        *float64 `json:"z_hit,omitempty"`
	ZRand       *float64 `json:"z_rand,omitempty"`
	ZMax        *float64 `json:"z_max,omitempty"`
	BeamStep    *int     `json:"beam_step,omitempty"`
	NumWorkers  *int     `json:"num_workers,omitempty"`
	LaserHeight *float64 `json:"laser_height,omitempty"`

	// Bus params
	Broker           *string `json:"mqtt_broker,omitempty"`
	ClientID         *string `json:"mqtt_client_id,omitempty"`
	ScanTopic        *string `json:"scan_topic,omitempty"`
	InitialPoseTopic *string `json:"initial_pose_topic,omitempty"`
	TransformTopic   *string `json:"transform_topic,omitempty"`
	PoseTopic        *string `json:"pose_topic,omitempty"`
	ParticlesTopic   *string `json:"particles_topic,omitempty"`

	// World sources; exactly one is used, the DB wins when both set
	WorldDBPath      *string `json:"world_db,omitempty"`
	WorldGeoJSONPath *string `json:"world_geojson,omitempty"`

	// Optional startup pose; when X and Y are both set the filter is
	// initialised in a small box around (x, y, yaw) at boot
	InitialPoseX   *float64 `json:"initial_pose_x,omitempty"`
	InitialPoseY   *float64 `json:"initial_pose_y,omitempty"`
	InitialPoseYaw *float64 `json:"initial_pose_yaw,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/worldmodel/sqlite/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.NumParticles != nil && *c.NumParticles < 1 {
		return fmt.Errorf("num_particles must be positive, got %d", *c.NumParticles)
	}
	if c.BeamStep != nil && *c.BeamStep < 1 {
		return fmt.Errorf("beam_step must be at least 1, got %d", *c.BeamStep)
	}
	if c.HitSigma != nil && *c.HitSigma <= 0 {
		return fmt.Errorf("hit_sigma must be positive, got %f", *c.HitSigma)
	}
	for name, v := range map[string]*float64{
		"z_hit":  c.ZHit,
		"z_rand": c.ZRand,
		"z_max":  c.ZMax,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	for name, v := range map[string]*float64{
		"noise_trans_trans": c.NoiseTransTrans,
		"noise_trans_rot":   c.NoiseTransRot,
		"noise_rot_trans":   c.NoiseRotTrans,
		"noise_rot_rot":     c.NoiseRotRot,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	// A startup pose needs both coordinates.
	if (c.InitialPoseX == nil) != (c.InitialPoseY == nil) {
		return fmt.Errorf("initial_pose_x and initial_pose_y must be set together")
	}
	return nil
}

// GetNumParticles returns the num_particles value or the default.
func (c *TuningConfig) GetNumParticles() int {
	if c.NumParticles == nil {
		return 500
	}
	return *c.NumParticles
}

// GetSeed returns the seed value or 0 (seed from entropy).
func (c *TuningConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetMapFrame returns the map_frame value or the default.
func (c *TuningConfig) GetMapFrame() string {
	if c.MapFrame == nil {
		return "map"
	}
	return *c.MapFrame
}

// GetOdomFrame returns the odom_frame value or the default.
func (c *TuningConfig) GetOdomFrame() string {
	if c.OdomFrame == nil {
		return "odom"
	}
	return *c.OdomFrame
}

// GetBaseFrame returns the base_frame value or the default.
func (c *TuningConfig) GetBaseFrame() string {
	if c.BaseFrame == nil {
		return "base_link"
	}
	return *c.BaseFrame
}

// GetNoiseTransTrans returns the noise_trans_trans value or the default.
func (c *TuningConfig) GetNoiseTransTrans() float64 {
	if c.NoiseTransTrans == nil {
		return 0.1
	}
	return *c.NoiseTransTrans
}

// GetNoiseTransRot returns the noise_trans_rot value or the default.
func (c *TuningConfig) GetNoiseTransRot() float64 {
	if c.NoiseTransRot == nil {
		return 0.02
	}
	return *c.NoiseTransRot
}

// GetNoiseRotTrans returns the noise_rot_trans value or the default.
func (c *TuningConfig) GetNoiseRotTrans() float64 {
	if c.NoiseRotTrans == nil {
		return 0.05
	}
	return *c.NoiseRotTrans
}

// GetNoiseRotRot returns the noise_rot_rot value or the default.
func (c *TuningConfig) GetNoiseRotRot() float64 {
	if c.NoiseRotRot == nil {
		return 0.1
	}
	return *c.NoiseRotRot
}

// GetHitSigma returns the hit_sigma value or the default.
func (c *TuningConfig) GetHitSigma() float64 {
	if c.HitSigma == nil {
		return 0.2
	}
	return *c.HitSigma
}

// GetZHit returns the z_hit value or the default.
func (c *TuningConfig) GetZHit() float64 {
	if c.ZHit == nil {
		return 0.95
	}
	return *c.ZHit
}

// GetZRand returns the z_rand value or the default.
func (c *TuningConfig) GetZRand() float64 {
	if c.ZRand == nil {
		return 0.05
	}
	return *c.ZRand
}

// GetZMax returns the z_max value or the default.
func (c *TuningConfig) GetZMax() float64 {
	if c.ZMax == nil {
		return 0.9
	}
	return *c.ZMax
}

// GetBeamStep returns the beam_step value or the default.
func (c *TuningConfig) GetBeamStep() int {
	if c.BeamStep == nil {
		return 10
	}
	return *c.BeamStep
}

// GetNumWorkers returns the num_workers value or 0 (use GOMAXPROCS).
func (c *TuningConfig) GetNumWorkers() int {
	if c.NumWorkers == nil {
		return 0
	}
	return *c.NumWorkers
}

// GetLaserHeight returns the laser_height value or the default.
func (c *TuningConfig) GetLaserHeight() float64 {
	if c.LaserHeight == nil {
		return 0.3
	}
	return *c.LaserHeight
}

// GetBroker returns the mqtt_broker value or empty (bus disabled).
func (c *TuningConfig) GetBroker() string {
	if c.Broker == nil {
		return ""
	}
	return *c.Broker
}

// GetClientID returns the mqtt_client_id value or the default.
func (c *TuningConfig) GetClientID() string {
	if c.ClientID == nil {
		return "mcl-localizer"
	}
	return *c.ClientID
}

// GetScanTopic returns the scan_topic value or the default.
func (c *TuningConfig) GetScanTopic() string {
	if c.ScanTopic == nil {
		return "sensors/laser/scan"
	}
	return *c.ScanTopic
}

// GetInitialPoseTopic returns the initial_pose_topic value or the default.
func (c *TuningConfig) GetInitialPoseTopic() string {
	if c.InitialPoseTopic == nil {
		return "localization/initialpose"
	}
	return *c.InitialPoseTopic
}

// GetTransformTopic returns the transform_topic value or the default.
func (c *TuningConfig) GetTransformTopic() string {
	if c.TransformTopic == nil {
		return "frames/transforms"
	}
	return *c.TransformTopic
}

// GetPoseTopic returns the pose_topic value or the default.
func (c *TuningConfig) GetPoseTopic() string {
	if c.PoseTopic == nil {
		return "localization/pose"
	}
	return *c.PoseTopic
}

// GetParticlesTopic returns the particles_topic value or the default.
func (c *TuningConfig) GetParticlesTopic() string {
	if c.ParticlesTopic == nil {
		return "localization/particles"
	}
	return *c.ParticlesTopic
}

// GetWorldDBPath returns the world_db value or empty (not configured).
func (c *TuningConfig) GetWorldDBPath() string {
	if c.WorldDBPath == nil {
		return ""
	}
	return *c.WorldDBPath
}

// GetWorldGeoJSONPath returns the world_geojson value or empty.
func (c *TuningConfig) GetWorldGeoJSONPath() string {
	if c.WorldGeoJSONPath == nil {
		return ""
	}
	return *c.WorldGeoJSONPath
}

// HasInitialPose reports whether a startup pose was configured.
func (c *TuningConfig) HasInitialPose() bool {
	return c.InitialPoseX != nil && c.InitialPoseY != nil
}

// GetInitialPose returns the configured startup pose. Yaw defaults to
// zero when absent.
func (c *TuningConfig) GetInitialPose() (x, y, yaw float64) {
	if c.InitialPoseX != nil {
		x = *c.InitialPoseX
	}
	if c.InitialPoseY != nil {
		y = *c.InitialPoseY
	}
	if c.InitialPoseYaw != nil {
		yaw = *c.InitialPoseYaw
	}
	return x, y, yaw
}
