package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetNumParticles() != 500 {
		t.Errorf("GetNumParticles() = %d, want 500", cfg.GetNumParticles())
	}
	if cfg.GetMapFrame() != "map" {
		t.Errorf("GetMapFrame() = %q, want \"map\"", cfg.GetMapFrame())
	}
	if cfg.GetBaseFrame() != "base_link" {
		t.Errorf("GetBaseFrame() = %q, want \"base_link\"", cfg.GetBaseFrame())
	}
	if cfg.GetHitSigma() != 0.2 {
		t.Errorf("GetHitSigma() = %f, want 0.2", cfg.GetHitSigma())
	}
	if cfg.GetBeamStep() != 10 {
		t.Errorf("GetBeamStep() = %d, want 10", cfg.GetBeamStep())
	}
	if cfg.GetScanTopic() != "sensors/laser/scan" {
		t.Errorf("GetScanTopic() = %q", cfg.GetScanTopic())
	}
	if cfg.HasInitialPose() {
		t.Error("HasInitialPose() = true on empty config")
	}
	if cfg.GetBroker() != "" {
		t.Errorf("GetBroker() = %q, want empty", cfg.GetBroker())
	}
}

func TestLoadTuningConfigPartialOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "num_particles": 1000,
  "hit_sigma": 0.35,
  "initial_pose_x": 1.5,
  "initial_pose_y": -2.0,
  "initial_pose_yaw": 0.8
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}

	if cfg.GetNumParticles() != 1000 {
		t.Errorf("GetNumParticles() = %d, want 1000", cfg.GetNumParticles())
	}
	if cfg.GetHitSigma() != 0.35 {
		t.Errorf("GetHitSigma() = %f, want 0.35", cfg.GetHitSigma())
	}

	// Unset fields keep their defaults.
	if cfg.GetZHit() != 0.95 {
		t.Errorf("GetZHit() = %f, want default 0.95", cfg.GetZHit())
	}

	if !cfg.HasInitialPose() {
		t.Fatal("HasInitialPose() = false, want true")
	}
	x, y, yaw := cfg.GetInitialPose()
	if x != 1.5 || y != -2.0 || yaw != 0.8 {
		t.Errorf("GetInitialPose() = (%f, %f, %f)", x, y, yaw)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("config.yaml"); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestLoadTuningConfigMissingFile(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"zero particles", `{"num_particles": 0}`},
		{"zero beam step", `{"beam_step": 0}`},
		{"negative hit sigma", `{"hit_sigma": -0.1}`},
		{"z_hit above one", `{"z_hit": 1.5}`},
		{"negative noise", `{"noise_rot_rot": -1}`},
		{"initial pose x without y", `{"initial_pose_x": 1.0}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "bad.json")
			if err := os.WriteFile(configPath, []byte(tc.json), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}
			if _, err := LoadTuningConfig(configPath); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if cfg.GetNumParticles() != 500 {
		t.Errorf("defaults file num_particles = %d, want 500", cfg.GetNumParticles())
	}
	if cfg.GetZMax() != 0.9 {
		t.Errorf("defaults file z_max = %f, want 0.9", cfg.GetZMax())
	}
}
