package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VISAGE_CAMERA_DEVICE", "")
	for _, k := range []string{
		"VISAGE_CAMERA_DEVICE", "VISAGE_MODEL_DIR", "VISAGE_DB_PATH",
		"VISAGE_SIMILARITY_THRESHOLD", "VISAGE_VERIFY_TIMEOUT_SECS",
		"VISAGE_WARMUP_FRAMES", "VISAGE_FRAMES_PER_VERIFY",
		"VISAGE_FRAMES_PER_ENROLL", "VISAGE_EMITTER_ENABLED", "VISAGE_SESSION_BUS",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("VISAGE_CAMERA_DEVICE", "/dev/video2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CameraDevice != "/dev/video2" {
		t.Fatalf("CameraDevice = %q, want /dev/video2", cfg.CameraDevice)
	}
	if cfg.SimilarityThreshold != 0.40 {
		t.Fatalf("SimilarityThreshold = %v, want 0.40", cfg.SimilarityThreshold)
	}
	if cfg.WarmupFrames != 4 {
		t.Fatalf("WarmupFrames = %d, want 4", cfg.WarmupFrames)
	}
	if !cfg.EmitterEnabled {
		t.Fatal("expected emitter enabled by default")
	}
}

func TestEmitterDisabledOnlyByExactZero(t *testing.T) {
	t.Setenv("VISAGE_EMITTER_ENABLED", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.EmitterEnabled {
		t.Fatal("expected emitter disabled when VISAGE_EMITTER_ENABLED=0")
	}

	t.Setenv("VISAGE_EMITTER_ENABLED", "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.EmitterEnabled {
		t.Fatal("expected emitter enabled when VISAGE_EMITTER_ENABLED=false (only \"0\" disables)")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := &Config{
		CameraDevice:        "/dev/video2",
		ModelDir:            "/tmp/models",
		DBPath:              "/tmp/faces.db",
		SimilarityThreshold: 1.5,
		VerifyTimeout:       1,
		FramesPerVerify:     1,
		FramesPerEnroll:     1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for threshold > 1")
	}
}
