// Package config loads the daemon's runtime configuration. Visage is
// deployed as a system service with no config file of its own — every
// setting comes from a VISAGE_-prefixed environment variable (or its
// built-in default), loaded through viper the same way
// internal/config does it for the desktop agent this one is modeled
// on.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved set of daemon settings.
type Config struct {
	CameraDevice         string
	ModelDir             string
	DBPath               string
	SimilarityThreshold  float32
	VerifyTimeout        time.Duration
	WarmupFrames         int
	FramesPerVerify      int
	FramesPerEnroll      int
	EmitterEnabled       bool
	SessionBus           bool
	LogLevel             string
}

const envPrefix = "VISAGE"

// Load reads every VISAGE_* environment variable into a Config,
// applying spec.md §6's defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	dataHome := xdgDataHome()

	v.SetDefault("camera_device", "/dev/video2")
	v.SetDefault("model_dir", filepath.Join(dataHome, "visage", "models"))
	v.SetDefault("db_path", filepath.Join(dataHome, "visage", "faces.db"))
	v.SetDefault("similarity_threshold", "0.40")
	v.SetDefault("verify_timeout_secs", "10")
	v.SetDefault("warmup_frames", "4")
	v.SetDefault("frames_per_verify", "3")
	v.SetDefault("frames_per_enroll", "5")
	v.SetDefault("emitter_enabled", "1")
	v.SetDefault("session_bus", "0")
	v.SetDefault("log_level", "info")

	for _, key := range []string{
		"camera_device", "model_dir", "db_path", "similarity_threshold",
		"verify_timeout_secs", "warmup_frames", "frames_per_verify",
		"frames_per_enroll", "emitter_enabled", "session_bus", "log_level",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	threshold, err := strconv.ParseFloat(v.GetString("similarity_threshold"), 32)
	if err != nil {
		return nil, fmt.Errorf("config: VISAGE_SIMILARITY_THRESHOLD: %w", err)
	}
	verifyTimeoutSecs, err := strconv.Atoi(v.GetString("verify_timeout_secs"))
	if err != nil {
		return nil, fmt.Errorf("config: VISAGE_VERIFY_TIMEOUT_SECS: %w", err)
	}
	warmup, err := strconv.Atoi(v.GetString("warmup_frames"))
	if err != nil {
		return nil, fmt.Errorf("config: VISAGE_WARMUP_FRAMES: %w", err)
	}
	framesVerify, err := strconv.Atoi(v.GetString("frames_per_verify"))
	if err != nil {
		return nil, fmt.Errorf("config: VISAGE_FRAMES_PER_VERIFY: %w", err)
	}
	framesEnroll, err := strconv.Atoi(v.GetString("frames_per_enroll"))
	if err != nil {
		return nil, fmt.Errorf("config: VISAGE_FRAMES_PER_ENROLL: %w", err)
	}

	cfg := &Config{
		CameraDevice:        v.GetString("camera_device"),
		ModelDir:            v.GetString("model_dir"),
		DBPath:              v.GetString("db_path"),
		SimilarityThreshold: float32(threshold),
		VerifyTimeout:       time.Duration(verifyTimeoutSecs) * time.Second,
		WarmupFrames:        warmup,
		FramesPerVerify:     framesVerify,
		FramesPerEnroll:     framesEnroll,
		// Only the literal string "0" disables the emitter; anything
		// else (including unset, which resolves to the "1" default)
		// leaves it enabled.
		EmitterEnabled: v.GetString("emitter_enabled") != "0",
		SessionBus:     v.GetString("session_bus") == "1",
		LogLevel:       v.GetString("log_level"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would leave the daemon unable to
// start rather than failing confusingly later.
func (c *Config) Validate() error {
	if c.CameraDevice == "" {
		return fmt.Errorf("config: VISAGE_CAMERA_DEVICE must not be empty")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("config: VISAGE_MODEL_DIR must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: VISAGE_DB_PATH must not be empty")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("config: VISAGE_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("config: VISAGE_VERIFY_TIMEOUT_SECS must be positive")
	}
	if c.WarmupFrames < 0 {
		return fmt.Errorf("config: VISAGE_WARMUP_FRAMES must not be negative")
	}
	if c.FramesPerVerify <= 0 {
		return fmt.Errorf("config: VISAGE_FRAMES_PER_VERIFY must be positive")
	}
	if c.FramesPerEnroll <= 0 {
		return fmt.Errorf("config: VISAGE_FRAMES_PER_ENROLL must be positive")
	}
	return nil
}

// DetectorPath is the model file the engine loads for face detection.
func (c *Config) DetectorPath() string { return filepath.Join(c.ModelDir, "det_10g.onnx") }

// RecognizerPath is the model file the engine loads for embedding
// extraction.
func (c *Config) RecognizerPath() string { return filepath.Join(c.ModelDir, "w600k_r50.onnx") }

// xdgDataHome resolves $XDG_DATA_HOME, falling back to ~/.local/share
// per the XDG Base Directory spec.
func xdgDataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib"
	}
	return filepath.Join(home, ".local", "share")
}
