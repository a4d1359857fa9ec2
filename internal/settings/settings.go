// Package settings provides the typed, immutable configuration snapshot
// consumed by every other component (spec §4.2). Adapted from the config
// loading shape in calvinalkan-agent-task/config.go (JSON document +
// explicit validation, rejecting unknown/out-of-range values at load time
// instead of passing around a dictionary of strings) rather than the
// teacher's CLI-flags-only configuration, since spec §4.2 requires a
// persisted-JSON-plus-preset model.
package settings

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/localphoto/photodedupe/internal/domain"
)

// Preset names a named bundle of preset-owned fields (spec §4.2).
type Preset string

const (
	PresetUltraLite Preset = "ultra_lite"
	PresetBalanced  Preset = "balanced"
	PresetAccurate  Preset = "accurate"
	PresetCustom    Preset = "custom"
)

// HashThresholds holds the near-duplicate Hamming-distance threshold per
// hash kind (spec §4.2 "near_dupe_thresholds").
type HashThresholds struct {
	PHash int `json:"phash"`
	DHash int `json:"dhash"`
	AHash int `json:"ahash"`
}

// Settings is an immutable snapshot produced for one pipeline run.
type Settings struct {
	Preset Preset `json:"preset"`

	// Concurrency (spec §4.2, §4.3)
	ThreadCap                      int     `json:"thread_cap"`
	IOThrottleOpsPerSec            float64 `json:"io_throttle_ops_per_sec"`
	BackOffEnabled                 bool    `json:"back_off_enabled"`
	InteractionThresholdEventsPerSec int   `json:"interaction_threshold_events_per_sec"`
	InteractionWindowSeconds       float64 `json:"interaction_window_seconds"`
	BackOffDurationSeconds         float64 `json:"back_off_duration_seconds"`

	// Batch sizes (spec §4.2)
	BatchScanning    int `json:"batch_scanning"`
	BatchHashing     int `json:"batch_hashing"`
	BatchThumbnails  int `json:"batch_thumbnails"`

	// Hashing (spec §4.2, §4.5)
	NearDupeThresholds            HashThresholds `json:"near_dupe_thresholds"`
	EnableStrongHashConfirmation  bool           `json:"enable_strong_hash_confirmation"`
	EnableFeatureMatchFallback    bool           `json:"enable_feature_match_fallback"`
	MaxDecodeSidePixels           int            `json:"max_decode_side_pixels"`
	SkipRawFormats                bool           `json:"skip_raw_formats"`
	SkipTiffFormats               bool           `json:"skip_tiff_formats"`

	// Grouping (spec §4.2, §4.7)
	DimensionToleranceFraction        float64 `json:"dimension_tolerance_fraction"`
	StrictModeRequireEXIFDatetimeMatch bool   `json:"strict_mode_require_exif_datetime_match"`

	// Escalation (spec §4.2, §4.8)
	DatetimeToleranceSeconds float64 `json:"datetime_tolerance_seconds"`
	EnableCameraModelCheck   bool    `json:"enable_camera_model_check"`
}

// recognizedKeys lists every field this version of Settings understands.
// LoadFile rejects any JSON object key outside this set, satisfying spec
// §9's "unknown keys are rejected at load time" redesign note.
var recognizedKeys = map[string]bool{
	"preset": true, "thread_cap": true, "io_throttle_ops_per_sec": true,
	"back_off_enabled": true, "interaction_threshold_events_per_sec": true,
	"interaction_window_seconds": true, "back_off_duration_seconds": true,
	"batch_scanning": true, "batch_hashing": true, "batch_thumbnails": true,
	"near_dupe_thresholds": true, "enable_strong_hash_confirmation": true,
	"enable_feature_match_fallback": true, "max_decode_side_pixels": true,
	"skip_raw_formats": true, "skip_tiff_formats": true,
	"dimension_tolerance_fraction": true, "strict_mode_require_exif_datetime_match": true,
	"datetime_tolerance_seconds": true, "enable_camera_model_check": true,
}

// DefaultSettings returns the fully-populated settings for a named preset.
// Switching a preset replaces all preset-owned fields atomically (spec
// §4.2): callers get a brand new value, never a partial mutation of one.
func DefaultSettings(preset Preset) (Settings, error) {
	switch preset {
	case PresetUltraLite:
		return ultraLite(), nil
	case PresetBalanced:
		return balanced(), nil
	case PresetAccurate:
		return accurate(), nil
	case PresetCustom:
		// Custom starts from Balanced; the caller is expected to override
		// individual fields and re-validate.
		s := balanced()
		s.Preset = PresetCustom
		return s, nil
	default:
		return Settings{}, fmt.Errorf("%w: unknown preset %q", domain.ErrConfiguration, preset)
	}
}

func balanced() Settings {
	return Settings{
		Preset:                            PresetBalanced,
		ThreadCap:                         4,
		IOThrottleOpsPerSec:               0.5,
		BackOffEnabled:                    true,
		InteractionThresholdEventsPerSec:  3,
		InteractionWindowSeconds:          1.0,
		BackOffDurationSeconds:            2.0,
		BatchScanning:                     100,
		BatchHashing:                      50,
		BatchThumbnails:                   25,
		NearDupeThresholds:                HashThresholds{PHash: 8, DHash: 8, AHash: 10},
		EnableStrongHashConfirmation:      true,
		EnableFeatureMatchFallback:        false,
		MaxDecodeSidePixels:               256,
		SkipRawFormats:                    false,
		SkipTiffFormats:                   false,
		DimensionToleranceFraction:        0.10,
		StrictModeRequireEXIFDatetimeMatch: false,
		DatetimeToleranceSeconds:          2.0,
		EnableCameraModelCheck:            true,
	}
}

func ultraLite() Settings {
	s := balanced()
	s.Preset = PresetUltraLite
	s.ThreadCap = 2
	s.IOThrottleOpsPerSec = 1.0
	s.NearDupeThresholds.PHash = 6
	s.MaxDecodeSidePixels = 128
	s.EnableFeatureMatchFallback = false
	s.SkipRawFormats = true
	s.SkipTiffFormats = true
	return s
}

func accurate() Settings {
	s := balanced()
	s.Preset = PresetAccurate
	s.ThreadCap = 8
	s.IOThrottleOpsPerSec = 0
	s.MaxDecodeSidePixels = 512
	s.EnableFeatureMatchFallback = true
	s.SkipRawFormats = false
	s.SkipTiffFormats = false
	return s
}

// LoadFile reads a persisted JSON settings document, applies it on top of
// the named preset's defaults, validates the result, and returns an
// immutable snapshot. Unknown keys are a ConfigurationError.
func LoadFile(path string, preset Preset) (Settings, error) {
	base, err := DefaultSettings(preset)
	if err != nil {
		return Settings{}, err
	}

	if path == "" {
		return base, base.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: read %s: %w", domain.ErrConfiguration, path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("%w: parse %s: %w", domain.ErrConfiguration, path, err)
	}
	for key := range raw {
		if !recognizedKeys[key] {
			return Settings{}, fmt.Errorf("%w: unrecognized option %q in %s", domain.ErrConfiguration, key, path)
		}
	}

	if err := json.Unmarshal(data, &base); err != nil {
		return Settings{}, fmt.Errorf("%w: decode %s: %w", domain.ErrConfiguration, path, err)
	}

	if err := base.Validate(); err != nil {
		return Settings{}, err
	}
	return base, nil
}

// Validate rejects out-of-range or internally inconsistent settings. A
// pipeline refuses to run on a ConfigurationError (spec §7).
func (s Settings) Validate() error {
	switch {
	case s.ThreadCap < 1:
		return fmt.Errorf("%w: thread_cap must be >= 1, got %d", domain.ErrConfiguration, s.ThreadCap)
	case s.IOThrottleOpsPerSec < 0:
		return fmt.Errorf("%w: io_throttle_ops_per_sec must be >= 0", domain.ErrConfiguration)
	case s.InteractionThresholdEventsPerSec < 0:
		return fmt.Errorf("%w: interaction_threshold_events_per_sec must be >= 0", domain.ErrConfiguration)
	case s.InteractionWindowSeconds <= 0:
		return fmt.Errorf("%w: interaction_window_seconds must be > 0", domain.ErrConfiguration)
	case s.BackOffDurationSeconds < 0:
		return fmt.Errorf("%w: back_off_duration_seconds must be >= 0", domain.ErrConfiguration)
	case s.BatchScanning < 1 || s.BatchHashing < 1 || s.BatchThumbnails < 1:
		return fmt.Errorf("%w: batch sizes must be >= 1", domain.ErrConfiguration)
	case s.NearDupeThresholds.PHash < 0 || s.NearDupeThresholds.DHash < 0 || s.NearDupeThresholds.AHash < 0:
		return fmt.Errorf("%w: near_dupe_thresholds must be >= 0", domain.ErrConfiguration)
	case s.NearDupeThresholds.PHash > 64 || s.NearDupeThresholds.DHash > 64 || s.NearDupeThresholds.AHash > 64:
		return fmt.Errorf("%w: near_dupe_thresholds must be <= 64 (hashes are 64-bit)", domain.ErrConfiguration)
	case s.MaxDecodeSidePixels < 16:
		return fmt.Errorf("%w: max_decode_side_pixels must be >= 16", domain.ErrConfiguration)
	case s.DimensionToleranceFraction < 0 || s.DimensionToleranceFraction > 1:
		return fmt.Errorf("%w: dimension_tolerance_fraction must be in [0,1]", domain.ErrConfiguration)
	case s.DatetimeToleranceSeconds < 0:
		return fmt.Errorf("%w: datetime_tolerance_seconds must be >= 0", domain.ErrConfiguration)
	}
	return nil
}
