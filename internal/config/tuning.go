package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical SVM tuning defaults file.
const DefaultConfigPath = "config/svm.defaults.json"

// Depth fallback policies accepted by depth_fallback.
const (
	DepthFallbackPrevious = "previous"
	DepthFallbackZero     = "zero"
	DepthFallbackSkip     = "skip"
)

// TuningConfig holds the runtime parameters of the surround-view pipeline.
// Every field is optional; the Get* accessors fall back to built-in defaults
// so partial JSON files are safe.
type TuningConfig struct {
	// Frame hand-off
	QueueCapacity *int    `json:"queue_capacity,omitempty"`
	PollInterval  *string `json:"poll_interval,omitempty"` // duration string like "20ms"
	TickInterval  *string `json:"tick_interval,omitempty"`

	// Calibration
	CameraRise *float64 `json:"camera_rise,omitempty"`
	NearClip   *float64 `json:"near_clip,omitempty"`
	FarClip    *float64 `json:"far_clip,omitempty"`

	// Depth densification
	DensifyEnabled       *bool    `json:"densify_enabled,omitempty"`
	DensifyMaxIterations *int     `json:"densify_max_iterations,omitempty"`
	DensifyTolerance     *float64 `json:"densify_tolerance,omitempty"`
	DepthFallback        *string  `json:"depth_fallback,omitempty"`

	// Point cloud
	ParkedDistance *float64 `json:"parked_distance,omitempty"`

	// Ingestion
	MaxDatagramBytes *int `json:"max_datagram_bytes,omitempty"`
	ReassemblyWindow *int `json:"reassembly_window,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// the built-in defaults. It mirrors config/svm.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		QueueCapacity:        ptrInt(10),
		PollInterval:         ptrString("20ms"),
		TickInterval:         ptrString("16ms"),
		CameraRise:           ptrFloat64(250),
		NearClip:             ptrFloat64(10),
		FarClip:              ptrFloat64(100000),
		DensifyEnabled:       ptrBool(true),
		DensifyMaxIterations: ptrInt(4096),
		DensifyTolerance:     ptrFloat64(1e-8),
		DepthFallback:        ptrString(DepthFallbackPrevious),
		ParkedDistance:       ptrFloat64(10000),
		MaxDatagramBytes:     ptrInt(65507),
		ReassemblyWindow:     ptrInt(8),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
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

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/svm/<pkg>/
		"../../../../" + DefaultConfigPath, // deeper packages
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
	if c.QueueCapacity != nil && *c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", *c.QueueCapacity)
	}

	for name, v := range map[string]*string{
		"poll_interval": c.PollInterval,
		"tick_interval": c.TickInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.NearClip != nil && *c.NearClip <= 0 {
		return fmt.Errorf("near_clip must be positive, got %f", *c.NearClip)
	}
	if c.GetFarClip() <= c.GetNearClip() {
		return fmt.Errorf("far_clip (%f) must be greater than near_clip (%f)", c.GetFarClip(), c.GetNearClip())
	}

	if c.DensifyMaxIterations != nil && *c.DensifyMaxIterations < 1 {
		return fmt.Errorf("densify_max_iterations must be at least 1, got %d", *c.DensifyMaxIterations)
	}
	if c.DensifyTolerance != nil && (*c.DensifyTolerance <= 0 || *c.DensifyTolerance >= 1) {
		return fmt.Errorf("densify_tolerance must be in (0, 1), got %g", *c.DensifyTolerance)
	}

	if c.DepthFallback != nil {
		switch *c.DepthFallback {
		case DepthFallbackPrevious, DepthFallbackZero, DepthFallbackSkip:
		default:
			return fmt.Errorf("depth_fallback must be one of previous, zero, skip; got %q", *c.DepthFallback)
		}
	}

	if c.ParkedDistance != nil && *c.ParkedDistance <= 0 {
		return fmt.Errorf("parked_distance must be positive, got %f", *c.ParkedDistance)
	}

	if c.MaxDatagramBytes != nil && (*c.MaxDatagramBytes < 64 || *c.MaxDatagramBytes > 65507) {
		return fmt.Errorf("max_datagram_bytes must be in [64, 65507], got %d", *c.MaxDatagramBytes)
	}
	if c.ReassemblyWindow != nil && *c.ReassemblyWindow < 1 {
		return fmt.Errorf("reassembly_window must be at least 1, got %d", *c.ReassemblyWindow)
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetQueueCapacity returns the frame queue capacity or the default (10).
func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 10
	}
	return *c.QueueCapacity
}

// GetPollInterval returns the bounded wait used when the frame queue is empty.
func (c *TuningConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 20*time.Millisecond)
}

// GetTickInterval returns the render/update loop period.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, 16*time.Millisecond)
}

// GetCameraRise returns the fixed vertical rise added to each camera mount.
func (c *TuningConfig) GetCameraRise() float64 {
	if c.CameraRise == nil {
		return 250
	}
	return *c.CameraRise
}

// GetNearClip returns the near clip distance.
func (c *TuningConfig) GetNearClip() float64 {
	if c.NearClip == nil {
		return 10
	}
	return *c.NearClip
}

// GetFarClip returns the far clip distance.
func (c *TuningConfig) GetFarClip() float64 {
	if c.FarClip == nil {
		return 100000
	}
	return *c.FarClip
}

// GetDensifyEnabled reports whether per-camera depth densification runs.
func (c *TuningConfig) GetDensifyEnabled() bool {
	if c.DensifyEnabled == nil {
		return true
	}
	return *c.DensifyEnabled
}

// GetDensifyMaxIterations returns the conjugate-gradient iteration cap.
func (c *TuningConfig) GetDensifyMaxIterations() int {
	if c.DensifyMaxIterations == nil {
		return 4096
	}
	return *c.DensifyMaxIterations
}

// GetDensifyTolerance returns the relative residual tolerance.
func (c *TuningConfig) GetDensifyTolerance() float64 {
	if c.DensifyTolerance == nil {
		return 1e-8
	}
	return *c.DensifyTolerance
}

// GetDepthFallback returns the depth fallback policy name.
func (c *TuningConfig) GetDepthFallback() string {
	if c.DepthFallback == nil || *c.DepthFallback == "" {
		return DepthFallbackPrevious
	}
	return *c.DepthFallback
}

// GetParkedDistance returns the coordinate used for parked point slots.
func (c *TuningConfig) GetParkedDistance() float64 {
	if c.ParkedDistance == nil {
		return 10000
	}
	return *c.ParkedDistance
}

// GetMaxDatagramBytes returns the largest datagram the listener will read.
func (c *TuningConfig) GetMaxDatagramBytes() int {
	if c.MaxDatagramBytes == nil {
		return 65507
	}
	return *c.MaxDatagramBytes
}

// GetReassemblyWindow returns how many incomplete messages are kept per kind.
func (c *TuningConfig) GetReassemblyWindow() int {
	if c.ReassemblyWindow == nil {
		return 8
	}
	return *c.ReassemblyWindow
}
