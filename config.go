package mediasink

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a Subsystem. Zero-valued fields loaded from a
// file keep their defaults.
type Config struct {
	Native  NativeConfig  `yaml:"native"`
	Stream  StreamConfig  `yaml:"stream"`
	Decoder DecoderConfig `yaml:"decoder"`
	Remote  RemoteConfig  `yaml:"remote"`
	Logging LoggingConfig `yaml:"logging"`
}

type NativeConfig struct {
	LibraryPath string `yaml:"library_path"` // directory holding libmedia_* and, optionally, libGL
	GLLibrary   string `yaml:"gl_library"`   // explicit path to the OpenGL library
}

type StreamConfig struct {
	ScaleMode   string `yaml:"scale_mode"`   // fit, fill or stretch
	TexturePool int    `yaml:"texture_pool"` // textures cycled by the presentation element
	TestPattern string `yaml:"test_pattern"` // pattern drawn by test-pattern pipelines
}

type DecoderConfig struct {
	Threads int `yaml:"threads"`
}

type RemoteConfig struct {
	MaxLate          uint16        `yaml:"max_late"`          // samplebuilder reorder window, in packets
	ReadBuffer       int           `yaml:"read_buffer"`       // UDP receive buffer, in bytes
	WHEPTimeout      time.Duration `yaml:"whep_timeout"`      // signaling and ICE deadline
	KeyframeInterval time.Duration `yaml:"keyframe_interval"` // PLI period for WHEP sessions
	ICEServers       []string      `yaml:"ice_servers"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			ScaleMode:   "fit",
			TexturePool: 3,
			TestPattern: "color-bars",
		},
		Decoder: DecoderConfig{
			Threads: 2,
		},
		Remote: RemoteConfig{
			MaxLate:          256,
			ReadBuffer:       65536,
			WHEPTimeout:      10 * time.Second,
			KeyframeInterval: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := ParseScaleMode(c.Stream.ScaleMode); err != nil {
		return err
	}
	if _, err := ParsePatternType(c.Stream.TestPattern); err != nil {
		return err
	}
	if c.Stream.TexturePool < 1 || c.Stream.TexturePool > 16 {
		return fmt.Errorf("invalid texture_pool: %d (must be between 1-16)", c.Stream.TexturePool)
	}
	if c.Decoder.Threads < 0 {
		return fmt.Errorf("invalid decoder threads: %d", c.Decoder.Threads)
	}
	if c.Remote.MaxLate == 0 {
		return fmt.Errorf("invalid max_late: must be positive")
	}
	if c.Remote.ReadBuffer < 1500 {
		return fmt.Errorf("invalid read_buffer: %d (must be at least 1500)", c.Remote.ReadBuffer)
	}
	if c.Remote.WHEPTimeout <= 0 {
		return fmt.Errorf("invalid whep_timeout: %v", c.Remote.WHEPTimeout)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

var (
	nativeLibDirMu sync.RWMutex
	nativeLibDir   string
)

// setNativeLibraryDir records a directory searched before the default
// native library locations.
func setNativeLibraryDir(dir string) {
	nativeLibDirMu.Lock()
	nativeLibDir = dir
	nativeLibDirMu.Unlock()
}

func configuredLibraryDir() string {
	nativeLibDirMu.RLock()
	defer nativeLibDirMu.RUnlock()
	return nativeLibDir
}
