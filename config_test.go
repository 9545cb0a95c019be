package mediasink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediasink.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") failed: %v", err)
	}
	if cfg.Stream.TexturePool != 3 || cfg.Remote.MaxLate != 256 {
		t.Errorf("not the defaults: %+v", cfg)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
stream:
  scale_mode: fill
  texture_pool: 5
decoder:
  threads: 4
remote:
  whep_timeout: 2s
  keyframe_interval: 500ms
  ice_servers:
    - stun:stun.example.org:3478
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Stream.ScaleMode != "fill" || cfg.Stream.TexturePool != 5 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Decoder.Threads != 4 {
		t.Errorf("threads = %d", cfg.Decoder.Threads)
	}
	if cfg.Remote.WHEPTimeout != 2*time.Second || cfg.Remote.KeyframeInterval != 500*time.Millisecond {
		t.Errorf("remote durations = %v, %v", cfg.Remote.WHEPTimeout, cfg.Remote.KeyframeInterval)
	}
	if len(cfg.Remote.ICEServers) != 1 || cfg.Remote.ICEServers[0] != "stun:stun.example.org:3478" {
		t.Errorf("ice servers = %v", cfg.Remote.ICEServers)
	}
	// Untouched keys keep their defaults.
	if cfg.Stream.TestPattern != "color-bars" || cfg.Remote.ReadBuffer != 65536 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"scale mode", "stream:\n  scale_mode: zoom\n", "scale mode"},
		{"texture pool", "stream:\n  texture_pool: 40\n", "texture_pool"},
		{"pattern", "stream:\n  test_pattern: plaid\n", "test pattern"},
		{"threads", "decoder:\n  threads: -1\n", "threads"},
		{"read buffer", "remote:\n  read_buffer: 100\n", "read_buffer"},
		{"whep timeout", "remote:\n  whep_timeout: -1s\n", "whep_timeout"},
		{"log level", "logging:\n  level: loud\n", "log level"},
		{"yaml", "stream: [\n", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("LoadConfig accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("error = %v", err)
	}
}

func TestNativeLibraryDir(t *testing.T) {
	old := configuredLibraryDir()
	t.Cleanup(func() { setNativeLibraryDir(old) })

	setNativeLibraryDir("/opt/media/lib")
	if got := configuredLibraryDir(); got != "/opt/media/lib" {
		t.Errorf("configuredLibraryDir = %q", got)
	}
}
