package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{EnvEndpoint, EnvToken, EnvMQTTBroker, EnvMQTTUsername, EnvMQTTPassword} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Matrix.Width != 32 || cfg.Matrix.Height != 8 || cfg.Matrix.ChunkWidth != 8 {
		t.Errorf("Expected 32x8 matrix with chunk 8, got %dx%d chunk %d",
			cfg.Matrix.Width, cfg.Matrix.Height, cfg.Matrix.ChunkWidth)
	}

	if cfg.Matrix.Brightness != 8 {
		t.Errorf("Expected brightness 8, got %d", cfg.Matrix.Brightness)
	}

	if cfg.Display.FrameInterval != 80*time.Millisecond {
		t.Errorf("Expected frame interval 80ms, got %v", cfg.Display.FrameInterval)
	}

	if cfg.Provider.PollInterval != 30*time.Second {
		t.Errorf("Expected poll interval 30s, got %v", cfg.Provider.PollInterval)
	}

	if cfg.Provider.MQTT.Topic != "spotify/visualizer/data" {
		t.Errorf("Expected default MQTT topic, got %q", cfg.Provider.MQTT.Topic)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() should be valid, got %v", err)
	}

	l, err := cfg.Matrix.Layout()
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}

	if l != layout.Default() {
		t.Errorf("Layout() = %v, want %v", l, layout.Default())
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		modify  func(*Config)
		name    string
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "bad corner", modify: func(c *Config) { c.Matrix.Start = "middle" }, wantErr: "matrix layout"},
		{name: "chunk mismatch", modify: func(c *Config) { c.Matrix.ChunkWidth = 7 }, wantErr: "matrix layout"},
		{name: "bad sink", modify: func(c *Config) { c.Matrix.Sink = "hdmi" }, wantErr: "invalid matrix sink"},
		{name: "bad mirror", modify: func(c *Config) { c.Matrix.Mirror = []string{"serial"} }, wantErr: "invalid matrix mirror"},
		{name: "zero baud", modify: func(c *Config) { c.Matrix.Serial.BaudRate = 0 }, wantErr: "baud_rate"},
		{
			name: "serial without port",
			modify: func(c *Config) {
				c.Matrix.Serial.AutoDiscover = false
				c.Matrix.Serial.Port = ""
			},
			wantErr: "port is required",
		},
		{
			name: "ws281x color order",
			modify: func(c *Config) {
				c.Matrix.Sink = "ws281x"
				c.Matrix.WS281x.ColorOrder = "xyz"
			},
			wantErr: "color_order",
		},
		{
			name: "ws281x zero pwm frequency",
			modify: func(c *Config) {
				c.Matrix.Sink = "ws281x"
				c.Matrix.WS281x.PWMFrequency = 0
			},
			wantErr: "pwm_frequency",
		},
		{name: "zero frame interval", modify: func(c *Config) { c.Display.FrameInterval = 0 }, wantErr: "frame_interval"},
		{name: "bad idle", modify: func(c *Config) { c.Display.Idle = "fireworks" }, wantErr: "idle"},
		{name: "too many bar rows", modify: func(c *Config) { c.Display.ProgressRows = 9 }, wantErr: "progress_rows"},
		{name: "baseline off matrix", modify: func(c *Config) { c.Display.TextBaseline = 8 }, wantErr: "text_baseline"},
		{name: "bad provider", modify: func(c *Config) { c.Provider.Kind = "carrier-pigeon" }, wantErr: "provider kind"},
		{name: "zero poll", modify: func(c *Config) { c.Provider.PollInterval = 0 }, wantErr: "poll_interval"},
		{name: "min poll above poll", modify: func(c *Config) { c.Provider.MinPollInterval = time.Hour }, wantErr: "min_poll_interval"},
		{name: "zero timeout", modify: func(c *Config) { c.Provider.Timeout = 0 }, wantErr: "timeout"},
		{name: "http without endpoint", modify: func(c *Config) { c.Provider.HTTP.Endpoint = "" }, wantErr: "endpoint"},
		{name: "mqtt without broker", modify: func(c *Config) { c.Provider.Kind = "mqtt" }, wantErr: "broker"},
		{
			name: "mqtt bad qos",
			modify: func(c *Config) {
				c.Provider.Kind = "mqtt"
				c.Provider.MQTT.Broker = "tcp://localhost:1883"
				c.Provider.MQTT.QoS = 3
			},
			wantErr: "qos",
		},
		{name: "file without path", modify: func(c *Config) { c.Provider.Kind = "file" }, wantErr: "file path"},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging level"},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}

				return
			}

			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()

	tests := []struct {
		validate func(*testing.T, *Config)
		name     string
		file     string
		data     string
		wantErr  bool
	}{
		{
			name: "valid YAML config",
			file: "config.yaml",
			data: `
matrix:
  sink: ws281x
  brightness: 40
  width: 16
  chunk_width: 0
  start: bottom-right
  major: rows
  sequence: progressive
display:
  frame_interval: 50ms
  idle: wave
  show_artist: true
provider:
  kind: mqtt
  mqtt:
    broker: tcp://broker:1883
    qos: 1
logging:
  level: debug
  format: pretty
`,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Matrix.Sink != "ws281x" || cfg.Matrix.Brightness != 40 {
					t.Errorf("matrix = %+v", cfg.Matrix)
				}

				l, err := cfg.Matrix.Layout()
				if err != nil {
					t.Fatalf("Layout() error = %v", err)
				}

				if l.Start != layout.BottomRight || l.Major != layout.Rows || l.Sequence != layout.Progressive {
					t.Errorf("Layout() = %v", l)
				}

				if cfg.Display.FrameInterval != 50*time.Millisecond || cfg.Display.Idle != "wave" || !cfg.Display.ShowArtist {
					t.Errorf("display = %+v", cfg.Display)
				}

				if cfg.Provider.MQTT.Topic != "spotify/visualizer/data" {
					t.Errorf("defaults should survive partial provider config, topic = %q", cfg.Provider.MQTT.Topic)
				}

				if cfg.Logging.Level != logging.LevelDebug || cfg.Logging.Format != logging.FormatPretty {
					t.Errorf("logging = %+v", cfg.Logging)
				}
			},
		},
		{
			name: "valid TOML config",
			file: "config.toml",
			data: `
[matrix]
sink = "terminal"
height = 16

[provider]
kind = "file"
poll_interval = "2s"

[provider.file]
path = "fixture.json"
`,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Matrix.Sink != "terminal" || cfg.Matrix.Height != 16 {
					t.Errorf("matrix = %+v", cfg.Matrix)
				}

				if cfg.Provider.PollInterval != 2*time.Second || cfg.Provider.File.Path != "fixture.json" {
					t.Errorf("provider = %+v", cfg.Provider)
				}

				if cfg.Provider.MinPollInterval != 2*time.Second {
					t.Errorf("MinPollInterval = %v, want it clamped to poll_interval", cfg.Provider.MinPollInterval)
				}
			},
		},
		{
			name:    "invalid YAML syntax",
			file:    "broken.yaml",
			data:    "matrix:\n  width: wide\n",
			wantErr: true,
		},
		{
			name:    "invalid TOML syntax",
			file:    "broken.toml",
			data:    "[matrix\nwidth = 3",
			wantErr: true,
		},
		{
			name:    "negative pwm frequency",
			file:    "pwm.yaml",
			data:    "matrix:\n  sink: ws281x\n  ws281x:\n    pwm_frequency: -800000\n",
			wantErr: true,
		},
		{
			name:    "invalid config values",
			file:    "invalid.yaml",
			data:    "display:\n  frame_interval: -1s\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := filepath.Join(tmpDir, tt.file)

			if err := os.WriteFile(configFile, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := LoadConfig(configFile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadConfigNonExistentFile(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() with non-existent file should return default config, got error: %v", err)
	}

	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Error("LoadConfig() with non-existent file should return default config")
	}
}

func TestLoadConfigSecrets(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(configFile, []byte("provider:\n  kind: hybrid\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := strings.Join([]string{
		EnvEndpoint + "=https://example.test/api/device/data",
		EnvToken + "=file-token",
		EnvMQTTBroker + "=tcp://broker.test:1883",
		EnvMQTTPassword + "=hunter2",
	}, "\n")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvToken, "process-token")
	// Exported but empty must not hide the .env value.
	t.Setenv(EnvMQTTBroker, "")

	cfg, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Provider.HTTP.Endpoint != "https://example.test/api/device/data" {
		t.Errorf("endpoint = %q", cfg.Provider.HTTP.Endpoint)
	}

	if cfg.Provider.HTTP.Token != "process-token" {
		t.Errorf("process environment should win, token = %q", cfg.Provider.HTTP.Token)
	}

	if cfg.Provider.MQTT.Broker != "tcp://broker.test:1883" || cfg.Provider.MQTT.Password != "hunter2" {
		t.Errorf("mqtt = %+v", cfg.Provider.MQTT)
	}
}

func TestSaveConfig(t *testing.T) {
	clearEnv(t)

	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", name)

			cfg := DefaultConfig()
			cfg.Matrix.Brightness = 200
			cfg.Display.Idle = "wave"

			if err := cfg.SaveConfig(path); err != nil {
				t.Fatalf("SaveConfig() error = %v", err)
			}

			loaded, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}

			if loaded.Matrix.Brightness != 200 || loaded.Display.Idle != "wave" {
				t.Errorf("round trip lost values: %+v %+v", loaded.Matrix, loaded.Display)
			}

			if loaded.Display.FrameInterval != cfg.Display.FrameInterval {
				t.Errorf("frame interval = %v, want %v", loaded.Display.FrameInterval, cfg.Display.FrameInterval)
			}
		})
	}
}

func TestGetConfigPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	paths := GetConfigPaths()
	if len(paths) == 0 {
		t.Fatal("GetConfigPaths() returned no paths")
	}

	if paths[0] != filepath.Join("/tmp/xdg", appName, "config.yaml") {
		t.Errorf("first path = %q", paths[0])
	}
}

func TestFindConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, appName, "config.yaml")
	if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(want, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindConfig()
	if err != nil {
		t.Fatalf("FindConfig() error = %v", err)
	}

	if got != want {
		t.Errorf("FindConfig() = %q, want %q", got, want)
	}
}
