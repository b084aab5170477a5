// Package config loads, validates and saves the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
)

const appName = "nowplaying-matrix"

// Environment variables that override secrets and the endpoint. They may also
// be set in a .env file next to the config file.
const (
	EnvEndpoint     = "NOWPLAYING_ENDPOINT"
	EnvToken        = "NOWPLAYING_TOKEN"
	EnvMQTTBroker   = "NOWPLAYING_MQTT_BROKER"
	EnvMQTTUsername = "NOWPLAYING_MQTT_USERNAME"
	EnvMQTTPassword = "NOWPLAYING_MQTT_PASSWORD"
)

type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Display  DisplayConfig  `yaml:"display" toml:"display"`
	Provider ProviderConfig `yaml:"provider" toml:"provider"`
	Daemon   DaemonConfig   `yaml:"daemon" toml:"daemon"`
	API      APIConfig      `yaml:"api" toml:"api"`
	Logging  logging.Config `yaml:"logging" toml:"logging"`
}

type MatrixConfig struct {
	Sink       string       `yaml:"sink" toml:"sink"`
	Start      string       `yaml:"start" toml:"start"`
	Major      string       `yaml:"major" toml:"major"`
	Sequence   string       `yaml:"sequence" toml:"sequence"`
	Mirror     []string     `yaml:"mirror" toml:"mirror"`
	Serial     SerialConfig `yaml:"serial" toml:"serial"`
	WS281x     WS281xConfig `yaml:"ws281x" toml:"ws281x"`
	Width      int          `yaml:"width" toml:"width"`
	Height     int          `yaml:"height" toml:"height"`
	ChunkWidth int          `yaml:"chunk_width" toml:"chunk_width"`
	Brightness uint8        `yaml:"brightness" toml:"brightness"`
}

type SerialConfig struct {
	Port         string        `yaml:"port" toml:"port"`
	BaudRate     int           `yaml:"baud_rate" toml:"baud_rate"`
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`
	AutoDiscover bool          `yaml:"auto_discover" toml:"auto_discover"`
}

type WS281xConfig struct {
	ColorOrder   string `yaml:"color_order" toml:"color_order"`
	GPIOPin      int    `yaml:"gpio_pin" toml:"gpio_pin"`
	DMAChannel   int    `yaml:"dma_channel" toml:"dma_channel"`
	PWMFrequency uint   `yaml:"pwm_frequency" toml:"pwm_frequency"`
}

type DisplayConfig struct {
	Idle          string        `yaml:"idle" toml:"idle"`
	FrameInterval time.Duration `yaml:"frame_interval" toml:"frame_interval"`
	TextBaseline  int           `yaml:"text_baseline" toml:"text_baseline"`
	ProgressRows  int           `yaml:"progress_rows" toml:"progress_rows"`
	ShowArtist    bool          `yaml:"show_artist" toml:"show_artist"`
}

type ProviderConfig struct {
	Kind            string        `yaml:"kind" toml:"kind"`
	HTTP            HTTPConfig    `yaml:"http" toml:"http"`
	MQTT            MQTTConfig    `yaml:"mqtt" toml:"mqtt"`
	MPRIS           MPRISConfig   `yaml:"mpris" toml:"mpris"`
	File            FileConfig    `yaml:"file" toml:"file"`
	PollInterval    time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	MinPollInterval time.Duration `yaml:"min_poll_interval" toml:"min_poll_interval"`
	Timeout         time.Duration `yaml:"timeout" toml:"timeout"`
}

type HTTPConfig struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	Token     string `yaml:"token" toml:"token"`
	UserAgent string `yaml:"user_agent" toml:"user_agent"`
}

type MQTTConfig struct {
	Broker    string        `yaml:"broker" toml:"broker"`
	Topic     string        `yaml:"topic" toml:"topic"`
	ClientID  string        `yaml:"client_id" toml:"client_id"`
	Username  string        `yaml:"username" toml:"username"`
	Password  string        `yaml:"password" toml:"password"`
	KeepAlive time.Duration `yaml:"keep_alive" toml:"keep_alive"`
	QoS       byte          `yaml:"qos" toml:"qos"`
}

type MPRISConfig struct {
	// Player restricts polling to bus names containing this string, e.g. "spotify".
	Player string `yaml:"player" toml:"player"`
}

type FileConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type DaemonConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description" toml:"description"`
	WatchConfig bool   `yaml:"watch_config" toml:"watch_config"`
}

type APIConfig struct {
	Listen       string `yaml:"listen" toml:"listen"`
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	StreamFrames bool   `yaml:"stream_frames" toml:"stream_frames"`
}

func DefaultConfig() *Config {
	return &Config{
		Matrix: MatrixConfig{
			Sink:       "serial",
			Width:      32,
			Height:     8,
			ChunkWidth: 8,
			Start:      "top-left",
			Major:      "columns",
			Sequence:   "zigzag",
			Brightness: 8,
			Serial: SerialConfig{
				BaudRate:     115200,
				AutoDiscover: true,
				Timeout:      time.Second,
			},
			WS281x: WS281xConfig{
				GPIOPin:      18,
				DMAChannel:   10,
				PWMFrequency: 800000,
				ColorOrder:   "grb",
			},
		},
		Display: DisplayConfig{
			FrameInterval: 80 * time.Millisecond,
			Idle:          "blank",
			TextBaseline:  6,
			ProgressRows:  1,
		},
		Provider: ProviderConfig{
			Kind:            "http",
			PollInterval:    30 * time.Second,
			MinPollInterval: 5 * time.Second,
			Timeout:         10 * time.Second,
			HTTP: HTTPConfig{
				Endpoint:  "http://localhost:3000/api/device/data",
				UserAgent: appName + "/1.0",
			},
			MQTT: MQTTConfig{
				Topic:     "spotify/visualizer/data",
				QoS:       0,
				KeepAlive: 30 * time.Second,
			},
		},
		Daemon: DaemonConfig{
			Name:        appName + "-daemon",
			Description: "Now-playing LED matrix display",
			WatchConfig: true,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8787",
		},
		Logging: logging.DefaultConfig(),
	}
}

// LoadConfig reads path (yaml, or toml for a .toml extension) over the
// defaults, applies secrets from the environment and a sibling .env file, and
// validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = getDefaultConfigPath()
	}

	config := DefaultConfig()

	data, err := os.ReadFile(path)

	switch {
	case err == nil:
		if err := decode(path, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := config.applyEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	// A file that only shortens poll_interval keeps the early-poll limit
	// within it.
	if p := &config.Provider; p.PollInterval > 0 && p.MinPollInterval > p.PollInterval {
		p.MinPollInterval = p.PollInterval
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func decode(path string, data []byte, config *Config) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), config)
		return err
	}

	return yaml.Unmarshal(data, config)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// applyEnv overlays secrets from envFile and then from the process
// environment, which wins.
func (c *Config) applyEnv(envFile string) error {
	fileEnv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read env file %s: %w", envFile, err)
	}

	lookup := func(key string) (string, bool) {
		// Service managers often export unset secrets as empty strings.
		if v := os.Getenv(key); v != "" {
			return v, true
		}

		v, ok := fileEnv[key]

		return v, ok
	}

	targets := map[string]*string{
		EnvEndpoint:     &c.Provider.HTTP.Endpoint,
		EnvToken:        &c.Provider.HTTP.Token,
		EnvMQTTBroker:   &c.Provider.MQTT.Broker,
		EnvMQTTUsername: &c.Provider.MQTT.Username,
		EnvMQTTPassword: &c.Provider.MQTT.Password,
	}

	for key, dst := range targets {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	return nil
}

// SaveConfig writes the configuration in the format implied by path.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		path = getDefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)

	if isTOML(path) {
		var sb strings.Builder

		err = toml.NewEncoder(&sb).Encode(c)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Layout converts the matrix wiring options into a layout.
func (m MatrixConfig) Layout() (layout.Layout, error) {
	start, err := layout.ParseCorner(m.Start)
	if err != nil {
		return layout.Layout{}, err
	}

	major, err := layout.ParseAxis(m.Major)
	if err != nil {
		return layout.Layout{}, err
	}

	seq, err := layout.ParseSequence(m.Sequence)
	if err != nil {
		return layout.Layout{}, err
	}

	l := layout.Layout{
		Width:      m.Width,
		Height:     m.Height,
		ChunkWidth: m.ChunkWidth,
		Start:      start,
		Major:      major,
		Sequence:   seq,
	}

	return l, l.Validate()
}

var (
	validSinks     = map[string]bool{"serial": true, "ws281x": true, "terminal": true, "stream": true, "none": true}
	validMirrors   = map[string]bool{"terminal": true, "stream": true}
	validIdle      = map[string]bool{"blank": true, "wave": true}
	validProviders = map[string]bool{"http": true, "mqtt": true, "hybrid": true, "mpris": true, "file": true}
	validFormats   = map[logging.LogFormat]bool{logging.FormatJSON: true, logging.FormatText: true, logging.FormatPretty: true}
	validLevels    = map[logging.LogLevel]bool{
		logging.LevelDebug: true, logging.LevelInfo: true, logging.LevelWarn: true, logging.LevelError: true,
	}
	validColorOrders = map[string]bool{"rgb": true, "rbg": true, "grb": true, "gbr": true, "brg": true, "bgr": true}
)

func (c *Config) Validate() error {
	if _, err := c.Matrix.Layout(); err != nil {
		return fmt.Errorf("matrix layout: %w", err)
	}

	if !validSinks[c.Matrix.Sink] {
		return fmt.Errorf("invalid matrix sink: %s", c.Matrix.Sink)
	}

	for _, m := range c.Matrix.Mirror {
		if !validMirrors[m] {
			return fmt.Errorf("invalid matrix mirror: %s", m)
		}
	}

	if c.Matrix.Sink == "serial" {
		if c.Matrix.Serial.BaudRate <= 0 {
			return fmt.Errorf("matrix serial baud_rate must be positive")
		}

		if c.Matrix.Serial.Port == "" && !c.Matrix.Serial.AutoDiscover {
			return fmt.Errorf("matrix serial port is required when auto_discover is off")
		}
	}

	if c.Matrix.Sink == "ws281x" {
		if !validColorOrders[strings.ToLower(c.Matrix.WS281x.ColorOrder)] {
			return fmt.Errorf("invalid ws281x color_order: %s", c.Matrix.WS281x.ColorOrder)
		}

		if c.Matrix.WS281x.PWMFrequency == 0 {
			return fmt.Errorf("matrix ws281x pwm_frequency must be positive")
		}
	}

	if c.Display.FrameInterval <= 0 {
		return fmt.Errorf("display frame_interval must be positive")
	}

	if !validIdle[c.Display.Idle] {
		return fmt.Errorf("invalid display idle mode: %s", c.Display.Idle)
	}

	if c.Display.ProgressRows < 0 || c.Display.ProgressRows > c.Matrix.Height {
		return fmt.Errorf("display progress_rows must be between 0 and the matrix height")
	}

	if c.Display.TextBaseline < 0 || c.Display.TextBaseline >= c.Matrix.Height {
		return fmt.Errorf("display text_baseline must be a matrix row")
	}

	return c.validateProvider()
}

func (c *Config) validateProvider() error {
	p := c.Provider

	if !validProviders[p.Kind] {
		return fmt.Errorf("invalid provider kind: %s", p.Kind)
	}

	if p.PollInterval <= 0 {
		return fmt.Errorf("provider poll_interval must be positive")
	}

	if p.MinPollInterval < 0 || p.MinPollInterval > p.PollInterval {
		return fmt.Errorf("provider min_poll_interval must be between 0 and poll_interval")
	}

	if p.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}

	if (p.Kind == "http" || p.Kind == "hybrid") && p.HTTP.Endpoint == "" {
		return fmt.Errorf("provider http endpoint is required (or set %s)", EnvEndpoint)
	}

	if p.Kind == "mqtt" || p.Kind == "hybrid" {
		if p.MQTT.Broker == "" {
			return fmt.Errorf("provider mqtt broker is required (or set %s)", EnvMQTTBroker)
		}

		if p.MQTT.Topic == "" {
			return fmt.Errorf("provider mqtt topic is required")
		}

		if p.MQTT.QoS > 2 {
			return fmt.Errorf("provider mqtt qos must be 0, 1 or 2")
		}
	}

	if p.Kind == "file" && p.File.Path == "" {
		return fmt.Errorf("provider file path is required")
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

func getDefaultConfigPath() string {
	if configDir := os.Getenv("XDG_CONFIG_HOME"); configDir != "" {
		return filepath.Join(configDir, appName, "config.yaml")
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".config", appName, "config.yaml")
	}

	return "./config.yaml"
}

// GetConfigPaths lists the locations FindConfig searches, in order.
func GetConfigPaths() []string {
	var paths []string

	paths = append(paths, getDefaultConfigPath())

	if configDir := os.Getenv("XDG_CONFIG_HOME"); configDir != "" {
		paths = append(paths, filepath.Join(configDir, appName+".yaml"), filepath.Join(configDir, appName, "config.toml"))
	}

	paths = append(paths,
		"/etc/"+appName+"/config.yaml",
		"/etc/"+appName+"/config.toml",
		"/usr/local/etc/"+appName+"/config.yaml",
		"./configs/config.yaml",
		"./configs/config.toml",
	)

	return paths
}

// FindConfig returns the absolute path of the first existing config file.
func FindConfig() (string, error) {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}

			return absPath, nil
		}
	}

	return "", fmt.Errorf("no config file found in standard locations")
}
