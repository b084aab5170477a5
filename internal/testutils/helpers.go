// Package testutils holds fixtures shared by the daemon and command tests.
package testutils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// CreateTempConfig writes configData to a file called name in a fresh
// temporary directory and returns its path.
func CreateTempConfig(t *testing.T, name, configData string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(configData), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	return path
}

// CreateTestConfig returns a valid configuration that reads statusPath with
// the file provider, renders to no hardware and runs fast.
func CreateTestConfig(statusPath string) *config.Config {
	cfg := config.DefaultConfig()

	cfg.Matrix.Sink = "none"
	cfg.Provider.Kind = "file"
	cfg.Provider.File.Path = statusPath
	cfg.Provider.PollInterval = 50 * time.Millisecond
	cfg.Provider.MinPollInterval = 10 * time.Millisecond
	cfg.Display.FrameInterval = 5 * time.Millisecond
	cfg.Daemon.WatchConfig = false

	return cfg
}

// Track describes a status fixture.
type Track struct {
	Name       string
	Artists    []string
	Palette    [][3]int
	ProgressMs uint64
	DurationMs uint64
	Playing    bool
}

// StatusJSON encodes tr the way the upstream service sends it.
func StatusJSON(tr Track) []byte {
	msg := map[string]interface{}{"isPlaying": tr.Playing}

	if tr.Playing {
		msg["track"] = map[string]interface{}{"name": tr.Name, "artists": tr.Artists}
		msg["progress_ms"] = tr.ProgressMs
		msg["duration_ms"] = tr.DurationMs

		if tr.Palette != nil {
			msg["palette"] = tr.Palette
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	return data
}

// WriteStatus replaces the status file at path with tr.
func WriteStatus(t *testing.T, path string, tr Track) {
	t.Helper()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, StatusJSON(tr), 0o644); err != nil {
		t.Fatalf("Failed to write status file: %v", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Failed to replace status file: %v", err)
	}
}

// CreateStatusFile writes tr to a new temporary status file.
func CreateStatusFile(t *testing.T, tr Track) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "status.json")
	WriteStatus(t, path, tr)

	return path
}

// FakeSink records what a matrix sink would show. It satisfies matrix.Sink.
type FakeSink struct {
	presentErr error
	pixels     map[int]xcolor.RGB
	presents   int
	closed     bool
	mu         sync.Mutex
}

func NewFakeSink() *FakeSink {
	return &FakeSink{pixels: make(map[int]xcolor.RGB)}
}

func (s *FakeSink) SetPixel(index int, c xcolor.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.IsBlack() {
		delete(s.pixels, index)
		return
	}

	s.pixels[index] = c
}

func (s *FakeSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pixels = make(map[int]xcolor.RGB)
}

func (s *FakeSink) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.presentErr != nil {
		return s.presentErr
	}

	s.presents++

	return nil
}

func (s *FakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// SetPresentError makes every following Present fail with err.
func (s *FakeSink) SetPresentError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presentErr = err
}

// Presents returns the number of successful presents.
func (s *FakeSink) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.presents
}

// Lit returns the number of pixels currently set to a non-black colour.
func (s *FakeSink) Lit() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pixels)
}

func (s *FakeSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// WaitForCondition waits for a condition to become true within a timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Errorf("Condition not met within %v: %s", timeout, message)
}

// SkipIfShort skips a test if running in short mode
func SkipIfShort(t *testing.T, reason string) {
	t.Helper()

	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}

// TestConfigYAML is a complete configuration for the file provider with
// statusPath substituted in.
func TestConfigYAML(statusPath string) string {
	return `
matrix:
  sink: none
  width: 32
  height: 8
  brightness: 64

display:
  idle: wave
  frame_interval: 10ms
  show_artist: true

provider:
  kind: file
  poll_interval: 100ms
  min_poll_interval: 20ms
  file:
    path: "` + statusPath + `"

daemon:
  name: test-daemon
  description: Test Daemon
  watch_config: false

logging:
  level: debug
  format: text
  output: stderr
`
}
