package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "default config",
			config: DefaultConfig(),
		},
		{
			name: "json format to stderr",
			config: Config{
				Level:  LevelDebug,
				Format: FormatJSON,
				Output: "stderr",
			},
		},
		{
			name: "pretty format",
			config: Config{
				Level:     LevelWarn,
				Format:    FormatPretty,
				Output:    "stdout",
				AddSource: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			if err := logger.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestLogger_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "daemon.log")

	logger, err := NewLogger(Config{Level: LevelInfo, Format: FormatJSON, Output: logFile})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.WithComponent("playback").Info("track started", "track", "Song A")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var record map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, content)
	}

	if record["msg"] != "track started" || record["component"] != "playback" || record["track"] != "Song A" {
		t.Errorf("unexpected record %v", record)
	}

	if _, err := time.Parse(time.RFC3339, record["time"].(string)); err != nil {
		t.Errorf("time is not RFC3339: %v", record["time"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func newBufferLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return FromSlog(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})))
}

func TestLogger_WithComponentAndFields(t *testing.T) {
	var buf bytes.Buffer

	logger := newBufferLogger(&buf, slog.LevelDebug).
		WithComponent("provider").
		WithFields(map[string]interface{}{"endpoint": "http://example"})

	logger.Debug("fetch")

	out := buf.String()
	for _, want := range []string{"component=provider", "endpoint=http://example", "msg=fetch"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer

	el := NewEventLogger(newBufferLogger(&buf, slog.LevelDebug))

	el.LogPlayback(LevelInfo, "track started", "started", map[string]interface{}{"track": "Song A"})
	el.LogProvider(LevelWarn, "fetch failed", "http", nil)
	el.LogSink(LevelDebug, "frame presented", "serial", nil)
	el.LogConfig(LevelInfo, "config reloaded", "/etc/nowplaying/config.yaml", nil)
	el.LogDaemon(LevelInfo, "service started", "start", nil)
	el.LogError(errors.New("boom"), "render failed", nil)
	el.Close()

	out := buf.String()
	for _, want := range []string{
		"transition=started",
		"provider=http",
		"sink=serial",
		"config_path=/etc/nowplaying/config.yaml",
		"action=start",
		"error=boom",
		"caller_file=logger_test.go",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("event output missing %q:\n%s", want, out)
		}
	}

	// Events after Close are dropped without panicking.
	el.LogDaemon(LevelInfo, "late", "stop", nil)
	el.Close()
}

func TestMetricsLogger(t *testing.T) {
	var buf bytes.Buffer

	ml := NewMetricsLogger(newBufferLogger(&buf, slog.LevelInfo))
	ml.LogCounter("polls_total", 3, map[string]string{"provider": "http"})
	ml.LogGauge("brightness", 8, nil)
	ml.LogHistogram("frame_ms", 1.5, nil)
	ml.LogTiming("fetch", 25*time.Millisecond, nil)

	out := buf.String()
	for _, want := range []string{
		"metric_type=counter", "metric_name=polls_total", "label_provider=http",
		"metric_type=gauge", "metric_type=histogram", "metric_type=timing", "value=25",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestPerformanceTracker(t *testing.T) {
	var buf bytes.Buffer

	ml := NewMetricsLogger(newBufferLogger(&buf, slog.LevelInfo))
	labels := map[string]string{"op": "poll"}

	tracker := ml.StartTracking("poll", labels)
	if d := tracker.FinishWithError(errors.New("timeout")); d < 0 {
		t.Errorf("duration = %v", d)
	}

	if _, ok := labels["error"]; ok {
		t.Error("FinishWithError() mutated the caller's labels")
	}

	if !strings.Contains(buf.String(), "label_error_message=timeout") {
		t.Errorf("missing error label:\n%s", buf.String())
	}

	buf.Reset()
	ml.StartTracking("render", nil).Finish()

	if !strings.Contains(buf.String(), "label_error=false") {
		t.Errorf("missing success label:\n%s", buf.String())
	}
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	SetGlobalLogger(FromSlog(slogt.New(t)))

	Debug("debug message", "k", 1)
	Info("info message")
	Warn("warn message")
	Error("error message")
	WithComponent("daemon").Info("component message")

	SetGlobalLogger(nil)

	if GetGlobalLogger() == nil {
		t.Error("GetGlobalLogger() should build a default logger")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo || cfg.Format != FormatText || cfg.Output != "stdout" || cfg.AddSource {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("dropped")
}
