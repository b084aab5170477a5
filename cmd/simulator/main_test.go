package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/testutils"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(o options) bool
		wantErr error
		anyErr  bool
	}{
		{
			name:  "defaults",
			args:  nil,
			check: func(o options) bool { return o.fps == 12.5 && !o.window && o.duration == 0 },
		},
		{
			name:  "short flags",
			args:  []string{"-w", "-f", "song.json", "-d", "5s"},
			check: func(o options) bool { return o.window && o.fixture == "song.json" && o.duration == 5*time.Second },
		},
		{
			name:  "provider",
			args:  []string{"--provider", "mpris", "--no-artist"},
			check: func(o options) bool { return o.provider == "mpris" && o.noArtist },
		},
		{
			name:    "version",
			args:    []string{"--version"},
			wantErr: errShowVersion,
		},
		{
			name:    "help",
			args:    []string{"--help"},
			wantErr: pflag.ErrHelp,
		},
		{
			name:   "bad fps",
			args:   []string{"--fps", "0"},
			anyErr: true,
		},
		{
			name:   "fixture and provider",
			args:   []string{"--fixture", "a.json", "--provider", "http"},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("parseFlags() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("parseFlags() expected an error")
				}
			default:
				if err != nil {
					t.Fatalf("parseFlags() error = %v", err)
				}

				if !tt.check(opts) {
					t.Errorf("parseFlags() = %+v", opts)
				}
			}
		})
	}
}

func TestBuildConfigDemo(t *testing.T) {
	opts, _ := parseFlags(nil)

	cfg, err := buildConfig(opts, t.TempDir())
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}

	if cfg.Provider.Kind != "file" {
		t.Errorf("Provider.Kind = %q, want file", cfg.Provider.Kind)
	}

	if cfg.Display.FrameInterval != 80*time.Millisecond {
		t.Errorf("FrameInterval = %v, want 80ms", cfg.Display.FrameInterval)
	}

	data, err := os.ReadFile(cfg.Provider.File.Path)
	if err != nil {
		t.Fatalf("demo status not written: %v", err)
	}

	status, err := payload.Parse(data)
	if err != nil {
		t.Fatalf("demo status does not parse: %v", err)
	}

	if !status.IsPlaying || len(status.Palette) != 3 {
		t.Errorf("demo status = %+v", status)
	}
}

func TestBuildConfigFixtureAndProvider(t *testing.T) {
	fixture := testutils.CreateStatusFile(t, testutils.Track{Name: "Song", Playing: true})

	cfg, err := buildConfig(options{fixture: fixture, fps: 10, logLevel: "info"}, t.TempDir())
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}

	if cfg.Provider.File.Path != fixture {
		t.Errorf("File.Path = %q, want %q", cfg.Provider.File.Path, fixture)
	}

	// The default http provider is valid without any extra settings.
	cfg, err = buildConfig(options{provider: "http", fps: 10, logLevel: "info"}, t.TempDir())
	if err != nil {
		t.Fatalf("buildConfig(http) error = %v", err)
	}

	if cfg.Provider.Kind != "http" {
		t.Errorf("Provider.Kind = %q, want http", cfg.Provider.Kind)
	}

	if _, err := buildConfig(options{provider: "mqtt", fps: 10, logLevel: "info"}, t.TempDir()); err == nil {
		t.Error("buildConfig(mqtt) without a broker expected an error")
	}
}

func TestSimulationRendersFixture(t *testing.T) {
	fixture := testutils.CreateStatusFile(t, testutils.Track{
		Name:       "Song",
		Artists:    []string{"Band"},
		Palette:    [][3]int{{0, 255, 0}},
		ProgressMs: 50_000,
		DurationMs: 100_000,
		Playing:    true,
	})

	cfg, err := buildConfig(options{fixture: fixture, fps: 100, logLevel: "info"}, t.TempDir())
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}

	sink := testutils.NewFakeSink()

	sim, err := newSimulation(cfg, sink, logging.Discard())
	if err != nil {
		t.Fatalf("newSimulation() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- sim.Run(ctx) }()

	testutils.WaitForCondition(t, func() bool { return sink.Lit() > 0 }, time.Second, "fixture rendered")

	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	if err := sim.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if !sink.Closed() || sink.Lit() != 0 {
		t.Error("Close() did not blank and close the sink")
	}
}

func TestRunTerminal(t *testing.T) {
	opts, _ := parseFlags([]string{"--fps", "50"})

	cfg, err := buildConfig(opts, t.TempDir())
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer

	if err := runTerminal(ctx, cfg, &out, logging.Discard()); err != nil {
		t.Fatalf("runTerminal() error = %v", err)
	}

	if !strings.Contains(out.String(), "Simulating a 32x8 matrix") {
		t.Errorf("runTerminal() banner missing from output")
	}

	if !strings.Contains(out.String(), "██") {
		t.Error("runTerminal() never drew a lit LED")
	}
}
