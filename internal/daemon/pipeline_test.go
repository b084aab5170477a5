package daemon

import (
	"bytes"
	"errors"
	"testing"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/matrix"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/playback"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/preview"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/provider"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/testutils"
)

// useFakeSerial makes the serial sink kind open sink instead of a port.
func useFakeSerial(t *testing.T, sink matrix.Sink) {
	t.Helper()

	orig := openSerial
	openSerial = func(config.SerialConfig, int, *logging.Logger) (matrix.Sink, error) {
		return sink, nil
	}

	t.Cleanup(func() { openSerial = orig })
}

func TestBuildSink(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(cfg *config.Config)
		wantErr    bool
		wantMulti  bool
		wantStream bool
	}{
		{
			name:   "none",
			modify: func(cfg *config.Config) { cfg.Matrix.Sink = "none" },
		},
		{
			name:   "terminal",
			modify: func(cfg *config.Config) { cfg.Matrix.Sink = "terminal" },
		},
		{
			name: "terminal mirror",
			modify: func(cfg *config.Config) {
				cfg.Matrix.Sink = "none"
				cfg.Matrix.Mirror = []string{"terminal"}
			},
			wantMulti: true,
		},
		{
			name: "duplicate mirror",
			modify: func(cfg *config.Config) {
				cfg.Matrix.Sink = "terminal"
				cfg.Matrix.Mirror = []string{"terminal"}
			},
		},
		{
			name: "streamed frames",
			modify: func(cfg *config.Config) {
				cfg.Matrix.Sink = "none"
				cfg.API.Enabled = true
				cfg.API.StreamFrames = true
			},
			wantMulti:  true,
			wantStream: true,
		},
		{
			name: "stream without api",
			modify: func(cfg *config.Config) {
				cfg.Matrix.Sink = "none"
				cfg.API.StreamFrames = true
			},
		},
		{
			name: "serial without port",
			modify: func(cfg *config.Config) {
				cfg.Matrix.Serial.AutoDiscover = false
				cfg.Matrix.Serial.Port = ""
			},
			wantErr: true,
		},
		{
			name:    "unknown",
			modify:  func(cfg *config.Config) { cfg.Matrix.Sink = "hologram" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			l, err := cfg.Matrix.Layout()
			if err != nil {
				t.Fatalf("Layout() error = %v", err)
			}

			sink, stream, err := BuildSink(cfg, l, &bytes.Buffer{}, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildSink() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil {
				return
			}

			defer sink.Close()

			if _, multi := sink.(*matrix.MultiSink); multi != tt.wantMulti {
				t.Errorf("BuildSink() = %T, want MultiSink %v", sink, tt.wantMulti)
			}

			if (stream != nil) != tt.wantStream {
				t.Errorf("BuildSink() stream = %v, want %v", stream != nil, tt.wantStream)
			}
		})
	}
}

func TestBuildSinkTerminalOutput(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Matrix.Sink = "terminal"

	l, _ := cfg.Matrix.Layout()

	var out bytes.Buffer

	sink, _, err := BuildSink(cfg, l, &out, logging.Discard())
	if err != nil {
		t.Fatalf("BuildSink() error = %v", err)
	}

	if _, ok := sink.(*preview.Terminal); !ok {
		t.Fatalf("BuildSink() = %T, want *preview.Terminal", sink)
	}

	if err := sink.Present(); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	if out.Len() == 0 {
		t.Error("terminal sink wrote nothing")
	}
}

func TestBuildPipeline(t *testing.T) {
	statusPath := testutils.CreateStatusFile(t, testutils.Track{Name: "Song", Artists: []string{"Band"}, Playing: true})
	cfg := testutils.CreateTestConfig(statusPath)
	machine := playback.NewMachine(playback.Options{DisplayWidth: 16})

	p, err := BuildPipeline(cfg, Deps{Machine: machine})
	if err != nil {
		t.Fatalf("BuildPipeline() error = %v", err)
	}

	defer p.Close()

	if p.Controller.Machine() != machine {
		t.Error("BuildPipeline() did not reuse the machine")
	}

	if got := machine.Cursor().DisplayWidth; got != cfg.Matrix.Width {
		t.Errorf("machine display width = %d, want %d", got, cfg.Matrix.Width)
	}

	if p.Provider.Name() != "file" {
		t.Errorf("Provider.Name() = %q, want file", p.Provider.Name())
	}

	if p.SinkName != "none" || p.Stream != nil {
		t.Errorf("Pipeline sink = %q stream = %v", p.SinkName, p.Stream)
	}
}

func TestBuildPipelineClosesSinkOnError(t *testing.T) {
	sink := testutils.NewFakeSink()
	useFakeSerial(t, sink)

	orig := newProvider
	newProvider = func(config.ProviderConfig, *logging.Logger) (provider.Provider, error) {
		return nil, errors.New("no session bus")
	}

	t.Cleanup(func() { newProvider = orig })

	cfg := testutils.CreateTestConfig("unused")
	cfg.Matrix.Sink = "serial"

	if _, err := BuildPipeline(cfg, Deps{}); err == nil {
		t.Fatal("BuildPipeline() expected an error")
	}

	if !sink.Closed() {
		t.Error("BuildPipeline() left the sink open after a provider error")
	}
}

func TestPipelineClose(t *testing.T) {
	sink := testutils.NewFakeSink()
	useFakeSerial(t, sink)

	cfg := testutils.CreateTestConfig("unused")
	cfg.Matrix.Sink = "serial"

	p, err := BuildPipeline(cfg, Deps{})
	if err != nil {
		t.Fatalf("BuildPipeline() error = %v", err)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if !sink.Closed() {
		t.Error("Close() did not close the sink")
	}

	if sink.Lit() != 0 {
		t.Errorf("Close() left %d pixels lit", sink.Lit())
	}
}
