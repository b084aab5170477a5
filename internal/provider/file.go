package provider

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
)

// FilePoller reads the status from a JSON file on every poll. The simulator
// and tests use it to replay captured payloads.
type FilePoller struct {
	logger    *logging.Logger
	path      string
	connected atomic.Bool
}

func NewFilePoller(path string, logger *logging.Logger) *FilePoller {
	if logger == nil {
		logger = logging.Discard()
	}

	p := &FilePoller{
		logger: logger.WithComponent("provider-file"),
		path:   path,
	}
	p.connected.Store(true)

	return p
}

func (p *FilePoller) Name() string {
	return "file"
}

func (p *FilePoller) Connected() bool {
	return p.connected.Load()
}

func (p *FilePoller) Fetch(ctx context.Context) (payload.Status, error) {
	if err := ctx.Err(); err != nil {
		return payload.Status{}, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		p.connected.Store(false)

		return payload.Status{}, unavailable(fmt.Errorf("failed to read %s: %w", p.path, err))
	}

	p.connected.Store(true)

	return payload.Parse(data)
}

func (p *FilePoller) Close() error {
	return nil
}
