package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
)

const maxStatusSize = 256 * 1024

// HTTPPoller fetches the status with a GET request to a JSON endpoint.
type HTTPPoller struct {
	client    *http.Client
	logger    *logging.Logger
	endpoint  string
	token     string
	userAgent string
	timeout   time.Duration
	connected atomic.Bool
}

func NewHTTPPoller(cfg config.HTTPConfig, timeout time.Duration, logger *logging.Logger) *HTTPPoller {
	if logger == nil {
		logger = logging.Discard()
	}

	p := &HTTPPoller{
		client:    &http.Client{},
		logger:    logger.WithComponent("provider-http"),
		endpoint:  cfg.Endpoint,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
	}
	p.connected.Store(true)

	return p
}

func (p *HTTPPoller) Name() string {
	return "http"
}

func (p *HTTPPoller) Connected() bool {
	return p.connected.Load()
}

func (p *HTTPPoller) Fetch(ctx context.Context) (payload.Status, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return payload.Status{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.connected.Store(false)

		return payload.Status{}, unavailable(err)
	}
	defer resp.Body.Close()

	p.connected.Store(true)

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxStatusSize))

		return payload.Status{}, &TransportError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusSize))
	if err != nil {
		return payload.Status{}, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	status, err := payload.Parse(data)
	if err != nil {
		return payload.Status{}, err
	}

	p.logger.Debug("Status fetched", "bytes", len(data), "playing", status.IsPlaying)

	return status, nil
}

func (p *HTTPPoller) Close() error {
	p.client.CloseIdleConnections()

	return nil
}
