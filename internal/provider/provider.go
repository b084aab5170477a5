// Package provider delivers now-playing status from a remote or local source.
//
// A provider is polled (Poller), pushes updates (Pusher), or both. The daemon
// polls whatever implements Poller and subscribes to whatever implements
// Pusher, so a push-only source is never polled.
package provider

import (
	"context"
	"fmt"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
)

type Provider interface {
	Name() string
	// Connected reports whether the source was reachable on the last attempt.
	Connected() bool
	Close() error
}

type Poller interface {
	Provider
	Fetch(ctx context.Context) (payload.Status, error)
}

// Handler receives pushed statuses. It is called from provider goroutines and
// must not block.
type Handler func(payload.Status, error)

type Pusher interface {
	Provider
	Subscribe(ctx context.Context, h Handler) error
}

// New builds the provider selected by cfg.Kind.
func New(cfg config.ProviderConfig, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	switch cfg.Kind {
	case "http":
		return NewHTTPPoller(cfg.HTTP, cfg.Timeout, logger), nil
	case "mqtt":
		return NewMQTTSubscriber(cfg.MQTT, cfg.Timeout, logger), nil
	case "hybrid":
		return NewHybrid(
			NewHTTPPoller(cfg.HTTP, cfg.Timeout, logger),
			NewMQTTSubscriber(cfg.MQTT, cfg.Timeout, logger),
		), nil
	case "mpris":
		return NewMPRISPoller(cfg.MPRIS, logger)
	case "file":
		return NewFilePoller(cfg.File.Path, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", cfg.Kind)
	}
}
