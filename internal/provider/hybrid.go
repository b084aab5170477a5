package provider

import (
	"context"
	"errors"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
)

// Hybrid polls one source and listens to another. It counts as connected while
// either side is.
type Hybrid struct {
	poller Poller
	pusher Pusher
}

func NewHybrid(poller Poller, pusher Pusher) *Hybrid {
	return &Hybrid{poller: poller, pusher: pusher}
}

func (h *Hybrid) Name() string {
	return h.poller.Name() + "+" + h.pusher.Name()
}

func (h *Hybrid) Connected() bool {
	return h.poller.Connected() || h.pusher.Connected()
}

func (h *Hybrid) Fetch(ctx context.Context) (payload.Status, error) {
	return h.poller.Fetch(ctx)
}

func (h *Hybrid) Subscribe(ctx context.Context, handler Handler) error {
	return h.pusher.Subscribe(ctx, handler)
}

func (h *Hybrid) Close() error {
	return errors.Join(h.pusher.Close(), h.poller.Close())
}
