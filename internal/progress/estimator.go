// Package progress extrapolates playback position between status updates.
package progress

import (
	"math"
	"time"
)

// Estimator tracks playback position from the last synced anchor and the
// local monotonic clock. The zero value is an inactive estimator.
type Estimator struct {
	anchorAt       time.Time
	anchorProgress uint64
	duration       uint64
	active         bool
}

// Sync anchors the estimate at progressMs as of now and activates it.
func (e *Estimator) Sync(progressMs, durationMs uint64, now time.Time) {
	e.anchorProgress = progressMs
	e.anchorAt = now
	e.duration = durationMs
	e.active = true
}

// Reset deactivates the estimator.
func (e *Estimator) Reset() {
	*e = Estimator{}
}

// Active reports whether the estimator has been synced since the last Reset.
func (e Estimator) Active() bool {
	return e.active
}

// DurationMs returns the duration recorded at the last sync.
func (e Estimator) DurationMs() uint64 {
	return e.duration
}

// AnchorProgressMs returns the progress recorded at the last sync.
func (e Estimator) AnchorProgressMs() uint64 {
	return e.anchorProgress
}

// AnchorTime returns the local time of the last sync.
func (e Estimator) AnchorTime() time.Time {
	return e.anchorAt
}

// EstimatedProgressMs returns the anchored progress plus the local time
// elapsed since the anchor. A clock reading before the anchor counts as no
// elapsed time.
func (e Estimator) EstimatedProgressMs(now time.Time) uint64 {
	if !e.active {
		return 0
	}

	elapsed := now.Sub(e.anchorAt).Milliseconds()
	if elapsed <= 0 {
		return e.anchorProgress
	}

	if uint64(elapsed) > math.MaxUint64-e.anchorProgress {
		return math.MaxUint64
	}

	return e.anchorProgress + uint64(elapsed)
}

// LikelyEnded reports whether the estimate has reached a known duration. It is
// a hint to poll early, the next status update remains authoritative.
func (e Estimator) LikelyEnded(now time.Time) bool {
	if !e.active || e.duration == 0 {
		return false
	}

	return e.EstimatedProgressMs(now) >= e.duration
}

// Ratio returns the estimated progress as a fraction of the duration, clamped
// to [0, 1]. It is 0 when the duration is unknown.
func (e Estimator) Ratio(now time.Time) float64 {
	if !e.active || e.duration == 0 {
		return 0
	}

	r := float64(e.EstimatedProgressMs(now)) / float64(e.duration)
	if r > 1 {
		return 1
	}

	return r
}

// Remaining returns the estimated time left in the track, or zero when the
// duration is unknown or already passed.
func (e Estimator) Remaining(now time.Time) time.Duration {
	if !e.active || e.duration == 0 {
		return 0
	}

	progress := e.EstimatedProgressMs(now)
	if progress >= e.duration {
		return 0
	}

	return time.Duration(e.duration-progress) * time.Millisecond
}
