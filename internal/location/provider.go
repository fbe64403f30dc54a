package location

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned when the position source refuses access.
var ErrPermissionDenied = errors.New("location: access denied")

// Fix is one raw position report from the source.
type Fix struct {
	Latitude   float64
	Longitude  float64
	SpeedMPS   *float64
	CapturedAt time.Time
}

type WatchOptions struct {
	HighAccuracy bool
	// Interval is the minimum time between delivered fixes.
	Interval time.Duration
	// MinDisplacement is the minimum movement in meters between fixes.
	// Zero means stationary fixes are still delivered.
	MinDisplacement float64
}

// Provider wraps a continuous position source. A Provider delivers fixes on
// the channel returned by Watch until Close is called; no fix is delivered
// after Close returns, and the channel is closed.
type Provider interface {
	RequestAccess(ctx context.Context) error
	Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error)
	Close() error
}
