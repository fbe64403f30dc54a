package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosATO/flota-somyl-apps/internal/location"
)

// manualProvider hands out a channel the test feeds directly and counts
// resource acquisitions.
type manualProvider struct {
	mu         sync.Mutex
	fixes      chan location.Fix
	watchCalls int
	closed     bool
}

func newManualProvider() *manualProvider {
	return &manualProvider{fixes: make(chan location.Fix)}
}

func (p *manualProvider) RequestAccess(ctx context.Context) error { return nil }

func (p *manualProvider) Watch(ctx context.Context, opts location.WatchOptions) (<-chan location.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchCalls++
	return p.fixes, nil
}

func (p *manualProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.fixes)
	}
	return nil
}

func (p *manualProvider) send(fix location.Fix) {
	p.fixes <- fix
}

func TestSessionStartIsIdempotentForSameTrip(t *testing.T) {
	provider := newManualProvider()
	uploader := &captureUploader{}
	s := NewSession(provider, uploader, SessionOptions{FlushEvery: time.Hour})

	require.NoError(t, s.Start(context.Background(), "trip-7"))
	require.NoError(t, s.Start(context.Background(), "trip-7"))

	provider.mu.Lock()
	watches := provider.watchCalls
	provider.mu.Unlock()
	assert.Equal(t, 1, watches, "double start must not acquire a second watch")

	tripID, active := s.Active()
	require.True(t, active)
	assert.Equal(t, "trip-7", tripID)

	require.NoError(t, s.Stop(context.Background()))
}

func TestSessionRejectsEmptyTripID(t *testing.T) {
	provider := newManualProvider()
	s := NewSession(provider, &captureUploader{}, SessionOptions{FlushEvery: time.Hour})

	err := s.Start(context.Background(), "")
	require.Error(t, err)

	provider.mu.Lock()
	watches := provider.watchCalls
	provider.mu.Unlock()
	assert.Zero(t, watches, "no watch may be acquired without a trip")

	_, active := s.Active()
	assert.False(t, active, "an empty trip id must not create a session")
}

func TestSessionRejectsSecondTrip(t *testing.T) {
	provider := newManualProvider()
	s := NewSession(provider, &captureUploader{}, SessionOptions{FlushEvery: time.Hour})

	require.NoError(t, s.Start(context.Background(), "trip-7"))
	err := s.Start(context.Background(), "trip-8")
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, s.Stop(context.Background()))
}

func TestSessionPermissionDeniedStaysIdle(t *testing.T) {
	uploader := &captureUploader{}
	s := NewSession(location.NewDeniedReplay(), uploader, SessionOptions{})

	err := s.Start(context.Background(), "trip-7")
	require.ErrorIs(t, err, location.ErrPermissionDenied)

	_, active := s.Active()
	assert.False(t, active, "session must stay idle on denied permission")
	assert.Zero(t, uploader.calls())

	// stop on an idle session is a no-op
	require.NoError(t, s.Stop(context.Background()))
}

func TestSessionStopFlushesEverythingOnce(t *testing.T) {
	speed := 11.5
	base := time.Date(2025, 11, 14, 15, 30, 0, 0, time.UTC)
	provider := location.NewReplay([]location.Fix{
		{Latitude: -33.45, Longitude: -70.66, SpeedMPS: &speed, CapturedAt: base},
		{Latitude: -33.46, Longitude: -70.67, CapturedAt: base.Add(5 * time.Second)},
		{Latitude: -33.47, Longitude: -70.68, CapturedAt: base.Add(10 * time.Second)},
	}, 0)
	uploader := &captureUploader{}
	s := NewSession(provider, uploader, SessionOptions{FlushEvery: time.Hour})

	require.NoError(t, s.Start(context.Background(), "trip-7"))
	require.Eventually(t, func() bool { return s.Status().Samples == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	require.Equal(t, 1, uploader.calls(), "stop performs exactly one final flush")
	batch := uploader.batch(0)
	require.Len(t, batch, 3, "no sample left behind on stop")
	assert.Equal(t, -33.45, batch[0].Latitude)
	assert.Equal(t, -33.47, batch[2].Latitude)
	assert.True(t, batch[0].CapturedAt.Before(batch[1].CapturedAt), "capture order preserved")

	_, active := s.Active()
	assert.False(t, active)
	assert.Zero(t, s.Status().Buffered)
}

func TestSessionPeriodicFlushThenEmptyBuffer(t *testing.T) {
	provider := newManualProvider()
	uploader := &captureUploader{}
	s := NewSession(provider, uploader, SessionOptions{FlushEvery: 30 * time.Millisecond})

	require.NoError(t, s.Start(context.Background(), "trip-7"))

	base := time.Date(2025, 11, 14, 15, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		provider.send(location.Fix{Latitude: float64(i), CapturedAt: base.Add(time.Duration(5*i) * time.Second)})
	}

	require.Eventually(t, func() bool { return uploader.totalSamples() == 3 && s.Status().Buffered == 0 },
		time.Second, 5*time.Millisecond, "timer tick should drain the buffer")

	callsBefore := uploader.calls()
	require.NoError(t, s.Stop(context.Background()))
	// nothing new arrived after the periodic flush, so stop adds no batch
	assert.Equal(t, callsBefore, uploader.calls())
}

func TestSessionObserverSeesEverySample(t *testing.T) {
	var mu sync.Mutex
	var seen []Sample

	base := time.Date(2025, 11, 14, 15, 30, 0, 0, time.UTC)
	provider := location.NewReplay([]location.Fix{
		{Latitude: 1, CapturedAt: base},
		{Latitude: 2, CapturedAt: base.Add(5 * time.Second)},
	}, 0)
	s := NewSession(provider, &captureUploader{}, SessionOptions{
		FlushEvery: time.Hour,
		Observer: func(tripID string, sample Sample) {
			mu.Lock()
			seen = append(seen, sample)
			mu.Unlock()
		},
	})

	require.NoError(t, s.Start(context.Background(), "trip-7"))
	require.Eventually(t, func() bool { return s.Status().Samples == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, 1.0, seen[0].Latitude)
}

func TestSessionAccumulatesDistance(t *testing.T) {
	base := time.Date(2025, 11, 14, 15, 30, 0, 0, time.UTC)
	provider := location.NewReplay([]location.Fix{
		{Latitude: -33.4500, Longitude: -70.6600, CapturedAt: base},
		{Latitude: -33.4510, Longitude: -70.6600, CapturedAt: base.Add(5 * time.Second)},
	}, 0)
	s := NewSession(provider, &captureUploader{}, SessionOptions{FlushEvery: time.Hour})

	require.NoError(t, s.Start(context.Background(), "trip-7"))

	require.Eventually(t, func() bool { return s.Status().Samples == 2 }, time.Second, 5*time.Millisecond)
	st := s.Status()
	// 0.001 degrees of latitude is roughly 111 meters
	assert.InDelta(t, 111.0, st.DistanceM, 2.0)

	require.NoError(t, s.Stop(context.Background()))
}
