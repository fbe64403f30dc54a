package tracking

import (
	"context"
	"log"
	"sync"
	"time"
)

const submitTimeout = 10 * time.Second

// RouteUploader submits one batch of samples for a trip.
type RouteUploader interface {
	UploadRoute(ctx context.Context, tripID string, samples []Sample) error
}

// flusher drains the buffer on a fixed period, independent of the sampling
// cadence. A slow submission never delays the next tick: each batch is
// swapped out first and submitted on its own goroutine, so overlapping
// submissions operate on disjoint batches.
type flusher struct {
	tripID   string
	buffer   *Buffer
	uploader RouteUploader
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	inFlight sync.WaitGroup
}

func newFlusher(tripID string, buffer *Buffer, uploader RouteUploader, interval time.Duration) *flusher {
	f := &flusher{
		tripID:   tripID,
		buffer:   buffer,
		uploader: uploader,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *flusher) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *flusher) tick() {
	batch := f.buffer.TakeAll()
	if len(batch) == 0 {
		return
	}

	f.inFlight.Add(1)
	go func() {
		defer f.inFlight.Done()
		f.submit(batch)
	}()
}

func (f *flusher) submit(batch []Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	// Telemetry is best-effort: a failed batch is dropped, never re-queued,
	// and the failure stays out of the driver's way.
	if err := f.uploader.UploadRoute(ctx, f.tripID, batch); err != nil {
		log.Printf("route flush failed for trip %s (%d samples): %v", f.tripID, len(batch), err)
	}
}

// Stop halts the ticker. Submissions already in flight are left to finish on
// their own; Stop does not wait for them.
func (f *flusher) Stop() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}
