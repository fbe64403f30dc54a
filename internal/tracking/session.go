package tracking

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/CarlosATO/flota-somyl-apps/internal/location"
)

// ErrSessionActive is returned when Start is called while another trip is
// already being tracked. A driver has one vehicle and one active trip, so a
// second session is a checked precondition, never a queued request.
var ErrSessionActive = errors.New("tracking: another trip is already active")

// SessionOptions tune one Session. Zero values fall back to the platform
// defaults (5s sampling, 30s flushing).
type SessionOptions struct {
	SampleEvery time.Duration
	FlushEvery  time.Duration
	// Observer, when set, sees every captured sample. The live telemetry
	// stream hangs off this hook.
	Observer func(tripID string, sample Sample)
}

const (
	defaultSampleEvery = 5 * time.Second
	defaultFlushEvery  = 30 * time.Second
)

// Session coordinates the location watch, the sample buffer and the flush
// scheduler for the one active trip. At most one session is live at a time.
type Session struct {
	provider location.Provider
	uploader RouteUploader
	opts     SessionOptions

	mu           sync.Mutex
	tripID       string
	buffer       *Buffer
	flusher      *flusher
	consumerDone chan struct{}

	startedAt time.Time
	samples   int
	distanceM float64
	last      *Sample
}

// Status is a read-only snapshot for the local surface.
type Status struct {
	Active    bool      `json:"active"`
	TripID    string    `json:"trip_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Samples   int       `json:"samples"`
	Buffered  int       `json:"buffered"`
	DistanceM float64   `json:"distance_m"`
}

func NewSession(provider location.Provider, uploader RouteUploader, opts SessionOptions) *Session {
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = defaultSampleEvery
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	return &Session{provider: provider, uploader: uploader, opts: opts}
}

// Start moves the session to ACTIVE for tripID. Starting the active trip
// again is a no-op; starting a different trip while one is active returns
// ErrSessionActive. A denied location permission leaves the session idle.
func (s *Session) Start(ctx context.Context, tripID string) error {
	if tripID == "" {
		return errors.New("tracking: empty trip id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tripID == tripID {
		return nil
	}
	if s.tripID != "" {
		return ErrSessionActive
	}

	if err := s.provider.RequestAccess(ctx); err != nil {
		return err
	}

	fixes, err := s.provider.Watch(ctx, location.WatchOptions{
		HighAccuracy: true,
		Interval:     s.opts.SampleEvery,
		// Zero displacement on purpose: dwell time is meaningful data, so
		// sampling continues while the vehicle is stationary.
		MinDisplacement: 0,
	})
	if err != nil {
		return err
	}

	s.tripID = tripID
	s.buffer = NewBuffer()
	s.flusher = newFlusher(tripID, s.buffer, s.uploader, s.opts.FlushEvery)
	s.consumerDone = make(chan struct{})
	s.startedAt = time.Now()
	s.samples = 0
	s.distanceM = 0
	s.last = nil

	go s.consume(tripID, s.buffer, fixes, s.consumerDone)
	return nil
}

func (s *Session) consume(tripID string, buffer *Buffer, fixes <-chan location.Fix, done chan struct{}) {
	defer close(done)
	for fix := range fixes {
		sample := Sample{
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			SpeedMPS:   fix.SpeedMPS,
			CapturedAt: fix.CapturedAt,
		}
		buffer.Append(sample)
		s.account(sample)
		if s.opts.Observer != nil {
			s.opts.Observer(tripID, sample)
		}
	}
}

func (s *Session) account(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	if s.last != nil {
		s.distanceM += haversineM(s.last.Latitude, s.last.Longitude, sample.Latitude, sample.Longitude)
	}
	s.last = &sample
}

// Stop tears the session down in the order that loses no sample: the flush
// ticker first (no new periodic flushes), then the watch (no new samples),
// then a final synchronous flush of whatever remains. Stop while idle is a
// no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.tripID == "" {
		s.mu.Unlock()
		return nil
	}
	tripID := s.tripID
	buffer := s.buffer
	fl := s.flusher
	consumerDone := s.consumerDone
	s.mu.Unlock()

	fl.Stop()
	if err := s.provider.Close(); err != nil {
		log.Printf("closing location watch for trip %s: %v", tripID, err)
	}
	<-consumerDone

	if batch := buffer.TakeAll(); len(batch) > 0 {
		if err := s.uploader.UploadRoute(ctx, tripID, batch); err != nil {
			log.Printf("final route flush failed for trip %s (%d samples): %v", tripID, len(batch), err)
		}
	}

	s.mu.Lock()
	s.tripID = ""
	s.buffer = nil
	s.flusher = nil
	s.consumerDone = nil
	s.last = nil
	s.mu.Unlock()
	return nil
}

// Active reports the tracked trip, if any.
func (s *Session) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripID, s.tripID != ""
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Active:    s.tripID != "",
		TripID:    s.tripID,
		Samples:   s.samples,
		DistanceM: s.distanceM,
	}
	if st.Active {
		st.StartedAt = s.startedAt
		st.Buffered = s.buffer.Len()
	}
	return st
}

func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
