package location

import (
	"context"
	"sync"
	"time"
)

// Replay delivers a scripted sequence of fixes and then idles until closed.
// It stands in for gpsd in tests and on vehicles without a position source.
type Replay struct {
	fixes  []Fix
	delay  time.Duration
	denied bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewReplay(fixes []Fix, delay time.Duration) *Replay {
	return &Replay{fixes: fixes, delay: delay}
}

// NewDeniedReplay refuses access, for exercising the permission path.
func NewDeniedReplay() *Replay {
	return &Replay{denied: true}
}

func (r *Replay) RequestAccess(ctx context.Context) error {
	if r.denied {
		return ErrPermissionDenied
	}
	return nil
}

func (r *Replay) Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(chan Fix)
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func(stop chan struct{}, done chan struct{}) {
		defer close(done)
		defer close(out)
		for _, fix := range r.fixes {
			if r.delay > 0 {
				select {
				case <-time.After(r.delay):
				case <-stop:
					return
				}
			}
			select {
			case out <- fix:
			case <-stop:
				return
			}
		}
		<-stop
	}(r.stop, r.done)

	return out, nil
}

func (r *Replay) Close() error {
	r.mu.Lock()
	stop := r.stop
	done := r.done
	r.stop = nil
	r.done = nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
