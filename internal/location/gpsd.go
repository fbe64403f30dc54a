package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"
)

const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// GPSDProvider reads the gpsd JSON stream over TCP. One watch may be open at
// a time; the daemon keeps emitting TPV reports until the connection drops.
type GPSDProvider struct {
	addr string

	mu         sync.Mutex
	conn       net.Conn
	stop       chan struct{}
	readerDone chan struct{}
	watching   bool
}

var dialGPSDFn = func(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func NewGPSDProvider(addr string) *GPSDProvider {
	return &GPSDProvider{addr: addr}
}

// RequestAccess connects to the daemon. An unreachable or refusing daemon is
// the agent's equivalent of a denied location permission.
func (p *GPSDProvider) RequestAccess(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	conn, err := dialGPSDFn(ctx, p.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	p.conn = conn
	return nil
}

func (p *GPSDProvider) Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil, errors.New("location: access not requested")
	}
	if p.watching {
		return nil, errors.New("location: watch already open")
	}

	if _, err := p.conn.Write([]byte(watchCommand)); err != nil {
		return nil, err
	}

	out := make(chan Fix)
	p.stop = make(chan struct{})
	p.readerDone = make(chan struct{})
	p.watching = true
	go p.read(p.conn, opts, out, p.stop, p.readerDone)
	return out, nil
}

// Close drops the connection and waits for the reader to finish, so no fix
// is delivered after Close returns.
func (p *GPSDProvider) Close() error {
	p.mu.Lock()
	conn := p.conn
	stop := p.stop
	readerDone := p.readerDone
	p.conn = nil
	p.stop = nil
	p.readerDone = nil
	p.watching = false
	p.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if readerDone != nil {
		<-readerDone
	}
	return err
}

type tpvReport struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Speed *float64 `json:"speed"`
	Time  string   `json:"time"`
}

func (p *GPSDProvider) read(conn net.Conn, opts WatchOptions, out chan<- Fix, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	var lastDelivered time.Time
	var lastFix *Fix

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		var report tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" || report.Mode < 2 {
			continue
		}

		fix := Fix{
			Latitude:   report.Lat,
			Longitude:  report.Lon,
			SpeedMPS:   report.Speed,
			CapturedAt: time.Now(),
		}
		if t, err := time.Parse(time.RFC3339, report.Time); err == nil {
			fix.CapturedAt = t
		}

		if opts.Interval > 0 && !lastDelivered.IsZero() && fix.CapturedAt.Sub(lastDelivered) < opts.Interval {
			continue
		}
		if opts.MinDisplacement > 0 && lastFix != nil {
			if distanceMeters(lastFix.Latitude, lastFix.Longitude, fix.Latitude, fix.Longitude) < opts.MinDisplacement {
				continue
			}
		}

		select {
		case out <- fix:
			lastDelivered = fix.CapturedAt
			f := fix
			lastFix = &f
		case <-stop:
			return
		}
	}
}

func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
