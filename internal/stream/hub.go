package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CarlosATO/flota-somyl-apps/internal/tracking"
)

// Event is one live telemetry frame for a trip: the sample that just
// arrived plus the session counters at that moment.
type Event struct {
	TripID    string          `json:"trip_id"`
	Sample    tracking.Sample `json:"sample"`
	Samples   int             `json:"samples"`
	DistanceM float64         `json:"distance_m"`
	SentAt    time.Time       `json:"sent_at"`
}

// Hub fans live telemetry out to websocket viewers, keyed by trip. With a
// redis client it also bridges events across processes through pub/sub, so
// a dashboard attached to another agent instance sees the same frames.
type Hub struct {
	redis   *redis.Client
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	last    map[string][]byte
}

type Client struct {
	TripID string
	Send   chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
		last:    map[string][]byte{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

// Register adds a viewer for a trip. A viewer that connects mid-trip gets
// the last frame immediately instead of waiting for the next sample.
func (h *Hub) Register(tripID string) *Client {
	client := &Client{
		TripID: tripID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[tripID] == nil {
		h.clients[tripID] = map[*Client]struct{}{}
	}
	h.clients[tripID][client] = struct{}{}
	if frame, ok := h.last[tripID]; ok {
		client.Send <- frame
	}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tripClients, ok := h.clients[client.TripID]; ok {
		delete(tripClients, client)
		if len(tripClients) == 0 {
			delete(h.clients, client.TripID)
		}
	}
	close(client.Send)
}

// BroadcastSample publishes one telemetry frame for a trip. Slow viewers
// are skipped rather than blocking the tracking session.
func (h *Hub) BroadcastSample(tripID string, sample tracking.Sample, samples int, distanceM float64) {
	frame, err := json.Marshal(Event{
		TripID:    tripID,
		Sample:    sample,
		Samples:   samples,
		DistanceM: distanceM,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("telemetry frame encode error: %v", err)
		return
	}
	// With redis in play the frame comes back through the subscription;
	// delivering it directly too would double every frame.
	if h.redis != nil {
		if err := h.redis.Publish(context.Background(), redisChannel(tripID), frame).Err(); err != nil {
			log.Printf("redis publish error: %v", err)
			h.broadcast(tripID, frame)
		}
		return
	}
	h.broadcast(tripID, frame)
}

// Forget drops the retained frame once a trip has finished.
func (h *Hub) Forget(tripID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, tripID)
}

// broadcast delivers while holding the lock: Register and Unregister mutate
// the client map and Unregister closes Send, so neither the iteration nor
// the non-blocking sends may interleave with them.
func (h *Hub) broadcast(tripID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[tripID] = frame
	for client := range h.clients[tripID] {
		select {
		case client.Send <- frame:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "telemetry:*:live")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		if tripID := tripIDFromChannel(msg.Channel); tripID != "" {
			h.broadcast(tripID, []byte(msg.Payload))
		}
	}
}

func redisChannel(tripID string) string {
	return "telemetry:" + tripID + ":live"
}

func tripIDFromChannel(ch string) string {
	// telemetry:{trip}:live
	const prefix = "telemetry:"
	const suffix = ":live"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
