package tracking

import "time"

// Sample is one timestamped position+speed reading captured during a trip.
// Samples are immutable once created; capture order is chronological order.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedMPS   *float64  `json:"speed_mps"`
	CapturedAt time.Time `json:"captured_at"`
}
