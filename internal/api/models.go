package api

import (
	"time"

	"github.com/CarlosATO/flota-somyl-apps/internal/tracking"
)

const (
	TripStatusAssigned   = "assigned"
	TripStatusInProgress = "in_progress"
	TripStatusCompleted  = "completed"
)

// Trip is one dispatch order as the platform reports it.
type Trip struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	Description   string    `json:"description,omitempty"`
	VehiclePlate  string    `json:"vehicle_plate,omitempty"`
	VehicleModel  string    `json:"vehicle_model,omitempty"`
	ScheduledAt   time.Time `json:"scheduled_at,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	StartOdometer int       `json:"start_odometer,omitempty"`
}

func (t Trip) InProgress() bool {
	return t.Status == TripStatusInProgress
}

type Driver struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type LoginResult struct {
	Token  string `json:"token"`
	Driver Driver `json:"driver"`
}

type StartTripRequest struct {
	StartOdometer int    `json:"start_odometer"`
	Note          string `json:"note,omitempty"`
}

type FinishTripRequest struct {
	EndOdometer int    `json:"end_odometer"`
	EndedAt     string `json:"ended_at"`
	Note        string `json:"note,omitempty"`
}

type evidenceRequest struct {
	ObjectKey string `json:"object_key"`
	URL       string `json:"url"`
}

type routeUpload struct {
	BatchID string            `json:"batch_id"`
	Points  []tracking.Sample `json:"points"`
}
