package dispatch

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/CarlosATO/flota-somyl-apps/internal/api"
	"github.com/CarlosATO/flota-somyl-apps/internal/selection"
)

// endedAtLayout matches what the closing form collects: minute precision,
// local time.
const endedAtLayout = "2006-01-02T15:04"

// TripAPI is the slice of the dispatch platform the controller drives.
type TripAPI interface {
	AssignedTrips(ctx context.Context) ([]api.Trip, error)
	TripsInProgress(ctx context.Context) ([]api.Trip, error)
	StartTrip(ctx context.Context, tripID string, req api.StartTripRequest) error
	FinishTrip(ctx context.Context, tripID string, req api.FinishTripRequest) error
	RegisterEvidence(ctx context.Context, tripID, objectKey, url string) error
}

// Tracker is the tracking session surface the controller sequences.
type Tracker interface {
	Start(ctx context.Context, tripID string) error
	Stop(ctx context.Context) error
	Active() (string, bool)
}

// EvidenceUploader stores a photo and returns its object key and public URL.
type EvidenceUploader interface {
	Upload(ctx context.Context, tripID string, photo []byte, contentType string) (string, string, error)
}

// StartForm is the driver's start modal.
type StartForm struct {
	TripID    string `json:"trip_id"`
	Odometer  string `json:"odometer"`
	Note      string `json:"note"`
	Photo     []byte `json:"photo,omitempty"`
	PhotoType string `json:"photo_type,omitempty"`
}

// FinishForm is the driver's closing modal.
type FinishForm struct {
	TripID   string `json:"trip_id"`
	Odometer string `json:"odometer"`
	EndedAt  string `json:"ended_at"`
	Note     string `json:"note"`
}

// StartResult reports the optional steps of a successful start. EvidenceErr
// and TrackingErr are non-fatal: the trip is started remotely either way.
type StartResult struct {
	EvidenceKey string
	EvidenceURL string
	EvidenceErr error
	TrackingErr error
}

// PendingAction is what the primary control resolved the selection into; the
// UI collects the matching form and confirms.
type PendingAction struct {
	Trip   api.Trip         `json:"trip"`
	Action selection.Action `json:"action"`
}

// Controller sequences the remote start/finish calls with the tracking
// session, evidence upload and selection, in that order and no other.
type Controller struct {
	api      TripAPI
	tracker  Tracker
	sel      *selection.State
	evidence EvidenceUploader

	mu         sync.Mutex
	assigned   []api.Trip
	inProgress []api.Trip
	pending    *PendingAction
}

// NewController wires the controller and installs it as the owner of the
// selection's primary action.
func NewController(tripAPI TripAPI, tracker Tracker, sel *selection.State, evidence EvidenceUploader) *Controller {
	c := &Controller{
		api:      tripAPI,
		tracker:  tracker,
		sel:      sel,
		evidence: evidence,
	}
	sel.RegisterAction(c.resolvePending)
	return c
}

// Refresh pulls both trip lists and re-derives local state from them: the
// selection is dropped (its trip may be gone) and, when the server reports a
// trip in progress with no live session here, tracking resumes for it.
func (c *Controller) Refresh(ctx context.Context) error {
	assigned, err := c.api.AssignedTrips(ctx)
	if err != nil {
		return err
	}
	inProgress, err := c.api.TripsInProgress(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.assigned = assigned
	c.inProgress = inProgress
	c.mu.Unlock()

	c.sel.Clear()

	if len(inProgress) > 0 {
		if _, active := c.tracker.Active(); !active {
			if err := c.tracker.Start(ctx, inProgress[0].ID); err != nil {
				log.Printf("resuming tracking for trip %s: %v", inProgress[0].ID, err)
			}
		}
	}
	return nil
}

// Trips returns the driver's lists, in-progress first.
func (c *Controller) Trips() []api.Trip {
	c.mu.Lock()
	defer c.mu.Unlock()
	trips := make([]api.Trip, 0, len(c.inProgress)+len(c.assigned))
	trips = append(trips, c.inProgress...)
	trips = append(trips, c.assigned...)
	return trips
}

// SelectTrip toggles the selection for a card tap. The action follows the
// trip's state: in-progress trips finish, assigned trips start.
func (c *Controller) SelectTrip(tripID string) error {
	trip, ok := c.tripByID(tripID)
	if !ok {
		return ErrUnknownTrip
	}

	action := selection.ActionStart
	if trip.InProgress() {
		action = selection.ActionFinish
	}
	c.sel.Select(tripID, action)
	return nil
}

func (c *Controller) ClearSelection() {
	c.sel.Clear()
}

func (c *Controller) Selection() (selection.TripSelection, bool) {
	return c.sel.Selected()
}

// TriggerPrimary fires the selection's registered action and returns what it
// resolved. With nothing selected the trigger is inert and ErrNoSelection is
// returned.
func (c *Controller) TriggerPrimary() (PendingAction, error) {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	c.sel.Trigger()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingAction{}, ErrNoSelection
	}
	return *c.pending, nil
}

// resolvePending is the callback registered on the selection: it maps the
// selected trip to the action the UI must collect a form for.
func (c *Controller) resolvePending() {
	sel, ok := c.sel.Selected()
	if !ok {
		return
	}
	trip, ok := c.tripByID(sel.TripID)
	if !ok {
		return
	}
	c.mu.Lock()
	c.pending = &PendingAction{Trip: trip, Action: sel.Action}
	c.mu.Unlock()
}

// ConfirmStart runs the start sequence: validate locally, start remotely,
// then evidence, then tracking, then clear and refresh. Failures before the
// remote call leave everything untouched; evidence and tracking failures are
// reported in the result but never roll the started trip back.
func (c *Controller) ConfirmStart(ctx context.Context, form StartForm) (StartResult, error) {
	if form.TripID == "" {
		return StartResult{}, &ValidationError{Field: "trip_id", Reason: "required"}
	}
	odometer, err := parsePositiveInt(form.Odometer)
	if err != nil {
		return StartResult{}, &ValidationError{Field: "odometer", Reason: "must be a positive integer"}
	}

	if err := c.api.StartTrip(ctx, form.TripID, api.StartTripRequest{
		StartOdometer: odometer,
		Note:          form.Note,
	}); err != nil {
		return StartResult{}, err
	}

	var result StartResult
	if len(form.Photo) > 0 && c.evidence != nil {
		result = c.uploadEvidence(ctx, form)
	}

	if err := c.tracker.Start(ctx, form.TripID); err != nil {
		// The remote start already succeeded; a denied permission must not
		// look like a failed trip.
		log.Printf("tracking did not start for trip %s: %v", form.TripID, err)
		result.TrackingErr = err
	}

	c.sel.Clear()
	if err := c.Refresh(ctx); err != nil {
		log.Printf("refresh after start: %v", err)
	}
	return result, nil
}

func (c *Controller) uploadEvidence(ctx context.Context, form StartForm) StartResult {
	contentType := form.PhotoType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key, url, err := c.evidence.Upload(ctx, form.TripID, form.Photo, contentType)
	if err != nil {
		log.Printf("evidence upload for trip %s: %v", form.TripID, err)
		return StartResult{EvidenceErr: err}
	}
	if err := c.api.RegisterEvidence(ctx, form.TripID, key, url); err != nil {
		log.Printf("evidence registration for trip %s: %v", form.TripID, err)
		return StartResult{EvidenceKey: key, EvidenceURL: url, EvidenceErr: err}
	}
	return StartResult{EvidenceKey: key, EvidenceURL: url}
}

// ConfirmFinish runs the finish sequence. Tracking stops before the remote
// finish so the last batch is flushed while the trip is still in progress
// server-side; a failed finish therefore leaves tracking stopped until the
// driver retries (or the next refresh resumes it from server state).
func (c *Controller) ConfirmFinish(ctx context.Context, form FinishForm) error {
	if form.TripID == "" {
		return &ValidationError{Field: "trip_id", Reason: "required"}
	}
	odometer, err := parsePositiveInt(form.Odometer)
	if err != nil {
		return &ValidationError{Field: "odometer", Reason: "must be a positive integer"}
	}
	if _, err := time.ParseInLocation(endedAtLayout, form.EndedAt, time.Local); err != nil {
		return &ValidationError{Field: "ended_at", Reason: "must be YYYY-MM-DDTHH:MM"}
	}

	if err := c.tracker.Stop(ctx); err != nil {
		log.Printf("stopping tracking for trip %s: %v", form.TripID, err)
	}

	if err := c.api.FinishTrip(ctx, form.TripID, api.FinishTripRequest{
		EndOdometer: odometer,
		EndedAt:     form.EndedAt,
		Note:        form.Note,
	}); err != nil {
		return err
	}

	c.sel.Clear()
	if err := c.Refresh(ctx); err != nil {
		log.Printf("refresh after finish: %v", err)
	}
	return nil
}

func (c *Controller) tripByID(tripID string) (api.Trip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.inProgress {
		if t.ID == tripID {
			return t, true
		}
	}
	for _, t := range c.assigned {
		if t.ID == tripID {
			return t, true
		}
	}
	return api.Trip{}, false
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
