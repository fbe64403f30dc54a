package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CarlosATO/flota-somyl-apps/internal/tracking"
)

type staticToken string

func (s staticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

func TestLoginDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("login must not carry a token")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "driver@flota.cl" {
			t.Errorf("unexpected email %q", body["email"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "ok",
			"data": map[string]any{
				"token":  "tok-123",
				"driver": map[string]string{"id": "d-1", "name": "Carlos"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	result, err := c.Login(context.Background(), "driver@flota.cl", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token != "tok-123" || result.Driver.Name != "Carlos" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStartTripCarriesTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trips/trip-7/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("missing bearer token")
		}
		var req StartTripRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.StartOdometer != 45000 {
			t.Errorf("unexpected odometer %d", req.StartOdometer)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "started"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok-123"))
	if err := c.StartTrip(context.Background(), "trip-7", StartTripRequest{StartOdometer: 45000}); err != nil {
		t.Fatalf("start trip: %v", err)
	}
}

func TestServerMessageSurfacedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "la orden ya fue iniciada"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok"))
	err := c.StartTrip(context.Background(), "trip-7", StartTripRequest{StartOdometer: 1})

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "la orden ya fue iniciada" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.AssignedTrips(context.Background())

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Message != "<html>gateway error</html>" {
		t.Fatalf("expected raw body as message, got %q", apiErr.Message)
	}
}

func TestUploadRouteSendsBatch(t *testing.T) {
	var got routeUpload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trips/trip-7/route" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	speed := 12.5
	samples := []tracking.Sample{
		{Latitude: -33.45, Longitude: -70.66, SpeedMPS: &speed, CapturedAt: time.Now()},
		{Latitude: -33.46, Longitude: -70.67, CapturedAt: time.Now().Add(5 * time.Second)},
	}

	c := NewClient(srv.URL, time.Second, staticToken("tok"))
	if err := c.UploadRoute(context.Background(), "trip-7", samples); err != nil {
		t.Fatalf("upload route: %v", err)
	}
	if got.BatchID == "" {
		t.Fatalf("expected a batch id")
	}
	if len(got.Points) != 2 || got.Points[0].Latitude != -33.45 {
		t.Fatalf("unexpected points: %+v", got.Points)
	}
	if got.Points[0].SpeedMPS == nil || *got.Points[0].SpeedMPS != 12.5 {
		t.Fatalf("speed lost in transit")
	}
	if got.Points[1].SpeedMPS != nil {
		t.Fatalf("expected null speed to stay null")
	}
}

func TestHistoryListsCompletedTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trips/history" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "ok",
			"data": []Trip{
				{ID: "trip-2", Status: TripStatusCompleted},
				{ID: "trip-1", Status: TripStatusCompleted},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok-123"))
	trips, err := c.History(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trips) != 2 || trips[0].ID != "trip-2" || trips[0].Status != TripStatusCompleted {
		t.Fatalf("unexpected trips: %+v", trips)
	}
}

func TestTripListsDecodeBareArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// some deployments skip the envelope on list endpoints
		_ = json.NewEncoder(w).Encode([]Trip{{ID: "trip-7", Status: TripStatusInProgress}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, staticToken("tok"))
	trips, err := c.TripsInProgress(context.Background())
	if err != nil {
		t.Fatalf("trips in progress: %v", err)
	}
	if len(trips) != 1 || !trips[0].InProgress() {
		t.Fatalf("unexpected trips: %+v", trips)
	}
}
