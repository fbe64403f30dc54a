package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CarlosATO/flota-somyl-apps/internal/tracking"
)

// Error carries the dispatch platform's own failure message so it can be
// surfaced to the driver verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch api: %d %s", e.Status, e.Message)
}

// TokenSource yields the bearer token attached to every authenticated call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the dispatch platform. Every method decodes the standard
// {message, data} envelope and maps non-2xx responses to *Error.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var result LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &result, false); err != nil {
		return LoginResult{}, err
	}
	return result, nil
}

func (c *Client) AssignedTrips(ctx context.Context) ([]Trip, error) {
	var trips []Trip
	if err := c.do(ctx, http.MethodGet, "/trips/assigned", nil, &trips, true); err != nil {
		return nil, err
	}
	return trips, nil
}

func (c *Client) TripsInProgress(ctx context.Context) ([]Trip, error) {
	var trips []Trip
	if err := c.do(ctx, http.MethodGet, "/trips/in-progress", nil, &trips, true); err != nil {
		return nil, err
	}
	return trips, nil
}

// History returns the driver's completed trips, newest first as the server
// sends them. Playback picks a trip here and reads its route back.
func (c *Client) History(ctx context.Context) ([]Trip, error) {
	var trips []Trip
	if err := c.do(ctx, http.MethodGet, "/trips/history", nil, &trips, true); err != nil {
		return nil, err
	}
	return trips, nil
}

func (c *Client) StartTrip(ctx context.Context, tripID string, req StartTripRequest) error {
	return c.do(ctx, http.MethodPost, "/trips/"+tripID+"/start", req, nil, true)
}

func (c *Client) FinishTrip(ctx context.Context, tripID string, req FinishTripRequest) error {
	return c.do(ctx, http.MethodPost, "/trips/"+tripID+"/finish", req, nil, true)
}

// UploadRoute submits one batch of captured samples. The batch id lets the
// server deduplicate should a retry path ever be added client-side.
func (c *Client) UploadRoute(ctx context.Context, tripID string, samples []tracking.Sample) error {
	body := routeUpload{BatchID: uuid.NewString(), Points: samples}
	return c.do(ctx, http.MethodPost, "/trips/"+tripID+"/route", body, nil, true)
}

// Route returns the stored points for playback.
func (c *Client) Route(ctx context.Context, tripID string) ([]tracking.Sample, error) {
	var points []tracking.Sample
	if err := c.do(ctx, http.MethodGet, "/trips/"+tripID+"/route", nil, &points, true); err != nil {
		return nil, err
	}
	return points, nil
}

func (c *Client) RegisterEvidence(ctx context.Context, tripID, objectKey, url string) error {
	return c.do(ctx, http.MethodPost, "/trips/"+tripID+"/evidence", evidenceRequest{ObjectKey: objectKey, URL: url}, nil, true)
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil {
			// non-JSON bodies still make a readable error message
			env.Message = strings.TrimSpace(string(payload))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}

	if out != nil {
		raw := env.Data
		if raw == nil {
			raw = payload
		}
		if len(raw) > 0 {
			return json.Unmarshal(raw, out)
		}
	}
	return nil
}
