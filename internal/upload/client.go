// Package upload implements the Upload Pipeline: a thin JSON/HTTP Client
// over the remote telemetry API (spec §6) and a Pipeline orchestrating
// the seven-step remote sequence with retry, backoff, and rate limiting
// (spec §4.7). Grounded on the teacher's Prometheus-style queue manager
// (other_examples queue_manager.go) for the retry/backoff shape and on
// the renterd worker upload orchestration (other_examples
// worker-upload.go) for the multi-step "create parent, then children"
// sequencing.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Kind classifies a failed request the way spec §7 requires.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidRequest
	KindTransport
	KindRateLimited
	KindServerError
	KindClientError
)

// Error wraps a failed request with its classification and is the type
// every Client method returns on failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload: %v (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload: %v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the Upload Pipeline should retry this error
// (spec §4.7: 4xx except 429 final, 429 and 5xx retried).
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServerError || e.Kind == KindTransport
}

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindTransport:
		return "transport_error"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	default:
		return "none"
	}
}

// envelope is the remote's uniform response shape (spec §6): {success,
// data|error, status}.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Status  int             `json:"status"`
}

// Client is a thin JSON/HTTP wrapper over the seven telemetry endpoints.
// It performs no retry itself; the Pipeline owns retry/backoff policy.
type Client struct {
	HTTP    *http.Client
	BaseURL string
}

// NewClient creates a Client with the given base URL and timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}, BaseURL: baseURL}
}

// Ping probes the base URL with a lightweight request before
// ensure_session, surfacing a clearer startup error than a first-request
// timeout would (SPEC_FULL §6 supplement, grounded on
// api_client.py's test_connection).
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/telemetry/health", nil)
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Err: err}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &Error{Kind: KindServerError, StatusCode: resp.StatusCode, Err: errors.New("health check failed")}
	}
	return nil
}

// post issues one JSON POST and classifies the result per spec §7.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, StatusCode: resp.StatusCode, Err: errors.New("rate limited")}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindServerError, StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", data)}
	case resp.StatusCode >= 400:
		return &Error{Kind: KindClientError, StatusCode: resp.StatusCode, Err: fmt.Errorf("client error: %s", data)}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &Error{Kind: KindTransport, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !env.Success {
		return &Error{Kind: KindClientError, StatusCode: resp.StatusCode, Err: errors.New(env.Error)}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Kind: KindTransport, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}

// SessionDescriptor is the payload for ensure_session (spec §6 step 1).
type SessionDescriptor struct {
	UserID       string `json:"user_id"`
	SessionType  string `json:"session_type"`
	TrackName    string `json:"track_name"`
	SessionStamp string `json:"session_stamp"`
}

func (c *Client) EnsureSession(ctx context.Context, d SessionDescriptor) (int64, error) {
	if d.UserID == "" || d.TrackName == "" {
		return 0, &Error{Kind: KindInvalidRequest, Err: errors.New("user_id and track_name are required")}
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/api/telemetry/sessions", d, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// VehicleDescriptor is the payload for ensure_vehicle (spec §6 step 2).
type VehicleDescriptor struct {
	SessionID   int64  `json:"session_id"`
	SlotID      int    `json:"slot_id"`
	DriverName  string `json:"driver_name"`
	VehicleName string `json:"vehicle_name"`
}

func (c *Client) EnsureVehicle(ctx context.Context, d VehicleDescriptor) (int64, error) {
	if d.SessionID == 0 || d.DriverName == "" || d.VehicleName == "" {
		return 0, &Error{Kind: KindInvalidRequest, Err: errors.New("session_id, driver_name and vehicle_name are required")}
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/api/telemetry/vehicles", d, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// LapDescriptor is the payload for create_lap (spec §6 step 3).
type LapDescriptor struct {
	UserID       string  `json:"user_id"`
	SessionID    int64   `json:"session_id"`
	VehicleID    int64   `json:"vehicle_id"`
	LapNumber    int     `json:"lap_number"`
	LapStartTime float64 `json:"lap_start_time"`
}

func (c *Client) CreateLap(ctx context.Context, d LapDescriptor) (int64, error) {
	if d.UserID == "" || d.SessionID == 0 || d.VehicleID == 0 {
		return 0, &Error{Kind: KindInvalidRequest, Err: errors.New("user_id, session_id and vehicle_id are required")}
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/api/telemetry/laps", d, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// SectorTimes is the optional payload for create_timing (spec §6 step 4).
type SectorTimes struct {
	LapID   int64   `json:"lap_id"`
	Sector1 float64 `json:"sector_1_time"`
	Sector2 float64 `json:"sector_2_time"`
	Sector3 float64 `json:"sector_3_time"`
}

func (c *Client) CreateTiming(ctx context.Context, t SectorTimes) error {
	if t.LapID == 0 {
		return &Error{Kind: KindInvalidRequest, Err: errors.New("lap_id is required")}
	}
	return c.post(ctx, "/api/telemetry/timing", t, nil)
}

// TelemetryPoint is one wire record of the insert_samples payload (spec
// §6 step 5); physics and scoring are both flattened into the same
// envelope shape, distinguished by which optional fields are populated.
type TelemetryPoint map[string]any

func (c *Client) InsertSamples(ctx context.Context, lapID int64, points []TelemetryPoint) error {
	if lapID == 0 {
		return &Error{Kind: KindInvalidRequest, Err: errors.New("lap_id is required")}
	}
	body := struct {
		LapID  int64            `json:"lap_id"`
		Points []TelemetryPoint `json:"telemetry_points"`
	}{LapID: lapID, Points: points}
	return c.post(ctx, "/api/telemetry/data", body, nil)
}

// SummaryAggregates is the payload for create_lap_summary (spec §6 step 6).
type SummaryAggregates struct {
	LapID         int64   `json:"lap_id"`
	MaxSpeedKMH   float64 `json:"max_speed_kmh"`
	AvgSpeedKMH   float64 `json:"avg_speed_kmh"`
	MinSpeedKMH   float64 `json:"min_speed_kmh"`
	MaxRPM        float64 `json:"max_rpm"`
	AvgRPM        float64 `json:"avg_rpm"`
	AvgThrottle   float64 `json:"avg_throttle"`
	AvgBrake      float64 `json:"avg_brake"`
	FuelUsed      float64 `json:"fuel_used"`
	TotalDistance float64 `json:"total_distance"`
}

func (c *Client) CreateLapSummary(ctx context.Context, s SummaryAggregates) error {
	if s.LapID == 0 {
		return &Error{Kind: KindInvalidRequest, Err: errors.New("lap_id is required")}
	}
	return c.post(ctx, "/api/telemetry/summary", s, nil)
}

// SampledConditions is the optional payload for create_session_conditions
// (spec §6 step 7).
type SampledConditions struct {
	SessionID int64  `json:"session_id"`
	Timestamp string `json:"timestamp"` // ISO-8601 UTC
}

func (c *Client) CreateSessionConditions(ctx context.Context, s SampledConditions) error {
	if s.SessionID == 0 || s.Timestamp == "" {
		return &Error{Kind: KindInvalidRequest, Err: errors.New("session_id and timestamp are required")}
	}
	return c.post(ctx, "/api/telemetry/conditions", s, nil)
}
