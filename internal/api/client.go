package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roadsight/viewer/pkg/core"
)

// ErrTooFewCorners is returned when fewer than three bounds corners could be
// resolved.
var ErrTooFewCorners = errors.New("video bounds have fewer than 3 valid corners")

// CommandError is a start/stop request the backend answered with success=false.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return "Error: " + e.Message
}

// Client talks to the collision prediction backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the backend address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

// Status queries the backend processing status.
func (c *Client) Status(ctx context.Context) (core.StatusResponse, error) {
	var status core.StatusResponse
	if err := c.get(ctx, "/api/status", &status); err != nil {
		return core.StatusResponse{}, err
	}
	return status, nil
}

// StartProcessing asks the backend to start collision prediction. A reply with
// success=false is returned as a *CommandError carrying the backend message.
func (c *Client) StartProcessing(ctx context.Context) (core.CommandResponse, error) {
	return c.command(ctx, "/api/start-processing")
}

// StopProcessing asks the backend to stop collision prediction.
func (c *Client) StopProcessing(ctx context.Context) (core.CommandResponse, error) {
	return c.command(ctx, "/api/stop-processing")
}

func (c *Client) command(ctx context.Context, path string) (core.CommandResponse, error) {
	var resp core.CommandResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return core.CommandResponse{}, err
	}
	if !resp.Success {
		return resp, &CommandError{Message: resp.Message}
	}
	return resp, nil
}

type boundsResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Corners   [][]float64    `json:"corners"`
	VideoSize map[string]int `json:"video_size"`
}

// VideoBounds fetches the camera frame corners. Corners arrive as [lat, lng]
// pairs; the backend sends null for a corner it could not project, and
// those are skipped.
func (c *Client) VideoBounds(ctx context.Context) (core.VideoBounds, error) {
	var resp boundsResponse
	if err := c.get(ctx, "/api/video-bounds", &resp); err != nil {
		return core.VideoBounds{}, err
	}
	if !resp.Success {
		return core.VideoBounds{}, fmt.Errorf("video bounds: %s", resp.Message)
	}

	bounds := core.VideoBounds{
		Width:  resp.VideoSize["width"],
		Height: resp.VideoSize["height"],
	}
	for _, corner := range resp.Corners {
		if len(corner) < 2 {
			continue
		}
		bounds.Corners = append(bounds.Corners, core.LatLng{Lat: corner[0], Lng: corner[1]})
	}
	if len(bounds.Corners) < 3 {
		return core.VideoBounds{}, fmt.Errorf("%w: got %d", ErrTooFewCorners, len(bounds.Corners))
	}
	return bounds, nil
}
