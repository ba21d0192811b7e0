// Package client calls the pokersync HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"
)

var ErrMissingRoomCode = errors.New("missing required room code parameter")

// Error is a non-2xx answer from the server.
type Error struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	Options []RequestOption
	Rooms   *RoomService
}

// DefaultClientOptions reads POKERSYNC_BASE_URL when it is set.
func DefaultClientOptions() []RequestOption {
	var defaults []RequestOption
	if base, ok := os.LookupEnv("POKERSYNC_BASE_URL"); ok {
		defaults = append(defaults, WithBaseURL(base))
	}
	return defaults
}

func NewClient(opts ...RequestOption) *Client {
	opts = append(DefaultClientOptions(), opts...)

	return &Client{
		Options: opts,
		Rooms:   NewRoomService(opts...),
	}
}

// BaseURL is the server address requests go to.
func (c *Client) BaseURL() string {
	return newRequestConfig(c.Options).BaseURL
}

func execute(ctx context.Context, method, path string, body, res any, opts ...RequestOption) error {
	cfg := newRequestConfig(opts)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header = cfg.Header.Clone()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if res == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func withOptions(base, extra []RequestOption) []RequestOption {
	return slices.Concat(base, extra)
}
