// Package gateway is the client for the remote mutation endpoints.
// Idempotency of retried calls is the gateway service's responsibility,
// not this layer's.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stridehq/tether/internal/types"
)

var (
	// ErrReplayFailed means a single queued mutation's remote call failed.
	// The record is left unsynced; the pass continues.
	ErrReplayFailed = errors.New("replay failed")

	// ErrUnknownRecordType means the mutation names no known endpoint.
	// Treated as a replay failure, not a crash.
	ErrUnknownRecordType = errors.New("unknown record type")
)

// Gateway replays one queued mutation against the remote API.
type Gateway interface {
	Replay(ctx context.Context, m types.QueuedMutation) error
}

// endpoints maps each record type to its remote mutation path.
var endpoints = map[types.RecordType]string{
	types.RecordWorkout: "/v1/workouts",
	types.RecordPost:    "/v1/posts",
	types.RecordComment: "/v1/comments",
	types.RecordLike:    "/v1/likes/toggle",
}

// HTTPGateway is the production Gateway over HTTP.
type HTTPGateway struct {
	baseURL    string
	token      string
	healthPath string
	client     *http.Client
}

// NewHTTPGateway creates a gateway rooted at baseURL. The token, when
// non-empty, is attached as a bearer credential to every call. No deadline
// is imposed here beyond the client's own; a drain pass waits for each
// call's resolution before moving on.
func NewHTTPGateway(baseURL, token, healthPath string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if healthPath == "" {
		healthPath = "/v1/health"
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		token:      token,
		healthPath: healthPath,
		client:     client,
	}
}

// Replay posts the mutation's payload to the endpoint for its record type.
// A non-2xx response or transport error is reported as ErrReplayFailed.
func (g *HTTPGateway) Replay(ctx context.Context, m types.QueuedMutation) error {
	path, ok := endpoints[m.RecordType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRecordType, m.RecordType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(m.Payload))
	if err != nil {
		return fmt.Errorf("%w: build request for %s: %v", ErrReplayFailed, m.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrReplayFailed, m.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d", ErrReplayFailed, m.ID, path, resp.StatusCode)
	}
	return nil
}

// Probe checks reachability of the gateway's health endpoint. It satisfies
// the connectivity monitor's prober contract.
func (g *HTTPGateway) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.baseURL+g.healthPath, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
