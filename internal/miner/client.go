package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parcelworks/zipnet-engine/internal/api"
	"github.com/parcelworks/zipnet-engine/internal/coordinator"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// Client talks to the coordinator HTTP surface with the signed envelope.
type Client struct {
	BaseURL string
	MinerID string
	Key     []byte // HMAC key; empty = dev mode, requests go unsigned
	HTTP    *http.Client
}

func NewClient(baseURL, minerID string, key []byte) *Client {
	return &Client{
		BaseURL: baseURL,
		MinerID: minerID,
		Key:     key,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CurrentAssignment polls GET /api/v1/assignments/current. A 503 maps to
// ErrAssignmentNotReady so the loop can back off.
func (c *Client) CurrentAssignment(ctx context.Context) (*coordinator.MinerAssignment, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/assignments/current", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, models.ErrAssignmentNotReady
	default:
		return nil, fmt.Errorf("assignment poll: unexpected status %d", resp.StatusCode)
	}

	var assignment coordinator.MinerAssignment
	if err := json.NewDecoder(resp.Body).Decode(&assignment); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return &assignment, nil
}

// ReportStatus posts a progress report. A 410 maps to ErrEpochClosed.
func (c *Client) ReportStatus(ctx context.Context, report coordinator.StatusReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/assignments/status", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusGone:
		return models.ErrEpochClosed
	default:
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status report: status %d: %s", resp.StatusCode, raw)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Zipnet-Identity", c.MinerID)

	if len(c.Key) > 0 {
		ts := time.Now().Unix()
		req.Header.Set("X-Zipnet-Timestamp", fmt.Sprintf("%d", ts))
		req.Header.Set("X-Zipnet-Signature", api.SignEnvelope(c.Key, method, path, body, ts))
	}
	return c.HTTP.Do(req)
}
