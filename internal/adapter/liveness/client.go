// Package liveness queries the device status service that tracks edge devices on the mesh network.
package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client asks the device status service whether a device is reachable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a liveness client. An empty baseURL disables the check and
// every device is reported reachable.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// StatusResponse is the body returned by the device status service.
// Either field may be set.
type StatusResponse struct {
	Online *bool  `json:"online,omitempty"`
	Status string `json:"status,omitempty"`
}

// IsOnline reports whether the device is currently reachable. Unknown devices are offline.
func (c *Client) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	if c.baseURL == "" {
		return true, nil
	}
	if deviceID == "" {
		return false, fmt.Errorf("device id is required")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + "/v1/devices/" + url.PathEscape(deviceID) + "/status"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("failed to query device status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("device status service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to decode device status: %w", err)
	}
	if status.Online != nil {
		return *status.Online, nil
	}
	return strings.EqualFold(status.Status, "online"), nil
}
