package netsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Remote API paths (JSON over HTTPS).
const (
	pathUpdateData       = "/api/update-data"
	pathGetUserID        = "/api/get-user-id"
	pathConfigReport     = "/api/device/config/report"
	pathConfigFetch      = "/api/device/config/fetch"
	pathFirmwareInfo     = "/api/device/firmware/info"
	pathFirmwareDownload = "/api/device/firmware/download"
	pathHeartbeat        = "/api/device/heartbeat"
)

// requestTimeout bounds every API round trip. The loop blocks for the
// duration of a call, so this is also the worst case added to a tick.
const requestTimeout = 10 * time.Second

// firmwareTimeout is the larger budget for streaming a firmware image.
const firmwareTimeout = 5 * time.Minute

// client performs the raw HTTP exchanges. Base URL and API key are read per
// request because config fetch can change both at runtime.
type client struct {
	http    *http.Client
	baseURL func() string
	apiKey  func() string
}

func newClient(baseURL, apiKey func() string) *client {
	return &client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (c *client) url(path string, query url.Values) string {
	base := strings.TrimSuffix(c.baseURL(), "/")
	if len(query) == 0 {
		return base + path
	}
	return base + path + "?" + query.Encode()
}

func (c *client) newRequest(method, rawURL string, body io.Reader, key string) (*http.Request, error) {
	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	return req, nil
}

// postJSON sends body and decodes a JSON response into out (when out is
// non-nil and the status is 2xx). The key parameter overrides the configured
// API key when non-empty, used to probe a server-delivered key before
// persisting it.
func (c *client) postJSON(path string, body, out any, key string) (int, error) {
	if key == "" {
		key = c.apiKey()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(http.MethodPost, c.url(path, nil), bytes.NewReader(payload), key)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) getJSON(path string, query url.Values, out any) (int, error) {
	req, err := c.newRequest(http.MethodGet, c.url(path, query), nil, c.apiKey())
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// getStream opens a raw byte-stream response; the caller owns the body.
func (c *client) getStream(path string, query url.Values) (*http.Response, error) {
	req, err := c.newRequest(http.MethodGet, c.url(path, query), nil, c.apiKey())
	if err != nil {
		return nil, err
	}
	streamClient := &http.Client{Timeout: firmwareTimeout}
	return streamClient.Do(req)
}
