// Package ultimate talks to the REST API of an Ultimate 64 / Ultimate-II+.
package ultimate

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client communicates with the device's /v1 HTTP API.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
}

// NewClient returns a client for the device at baseURL (e.g. http://192.168.1.64).
func NewClient(baseURL, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/") + "/v1",
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// FileInfo is the metadata the device reports for a file.
type FileInfo struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
	Duration  int    `json:"duration,omitempty"`
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	Songs     int    `json:"songs,omitempty"`
}

// RunPRG uploads a program file and starts it.
func (c *Client) RunPRG(ctx context.Context, prg []byte) error {
	resp, err := c.do(ctx, http.MethodPost, "/runners:run_prg", nil, bytes.NewReader(prg), "application/octet-stream")
	if err != nil {
		return fmt.Errorf("run prg: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "run prg")
}

// ReadMemory reads length bytes starting at addr.
func (c *Client) ReadMemory(ctx context.Context, addr uint16, length int) ([]byte, error) {
	q := url.Values{}
	q.Set("address", fmt.Sprintf("%04X", addr))
	q.Set("length", strconv.Itoa(length))
	resp, err := c.do(ctx, http.MethodGet, "/machine:readmem", q, nil, "")
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "read memory"); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(length)*2+1024))
	if err != nil {
		return nil, fmt.Errorf("read memory body: %w", err)
	}
	// Older firmware wraps the bytes in a JSON object as hex.
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/json" {
		var wrapped struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode memory json: %w", err)
		}
		data, err := hex.DecodeString(wrapped.Data)
		if err != nil {
			return nil, fmt.Errorf("decode memory hex: %w", err)
		}
		return data, nil
	}
	return body, nil
}

// WriteMemory stores data starting at addr.
func (c *Client) WriteMemory(ctx context.Context, addr uint16, data []byte) error {
	q := url.Values{}
	q.Set("address", fmt.Sprintf("%04X", addr))
	q.Set("data", hex.EncodeToString(data))
	resp, err := c.do(ctx, http.MethodPut, "/machine:writemem", q, nil, "")
	if err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "write memory")
}

// Reset resets the machine.
func (c *Client) Reset(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, "/machine:reset", nil, nil, "")
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "reset")
}

// PlaySID starts playback of a SID file stored on the device.
// A song of 0 plays the file's default tune.
func (c *Client) PlaySID(ctx context.Context, path string, song int) error {
	q := url.Values{}
	q.Set("file", path)
	if song > 0 {
		q.Set("songnr", strconv.Itoa(song))
	}
	resp, err := c.do(ctx, http.MethodPut, "/runners:sidplay", q, nil, "")
	if err != nil {
		return fmt.Errorf("play sid: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "play sid "+path)
}

// StopSID stops SID playback.
func (c *Client) StopSID(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/runners:sidplay", nil, nil, "")
	if err != nil {
		return fmt.Errorf("stop sid: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "stop sid")
}

// FileInfo returns metadata for a file, or nil if it does not exist.
func (c *Client) FileInfo(ctx context.Context, path string) (*FileInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+escapePath(path)+":info", nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("file info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(resp, "file info "+path); err != nil {
		return nil, err
	}

	var envelope struct {
		Files *FileInfo `json:"files"`
		FileInfo
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode file info: %w", err)
	}
	if envelope.Files != nil {
		return envelope.Files, nil
	}
	return &envelope.FileInfo, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, endpoint string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.baseURL + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.password != "" {
		req.Header.Set("X-Password", c.password)
	}
	return c.httpClient.Do(req)
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
