package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Client calls a running control server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Start asks the server to transcribe room.
func (c *Client) Start(ctx context.Context, room string) (TranscriptionResponse, error) {
	var resp TranscriptionResponse
	err := c.do(ctx, http.MethodPost, "/api/start-transcription", room, &resp)
	return resp, err
}

// Stop asks the server to stop transcribing room.
func (c *Client) Stop(ctx context.Context, room string) (TranscriptionResponse, error) {
	var resp TranscriptionResponse
	err := c.do(ctx, http.MethodPost, "/api/stop-transcription", room, &resp)
	return resp, err
}

// Active lists the rooms being transcribed.
func (c *Client) Active(ctx context.Context) (ActiveResponse, error) {
	var resp ActiveResponse
	err := c.do(ctx, http.MethodGet, "/api/active-transcriptions", "", &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path, room string, out any) error {
	u := c.baseURL + path
	if room != "" {
		u += "?room_name=" + url.QueryEscape(room)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Detail == "" {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
