package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/transcript"
)

// Webhook POSTs the transcript payload to an external summary service.
type Webhook struct {
	URL    string
	Client *http.Client
}

func (w Webhook) GenerateSummary(ctx context.Context, segments []transcript.Segment, header Header, room string) error {
	body, err := json.Marshal(Payload{
		Room:        room,
		Header:      header,
		Segments:    segments,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post summary: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("summary service returned %s", resp.Status)
	}
	logging.Success(logging.CategorySummary, "summary requested room=%s segments=%d", room, len(segments))
	return nil
}
