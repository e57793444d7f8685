package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/transcript"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileWriter persists each transcript as transcript_<room>.json in Dir.
type FileWriter struct {
	Dir string
}

// Path returns the output file for a room.
func (w FileWriter) Path(room string) string {
	return filepath.Join(w.Dir, fmt.Sprintf("transcript_%s.json", unsafeName.ReplaceAllString(room, "_")))
}

func (w FileWriter) GenerateSummary(ctx context.Context, segments []transcript.Segment, header Header, room string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(Payload{
		Room:        room,
		Header:      header,
		Segments:    segments,
		GeneratedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	path := w.Path(room)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename transcript: %w", err)
	}
	logging.Success(logging.CategorySummary, "saved transcript room=%s segments=%d path=%s", room, len(segments), path)
	return nil
}
