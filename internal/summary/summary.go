// Package summary hands a finished room transcript to the summary collaborators.
package summary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sup1p/saubol/internal/transcript"
)

const reportDateLayout = "2006-01-02"

// Header is the report metadata sent alongside a transcript.
type Header struct {
	ReportDate     string `yaml:"report_date" json:"report_date"`
	DoctorName     string `yaml:"doctor_name" json:"doctor_name"`
	DoctorPosition string `yaml:"doctor_position" json:"doctor_position"`
	Institution    string `yaml:"institution" json:"institution"`
}

// DefaultHeader returns the built-in report metadata.
func DefaultHeader() Header {
	return Header{
		DoctorName:     "Dr. John Smith",
		DoctorPosition: "Cardiologist",
		Institution:    "City Hospital",
	}
}

// LoadHeader reads header metadata from a YAML file. Fields missing from the
// file keep their defaults; an empty path returns the defaults.
func LoadHeader(path string) (Header, error) {
	h := DefaultHeader()
	if path == "" {
		return h, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("read header file: %w", err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse header file: %w", err)
	}
	return h, nil
}

// WithReportDate returns a copy of h dated at t unless a date is already set.
func (h Header) WithReportDate(t time.Time) Header {
	if h.ReportDate == "" {
		h.ReportDate = t.Format(reportDateLayout)
	}
	return h
}

// Generator produces a summary for a finished room.
type Generator interface {
	GenerateSummary(ctx context.Context, segments []transcript.Segment, header Header, room string) error
}

// Payload is the serialized hand-off document.
type Payload struct {
	Room        string               `json:"room"`
	Header      Header               `json:"header"`
	Segments    []transcript.Segment `json:"segments"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Multi fans a summary out to several generators. Every generator is called;
// their errors are joined.
type Multi []Generator

func (m Multi) GenerateSummary(ctx context.Context, segments []transcript.Segment, header Header, room string) error {
	var errs []error
	for _, g := range m {
		if err := g.GenerateSummary(ctx, segments, header, room); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
