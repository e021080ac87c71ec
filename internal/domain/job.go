package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/resizeflow/internal/pipeline"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeURL         = "url"
	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

// ConvertSettings is the wire form of pipeline.Options. A missing quality
// means 100; an explicit 0 is rejected.
type ConvertSettings struct {
	Quality         *float64           `json:"quality,omitempty"`
	Width           pipeline.Dimension `json:"width,omitempty"`
	Height          pipeline.Dimension `json:"height,omitempty"`
	Format          string             `json:"format,omitempty"`
	BackgroundColor string             `json:"background_color,omitempty"`
}

func (s ConvertSettings) Options() pipeline.Options {
	opts := pipeline.DefaultOptions()
	if s.Quality != nil {
		opts.Quality = *s.Quality
	}
	opts.Width = s.Width
	opts.Height = s.Height
	opts.Format = pipeline.ParseFormat(s.Format)
	opts.BackgroundColor = strings.TrimSpace(s.BackgroundColor)
	return opts
}

func (s ConvertSettings) Validate() error {
	return s.Options().Validate()
}

type CreateJobRequest struct {
	SourceType string          `json:"source_type"`
	SourceURL  string          `json:"source_url,omitempty"`
	ObjectKey  string          `json:"object_key,omitempty"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Convert    ConvertSettings `json:"convert"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	SourceURL  string
	ObjectKey  string
	WebhookURL string
	Convert    ConvertSettings
	Result     JobResult
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobResult records what a finished job produced, or why it didn't.
type JobResult struct {
	OutputKey  string `json:"output_key,omitempty"`
	OutputType string `json:"output_type,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	switch sourceType {
	case "":
		return errors.New("source_type is required")
	case SourceTypeURL:
		if err := validateHTTPURL("source_url", r.SourceURL); err != nil {
			return err
		}
	case SourceTypeLocalFile:
		if strings.TrimSpace(r.ObjectKey) == "" {
			return errors.New("object_key is required for source_type=local_file")
		}
	case SourceTypeS3Presigned:
	default:
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	if strings.TrimSpace(r.WebhookURL) != "" {
		if err := validateHTTPURL("webhook_url", r.WebhookURL); err != nil {
			return err
		}
	}

	if err := r.Convert.Validate(); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL", field)
	}
	return nil
}
