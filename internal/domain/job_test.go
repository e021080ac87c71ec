package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dunamismax/resizeflow/internal/pipeline"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeURL,
		SourceURL:  "https://example.com/cat.png",
		Convert:    ConvertSettings{Width: 320, Format: "webp"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	presigned := CreateJobRequest{SourceType: SourceTypeS3Presigned}
	if err := presigned.Validate(); err != nil {
		t.Fatalf("expected presigned request to be valid, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{SourceType: SourceTypeLocalFile}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	relativeURL := CreateJobRequest{SourceType: SourceTypeURL, SourceURL: "/cat.png"}
	if err := relativeURL.Validate(); err == nil {
		t.Fatal("expected validation error for relative source_url")
	}

	unsupportedSourceType := CreateJobRequest{SourceType: "ftp"}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}

	zero := 0.0
	zeroQuality := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Convert:    ConvertSettings{Quality: &zero},
	}
	err := zeroQuality.Validate()
	if !errors.Is(err, pipeline.KindRange) {
		t.Fatalf("expected range error for zero quality, got %v", err)
	}
}

func TestConvertSettingsOptions(t *testing.T) {
	var settings ConvertSettings
	if err := json.Unmarshal([]byte(`{"width":"auto","height":90,"format":"JPG","background_color":" #fff "}`), &settings); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}

	opts := settings.Options()
	if opts.Quality != 100 {
		t.Fatalf("expected default quality 100, got %v", opts.Quality)
	}
	if !opts.Width.IsAuto() || opts.Height != 90 {
		t.Fatalf("unexpected dimensions %v x %v", opts.Width, opts.Height)
	}
	if opts.Format != pipeline.FormatJPEG {
		t.Fatalf("expected jpeg, got %q", opts.Format)
	}
	if opts.BackgroundColor != "#fff" {
		t.Fatalf("expected trimmed background, got %q", opts.BackgroundColor)
	}
}
