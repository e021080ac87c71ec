package pipeline

import "strings"

// Format selects the output media type of a conversion.
type Format string

const (
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
)

const (
	MimePNG  = "image/png"
	MimeWEBP = "image/webp"
	MimeBMP  = "image/bmp"
	MimeJPEG = "image/jpeg"
	MimeGIF  = "image/gif"
)

// ParseFormat normalises a user-supplied format tag. Unknown tags are kept
// as-is; MimeType maps them to JPEG.
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "jpg" {
		return FormatJPEG
	}
	return Format(s)
}

// MimeType maps a format to its media type, defaulting to image/jpeg.
func MimeType(format Format) string {
	switch format {
	case FormatPNG:
		return MimePNG
	case FormatWEBP:
		return MimeWEBP
	case FormatBMP:
		return MimeBMP
	case FormatGIF:
		return MimeGIF
	default:
		return MimeJPEG
	}
}

// Extension returns the file extension (without dot) for a media type.
func Extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case MimePNG:
		return "png"
	case MimeWEBP:
		return "webp"
	case MimeBMP:
		return "bmp"
	case MimeGIF:
		return "gif"
	case MimeJPEG:
		return "jpg"
	default:
		return "bin"
	}
}

func formatForExtension(ext string) (Format, bool) {
	switch strings.TrimPrefix(ext, ".") {
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWEBP, true
	case "bmp":
		return FormatBMP, true
	case "gif":
		return FormatGIF, true
	case "jpg", "jpeg", "jpe":
		return FormatJPEG, true
	default:
		return "", false
	}
}
