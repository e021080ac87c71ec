package pipeline

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
)

// MaxDataURLBytes is the largest blob BlobToURL will encode.
const MaxDataURLBytes = 10 * 1024 * 1024

// BlobToURL reads src into a base64 data URL.
func BlobToURL(ctx context.Context, src Source) (string, error) {
	if isNilSource(src) {
		return "", NewError(KindType, "expected a blob", nil)
	}
	if src.Size() == 0 {
		return "", NewError(KindSize, "cannot convert empty blob", nil)
	}
	if src.Size() > MaxDataURLBytes {
		return "", NewError(KindSize, "file size exceeds the maximum allowed limit", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rc, err := src.Open()
	if err != nil {
		return "", NewError(KindIO, "error reading blob", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxDataURLBytes+1))
	if err != nil {
		return "", NewError(KindIO, "error reading blob", err)
	}
	if len(data) == 0 {
		return "", NewError(KindIO, "failed to convert blob to data URL", nil)
	}
	if len(data) > MaxDataURLBytes {
		return "", NewError(KindSize, "file size exceeds the maximum allowed limit", nil)
	}

	mimeType := strings.TrimSpace(src.Type())
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String(), nil
}
