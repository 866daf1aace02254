// Package imaging validates uploaded avatar images and turns them into small
// self-contained JPEG data URLs.
package imaging

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultMaxSizeMB = 5
	DefaultMaxWidth  = 128
	DefaultMaxHeight = 128
	DefaultQuality   = 0.8

	sniffLen = 3072
)

var acceptedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/gif":  {},
}

// File describes an upload as the client declared it.
type File struct {
	Name string
	Size int64
	Type string
}

// Validation is the outcome of Validate. Error is set iff Valid is false.
type Validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Validate checks the declared media type and byte size of f.
func Validate(f File, maxSizeMB int) Validation {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	if _, ok := acceptedTypes[normalizeType(f.Type)]; !ok {
		return Validation{Error: "Please select a valid image file (JPG, PNG, or GIF)"}
	}
	if f.Size > int64(maxSizeMB)<<20 {
		return Validation{Error: SizeError(maxSizeMB)}
	}
	return Validation{Valid: true}
}

// SizeError is the inline message for files above maxSizeMB.
func SizeError(maxSizeMB int) string {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return fmt.Sprintf("File size must be less than %dMB", maxSizeMB)
}

// DetectType returns the media type to validate against. The declared type wins
// unless the client sent none or a generic one, in which case the leading bytes
// of r are sniffed. The returned reader yields the full, unconsumed content.
func DetectType(declared string, r io.Reader) (string, io.Reader, error) {
	declared = normalizeType(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared, r, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, fmt.Errorf("sniff upload: %w", err)
	}
	head = head[:n]
	detected := normalizeType(mimetype.Detect(head).String())
	return detected, io.MultiReader(bytes.NewReader(head), r), nil
}

func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(t); err == nil {
		return parsed
	}
	return strings.ToLower(t)
}
