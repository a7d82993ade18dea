// Package upload validates files staged for a chat message.
package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the per-file size limit
const DefaultMaxBytes int64 = 50 << 20

// DefaultAllowedTypes are the MIME types accepted as attachments
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

var (
	ErrTooLarge    = errors.New("file too large")
	ErrUnsupported = errors.New("unsupported file type")
	ErrEmptyFile   = errors.New("file is empty")
)

// Policy is a size limit plus a MIME allow-list
type Policy struct {
	MaxBytes int64
	Allowed  []string
}

// DefaultPolicy returns the 50 MiB document and image policy
func DefaultPolicy() Policy {
	return Policy{MaxBytes: DefaultMaxBytes, Allowed: DefaultAllowedTypes}
}

// Check validates a file and returns its effective MIME type. A missing or
// generic declared type is replaced by one sniffed from data.
func (p Policy) Check(name, declared string, size int64, data []byte) (string, error) {
	if size <= 0 {
		size = int64(len(data))
	}
	if size == 0 {
		return "", fmt.Errorf("%s: %w", name, ErrEmptyFile)
	}
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return "", fmt.Errorf("%s exceeds the %d MB limit: %w", name, p.MaxBytes>>20, ErrTooLarge)
	}

	typ := DetectType(declared, data)
	if !p.allowed(typ) {
		return "", fmt.Errorf("%s (%s): %w", name, typ, ErrUnsupported)
	}
	return typ, nil
}

func (p Policy) allowed(typ string) bool {
	allowed := p.Allowed
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	for _, a := range allowed {
		if a == typ {
			return true
		}
	}
	return false
}

// DetectType normalizes declared, falling back to content sniffing
func DetectType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	mt, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return strings.TrimSpace(mt)
}

// IsImage reports whether typ is an image type
func IsImage(typ string) bool {
	return strings.HasPrefix(typ, "image/")
}

// Preview returns a data URL for an image, or "" for other types
func Preview(typ string, data []byte) string {
	if !IsImage(typ) || len(data) == 0 {
		return ""
	}
	return "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(data)
}
