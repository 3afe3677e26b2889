package readonce

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxInputBytes is the size ceiling for any acquired image.
const MaxInputBytes = 10 * 1024 * 1024

var extensionTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"heic": "image/heic",
	"heif": "image/heif",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
}

var acceptedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/heic": true,
	"image/heif": true,
	"image/gif":  true,
	"image/bmp":  true,
}

// Accepted reports whether a media type or file name is an accepted encoding.
func Accepted(contentType, name string) bool {
	if acceptedTypes[strings.ToLower(contentType)] {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	_, ok := extensionTypes[ext]
	return ok
}

// Validate checks encoding and size before any byte of in is read.
func Validate(in *Input) error {
	return ValidateHeader(in.Name, in.ContentType, in.Size)
}

// ValidateHeader applies the acquisition rules to declared metadata.
// A negative size means unknown and is enforced during the read instead.
func ValidateHeader(name, contentType string, size int64) error {
	if !Accepted(contentType, name) {
		return &ValidationError{Name: name, Reason: "unsupported file type (accepted: PNG, JPEG, HEIC/HEIF)"}
	}
	if size == 0 {
		return &ValidationError{Name: name, Reason: "file is empty"}
	}
	if size > MaxInputBytes {
		return &ValidationError{Name: name, Reason: fmt.Sprintf("file too large (max %dMB)", MaxInputBytes/1024/1024)}
	}
	return nil
}

// ExtensionFor returns the file extension, with its dot, for an accepted
// media type, or "" when the type is unknown.
func ExtensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/heic":
		return ".heic"
	case "image/heif":
		return ".heif"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	}
	return ""
}
