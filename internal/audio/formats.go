package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// SupportedFormats lists the accepted input extensions, without the dot.
var SupportedFormats = []string{"mp3", "wav", "m4a", "flac", "ogg"}

// ErrUnsupportedFormat is wrapped by UnsupportedFormatError.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// UnsupportedFormatError reports an input whose extension is not in
// SupportedFormats.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	ext := e.Ext
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Sprintf("unsupported audio format %q: supported formats: %s", ext, strings.Join(SupportedFormats, ", "))
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// Accepted returns the accepted extensions for user-facing messages.
func (e *UnsupportedFormatError) Accepted() []string {
	return append([]string(nil), SupportedFormats...)
}

// Ext returns the lower-cased extension of name without the leading dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// IsSupported reports whether name has one of the supported extensions.
func IsSupported(name string) bool {
	ext := Ext(name)
	for _, f := range SupportedFormats {
		if ext == f {
			return true
		}
	}
	return false
}

// CheckFormat returns an *UnsupportedFormatError when name is not supported.
func CheckFormat(name string) error {
	if IsSupported(name) {
		return nil
	}
	return &UnsupportedFormatError{Ext: Ext(name)}
}
