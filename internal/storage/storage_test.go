package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/config"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"3f2a.srt", true},
		{"3f2a.json", true},
		{"", false},
		{"../etc/passwd.srt", false},
		{"a/b.srt", false},
		{`a\b.srt`, false},
		{".hidden.srt", false},
		{"noext", false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateKey(%q) = %v, want ok=%v", tt.key, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) should wrap ErrInvalidKey", tt.key)
		}
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "results")
	s := NewLocalStore(dir)

	if s.Type() != "local" {
		t.Errorf("Type = %q", s.Type())
	}
	if s.Exists(ctx, "abc.srt") {
		t.Error("Exists before Save")
	}
	if _, err := s.Open(ctx, "abc.srt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open missing = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, "abc.srt", []byte("1\n"), ContentType("abc.srt")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists(ctx, "abc.srt") {
		t.Error("Exists after Save = false")
	}
	rc, err := s.Open(ctx, "abc.srt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "1\n" {
		t.Errorf("data = %q", data)
	}

	if err := s.Save(ctx, "../escape.srt", []byte("x"), ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Save traversal = %v, want ErrInvalidKey", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestNewLocalWhenS3Disabled(t *testing.T) {
	s, err := New(config.S3Config{}, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if s.Type() != "local" {
		t.Errorf("Type = %q, want local", s.Type())
	}
}

func TestS3ObjectKey(t *testing.T) {
	s := &S3Store{prefix: "stt"}
	if got := s.objectKey("a.srt"); got != "stt/transcripts/a.srt" {
		t.Errorf("objectKey = %q", got)
	}
	s.prefix = ""
	if got := s.objectKey("a.json"); got != "transcripts/a.json" {
		t.Errorf("objectKey = %q", got)
	}
}

func TestContentType(t *testing.T) {
	if ContentType("a.json") != "application/json" {
		t.Error("json content type")
	}
	if ContentType("a.srt") != "application/x-subrip; charset=utf-8" {
		t.Error("srt content type")
	}
}
