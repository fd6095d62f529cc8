package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/config"
)

// ErrNotFound is returned by Open for keys that were never saved.
var ErrNotFound = errors.New("result not found")

// ErrInvalidKey rejects keys that could escape the store's namespace.
var ErrInvalidKey = errors.New("invalid result key")

// ResultStore persists produced subtitles and transcripts.
type ResultStore interface {
	// Save stores data under key. key format: {id}.{srt|json}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for a stored result.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a result is stored.
	Exists(ctx context.Context, key string) bool

	// Type returns "local" or "s3".
	Type() string
}

// New creates a ResultStore based on config. S3 wins when a bucket is set;
// otherwise results go to resultsDir. Returns an error if S3 is configured
// but unreachable.
func New(cfg config.S3Config, resultsDir string, log zerolog.Logger) (ResultStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(resultsDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// ValidateKey accepts flat file names with an extension and nothing that
// looks like a path.
func ValidateKey(key string) error {
	if key == "" || key != path.Base(key) || strings.ContainsAny(key, `/\`) ||
		strings.HasPrefix(key, ".") || path.Ext(key) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ContentType returns the MIME type stored results are served with.
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".srt":
		return "application/x-subrip; charset=utf-8"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
