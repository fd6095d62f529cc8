package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/metrics"
)

// ErrDownloadFailed is wrapped by every *DownloadError.
var ErrDownloadFailed = errors.New("download failed")

// ErrInvalidURL is returned for links that are not YouTube URLs.
var ErrInvalidURL = errors.New("invalid YouTube URL")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DownloadError is a DownloadFailure for a specific URL. Nothing is left on
// disk when it is returned.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() []error { return []error{ErrDownloadFailed, e.Err} }

// Download is an extracted audio file inside its own temp directory.
type Download struct {
	Path string
	Dir  string
}

// Cleanup removes the download directory.
func (d *Download) Cleanup() error {
	if d == nil || d.Dir == "" {
		return nil
	}
	return os.RemoveAll(d.Dir)
}

// Downloader extracts audio from YouTube links with yt-dlp.
type Downloader struct {
	cmd     []string
	baseDir string
	timeout time.Duration
	log     zerolog.Logger
}

// NewDownloader parses command (e.g. "yt-dlp" or "python3 -m yt_dlp").
// Downloads are placed in fresh directories under baseDir (os.TempDir when
// empty).
func NewDownloader(command, baseDir string, timeout time.Duration, log zerolog.Logger) (*Downloader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse download command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("download command is empty")
	}
	return &Downloader{
		cmd:     args,
		baseDir: baseDir,
		timeout: timeout,
		log:     log.With().Str("component", "media").Logger(),
	}, nil
}

// Download fetches the best audio stream of rawURL as mp3.
func (d *Downloader) Download(ctx context.Context, rawURL string) (dl *Download, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.DownloadsTotal.WithLabelValues(result).Inc()
	}()

	if !IsValidURL(rawURL) {
		return nil, &DownloadError{URL: rawURL, Err: ErrInvalidURL}
	}

	dir, err := os.MkdirTemp(d.baseDir, "ytdl-")
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := append([]string{}, d.cmd[1:]...)
	args = append(args,
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "192K",
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--no-check-certificate",
		"--user-agent", userAgent,
		"--add-header", "Accept-Language:en-us,en;q=0.5",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		rawURL,
	)

	cmd := exec.CommandContext(ctx, d.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &DownloadError{URL: rawURL, Err: err}
	}

	path, err := locateAudio(dir)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}

	d.log.Info().Str("url", rawURL).Str("path", path).Dur("elapsed", time.Since(start)).Msg("downloaded audio")
	return &Download{Path: path, Dir: dir}, nil
}

// locateAudio finds the extracted file. yt-dlp sometimes writes a doubled
// extension or an unexpected name; both are renamed to audio.mp3.
func locateAudio(dir string) (string, error) {
	final := filepath.Join(dir, "audio.mp3")
	if _, err := os.Stat(final); err == nil {
		return final, nil
	}

	double := final + ".mp3"
	if _, err := os.Stat(double); err == nil {
		if err := os.Rename(double, final); err != nil {
			return "", fmt.Errorf("rename %s: %w", double, err)
		}
		return final, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), ".mp3") {
			found := filepath.Join(dir, e.Name())
			if err := os.Rename(found, final); err != nil {
				return "", fmt.Errorf("rename %s: %w", found, err)
			}
			return final, nil
		}
	}
	return "", fmt.Errorf("no mp3 produced (dir contains %v)", names)
}
