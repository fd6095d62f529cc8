package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// ErrUnreadable means the audio file could not be read at all.
var ErrUnreadable = errors.New("unreadable audio")

// CheckReadable verifies the file exists, is a regular non-empty file and can
// be opened. WAV files also get their RIFF header checked; other containers
// are left to the engines to decode.
func CheckReadable(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrUnreadable)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrUnreadable, path)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrUnreadable, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	if Ext(path) == "wav" {
		if !wav.NewDecoder(f).IsValidFile() {
			return fmt.Errorf("%w: %s is not a valid wav file", ErrUnreadable, path)
		}
	}
	return nil
}
