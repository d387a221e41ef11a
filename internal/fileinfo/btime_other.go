//go:build !linux

package fileinfo

import (
	"errors"
	"os"
	"time"
)

// birthTime is not available portably; CreatedAt falls back to the
// modification time.
func birthTime(path string) (time.Time, error) {
	if _, err := os.Stat(path); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, errors.New("birth time not supported on this platform")
}
