//go:build linux

package fileinfo

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

var errNoBirthTime = errors.New("birth time not recorded")

// birthTime reads stx_btime through statx(2).
func birthTime(path string) (time.Time, error) {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME, &stx); err != nil {
		return time.Time{}, err
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, errNoBirthTime
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), nil
}
