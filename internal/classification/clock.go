package classification

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidClock is returned when a reviewer-entered time is not HH:MM:SS.
var ErrInvalidClock = eris.New("invalid time, expected HH:MM:SS")

// NotStarted is rendered in place of a zero total or gap.
const NotStarted = "—"

// FormatClock renders seconds as zero-padded HH:MM:SS. Hours are not
// wrapped at 24.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// ParseClock parses HH:MM:SS into seconds. The result must be positive.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, eris.Wrapf(ErrInvalidClock, "%q", s)
	}

	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, eris.Wrapf(ErrInvalidClock, "%q", s)
		}
		vals[i] = n
	}
	if vals[1] >= 60 || vals[2] >= 60 {
		return 0, eris.Wrapf(ErrInvalidClock, "%q", s)
	}

	total := vals[0]*3600 + vals[1]*60 + vals[2]
	if total <= 0 {
		return 0, eris.Wrapf(ErrInvalidClock, "%q", s)
	}
	return total, nil
}

// FormatSegmentTime renders a segment effort as M:SS, or H:MM:SS past the hour.
func FormatSegmentTime(seconds int) string {
	if seconds < 0 {
		return "-"
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60
	if hrs > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hrs, mins, secs)
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// FormatDistance renders meters as kilometers with one decimal.
func FormatDistance(meters *float64) string {
	if meters == nil || *meters == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f km", *meters/1000)
}

// FormatGradient renders an average grade percentage.
func FormatGradient(percent *float64) string {
	if percent == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *percent)
}
