package segment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrMalformedTimecode = errors.New("malformed timecode")

// ParseTimecode parses SS, MM:SS or HH:MM:SS. The last field may carry a
// fraction with either '.' or ',' as the separator.
func ParseTimecode(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformedTimecode)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimecode, s)
	}

	last := strings.Replace(parts[len(parts)-1], ",", ".", 1)
	seconds, err := strconv.ParseFloat(last, 64)
	if err != nil || seconds < 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimecode, s)
	}
	if len(parts) > 1 && seconds >= 60 {
		return 0, fmt.Errorf("%w: seconds out of range in %q", ErrMalformedTimecode, s)
	}

	total := seconds
	multiplier := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTimecode, s)
		}
		if i == len(parts)-2 && len(parts) == 3 && n >= 60 {
			return 0, fmt.Errorf("%w: minutes out of range in %q", ErrMalformedTimecode, s)
		}
		total += float64(n) * multiplier
		multiplier *= 60
	}
	return total, nil
}

// FormatClock renders seconds as MM:SS.ss, or H:MM:SS.ss past the hour. The
// value is rounded to hundredths before it is split, so 59.999 carries into
// the next minute.
func FormatClock(seconds float64) string {
	cs := int64(math.Round(math.Abs(seconds) * 100))
	sign := ""
	if seconds < 0 && cs > 0 {
		sign = "-"
	}
	hours := cs / 360000
	minutes := cs / 6000 % 60
	secs := cs % 6000
	if hours > 0 {
		return fmt.Sprintf("%s%d:%02d:%02d.%02d", sign, hours, minutes, secs/100, secs%100)
	}
	return fmt.Sprintf("%s%02d:%02d.%02d", sign, minutes, secs/100, secs%100)
}

// Timecode decodes a JSON number of seconds or a timecode string. A malformed
// value never fails the surrounding decode; it is recorded and reported by Err
// so a single bad record cannot blank a whole import.
type Timecode struct {
	Seconds float64
	Raw     string
	err     error
}

func (t Timecode) Err() error {
	return t.err
}

func (t *Timecode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*t = Timecode{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			t.err = fmt.Errorf("%w: %v", ErrMalformedTimecode, err)
			return nil
		}
		t.Raw = s
		t.Seconds, t.err = ParseTimecode(s)
		return nil
	}

	t.Raw = string(b)
	var f float64
	if err := json.Unmarshal(b, &f); err != nil || f < 0 {
		t.err = fmt.Errorf("%w: %s", ErrMalformedTimecode, b)
		return nil
	}
	t.Seconds = f
	return nil
}

func (t Timecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Seconds)
}
