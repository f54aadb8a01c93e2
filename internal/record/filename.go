package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const stemMicrosDigits = 6

// parseStemTime parses a stem timestamp: YYYY-MM-DDTHH-MM-SS with an
// optional -uuuuuu microsecond suffix. The suffix is handled by hand since
// dash-separated fractional seconds are not expressible as a Go layout.
func parseStemTime(tsPart string) (time.Time, error) {
	secs := tsPart
	micros := 0
	if n := len(stemSecondsLayout); len(tsPart) == n+1+stemMicrosDigits && tsPart[n] == '-' {
		v, err := strconv.Atoi(tsPart[n+1:])
		if err != nil || v < 0 {
			return time.Time{}, fmt.Errorf("bad microsecond suffix %q", tsPart[n+1:])
		}
		secs = tsPart[:n]
		micros = v
	}

	ts, err := time.ParseInLocation(stemSecondsLayout, secs, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Add(time.Duration(micros) * time.Microsecond), nil
}

// ParseStem splits a record id (a filename without its .json extension) into
// the capture timestamp and the screen name. The screen name follows the
// first underscore and may itself contain underscores (e.g. "screen_0").
func ParseStem(stem string) (time.Time, string, error) {
	tsPart, screen, found := strings.Cut(stem, "_")
	if !found {
		screen = ""
	}

	ts, err := parseStemTime(tsPart)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse stem %q: unrecognized timestamp", stem)
	}
	return ts, screen, nil
}

// StemTime parses only the timestamp portion of a record id.
func StemTime(stem string) (time.Time, error) {
	ts, _, err := ParseStem(stem)
	return ts, err
}
