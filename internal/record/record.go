package record

import (
	"fmt"
	"strings"
	"time"
)

// Record is one OCR capture of one screen at one instant.
type Record struct {
	ScreenName     string `json:"screen_name"`
	Timestamp      string `json:"timestamp"` // ISO-8601
	Text           string `json:"text"`
	TextLength     int    `json:"text_length"`
	WordCount      int    `json:"word_count"`
	Source         string `json:"source"`
	DataType       string `json:"data_type,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// stemSecondsLayout is the whole-second part of a record id timestamp. The
// microsecond suffix ("-%06d") is appended and split by hand: Go reference
// layouts only support fractional seconds after a dot, and stems use a dash.
const stemSecondsLayout = "2006-01-02T15-04-05"

// New builds a Record with derived fields filled in.
func New(ts time.Time, screenName, text, source, screenshotPath string) Record {
	return Record{
		ScreenName:     screenName,
		Timestamp:      ts.Format(time.RFC3339Nano),
		Text:           text,
		TextLength:     len(text),
		WordCount:      len(strings.Fields(text)),
		Source:         source,
		DataType:       "ocr",
		ScreenshotPath: screenshotPath,
	}
}

// ID returns the stable record id for a capture instant and screen:
// YYYY-MM-DDTHH-MM-SS-uuuuuu_<screen>.
func ID(ts time.Time, screenName string) string {
	return fmt.Sprintf("%s-%06d_%s", ts.Format(stemSecondsLayout), ts.Nanosecond()/1000, screenName)
}

// ID returns the record's id, derived from its timestamp and screen name.
func (r Record) ID() (string, bool) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		ts2, err2 := parseStemTime(r.Timestamp)
		if err2 != nil {
			return "", false
		}
		ts = ts2
	}
	return ID(ts, r.ScreenName), true
}
