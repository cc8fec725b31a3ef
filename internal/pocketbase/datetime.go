package pocketbase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the PocketBase datetime format, used both in records and in filters.
const DateTimeLayout = "2006-01-02 15:04:05.000Z"

// DateTime is a PocketBase datetime field. Empty strings decode to the zero time.
type DateTime struct {
	time.Time
}

func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t}
}

// FormatTime renders t in the PocketBase layout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(FormatTime(d.Time))
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("datetime must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{DateTimeLayout, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05.999999999Z07:00", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised datetime %q", s)
}

// Ptr returns nil for the zero time.
func (d DateTime) Ptr() *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

func fromPtr(t *time.Time) DateTime {
	if t == nil {
		return DateTime{}
	}
	return DateTime{Time: *t}
}
