package main

import (
	"fmt"
	"strconv"
	"time"
)

// parseDate accepts the forms spec.md §6 names: integer epoch seconds,
// YYYY-MM-DD (local midnight), YYYY-MM-DD HH:MM:SS, and
// YYYY-MM-DDTHH:MM:SS. Any other form is a user error.
func parseDate(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}

	for _, layout := range []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
