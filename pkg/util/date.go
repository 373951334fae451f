package util

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// unix values above this are read as milliseconds.
const unixMillisThreshold = 1e11

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds or milliseconds
// (fractions allowed). Results are in UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if ts > unixMillisThreshold {
			return time.UnixMilli(ts).UTC(), true
		}
		return time.Unix(ts, 0).UTC(), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && !math.IsInf(f, 0) {
		if f > unixMillisThreshold {
			f /= 1000
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}

// 1970-01-05 was a Monday.
var mondayEpoch = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// SignedTradingDays counts weekdays in (from, to] using UTC calendar dates.
// The result is negative when to is before from. Holidays are not modelled.
func SignedTradingDays(from, to time.Time) int {
	a, b := dayIndex(from), dayIndex(to)
	if b >= a {
		return weekdaysBefore(b+1) - weekdaysBefore(a+1)
	}
	return -(weekdaysBefore(a+1) - weekdaysBefore(b+1))
}

func dayIndex(t time.Time) int {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(mondayEpoch).Hours() / 24)
}

// weekdaysBefore counts weekdays in [0, d) with day 0 a Monday.
func weekdaysBefore(d int) int {
	weeks := floorDiv(d, 7)
	rem := d - weeks*7
	return weeks*5 + min(rem, 5)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
