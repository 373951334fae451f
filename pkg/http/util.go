package http

import (
	"time"

	xutil "InsiderWatch/pkg/util"
)

// ParseTime accepts RFC3339, RFC3339Nano and unix seconds or milliseconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
