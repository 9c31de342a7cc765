package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func NewScheduleID() string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return "sch_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// TruncateError bounds failure messages before they land in last_error.
func TruncateError(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		return msg
	}
	return msg[:max]
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
