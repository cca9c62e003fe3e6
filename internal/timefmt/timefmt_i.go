// Package timefmt holds the fixed timestamp format used on the store
// boundary. The format collates lexicographically, so SQL range filters
// compare the strings directly.
package timefmt

import (
	"database/sql"
	"time"
)

const Layout = "2006-01-02 15:04:05"

func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

func Parse(s string) (time.Time, error) {
	return time.ParseInLocation(Layout, s, time.UTC)
}

func FormatNull(t time.Time) sql.NullString {
	return sql.NullString{String: Format(t), Valid: true}
}

// Hour truncates a store timestamp to its hour bucket, e.g.
// "2026-09-01 18:42:10" -> "2026-09-01 18:00:00".
func Hour(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t.Truncate(time.Hour)), nil
}
