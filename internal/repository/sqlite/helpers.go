package sqlite

import (
	"database/sql"
	"strings"
	"time"
)

// SQLite's effective bound-parameter ceiling; large IN lists are
// split into chunks below it.
const maxHostParams = 500

func nullToTimePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// placeholders returns "?, ?, ..." with n slots.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// chunked splits values into slices of at most size elements.
func chunked(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
