// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package pgstore

import (
	"time"

	"github.com/lib/pq"
)

// nullTime converts a zero time.Time (core's "absent" sentinel) to a
// SQL NULL for optional columns.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), as returned by github.com/lib/pq.
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
