// SPDX-License-Identifier: Apache-2.0

// Package errkind classifies errors returned by the target Postgres driver
// (and, where available, source drivers) into the structured kinds the
// Table Synchronizer and Target Writer branch on. SQLSTATEs are checked
// first; substring matching against the error text is only a fallback for
// drivers that don't expose a structured code, mirroring the real-world
// heterogeneity of the vendor drivers this system talks to.
package errkind

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Kind is a coarse classification of a database error.
type Kind int

const (
	// KindOther is any error that doesn't match a more specific kind below.
	KindOther Kind = iota
	// KindAbortedTransaction is Postgres SQLSTATE 25P02
	// (in_failed_sql_transaction) — every statement in the current
	// transaction must be rolled back before anything else can run.
	KindAbortedTransaction
	// KindInvalidInput covers malformed literal errors (SQLSTATE 22P02
	// invalid_text_representation, 22P03 invalid_binary_representation)
	// raised by a single bad row in a batch.
	KindInvalidInput
	// KindLockNotAvailable is SQLSTATE 55P03, raised when a NOWAIT lock
	// request can't be granted; retried with backoff rather than
	// reported upward.
	KindLockNotAvailable
	// KindConnection covers dropped connections and statement timeouts —
	// the chunk or cycle is abandoned but the row is left untouched for
	// the next cycle to retry.
	KindConnection
)

const (
	sqlstateAbortedTransaction        pq.ErrorCode = "25P02"
	sqlstateInvalidTextRepresentation pq.ErrorCode = "22P02"
	sqlstateInvalidBinaryRepr         pq.ErrorCode = "22P03"
	sqlstateLockNotAvailable          pq.ErrorCode = "55P03"
)

// Classify maps err to a Kind. nil maps to KindOther.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case sqlstateAbortedTransaction:
			return KindAbortedTransaction
		case sqlstateInvalidTextRepresentation, sqlstateInvalidBinaryRepr:
			return KindInvalidInput
		case sqlstateLockNotAvailable:
			return KindLockNotAvailable
		}
		// Any other pq.Error with a class 08 (connection exception) or
		// 57 (operator intervention, e.g. statement canceled) code is a
		// connection-level failure.
		if strings.HasPrefix(string(pqErr.Code), "08") || strings.HasPrefix(string(pqErr.Code), "57") {
			return KindConnection
		}
	}

	// Fall back to substring matching for drivers (or wrapped library
	// errors) that don't surface a structured code — this is the
	// documented fallback, not the primary classification path.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "current transaction is aborted", "previously aborted", "aborted transaction"):
		return KindAbortedTransaction
	case containsAny(msg, "not a valid binary digit", "invalid input syntax"):
		return KindInvalidInput
	case containsAny(msg, "connection", "timeout", "broken pipe", "eof"):
		return KindConnection
	}

	return KindOther
}

// EndsLoop reports whether a Kind should terminate a bulk-copy or
// incremental-update loop immediately, per spec: aborted-transaction,
// connection and timeout errors end the loop for that table, leaving the
// cursor at its last successfully advanced position.
func EndsLoop(k Kind) bool {
	return k == KindAbortedTransaction || k == KindConnection
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
