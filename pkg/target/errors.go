// SPDX-License-Identifier: Apache-2.0

package target

import (
	"errors"

	"github.com/lib/pq"
)

const (
	// sqlstateUndefinedTable is raised by a ::regclass cast, or any query
	// against a table name, when the target table doesn't exist yet —
	// callers treat this the same as "empty"/"no PK" rather than an error.
	sqlstateUndefinedTable  pq.ErrorCode = "42P01"
	sqlstateUndefinedColumn pq.ErrorCode = "42703"
)

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == sqlstateUndefinedTable
}

func isUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == sqlstateUndefinedColumn
}
