// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"fmt"

	"github.com/tgberrios/datasync/pkg/db"
)

// actualPKColumns asks the target database for the real primary key
// columns of (lowerSchema, table), in key-ordinal order. bulk_upsert
// always calls this instead of trusting the catalog's cached pk_columns,
// per spec.md §4.3 step 1 — the catalog's view can lag a manual DDL
// change an operator made directly against the mirror.
func actualPKColumns(ctx context.Context, conn db.DB, lowerSchema, table string) ([]string, error) {
	qualified := fmt.Sprintf("%s.%s", quoteIdent(lowerSchema), quoteIdent(table))

	query := `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey::int[], a.attnum)`

	rows, err := conn.QueryContext(ctx, query, qualified)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
