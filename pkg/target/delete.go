// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// BulkDelete removes every tuple in pkTuples from the mirrored table, one
// DELETE per sub-batch of up to min(chunkSize/2, 500) tuples, matching
// spec.md §4.3's delete protocol. columnTypes is accepted for symmetry
// with BulkUpsert/BulkInsert but unused — PK tuple values read back from
// the target are already PostgreSQL-native text, needing no
// source-type-aware normalization before being bound as parameters.
func (w *Writer) BulkDelete(ctx context.Context, lowerSchema, table string, pkColumns []string, pkTuples [][]*string, columnTypes map[string]string, subBatchSize int) (int64, error) {
	if len(pkTuples) == 0 || len(pkColumns) == 0 {
		return 0, nil
	}
	size := clampSubBatch(subBatchSize)

	var total int64
	for start := 0; start < len(pkTuples); start += size {
		end := start + size
		if end > len(pkTuples) {
			end = len(pkTuples)
		}
		n, err := w.deleteSubBatch(ctx, lowerSchema, table, pkColumns, pkTuples[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (w *Writer) deleteSubBatch(ctx context.Context, lowerSchema, table string, pkColumns []string, tuples [][]*string) (int64, error) {
	quotedPK := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		quotedPK[i] = quoteIdent(c)
	}

	var clauses []string
	args := make([]any, 0, len(tuples)*len(pkColumns))
	paramIdx := 1
	for _, tuple := range tuples {
		parts := make([]string, len(pkColumns))
		for i := range pkColumns {
			parts[i] = fmt.Sprintf("%s = $%d", quotedPK[i], paramIdx)
			var v any
			if i < len(tuple) && tuple[i] != nil {
				v = *tuple[i]
			}
			args = append(args, v)
			paramIdx++
		}
		clauses = append(clauses, "("+strings.Join(parts, " AND ")+")")
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", qualifiedTable(lowerSchema, table), strings.Join(clauses, " OR "))

	var affected int64
	err := w.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = '%s'", statementTimeout)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}
