// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tgberrios/datasync/pkg/errkind"
	"github.com/tgberrios/datasync/pkg/normalize"
	"github.com/tgberrios/datasync/pkg/source"
)

// maxSubBatchSize is the absolute ceiling on a sub-batch regardless of
// what the caller asks for, per spec.md §4.3's "min(chunk_size/2, 500)".
const maxSubBatchSize = 500

// maxAbortedRetries and maxInvalidInputRetries cap how many rows a
// sub-batch will retry individually before giving up on the rest, per
// spec.md §4.3 step 3 and §7's data-error taxonomy.
const (
	maxAbortedRetries      = 100
	maxInvalidInputRetries = 50
)

func clampSubBatch(n int) int {
	if n <= 0 || n > maxSubBatchSize {
		return maxSubBatchSize
	}
	return n
}

// BulkInsert inserts rows without any conflict handling — the path
// bulk_upsert delegates to when the target table has no primary key.
func (w *Writer) BulkInsert(ctx context.Context, lowerSchema, table string, columns []string, rows []source.Row, columnTypes map[string]string, subBatchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	size := clampSubBatch(subBatchSize)

	var applied int64
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		n, err := w.insertSubBatch(ctx, lowerSchema, table, columns, rows[start:end], columnTypes)
		applied += n
		if err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func (w *Writer) insertSubBatch(ctx context.Context, lowerSchema, table string, columns []string, batch []source.Row, columnTypes map[string]string) (int64, error) {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		qualifiedTable(lowerSchema, table), strings.Join(quotedCols, ", "), valuesList(columns, batch, columnTypes))

	var applied int64
	err := w.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = '%s'", statementTimeout)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return err
		}
		applied, _ = res.RowsAffected()
		return nil
	})
	return applied, err
}

// BulkUpsert implements spec.md §4.3's bulk-upsert protocol: re-read the
// target's actual PK columns (never trust the catalog's cached ones),
// fall back to BulkInsert when the table has none, otherwise emit a
// batched INSERT ... ON CONFLICT DO UPDATE per sub-batch with the
// transaction-abort and invalid-input recovery paths spec.md describes.
func (w *Writer) BulkUpsert(ctx context.Context, lowerSchema, table string, columns []string, rows []source.Row, columnTypes map[string]string, subBatchSize int) (int64, error) {
	pkCols, err := actualPKColumns(ctx, w.conn, lowerSchema, table)
	if err != nil {
		return 0, err
	}
	if len(pkCols) == 0 {
		return w.BulkInsert(ctx, lowerSchema, table, columns, rows, columnTypes, subBatchSize)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	size := clampSubBatch(subBatchSize)
	pkSet := make(map[string]bool, len(pkCols))
	for _, c := range pkCols {
		pkSet[c] = true
	}

	var applied int64
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		n, err := w.upsertSubBatch(ctx, lowerSchema, table, columns, rows[start:end], columnTypes, pkCols, pkSet)
		applied += n
		if err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// upsertSubBatch runs the raw-transaction dance spec.md §4.3 step 3
// describes: attempt the whole sub-batch as one statement; on an
// aborted-transaction error, roll back entirely and retry every row in
// its own fresh transaction; on an invalid-input error, roll back to a
// savepoint and retry every row within the same transaction; any other
// error aborts the whole sub-batch (and the table's cycle).
func (w *Writer) upsertSubBatch(ctx context.Context, lowerSchema, table string, columns []string, batch []source.Row, columnTypes map[string]string, pkCols []string, pkSet map[string]bool) (int64, error) {
	query := upsertStatement(lowerSchema, table, columns, batch, columnTypes, pkCols, pkSet)

	raw := w.conn.RawConn()
	if raw == nil {
		// No direct *sql.DB access (the FakeDB test double) — fall back
		// to the plain retryable-transaction path with no row-level
		// recovery; production always runs against a real *sql.DB.
		var applied int64
		err := w.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, query)
			if err != nil {
				return err
			}
			applied, _ = res.RowsAffected()
			return nil
		})
		return applied, err
	}

	tx, err := raw.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = '%s'", statementTimeout)); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "SAVEPOINT batch_attempt"); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	res, execErr := tx.ExecContext(ctx, query)
	if execErr == nil {
		n, _ := res.RowsAffected()
		if err := commitSwallowingAborted(tx); err != nil {
			return n, err
		}
		return n, nil
	}

	switch errkind.Classify(execErr) {
	case errkind.KindAbortedTransaction:
		_ = tx.Rollback()
		return w.upsertRowByRowNewTx(ctx, lowerSchema, table, columns, batch, columnTypes, pkCols, pkSet)

	case errkind.KindInvalidInput:
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT batch_attempt"); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		n := w.upsertRowByRowSavepoint(ctx, tx, lowerSchema, table, columns, batch, columnTypes, pkCols, pkSet)
		if err := commitSwallowingAborted(tx); err != nil {
			return n, err
		}
		return n, nil

	default:
		_ = tx.Rollback()
		return 0, execErr
	}
}

// upsertRowByRowNewTx retries each row of batch in its own fresh
// transaction after an aborted-transaction error drained the shared one,
// capped at maxAbortedRetries rows — a defence against a pathological
// run of bad rows, not an expected steady state.
func (w *Writer) upsertRowByRowNewTx(ctx context.Context, lowerSchema, table string, columns []string, batch []source.Row, columnTypes map[string]string, pkCols []string, pkSet map[string]bool) (int64, error) {
	var applied int64
	retries := 0
	for _, row := range batch {
		if retries >= maxAbortedRetries {
			w.log.Warn("upsert per-row retry cap hit after aborted transaction", "schema", lowerSchema, "table", table, "cap", maxAbortedRetries)
			break
		}
		retries++

		query := upsertStatement(lowerSchema, table, columns, []source.Row{row}, columnTypes, pkCols, pkSet)
		err := w.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = '%s'", statementTimeout)); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, query)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			applied += n
			return nil
		})
		if err != nil {
			w.log.Warn("upsert row skipped after retry in new transaction", "schema", lowerSchema, "table", table, "error", err)
		}
	}
	return applied, nil
}

// upsertRowByRowSavepoint retries each row of batch within tx, one
// SAVEPOINT per row, after an invalid-input error — capped at
// maxInvalidInputRetries failing rows per spec.md §4.3.
func (w *Writer) upsertRowByRowSavepoint(ctx context.Context, tx *sql.Tx, lowerSchema, table string, columns []string, batch []source.Row, columnTypes map[string]string, pkCols []string, pkSet map[string]bool) int64 {
	var applied int64
	failures := 0
	for i, row := range batch {
		if failures >= maxInvalidInputRetries {
			w.log.Warn("upsert per-row retry cap hit after invalid-input error", "schema", lowerSchema, "table", table, "cap", maxInvalidInputRetries)
			break
		}

		sp := fmt.Sprintf("row_sp_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			failures++
			continue
		}

		query := upsertStatement(lowerSchema, table, columns, []source.Row{row}, columnTypes, pkCols, pkSet)
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			failures++
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
			continue
		}
		n, _ := res.RowsAffected()
		applied += n
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
	}
	return applied
}

// commitSwallowingAborted commits tx, swallowing a commit-time error that
// indicates the transaction was already drained row-by-row — spec.md
// §4.3 step 4's "swallow commit errors that indicate previously aborted".
func commitSwallowingAborted(tx *sql.Tx) error {
	err := tx.Commit()
	if err == nil {
		return nil
	}
	if errkind.Classify(err) == errkind.KindAbortedTransaction {
		return nil
	}
	return err
}

// upsertStatement renders the INSERT ... ON CONFLICT DO UPDATE statement
// for batch.
func upsertStatement(lowerSchema, table string, columns []string, batch []source.Row, columnTypes map[string]string, pkCols []string, pkSet map[string]bool) string {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
	}

	quotedPK := make([]string, len(pkCols))
	for i, c := range pkCols {
		quotedPK[i] = quoteIdent(c)
	}

	var sets []string
	for _, c := range columns {
		lower := strings.ToLower(c)
		if pkSet[lower] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c), quoteIdent(c)))
	}

	conflictAction := "DO NOTHING"
	if len(sets) > 0 {
		conflictAction = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		qualifiedTable(lowerSchema, table), strings.Join(quotedCols, ", "),
		valuesList(columns, batch, columnTypes), strings.Join(quotedPK, ", "), conflictAction)
}

// valuesList renders batch as a comma-separated "(v1,v2,...),(v1,v2,...)"
// VALUES body, normalizing every cell through normalize.Normalize against
// its declared source type before embedding it as a literal.
func valuesList(columns []string, batch []source.Row, columnTypes map[string]string) string {
	rowTexts := make([]string, len(batch))
	for i, row := range batch {
		cells := make([]string, len(columns))
		for j, c := range columns {
			cells[j] = normalizedLiteral(row[c], columnTypes[c])
		}
		rowTexts[i] = "(" + strings.Join(cells, ", ") + ")"
	}
	return strings.Join(rowTexts, ", ")
}

// normalizedLiteral renders a normalize.Result the way it needs to appear
// inside a VALUES/SET clause.
func normalizedLiteral(raw *string, declaredType string) string {
	r := normalize.Normalize(raw, declaredType)
	switch r.Kind {
	case normalize.KindNull:
		return "NULL"
	case normalize.KindDefault:
		return "DEFAULT"
	default:
		return r.Literal
	}
}
