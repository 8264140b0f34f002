// SPDX-License-Identifier: Apache-2.0

package tablesync

import (
	"context"

	"github.com/tgberrios/datasync/pkg/normalize"
	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/source"
)

// runIncremental implements spec.md §4.6.1: with last_sync_column and a
// prior last_sync_time, walk the source for rows newer than last_sync_time
// and, for each that already exists in the target, update only the
// columns whose normalized value actually changed.
func (s *Synchronizer) runIncremental(ctx context.Context, sc *syncCtx) error {
	if sc.row.LastSyncColumn == "" || sc.row.LastSyncTime == nil || len(sc.row.PKColumns) == 0 {
		return nil
	}

	since := sc.row.LastSyncTime.UTC().Format("2006-01-02 15:04:05")
	cursor := source.Cursor{Strategy: pkstrategy.TemporalPK, TemporalValue: &since}
	candidateColumns := []string{sc.row.LastSyncColumn}

	for {
		chunk, err := sc.adapter.ReadChunk(ctx, sc.handle, sc.row.SchemaName, sc.row.TableName, cursor, sc.chunkSize, nil, candidateColumns)
		if err != nil {
			if isLoopEndingError(err) {
				return nil
			}
			return err
		}
		if len(chunk.Rows) == 0 {
			return nil
		}

		for _, srcRow := range chunk.Rows {
			if err := s.applyIncrementalRow(ctx, sc, srcRow, chunk.ColumnTypes); err != nil {
				return err
			}
		}

		cursor = chunk.NextCursor
		if len(chunk.Rows) < sc.chunkSize {
			return nil
		}
	}
}

// applyIncrementalRow reassembles the PK from srcRow's column values,
// fetches the current target row, and issues an UPDATE for whichever
// columns differ after normalization.
func (s *Synchronizer) applyIncrementalRow(ctx context.Context, sc *syncCtx, srcRow source.Row, columnTypes map[string]string) error {
	pkValues := make([]string, len(sc.row.PKColumns))
	for i, col := range sc.row.PKColumns {
		if v := srcRow[col]; v != nil {
			pkValues[i] = *v
		}
	}

	targetRow, found, err := s.writer.ReadRow(ctx, sc.lowerSchema, sc.table, sc.columns, sc.row.PKColumns, pkValues)
	if err != nil {
		return err
	}
	if !found {
		// Insertion is the bulk branch's job; incremental only updates
		// rows the target already has.
		return nil
	}

	sets := make(map[string]string)
	for _, col := range sc.columns {
		if isPKColumn(col, sc.row.PKColumns) {
			continue
		}
		declaredType := columnTypes[col]
		if declaredType == "" {
			declaredType = sc.columnTypes[col]
		}
		newResult := normalize.Normalize(srcRow[col], declaredType)
		newLiteral := resultLiteral(newResult)

		current, ok := targetRow[col]
		currentLiteral := "NULL"
		if ok && current != nil {
			currentLiteral = resultLiteral(normalize.Normalize(current, declaredType))
		}

		if newLiteral != currentLiteral {
			sets[col] = newLiteral
		}
	}

	if len(sets) == 0 {
		return nil
	}
	return s.writer.UpdateRow(ctx, sc.lowerSchema, sc.table, sc.row.PKColumns, pkValues, sets)
}

func isPKColumn(col string, pkColumns []string) bool {
	for _, c := range pkColumns {
		if c == col {
			return true
		}
	}
	return false
}

// resultLiteral renders a normalize.Result the same way it would be
// embedded in a SQL statement, so two Results can be compared as text.
func resultLiteral(r normalize.Result) string {
	switch r.Kind {
	case normalize.KindNull:
		return "NULL"
	case normalize.KindDefault:
		return "DEFAULT"
	default:
		return r.Literal
	}
}
