// SPDX-License-Identifier: Apache-2.0

package tablesync

import (
	"context"
	"strings"
	"time"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/source"
)

// bulkCopy implements spec.md §4.6.3: page through the source from the
// row's stored cursor, upserting each chunk into the target, until the
// source is exhausted, the target catches up with the source, or a hard
// limit or loop-ending error cuts the cycle short. completed reports
// whether the copy ran to natural completion (promote to
// LISTENING_CHANGES) or stopped early (stay in FULL_LOAD for the next
// cycle to resume).
func (s *Synchronizer) bulkCopy(ctx context.Context, sc *syncCtx) (completed bool, err error) {
	cursor := source.Cursor{Strategy: sc.row.PKStrategy}
	switch sc.row.PKStrategy {
	case pkstrategy.PK:
		cursor.PKValue = sc.row.LastProcessedPK
	case pkstrategy.TemporalPK:
		cursor.TemporalValue = sc.row.LastProcessedPK
	default:
		if sc.row.LastOffset != nil {
			cursor.Offset = *sc.row.LastOffset
		}
	}

	sourceCount, err := sc.adapter.Count(ctx, sc.handle, sc.row.SchemaName, sc.row.TableName)
	if err != nil {
		return false, err
	}

	var targetCount int64
	if targetCount, err = s.writer.Count(ctx, sc.lowerSchema, sc.table); err != nil {
		return false, err
	}

	for {
		if sc.budget.exceeded(time.Now()) {
			s.log.Critical("bulk copy budget exhausted, stopping cleanly", "schema", sc.row.SchemaName, "table", sc.row.TableName)
			return false, s.advanceCursor(ctx, sc, cursor)
		}

		chunk, err := sc.adapter.ReadChunk(ctx, sc.handle, sc.row.SchemaName, sc.row.TableName, cursor, sc.chunkSize, sc.row.PKColumns, sc.row.CandidateColumns)
		if err != nil {
			if isLoopEndingError(err) {
				s.log.Warn("bulk copy stopped by loop-ending source error", "schema", sc.row.SchemaName, "table", sc.row.TableName, "error", err)
				return false, s.advanceCursor(ctx, sc, cursor)
			}
			return false, err
		}

		if len(chunk.Rows) > 0 {
			n, err := s.writer.BulkUpsert(ctx, sc.lowerSchema, sc.table, sc.columns, chunk.Rows, chunk.ColumnTypes, sc.subBatchSize)
			targetCount += n
			if err != nil {
				if isLoopEndingError(err) {
					s.log.Warn("bulk copy stopped by loop-ending target error", "schema", sc.row.SchemaName, "table", sc.row.TableName, "error", err)
					return false, s.advanceCursor(ctx, sc, cursor)
				}
				return false, err
			}
		}

		cursor = chunk.NextCursor
		sc.budget.recordChunk()
		if err := s.advanceCursor(ctx, sc, cursor); err != nil {
			return false, err
		}

		if len(chunk.Rows) < sc.chunkSize || targetCount >= sourceCount {
			return true, nil
		}
	}
}

// advanceCursor writes the loop's current cursor back onto sc.row and
// commits it to the catalog immediately — the commit point after every
// chunk, per the concurrency model.
func (s *Synchronizer) advanceCursor(ctx context.Context, sc *syncCtx, cursor source.Cursor) error {
	switch sc.row.PKStrategy {
	case pkstrategy.PK:
		sc.row.LastProcessedPK = cursor.PKValue
	case pkstrategy.TemporalPK:
		sc.row.LastProcessedPK = cursor.TemporalValue
	default:
		offset := cursor.Offset
		sc.row.LastOffset = &offset
	}
	return s.catalog.UpdateLastProcessedPK(ctx, sc.row.Key(), sc.row.LastOffset, sc.row.LastProcessedPK)
}

// isLoopEndingError matches the error-text rule from spec.md §4.6.3 —
// aborted-transaction, connection and timeout failures end the bulk-copy
// loop for this table, leaving the cursor at its last advanced position.
func isLoopEndingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"current transaction is aborted",
		"previously aborted",
		"aborted transaction",
		"connection",
		"timeout",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
