// SPDX-License-Identifier: Apache-2.0

// Package tablesync is the Table Synchronizer: the per-row state machine
// that drives one catalog entry through RESET/FULL_LOAD/LISTENING_CHANGES,
// choosing between bulk copy, incremental update and delete reconciliation
// based on how the source and target row counts compare.
package tablesync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/errkind"
	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/runtimeconfig"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
	"github.com/tgberrios/datasync/pkg/synclog"
	"github.com/tgberrios/datasync/pkg/target"
)

// Synchronizer owns one Sync call per catalog row: it opens a source
// handle, compares row counts and runs whichever of bulk-copy, incremental
// update or delete-reconciliation the comparison calls for.
type Synchronizer struct {
	catalog *catalog.Store
	writer  *target.Writer
	sources map[catalog.Engine]source.Adapter
	cfg     *runtimeconfig.Store
	log     synclog.Logger
}

// New returns a Synchronizer dispatching to the given adapter for each
// engine it encounters in a catalog row.
func New(store *catalog.Store, writer *target.Writer, sources map[catalog.Engine]source.Adapter, cfg *runtimeconfig.Store, log synclog.Logger) *Synchronizer {
	if log == nil {
		log = synclog.NewNoop()
	}
	return &Synchronizer{catalog: store, writer: writer, sources: sources, cfg: cfg, log: log}
}

// syncCtx bundles the per-call state threaded through bulkCopy/incremental/
// reconcileDeletes, so those files don't each carry a long parameter list.
type syncCtx struct {
	adapter      source.Adapter
	handle       source.Handle
	row          catalog.Row
	lowerSchema  string
	table        string
	columns      []string
	columnTypes  map[string]string
	chunkSize    int
	subBatchSize int
	budget       *budget
}

// Sync runs one state-machine invocation for row, per spec.md §4.6's
// transitions 1-8, and persists the resulting status/progress.
func (s *Synchronizer) Sync(ctx context.Context, row catalog.Row) error {
	adapter, ok := s.sources[row.DBEngine]
	if !ok {
		return fmt.Errorf("tablesync: no source adapter registered for engine %q", row.DBEngine)
	}

	switch row.Status {
	case catalog.StatusSkip, catalog.StatusError:
		// Both terminals require operator intervention (re-activation or
		// a RESET) before this row is eligible to run again.
		return nil
	}

	handle, err := adapter.Open(ctx, row.ConnectionString)
	if err != nil {
		return s.markError(ctx, row, fmt.Errorf("open source: %w", err))
	}
	defer handle.Close()

	lowerSchema := strings.ToLower(row.SchemaName)
	table := strings.ToLower(row.TableName)

	cols, err := adapter.DescribeColumns(ctx, handle, row.SchemaName, row.TableName)
	if err != nil {
		return s.markError(ctx, row, fmt.Errorf("describe columns: %w", err))
	}
	columnNames := make([]string, len(cols))
	columnTypes := make(map[string]string, len(cols))
	columnSpecs := make([]schema.ColumnSpec, len(cols))
	for i, c := range cols {
		columnNames[i] = c.Name
		columnTypes[c.Name] = c.Type
		columnSpecs[i] = schema.ColumnSpec{
			Name:   strings.ToLower(c.Name),
			PGType: target.MapType(c.Type, c.MaxLength, c.NumericPrecision, c.NumericScale),
		}
	}

	if err := s.writer.EnsureSchema(ctx, lowerSchema); err != nil {
		return s.markError(ctx, row, fmt.Errorf("ensure schema: %w", err))
	}

	// Schema error recovery (spec.md §7): the source's column set is
	// compared against what the target table actually has. A mismatch
	// means an operator added or dropped a source column since the last
	// cycle — rather than let EnsureTable's CREATE TABLE IF NOT EXISTS
	// silently no-op over it (and a later BulkUpsert fail on an
	// undefined-column error), drop the table now and reset the row to a
	// fresh FULL_LOAD.
	actualCols, err := s.writer.ActualColumns(ctx, lowerSchema, table)
	if err != nil {
		return s.markError(ctx, row, fmt.Errorf("read actual target columns: %w", err))
	}
	if len(actualCols) > 0 && columnSetDrifted(actualCols, columnNames) {
		s.log.Warn("source column set changed, dropping target table and resetting to full load", "schema", row.SchemaName, "table", row.TableName)
		if err := s.writer.DropTable(ctx, lowerSchema, table); err != nil {
			return s.markError(ctx, row, fmt.Errorf("drop table on schema drift: %w", err))
		}
		zeroProgressFields(&row)
		row.Status = catalog.StatusFullLoad
	}

	if err := s.writer.EnsureTable(ctx, lowerSchema, table, columnSpecs, row.PKColumns); err != nil {
		return s.markError(ctx, row, fmt.Errorf("ensure table: %w", err))
	}

	snap := s.cfg.Get()
	sc := &syncCtx{
		adapter:      adapter,
		handle:       handle,
		row:          row,
		lowerSchema:  lowerSchema,
		table:        table,
		columns:      columnNames,
		columnTypes:  columnTypes,
		chunkSize:    snap.ChunkSize,
		subBatchSize: subBatchSizeFor(snap.ChunkSize),
		budget:       newBudget(time.Now()),
	}

	// 1. RESET: truncate and fall into the FULL_LOAD arm with zeroed
	// progress.
	if sc.row.Status == catalog.StatusReset {
		if err := s.writer.Truncate(ctx, lowerSchema, table); err != nil {
			return s.markError(ctx, row, fmt.Errorf("truncate on reset: %w", err))
		}
		zeroProgressFields(&sc.row)
		sc.row.Status = catalog.StatusFullLoad
	}

	// A row reaching its first cycle is PENDING with zeroed progress;
	// folding it into FULL_LOAD lets the freshness check below run its
	// one-time TRUNCATE the same way RESET does.
	if sc.row.Status == catalog.StatusPending {
		sc.row.Status = catalog.StatusFullLoad
	}

	// 2. FULL_LOAD: truncate only on a fresh start (zeroed progress);
	// otherwise resume from the stored cursor — a no-op here, since the
	// cursor already lives in sc.row and bulkCopy reads it from there.
	if sc.row.Status == catalog.StatusFullLoad {
		fresh := (sc.row.LastOffset == nil || *sc.row.LastOffset == 0) && sc.row.LastProcessedPK == nil
		if fresh {
			if err := s.writer.Truncate(ctx, lowerSchema, table); err != nil {
				return s.markError(ctx, row, fmt.Errorf("truncate on fresh full load: %w", err))
			}
		}
	}

	// 3. Compute source_count and target_count.
	sourceCount, err := adapter.Count(ctx, handle, row.SchemaName, row.TableName)
	if err != nil {
		return s.markError(ctx, sc.row, fmt.Errorf("source count: %w", err))
	}
	targetCount, err := s.writer.Count(ctx, lowerSchema, table)
	if err != nil {
		return s.markError(ctx, sc.row, fmt.Errorf("target count: %w", err))
	}

	switch {
	case sourceCount == 0 && targetCount == 0:
		// 4. Nothing on either side: NO_DATA, progress reset.
		return s.finish(ctx, sc, catalog.StatusNoData, true)

	case sourceCount == 0 && targetCount > 0:
		// 5. Transient source emptiness never drops the target.
		return s.finish(ctx, sc, catalog.StatusListeningChanges, true)

	case sourceCount == targetCount:
		// 6. Steady state: incremental updates plus delete reconciliation.
		if err := s.runIncremental(ctx, sc); err != nil {
			s.log.Warn("incremental branch failed", "schema", sc.row.SchemaName, "table", sc.row.TableName, "error", err)
		}
		if _, err := s.reconcileDeletes(ctx, sc); err != nil {
			s.log.Warn("delete reconciliation failed", "schema", sc.row.SchemaName, "table", sc.row.TableName, "error", err)
		}
		return s.finish(ctx, sc, catalog.StatusListeningChanges, false)

	case sourceCount < targetCount:
		// 7. Target has stragglers: reconcile deletes, then fall through
		// to a bulk copy if the source still has rows the target lacks.
		if _, err := s.reconcileDeletes(ctx, sc); err != nil {
			return s.markError(ctx, sc.row, fmt.Errorf("delete reconciliation: %w", err))
		}
		targetCount, err = s.writer.Count(ctx, lowerSchema, table)
		if err != nil {
			return s.markError(ctx, sc.row, fmt.Errorf("target recount: %w", err))
		}
		if sourceCount <= targetCount {
			return s.finish(ctx, sc, catalog.StatusListeningChanges, false)
		}
		fallthrough

	default:
		// 8. Source has rows the target lacks: bulk copy from the stored
		// cursor. A budget-exhausted or loop-ending error leaves status
		// at FULL_LOAD so the next cycle resumes; a clean finish promotes
		// to LISTENING_CHANGES.
		completed, err := s.bulkCopy(ctx, sc)
		if err != nil {
			return s.markError(ctx, sc.row, fmt.Errorf("bulk copy: %w", err))
		}
		if completed {
			return s.finish(ctx, sc, catalog.StatusListeningChanges, false)
		}
		return s.persistProgress(ctx, sc, catalog.StatusFullLoad)
	}
}

// finish persists status and, when zeroProgress is true, resets the
// cursor to its zero value for the row's PK strategy.
func (s *Synchronizer) finish(ctx context.Context, sc *syncCtx, status catalog.Status, zeroProgress bool) error {
	if zeroProgress {
		zeroProgressFields(&sc.row)
	}
	return s.persistProgress(ctx, sc, status)
}

// zeroProgressFields resets row's cursor to "start of table" for its PK
// strategy: last_offset = 0 under OFFSET, last_processed_pk = NULL
// otherwise — last_offset must stay NULL for PK/TEMPORAL_PK strategies
// per the catalog's data-model invariant.
func zeroProgressFields(row *catalog.Row) {
	row.LastProcessedPK = nil
	row.LastOffset = nil
	if row.PKStrategy == pkstrategy.Offset {
		zero := int64(0)
		row.LastOffset = &zero
	}
}

// persistProgress writes sc.row's current status and cursor, refreshing
// last_sync_time to MAX(last_sync_column) of the target table when that
// column is known, else the current time, per spec.md §4.5.
func (s *Synchronizer) persistProgress(ctx context.Context, sc *syncCtx, status catalog.Status) error {
	lastSyncTime, err := s.computeLastSyncTime(ctx, sc)
	if err != nil {
		s.log.Warn("last_sync_time refresh failed, falling back to now", "schema", sc.row.SchemaName, "table", sc.row.TableName, "error", err)
		now := time.Now().UTC()
		lastSyncTime = &now
	}
	return s.catalog.UpdateStatus(ctx, sc.row.Key(), status, sc.row.LastOffset, sc.row.LastProcessedPK, lastSyncTime)
}

func (s *Synchronizer) computeLastSyncTime(ctx context.Context, sc *syncCtx) (*time.Time, error) {
	if sc.row.LastSyncColumn == "" {
		now := time.Now().UTC()
		return &now, nil
	}
	t, err := s.writer.MaxTimeColumn(ctx, sc.lowerSchema, sc.table, sc.row.LastSyncColumn)
	if err != nil {
		return nil, err
	}
	if t == nil {
		now := time.Now().UTC()
		return &now, nil
	}
	return t, nil
}

// markError persists ERROR for row and returns cause, unless cause
// classifies as a connectivity failure — per spec.md §7, a transient
// source or target connection error abandons the current cycle only,
// leaving status untouched so the next cycle retries instead of parking
// the row behind an operator-only RESET.
func (s *Synchronizer) markError(ctx context.Context, row catalog.Row, cause error) error {
	if errkind.Classify(cause) == errkind.KindConnection {
		s.log.Warn("table sync cycle abandoned after connectivity error, retrying next cycle", "schema", row.SchemaName, "table", row.TableName, "engine", row.DBEngine, "error", cause)
		return cause
	}

	s.log.Error("table sync aborted", "schema", row.SchemaName, "table", row.TableName, "engine", row.DBEngine, "error", cause)
	if updErr := s.catalog.UpdateStatus(ctx, row.Key(), catalog.StatusError, row.LastOffset, row.LastProcessedPK, row.LastSyncTime); updErr != nil {
		s.log.Error("failed to persist ERROR status", "schema", row.SchemaName, "table", row.TableName, "error", updErr)
	}
	return cause
}

// columnSetDrifted reports whether actual (the target's current columns)
// and described (the source's freshly described columns, lowercased for
// comparison) name different sets, ignoring order.
func columnSetDrifted(actual, described []string) bool {
	if len(actual) != len(described) {
		return true
	}
	want := make(map[string]bool, len(described))
	for _, c := range described {
		want[strings.ToLower(c)] = true
	}
	for _, c := range actual {
		if !want[strings.ToLower(c)] {
			return true
		}
	}
	return false
}

// subBatchSizeFor computes the sub-batch size passed to target.Writer:
// min(chunkSize/2, 500), at least 1. The writer's own clamp only caps a
// requested size at 500.
func subBatchSizeFor(chunkSize int) int {
	n := chunkSize / 2
	if n > 500 {
		n = 500
	}
	if n < 1 {
		n = 1
	}
	return n
}
