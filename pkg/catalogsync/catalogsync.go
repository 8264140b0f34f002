// SPDX-License-Identifier: Apache-2.0

// Package catalogsync is the Catalog Synchronizer: the per-engine
// discovery pass that keeps metadata.catalog in step with what each
// source connection actually has — new tables appear as PENDING rows,
// vanished tables are deleted, and topology fields (PK strategy, time
// column, table size) are refreshed without disturbing a row's
// replication progress.
package catalogsync

import (
	"context"
	"fmt"

	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
	"github.com/tgberrios/datasync/pkg/synclog"
)

// Synchronizer runs one discovery pass per source engine, per spec.md
// §4.7.
type Synchronizer struct {
	catalog *catalog.Store
	sources map[catalog.Engine]source.Adapter
	log     synclog.Logger
}

// New returns a Synchronizer dispatching discovery to the given
// per-engine adapters.
func New(store *catalog.Store, sources map[catalog.Engine]source.Adapter, log synclog.Logger) *Synchronizer {
	if log == nil {
		log = synclog.NewNoop()
	}
	return &Synchronizer{catalog: store, sources: sources, log: log}
}

// SyncEngine implements steps 1-2 of spec.md §4.7 for one engine: collect
// the connection strings already in the catalog for it, and for each,
// discover its tables and upsert/delete catalog rows to match.
func (s *Synchronizer) SyncEngine(ctx context.Context, engine catalog.Engine) error {
	adapter, ok := s.sources[engine]
	if !ok {
		return nil
	}

	existing, err := s.catalog.ListByEngine(ctx, engine)
	if err != nil {
		return fmt.Errorf("catalogsync: list existing rows for %s: %w", engine, err)
	}
	existingByKey := make(map[catalog.Key]catalog.Row, len(existing))
	for _, r := range existing {
		existingByKey[r.Key()] = r
	}

	for _, connString := range distinctConnectionStrings(existing) {
		if err := s.syncConnection(ctx, adapter, engine, connString, existingByKey); err != nil {
			// A failure to list tables fails catalog sync for that
			// connection only, per spec.md §4.2.
			s.log.Warn("catalog sync failed for connection", "engine", engine, "error", err)
		}
	}
	return nil
}

func distinctConnectionStrings(rows []catalog.Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.ConnectionString] {
			seen[r.ConnectionString] = true
			out = append(out, r.ConnectionString)
		}
	}
	return out
}

func (s *Synchronizer) syncConnection(ctx context.Context, adapter source.Adapter, engine catalog.Engine, connString string, existingByKey map[catalog.Key]catalog.Row) error {
	handle, err := adapter.Open(ctx, connString)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer handle.Close()

	tables, err := adapter.ListTables(ctx, handle)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	discovered := make(map[catalog.Key]bool, len(tables))
	for _, t := range tables {
		key := catalog.Key{SchemaName: t.Schema, TableName: t.Name, DBEngine: engine}
		discovered[key] = true

		existing, found := existingByKey[key]
		if err := s.syncTable(ctx, adapter, handle, engine, connString, t, existing, found); err != nil {
			s.log.Warn("catalog sync failed for table", "schema", t.Schema, "table", t.Name, "engine", engine, "error", err)
		}
	}

	for key, row := range existingByKey {
		if row.ConnectionString != connString || discovered[key] {
			continue
		}
		if err := s.catalog.Delete(ctx, key); err != nil {
			s.log.Warn("failed to delete stale catalog row", "schema", key.SchemaName, "table", key.TableName, "engine", engine, "error", err)
		}
	}
	return nil
}

func (s *Synchronizer) syncTable(ctx context.Context, adapter source.Adapter, handle source.Handle, engine catalog.Engine, connString string, t schema.Table, existing catalog.Row, found bool) error {
	pkCols, err := adapter.DetectPK(ctx, handle, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("detect pk: %w", err)
	}
	timeCol, err := adapter.DetectTimeColumn(ctx, handle, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("detect time column: %w", err)
	}
	tableSize, err := adapter.Count(ctx, handle, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}

	var candidateCols []string
	if timeCol != "" {
		candidateCols = []string{timeCol}
	}
	strategy := pkstrategy.Classify(pkCols, candidateCols)
	hasPK := len(pkCols) > 0

	if !found {
		row := catalog.Row{
			SchemaName:       t.Schema,
			TableName:        t.Name,
			DBEngine:         engine,
			ConnectionString: connString,
			LastSyncColumn:   timeCol,
			Status:           catalog.StatusPending,
			PKStrategy:       strategy,
			PKColumns:        pkCols,
			CandidateColumns: candidateCols,
			HasPK:            hasPK,
			TableSize:        tableSize,
			Active:           false,
		}
		return s.catalog.Upsert(ctx, row)
	}

	if !metadataChanged(existing, timeCol, strategy, pkCols, candidateCols, hasPK, tableSize) {
		return nil
	}
	return s.catalog.UpdateMetadata(ctx, existing.Key(), existing.ClusterName, timeCol, strategy, pkCols, candidateCols, hasPK, tableSize)
}

func metadataChanged(existing catalog.Row, timeCol string, strategy pkstrategy.Strategy, pkCols, candidateCols []string, hasPK bool, tableSize int64) bool {
	return existing.LastSyncColumn != timeCol ||
		existing.PKStrategy != strategy ||
		existing.HasPK != hasPK ||
		existing.TableSize != tableSize ||
		!stringSliceEqual(existing.PKColumns, pkCols) ||
		!stringSliceEqual(existing.CandidateColumns, candidateCols)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
