// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the Replication Orchestrator: the outer loop
// that, per spec.md §4.8, runs each engine's Catalog Synchronizer, backfills
// cluster names, dispatches every active catalog row (smallest table first)
// to the Table Synchronizer, runs the maintenance pass, and sleeps before
// the next cycle.
package orchestrator

import (
	"context"
	"time"

	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/catalogsync"
	"github.com/tgberrios/datasync/pkg/runtimeconfig"
	"github.com/tgberrios/datasync/pkg/synclog"
	"github.com/tgberrios/datasync/pkg/tablesync"
)

// minSleep is the floor on the inter-cycle sleep, per spec.md §4.8's
// max(5, sync_interval/4).
const minSleep = 5 * time.Second

// TableSyncer is the subset of tablesync.Synchronizer the orchestrator
// depends on, narrowed to ease substitution in tests.
type TableSyncer interface {
	Sync(ctx context.Context, row catalog.Row) error
}

var _ TableSyncer = (*tablesync.Synchronizer)(nil)

// CatalogSyncer is the subset of catalogsync.Synchronizer the orchestrator
// depends on.
type CatalogSyncer interface {
	SyncEngine(ctx context.Context, engine catalog.Engine) error
	BackfillClusterNames(ctx context.Context, engines []catalog.Engine) error
}

var _ CatalogSyncer = (*catalogsync.Synchronizer)(nil)

// Orchestrator drives one Run() loop across every configured engine.
type Orchestrator struct {
	catalog     *catalog.Store
	catalogSync CatalogSyncer
	tableSync   TableSyncer
	cfg         *runtimeconfig.Store
	log         synclog.Logger
	engines     []catalog.Engine
}

// New returns an Orchestrator cycling through engines in the given order —
// the order spec.md §4.8 lists: MariaDB, MSSQL, MongoDB, PostgreSQL.
func New(store *catalog.Store, catalogSync CatalogSyncer, tableSync TableSyncer, cfg *runtimeconfig.Store, log synclog.Logger, engines []catalog.Engine) *Orchestrator {
	if log == nil {
		log = synclog.NewNoop()
	}
	return &Orchestrator{catalog: store, catalogSync: catalogSync, tableSync: tableSync, cfg: cfg, log: log, engines: engines}
}

// Run loops until ctx is cancelled: one full cycle, then a sleep whose
// length is re-derived from the current sync_interval on every iteration,
// so an operator's config change takes effect at the next cycle boundary.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		o.RunOnce(ctx)

		sleep := o.cfg.Get().SyncInterval / 4
		if sleep < minSleep {
			sleep = minSleep
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// RunOnce executes a single cycle's body — catalog sync for every engine,
// cluster name backfill, replication dispatch, and the maintenance pass —
// without sleeping afterward. Run calls this in a loop; tests call it
// directly to exercise one cycle deterministically.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	if err := o.cfg.Refresh(ctx); err != nil {
		o.log.Warn("config refresh failed, continuing on last-known-good values", "error", err)
	}
	for _, engine := range o.engines {
		if err := o.catalogSync.SyncEngine(ctx, engine); err != nil {
			o.log.Error("catalog sync failed", "engine", engine, "error", err)
		}
	}

	if err := o.catalogSync.BackfillClusterNames(ctx, o.engines); err != nil {
		o.log.Warn("cluster name backfill failed", "error", err)
	}

	o.dispatchReplication(ctx)

	if err := o.catalog.Cleanup(ctx); err != nil {
		o.log.Error("maintenance cleanup failed", "error", err)
	}
	if err := o.catalog.DeactivateNoData(ctx); err != nil {
		o.log.Error("maintenance deactivate_no_data failed", "error", err)
	}
}

// dispatchReplication enumerates every engine's active rows in table_size
// ascending order and hands each, in turn, to the Table Synchronizer — the
// sequential dispatch that is itself the single-writer-per-table exclusion
// mechanism described in spec.md §5 (no two Table Synchronizers ever touch
// the same row concurrently because nothing else is running one).
func (o *Orchestrator) dispatchReplication(ctx context.Context) {
	for _, engine := range o.engines {
		if ctx.Err() != nil {
			return
		}
		rows, err := o.catalog.ListActiveByEngine(ctx, engine)
		if err != nil {
			o.log.Error("list active rows failed", "engine", engine, "error", err)
			continue
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return
			}
			if err := o.tableSync.Sync(ctx, row); err != nil {
				o.log.Warn("table sync failed", "schema", row.SchemaName, "table", row.TableName, "engine", engine, "error", err)
			}
		}
	}
}
