// SPDX-License-Identifier: Apache-2.0

package orchestrator_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/catalogsync"
	"github.com/tgberrios/datasync/pkg/db"
	"github.com/tgberrios/datasync/pkg/orchestrator"
	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/runtimeconfig"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
	"github.com/tgberrios/datasync/pkg/synclog"
	"github.com/tgberrios/datasync/pkg/tablesync"
	"github.com/tgberrios/datasync/pkg/target"
	"github.com/tgberrios/datasync/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func strp(s string) *string { return &s }

// TestRunOnce_DiscoversSyncsAndMaintains wires a real catalog/target store
// against a single Fake PostgreSQL-engine source and runs one cycle,
// exercising discovery, dispatch, and the maintenance pass together the
// way the production process's outer loop would.
func TestRunOnce_DiscoversSyncsAndMaintains(t *testing.T) {
	ctx := context.Background()

	var store *catalog.Store
	var raw *sql.DB
	testutils.WithCatalogStore(t, func(s *catalog.Store, r *sql.DB) { store, raw = s, r })

	fake := source.NewFake()
	fake.Tables[schema.Table{Schema: "s", Name: "seed"}] = &source.FakeTable{
		Columns:   []schema.ColumnDescriptor{{Name: "id", Type: "INT", Key: "PRI"}},
		PKColumns: []string{"id"},
	}
	fake.Tables[schema.Table{Schema: "s", Name: "orders"}] = &source.FakeTable{
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: "INT", Key: "PRI"},
			{Name: "total", Type: "INT"},
		},
		PKColumns: []string{"id"},
		Rows: []source.Row{
			{"id": strp("1"), "total": strp("10")},
			{"id": strp("2"), "total": strp("20")},
		},
	}

	seed := catalog.Row{
		SchemaName: "s", TableName: "seed", DBEngine: catalog.EnginePostgreSQL,
		ConnectionString: "fake://conn1", Status: catalog.StatusPending,
		PKStrategy: pkstrategy.PK, PKColumns: []string{"id"}, HasPK: true,
	}
	require.NoError(t, store.Upsert(ctx, seed))

	sources := map[catalog.Engine]source.Adapter{catalog.EnginePostgreSQL: fake}
	catSync := catalogsync.New(store, sources, synclog.NewNoop())

	require.NoError(t, store.SetConfigValue(ctx, "chunk_size", "10"))
	cfg := runtimeconfig.New(store)
	require.NoError(t, cfg.Refresh(ctx))

	writer := target.New(&db.RDB{DB: raw}, synclog.NewNoop())
	tabSync := tablesync.New(store, writer, sources, cfg, synclog.NewNoop())

	engines := []catalog.Engine{catalog.EnginePostgreSQL}
	orch := orchestrator.New(store, catSync, tabSync, cfg, synclog.NewNoop(), engines)

	// First cycle: discovers "orders" as PENDING/inactive, then the same
	// cycle's maintenance pass normalizes it to SKIP per the data model's
	// "active=false ∧ status≠NO_DATA ⇒ SKIP" invariant — discovery alone
	// never makes a row eligible for dispatch.
	orch.RunOnce(ctx)

	ordersKey := catalog.Key{SchemaName: "s", TableName: "orders", DBEngine: catalog.EnginePostgreSQL}
	got, err := store.Get(ctx, ordersKey)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusSkip, got.Status)
	assert.False(t, got.Active)

	// Activate it the way an operator would — active=true together with
	// resetting status off SKIP, since setting active alone would leave it
	// stuck at SKIP through the very next maintenance pass — then run a
	// second cycle: this time dispatch should hand it to the Table
	// Synchronizer.
	got.Active = true
	got.Status = catalog.StatusPending
	require.NoError(t, store.Upsert(ctx, got))

	orch.RunOnce(ctx)

	var n int
	require.NoError(t, raw.QueryRowContext(ctx, `SELECT count(*) FROM "s"."orders"`).Scan(&n))
	assert.Equal(t, 2, n)

	got, err = store.Get(ctx, ordersKey)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusListeningChanges, got.Status)
}
