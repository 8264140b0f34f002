// SPDX-License-Identifier: Apache-2.0

package tablesync_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/db"
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

// harness wires a Synchronizer against a source.Fake and a real
// PostgreSQL target/catalog pair sharing one testcontainer database, the
// same way the production process shares one target instance for both.
type harness struct {
	sync    *tablesync.Synchronizer
	fake    *source.Fake
	catalog *catalog.Store
	raw     *sql.DB
}

func newHarness(t *testing.T, chunkSize string) *harness {
	t.Helper()
	ctx := context.Background()

	var h harness
	testutils.WithCatalogStore(t, func(store *catalog.Store, raw *sql.DB) {
		h.catalog = store
		h.raw = raw
	})

	require.NoError(t, h.catalog.SetConfigValue(ctx, "chunk_size", chunkSize))
	cfg := runtimeconfig.New(h.catalog)
	require.NoError(t, cfg.Refresh(ctx))

	h.fake = source.NewFake()
	writer := target.New(&db.RDB{DB: h.raw}, synclog.NewNoop())
	sources := map[catalog.Engine]source.Adapter{catalog.EnginePostgreSQL: h.fake}
	h.sync = tablesync.New(h.catalog, writer, sources, cfg, synclog.NewNoop())
	return &h
}

func TestSync_FreshFullLoad_PKStrategy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "2")

	h.fake.Tables[schema.Table{Schema: "s", Name: "t"}] = &source.FakeTable{
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: "INT", Key: "PRI"},
			{Name: "name", Type: "VARCHAR", MaxLength: intp(10)},
		},
		PKColumns: []string{"id"},
		Rows: []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("2"), "name": strp("b")},
			{"id": strp("3"), "name": strp("c")},
		},
	}

	row := catalog.Row{
		SchemaName: "s", TableName: "t", DBEngine: catalog.EnginePostgreSQL,
		ConnectionString: "fake", Status: catalog.StatusFullLoad,
		PKStrategy: pkstrategy.PK, PKColumns: []string{"id"}, HasPK: true,
	}
	require.NoError(t, h.catalog.Upsert(ctx, row))

	require.NoError(t, h.sync.Sync(ctx, row))

	var n int
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT count(*) FROM "s"."t"`).Scan(&n))
	assert.Equal(t, 3, n)

	got, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusListeningChanges, got.Status)
	require.NotNil(t, got.LastProcessedPK)
	assert.Equal(t, "3", *got.LastProcessedPK)
}

func TestSync_IncrementalUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "2")

	table := &source.FakeTable{
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: "INT", Key: "PRI"},
			{Name: "name", Type: "VARCHAR", MaxLength: intp(10)},
			{Name: "updated_at", Type: "DATETIME"},
		},
		PKColumns: []string{"id"},
		Rows: []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("2"), "name": strp("b")},
			{"id": strp("3"), "name": strp("c")},
		},
	}
	h.fake.Tables[schema.Table{Schema: "s", Name: "t"}] = table

	row := catalog.Row{
		SchemaName: "s", TableName: "t", DBEngine: catalog.EnginePostgreSQL,
		ConnectionString: "fake", Status: catalog.StatusFullLoad,
		PKStrategy: pkstrategy.PK, PKColumns: []string{"id"}, HasPK: true,
	}
	require.NoError(t, h.catalog.Upsert(ctx, row))
	require.NoError(t, h.sync.Sync(ctx, row))

	row, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	require.NotNil(t, row.LastSyncTime)
	row.LastSyncColumn = "updated_at"

	future := row.LastSyncTime.Add(1 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	table.Rows[1] = source.Row{"id": strp("2"), "name": strp("B"), "updated_at": strp(future)}
	require.NoError(t, h.catalog.Upsert(ctx, row))

	require.NoError(t, h.sync.Sync(ctx, row))

	var name string
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT name FROM "s"."t" WHERE id = '2'`).Scan(&name))
	assert.Equal(t, "B", name)
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT name FROM "s"."t" WHERE id = '1'`).Scan(&name))
	assert.Equal(t, "a", name)
}

func TestSync_DeleteReconciliation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "2")

	table := &source.FakeTable{
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: "INT", Key: "PRI"},
			{Name: "name", Type: "VARCHAR", MaxLength: intp(10)},
		},
		PKColumns: []string{"id"},
		Rows: []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("2"), "name": strp("b")},
			{"id": strp("3"), "name": strp("c")},
		},
	}
	h.fake.Tables[schema.Table{Schema: "s", Name: "t"}] = table

	row := catalog.Row{
		SchemaName: "s", TableName: "t", DBEngine: catalog.EnginePostgreSQL,
		ConnectionString: "fake", Status: catalog.StatusFullLoad,
		PKStrategy: pkstrategy.PK, PKColumns: []string{"id"}, HasPK: true,
	}
	require.NoError(t, h.catalog.Upsert(ctx, row))
	require.NoError(t, h.sync.Sync(ctx, row))

	table.Rows = table.Rows[1:] // delete row 1 from the source

	row, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	require.NoError(t, h.sync.Sync(ctx, row))

	var n int
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT count(*) FROM "s"."t"`).Scan(&n))
	assert.Equal(t, 2, n)
	var exists bool
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT exists(SELECT 1 FROM "s"."t" WHERE id = '1')`).Scan(&exists))
	assert.False(t, exists)

	got, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusListeningChanges, got.Status)
}

func TestSync_Reset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "2")

	h.fake.Tables[schema.Table{Schema: "s", Name: "t"}] = &source.FakeTable{
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: "INT", Key: "PRI"},
			{Name: "name", Type: "VARCHAR", MaxLength: intp(10)},
		},
		PKColumns: []string{"id"},
		Rows: []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("2"), "name": strp("b")},
		},
	}

	row := catalog.Row{
		SchemaName: "s", TableName: "t", DBEngine: catalog.EnginePostgreSQL,
		ConnectionString: "fake", Status: catalog.StatusFullLoad,
		PKStrategy: pkstrategy.PK, PKColumns: []string{"id"}, HasPK: true,
	}
	require.NoError(t, h.catalog.Upsert(ctx, row))
	require.NoError(t, h.sync.Sync(ctx, row))

	row, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	row.Status = catalog.StatusReset
	require.NoError(t, h.catalog.Upsert(ctx, row))

	require.NoError(t, h.sync.Sync(ctx, row))

	got, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusListeningChanges, got.Status)
	require.NotNil(t, got.LastProcessedPK)
	assert.Equal(t, "2", *got.LastProcessedPK)

	var n int
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT count(*) FROM "s"."t"`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSync_SchemaDrift_DropsAndResetsToFullLoad(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "2")

	table := &source.FakeTable{
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: "INT", Key: "PRI"},
			{Name: "name", Type: "VARCHAR", MaxLength: intp(10)},
		},
		PKColumns: []string{"id"},
		Rows: []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("2"), "name": strp("b")},
		},
	}
	h.fake.Tables[schema.Table{Schema: "s", Name: "t"}] = table

	row := catalog.Row{
		SchemaName: "s", TableName: "t", DBEngine: catalog.EnginePostgreSQL,
		ConnectionString: "fake", Status: catalog.StatusFullLoad,
		PKStrategy: pkstrategy.PK, PKColumns: []string{"id"}, HasPK: true,
	}
	require.NoError(t, h.catalog.Upsert(ctx, row))
	require.NoError(t, h.sync.Sync(ctx, row))

	row, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	require.Equal(t, catalog.StatusListeningChanges, row.Status)
	require.NotNil(t, row.LastProcessedPK)

	// The source drops "name" and gains "extra" — a column set change
	// the catalog's cached metadata never sees until the next cycle.
	table.Columns = []schema.ColumnDescriptor{
		{Name: "id", Type: "INT", Key: "PRI"},
		{Name: "extra", Type: "VARCHAR", MaxLength: intp(10)},
	}
	table.Rows = []source.Row{
		{"id": strp("1"), "extra": strp("x")},
		{"id": strp("2"), "extra": strp("y")},
		{"id": strp("3"), "extra": strp("z")},
	}

	require.NoError(t, h.sync.Sync(ctx, row))

	got, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusListeningChanges, got.Status)

	var extraCount int
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT count(*) FROM "s"."t" WHERE extra IS NOT NULL`).Scan(&extraCount))
	assert.Equal(t, 3, extraCount)
}

func TestSync_OffsetStrategy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "2")

	h.fake.Tables[schema.Table{Schema: "s", Name: "u"}] = &source.FakeTable{
		Columns: []schema.ColumnDescriptor{
			{Name: "name", Type: "VARCHAR", MaxLength: intp(10)},
		},
		Rows: []source.Row{
			{"name": strp("a")},
			{"name": strp("b")},
			{"name": strp("c")},
			{"name": strp("d")},
			{"name": strp("e")},
		},
	}

	row := catalog.Row{
		SchemaName: "s", TableName: "u", DBEngine: catalog.EnginePostgreSQL,
		ConnectionString: "fake", Status: catalog.StatusFullLoad,
		PKStrategy: pkstrategy.Offset, HasPK: false,
	}
	require.NoError(t, h.catalog.Upsert(ctx, row))

	require.NoError(t, h.sync.Sync(ctx, row))

	got, err := h.catalog.Get(ctx, row.Key())
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusListeningChanges, got.Status)
	require.NotNil(t, got.LastOffset)
	assert.Equal(t, int64(5), *got.LastOffset)

	var n int
	require.NoError(t, h.raw.QueryRowContext(ctx, `SELECT count(*) FROM "s"."u"`).Scan(&n))
	assert.Equal(t, 5, n)
}

func intp(n int) *int { return &n }
