// SPDX-License-Identifier: Apache-2.0

package target_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgberrios/datasync/pkg/db"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
	"github.com/tgberrios/datasync/pkg/synclog"
	"github.com/tgberrios/datasync/pkg/target"
	"github.com/tgberrios/datasync/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func newWriter(raw *sql.DB) *target.Writer {
	return target.New(&db.RDB{DB: raw}, synclog.NewNoop())
}

func TestWriter_EnsureTable_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)

		require.NoError(t, w.EnsureSchema(ctx, "s"))

		cols := []schema.ColumnSpec{
			{Name: "id", PGType: "INTEGER"},
			{Name: "name", PGType: "VARCHAR(10)"},
		}
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, []string{"id"}))
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, []string{"id"}))

		n, err := w.Count(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestWriter_Count_UndefinedTableIsZero(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)
		n, err := w.Count(ctx, "s", "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestWriter_BulkUpsert_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)
		require.NoError(t, w.EnsureSchema(ctx, "s"))
		cols := []schema.ColumnSpec{
			{Name: "id", PGType: "INTEGER"},
			{Name: "name", PGType: "VARCHAR(10)"},
		}
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, []string{"id"}))

		columnTypes := map[string]string{"id": "INT", "name": "VARCHAR"}
		rows := []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("2"), "name": strp("b")},
		}

		n, err := w.BulkUpsert(ctx, "s", "t", []string{"id", "name"}, rows, columnTypes, 500)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		count, err := w.Count(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		updated := []source.Row{
			{"id": strp("1"), "name": strp("updated")},
			{"id": strp("2"), "name": strp("b")},
		}
		_, err = w.BulkUpsert(ctx, "s", "t", []string{"id", "name"}, updated, columnTypes, 500)
		require.NoError(t, err)

		count, err = w.Count(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		row, found, err := w.ReadRow(ctx, "s", "t", []string{"id", "name"}, []string{"id"}, []string{"1"})
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, row["name"])
		assert.Equal(t, "updated", *row["name"])
	})
}

func TestWriter_BulkUpsert_FallsBackToInsertWithoutPK(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)
		require.NoError(t, w.EnsureSchema(ctx, "s"))
		cols := []schema.ColumnSpec{
			{Name: "id", PGType: "INTEGER"},
			{Name: "name", PGType: "VARCHAR(10)"},
		}
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, nil))

		columnTypes := map[string]string{"id": "INT", "name": "VARCHAR"}
		rows := []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("1"), "name": strp("a")},
		}

		n, err := w.BulkUpsert(ctx, "s", "t", []string{"id", "name"}, rows, columnTypes, 500)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		count, err := w.Count(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})
}

func TestWriter_BulkDelete(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)
		require.NoError(t, w.EnsureSchema(ctx, "s"))
		cols := []schema.ColumnSpec{
			{Name: "id", PGType: "INTEGER"},
			{Name: "name", PGType: "VARCHAR(10)"},
		}
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, []string{"id"}))

		columnTypes := map[string]string{"id": "INT", "name": "VARCHAR"}
		rows := []source.Row{
			{"id": strp("1"), "name": strp("a")},
			{"id": strp("2"), "name": strp("b")},
			{"id": strp("3"), "name": strp("c")},
		}
		_, err := w.BulkUpsert(ctx, "s", "t", []string{"id", "name"}, rows, columnTypes, 500)
		require.NoError(t, err)

		n, err := w.BulkDelete(ctx, "s", "t", []string{"id"}, [][]*string{{strp("2")}}, columnTypes, 500)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err := w.Count(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		_, found, err := w.ReadRow(ctx, "s", "t", []string{"id", "name"}, []string{"id"}, []string{"2"})
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestWriter_ReadPKPage(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)
		require.NoError(t, w.EnsureSchema(ctx, "s"))
		cols := []schema.ColumnSpec{
			{Name: "id", PGType: "INTEGER"},
		}
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, []string{"id"}))

		columnTypes := map[string]string{"id": "INT"}
		rows := []source.Row{
			{"id": strp("1")},
			{"id": strp("2")},
			{"id": strp("3")},
		}
		_, err := w.BulkUpsert(ctx, "s", "t", []string{"id"}, rows, columnTypes, 500)
		require.NoError(t, err)

		page, err := w.ReadPKPage(ctx, "s", "t", []string{"id"}, 2, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "1", *page[0]["id"])
		assert.Equal(t, "2", *page[1]["id"])

		page, err = w.ReadPKPage(ctx, "s", "t", []string{"id"}, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "3", *page[0]["id"])
	})
}

func TestWriter_UpdateRow(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)
		require.NoError(t, w.EnsureSchema(ctx, "s"))
		cols := []schema.ColumnSpec{
			{Name: "id", PGType: "INTEGER"},
			{Name: "name", PGType: "VARCHAR(10)"},
		}
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, []string{"id"}))

		columnTypes := map[string]string{"id": "INT", "name": "VARCHAR"}
		rows := []source.Row{{"id": strp("1"), "name": strp("a")}}
		_, err := w.BulkUpsert(ctx, "s", "t", []string{"id", "name"}, rows, columnTypes, 500)
		require.NoError(t, err)

		err = w.UpdateRow(ctx, "s", "t", []string{"id"}, []string{"1"}, map[string]string{"name": "'z'"})
		require.NoError(t, err)

		row, found, err := w.ReadRow(ctx, "s", "t", []string{"id", "name"}, []string{"id"}, []string{"1"})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "z", *row["name"])
	})
}

func TestWriter_Truncate(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)
		require.NoError(t, w.EnsureSchema(ctx, "s"))
		cols := []schema.ColumnSpec{{Name: "id", PGType: "INTEGER"}}
		require.NoError(t, w.EnsureTable(ctx, "s", "t", cols, []string{"id"}))

		columnTypes := map[string]string{"id": "INT"}
		rows := []source.Row{{"id": strp("1")}, {"id": strp("2")}}
		_, err := w.BulkUpsert(ctx, "s", "t", []string{"id"}, rows, columnTypes, 500)
		require.NoError(t, err)

		require.NoError(t, w.Truncate(ctx, "s", "t"))

		n, err := w.Count(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestWriter_ActualColumnsAndDropTable(t *testing.T) {
	ctx := context.Background()
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, _ string) {
		w := newWriter(raw)

		cols, err := w.ActualColumns(ctx, "s", "t")
		require.NoError(t, err)
		assert.Empty(t, cols)

		require.NoError(t, w.EnsureSchema(ctx, "s"))
		require.NoError(t, w.EnsureTable(ctx, "s", "t", []schema.ColumnSpec{
			{Name: "id", PGType: "INTEGER"},
			{Name: "name", PGType: "VARCHAR(10)"},
		}, []string{"id"}))

		cols, err = w.ActualColumns(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, cols)

		require.NoError(t, w.DropTable(ctx, "s", "t"))

		cols, err = w.ActualColumns(ctx, "s", "t")
		require.NoError(t, err)
		assert.Empty(t, cols)

		n, err := w.Count(ctx, "s", "t")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func strp(s string) *string { return &s }
