// SPDX-License-Identifier: Apache-2.0

package pgsource_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/source"
	"github.com/tgberrios/datasync/pkg/source/pgsource"
	"github.com/tgberrios/datasync/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestAdapter_DiscoveryAndReadChunk(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(raw *sql.DB, connStr string) {
		ctx := context.Background()

		_, err := raw.ExecContext(ctx, `
			CREATE TABLE customers (
				id BIGINT PRIMARY KEY,
				name TEXT NOT NULL
			)`)
		require.NoError(t, err)
		_, err = raw.ExecContext(ctx, `INSERT INTO customers (id, name) VALUES (1, 'alice'), (2, 'bob'), (3, 'carol')`)
		require.NoError(t, err)

		a := pgsource.New()
		h, err := a.Open(ctx, connStr)
		require.NoError(t, err)
		defer h.Close()

		tables, err := a.ListTables(ctx, h)
		require.NoError(t, err)
		found := false
		for _, tbl := range tables {
			if tbl.Schema == "public" && tbl.Name == "customers" {
				found = true
			}
		}
		assert.True(t, found, "expected customers table to be listed")

		pk, err := a.DetectPK(ctx, h, "public", "customers")
		require.NoError(t, err)
		assert.Equal(t, []string{"id"}, pk)

		cols, err := a.DescribeColumns(ctx, h, "public", "customers")
		require.NoError(t, err)
		require.Len(t, cols, 2)
		assert.Equal(t, "id", cols[0].Name)
		assert.True(t, cols[0].IsPrimaryKey())

		count, err := a.Count(ctx, h, "public", "customers")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		chunk, err := a.ReadChunk(ctx, h, "public", "customers", source.Cursor{Strategy: pkstrategy.PK}, 2, []string{"id"}, nil)
		require.NoError(t, err)
		require.Len(t, chunk.Rows, 2)
		assert.Equal(t, "1", *chunk.Rows[0]["id"])
		assert.Equal(t, "2", *chunk.Rows[1]["id"])
		require.NotNil(t, chunk.NextCursor.PKValue)
		assert.Equal(t, "2", *chunk.NextCursor.PKValue)

		next, err := a.ReadChunk(ctx, h, "public", "customers", chunk.NextCursor, 2, []string{"id"}, nil)
		require.NoError(t, err)
		require.Len(t, next.Rows, 1)
		assert.Equal(t, "3", *next.Rows[0]["id"])

		exists, err := a.ExistsInSource(ctx, h, "public", "customers", "id", []string{"1", "2", "99"})
		require.NoError(t, err)
		assert.True(t, exists["1"])
		assert.True(t, exists["2"])
		assert.False(t, exists["99"])
	})
}
