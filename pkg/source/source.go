// SPDX-License-Identifier: Apache-2.0

// Package source defines the read-only capability set every vendor
// adapter (MariaDB, MSSQL, MongoDB, PostgreSQL) implements, and the
// transient types — Row, Chunk, Cursor — that flow from an adapter
// through the Value Normalizer into the Target Writer.
package source

import (
	"context"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/schema"
)

// Row is one source record: column name to raw cell text, nil meaning
// SQL NULL. Column order is not significant here — normalize.Normalize
// consumes a (value, declaredType) pair keyed by name.
type Row map[string]*string

// Cursor is the opaque pagination position read_chunk advances. Exactly
// one of its fields is meaningful, matching the strategy that produced it.
type Cursor struct {
	Strategy pkstrategy.Strategy

	// PKValue is the last row's first PK column value, as source-native
	// text. Meaningful when Strategy == pkstrategy.PK.
	PKValue *string

	// TemporalValue is the last row's value for the first candidate
	// column. Meaningful when Strategy == pkstrategy.TemporalPK.
	TemporalValue *string

	// Offset is the number of rows already consumed. Meaningful when
	// Strategy == pkstrategy.Offset.
	Offset int64
}

// Chunk is one page of rows read from a source table, plus the cursor to
// resume after it and the declared source type of every returned column
// (needed by the Value Normalizer, which has no schema access of its own).
type Chunk struct {
	Rows        []Row
	NextCursor  Cursor
	ColumnTypes map[string]string
}

// ColumnInfo mirrors spec.md's describe_columns contract: one row per
// source column, ordered by ordinal position.
type ColumnInfo = schema.ColumnDescriptor

// Handle is an open, vendor-specific session. Each adapter defines its own
// concrete handle; callers only ever see the capability-set methods below.
type Handle interface {
	Close() error
}

// Adapter is the capability set every source vendor implements. All
// operations are read-only; failure semantics are per-operation as
// described in spec.md §4.2 — a broken connection mid-chunk fails that
// chunk only, a failure to list tables fails catalog sync for that
// connection only.
type Adapter interface {
	// Open establishes a session against connString and sets the
	// vendor's wait/lock timeout to 600 seconds.
	Open(ctx context.Context, connString string) (Handle, error)

	// ListTables excludes system schemas/tables per vendor.
	ListTables(ctx context.Context, h Handle) ([]schema.Table, error)

	// DescribeColumns returns every column of (schemaName, table) in
	// ordinal-position order.
	DescribeColumns(ctx context.Context, h Handle, schemaName, table string) ([]ColumnInfo, error)

	// DetectPK returns the primary key's columns in key-ordinal order, or
	// nil if the table has none.
	DetectPK(ctx context.Context, h Handle, schemaName, table string) ([]string, error)

	// DetectTimeColumn returns the best candidate column for incremental
	// sync, or "" if none of the naming heuristics match.
	DetectTimeColumn(ctx context.Context, h Handle, schemaName, table string) (string, error)

	// Count returns the current row count of (schemaName, table).
	Count(ctx context.Context, h Handle, schemaName, table string) (int64, error)

	// ReadChunk returns up to chunkSize rows ordered by the cursor's
	// columns ascending, plus the cursor to resume after them.
	ReadChunk(ctx context.Context, h Handle, schemaName, table string, cursor Cursor, chunkSize int, pkColumns, candidateColumns []string) (Chunk, error)

	// ExistsInSource returns the subset of pkValues still present in the
	// source, used by delete reconciliation.
	ExistsInSource(ctx context.Context, h Handle, schemaName, table string, pkColumn string, pkValues []string) (map[string]bool, error)
}

// HostnameDetector is an optional capability: adapters that can ask the
// live server for its own hostname (MariaDB's @@hostname, MSSQL's
// SERVERPROPERTY('MachineName')) implement it so the Catalog Synchronizer
// can prefer it over parsing the connection string, per spec.md §4.7.
// Vendors without a server-reported hostname (Mongo, PostgreSQL) simply
// don't implement it, and callers fall back to connection-string parsing.
type HostnameDetector interface {
	DetectHostname(ctx context.Context, h Handle) (string, error)
}
