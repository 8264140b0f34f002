// SPDX-License-Identifier: Apache-2.0

// Package pgsource implements source.Adapter for PostgreSQL-to-PostgreSQL
// replication: a second lib/pq connection, independent of the Target
// Writer's, reusing pkg/db's retryable exec/query.
package pgsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/tgberrios/datasync/pkg/db"
	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
)

var systemSchemas = map[string]bool{
	"pg_catalog":         true,
	"information_schema": true,
	"pg_toast":           true,
}

// Handle wraps a retryable connection to one PostgreSQL source.
type Handle struct {
	conn *sql.DB
	rdb  db.DB
}

func (h *Handle) Close() error { return h.conn.Close() }

// Adapter is the PostgreSQL source.Adapter implementation.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

// Open establishes a session and sets the 600-second statement/lock
// timeouts spec.md §4.2 requires of every vendor adapter.
func (a *Adapter) Open(ctx context.Context, connString string) (source.Handle, error) {
	conn, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("pgsource: open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pgsource: ping: %w", err)
	}

	rdb := &db.RDB{DB: conn}
	if _, err := rdb.ExecContext(ctx, "SET statement_timeout = '600s'"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pgsource: set statement_timeout: %w", err)
	}
	if _, err := rdb.ExecContext(ctx, "SET lock_timeout = '600s'"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pgsource: set lock_timeout: %w", err)
	}

	return &Handle{conn: conn, rdb: rdb}, nil
}

func (a *Adapter) ListTables(ctx context.Context, h source.Handle) ([]schema.Table, error) {
	hh := h.(*Handle)
	rows, err := hh.rdb.QueryContext(ctx, `
		SELECT schemaname, tablename FROM pg_catalog.pg_tables
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY schemaname, tablename`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schema.Table
	for rows.Next() {
		var s, t string
		if err := rows.Scan(&s, &t); err != nil {
			return nil, err
		}
		if systemSchemas[s] {
			continue
		}
		out = append(out, schema.Table{Schema: s, Name: t})
	}
	return out, rows.Err()
}

func (a *Adapter) DescribeColumns(ctx context.Context, h source.Handle, schemaName, table string) ([]source.ColumnInfo, error) {
	hh := h.(*Handle)
	rows, err := hh.rdb.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			c.character_maximum_length,
			c.numeric_precision,
			c.numeric_scale,
			COALESCE(tc.constraint_type, '')
		FROM information_schema.columns c
		LEFT JOIN information_schema.key_column_usage kcu
			ON kcu.table_schema = c.table_schema AND kcu.table_name = c.table_name AND kcu.column_name = c.column_name
		LEFT JOIN information_schema.table_constraints tc
			ON tc.constraint_name = kcu.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []source.ColumnInfo
	for rows.Next() {
		var col source.ColumnInfo
		var constraintType string
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.MaxLength, &col.NumericPrecision, &col.NumericScale, &constraintType); err != nil {
			return nil, err
		}
		if constraintType == "PRIMARY KEY" {
			col.Key = "PRI"
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

func (a *Adapter) DetectPK(ctx context.Context, h source.Handle, schemaName, table string) ([]string, error) {
	hh := h.(*Handle)
	rows, err := hh.rdb.QueryContext(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = ($1 || '.' || $2)::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`, schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

var timeColumnPreference = []string{
	"updated_at", "modified_at", "last_modified", "updated_time",
	"created_at", "created_time", "timestamp",
}

func (a *Adapter) DetectTimeColumn(ctx context.Context, h source.Handle, schemaName, table string) (string, error) {
	cols, err := a.DescribeColumns(ctx, h, schemaName, table)
	if err != nil {
		return "", err
	}
	byName := make(map[string]bool, len(cols))
	for _, c := range cols {
		byName[strings.ToLower(c.Name)] = true
	}
	for _, want := range timeColumnPreference {
		if byName[want] {
			return want, nil
		}
	}
	for _, c := range cols {
		lower := strings.ToLower(c.Name)
		if strings.HasSuffix(lower, "_at") || strings.HasPrefix(lower, "fecha_") {
			return c.Name, nil
		}
	}
	return "", nil
}

func (a *Adapter) Count(ctx context.Context, h source.Handle, schemaName, table string) (int64, error) {
	hh := h.(*Handle)
	rows, err := hh.rdb.QueryContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s.%s",
		pq.QuoteIdentifier(schemaName), pq.QuoteIdentifier(table)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if err := db.ScanFirstValue(rows, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *Adapter) ReadChunk(ctx context.Context, h source.Handle, schemaName, table string, cursor source.Cursor, chunkSize int, pkColumns, candidateColumns []string) (source.Chunk, error) {
	hh := h.(*Handle)

	colInfos, err := a.DescribeColumns(ctx, h, schemaName, table)
	if err != nil {
		return source.Chunk{}, err
	}
	colNames := make([]string, len(colInfos))
	colTypes := make(map[string]string, len(colInfos))
	for i, c := range colInfos {
		colNames[i] = c.Name
		colTypes[c.Name] = c.Type
	}

	cursorCol, hasCursorCol := pkstrategy.CursorColumn(cursor.Strategy, pkColumns, candidateColumns)

	quotedCols := make([]string, len(colNames))
	for i, c := range colNames {
		quotedCols[i] = pq.QuoteIdentifier(c)
	}
	qualified := fmt.Sprintf("%s.%s", pq.QuoteIdentifier(schemaName), pq.QuoteIdentifier(table))

	var stmt string
	var args []any

	if hasCursorCol {
		last := cursor.PKValue
		if cursor.Strategy == pkstrategy.TemporalPK {
			last = cursor.TemporalValue
		}
		quotedCursor := pq.QuoteIdentifier(cursorCol)
		if last == nil {
			stmt = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC LIMIT $1",
				strings.Join(quotedCols, ", "), qualified, quotedCursor)
			args = []any{chunkSize}
		} else {
			stmt = fmt.Sprintf("SELECT %s FROM %s WHERE %s > $1 ORDER BY %s ASC LIMIT $2",
				strings.Join(quotedCols, ", "), qualified, quotedCursor, quotedCursor)
			args = []any{*last, chunkSize}
		}
	} else {
		orderCol := quotedCols[0]
		stmt = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC OFFSET $1 LIMIT $2",
			strings.Join(quotedCols, ", "), qualified, orderCol)
		args = []any{cursor.Offset, chunkSize}
	}

	rows, err := hh.rdb.QueryContext(ctx, stmt, args...)
	if err != nil {
		return source.Chunk{}, err
	}
	defer rows.Close()

	var result []source.Row
	scanDest := make([]any, len(colNames))
	scanBuf := make([]sql.NullString, len(colNames))
	for i := range scanBuf {
		scanDest[i] = &scanBuf[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return source.Chunk{}, err
		}
		r := make(source.Row, len(colNames))
		for i, name := range colNames {
			if scanBuf[i].Valid {
				v := scanBuf[i].String
				r[name] = &v
			} else {
				r[name] = nil
			}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return source.Chunk{}, err
	}

	next := cursor
	if len(result) > 0 {
		last := result[len(result)-1]
		switch {
		case hasCursorCol && cursor.Strategy == pkstrategy.PK:
			next.PKValue = last[cursorCol]
		case hasCursorCol && cursor.Strategy == pkstrategy.TemporalPK:
			next.TemporalValue = last[cursorCol]
		default:
			next.Offset = cursor.Offset + int64(len(result))
		}
	}

	return source.Chunk{Rows: result, NextCursor: next, ColumnTypes: colTypes}, nil
}

func (a *Adapter) ExistsInSource(ctx context.Context, h source.Handle, schemaName, table string, pkColumn string, pkValues []string) (map[string]bool, error) {
	hh := h.(*Handle)
	qualified := fmt.Sprintf("%s.%s", pq.QuoteIdentifier(schemaName), pq.QuoteIdentifier(table))
	quotedCol := pq.QuoteIdentifier(pkColumn)

	out := make(map[string]bool, len(pkValues))
	const subBatch = 500
	for start := 0; start < len(pkValues); start += subBatch {
		end := start + subBatch
		if end > len(pkValues) {
			end = len(pkValues)
		}
		batch := pkValues[start:end]

		args := make([]any, len(batch))
		placeholders := make([]string, len(batch))
		for i, v := range batch {
			args[i] = v
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}

		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s::text IN (%s)",
			quotedCol, qualified, quotedCol, strings.Join(placeholders, ", "))
		rows, err := hh.rdb.QueryContext(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}

		present := make(map[string]bool, len(batch))
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, err
			}
			present[v] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		for _, v := range batch {
			out[v] = present[v]
		}
	}
	return out, nil
}
