// SPDX-License-Identifier: Apache-2.0

// Package mssql implements source.Adapter for Microsoft SQL Server,
// querying sys.tables/sys.columns/sys.key_constraints directly rather
// than going through a tool-calling wrapper.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/cloudflare/backoff"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
)

var systemSchemas = map[string]bool{
	"sys":                true,
	"information_schema": true,
	"guest":               true,
}

var systemNamePrefixes = []string{"spt_", "ms", "sp_", "fn_", "xp_", "dt_"}

const maxChunkRetries = 3

var retryBackoff = struct {
	max, interval time.Duration
}{max: 30 * time.Second, interval: 500 * time.Millisecond}

// Handle wraps an open MSSQL connection.
type Handle struct {
	conn *sql.DB
}

func (h *Handle) Close() error { return h.conn.Close() }

// Adapter is the MSSQL source.Adapter implementation.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Open(ctx context.Context, connString string) (source.Handle, error) {
	conn, err := sql.Open("sqlserver", connString)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "SET LOCK_TIMEOUT 600000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mssql: set lock_timeout: %w", err)
	}

	return &Handle{conn: conn}, nil
}

func isSystemTableName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range systemNamePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// DetectHostname implements source.HostnameDetector using SERVERPROPERTY,
// per spec.md §4.7.
func (a *Adapter) DetectHostname(ctx context.Context, h source.Handle) (string, error) {
	hh := h.(*Handle)
	var hostname string
	if err := hh.conn.QueryRowContext(ctx, "SELECT CAST(SERVERPROPERTY('MachineName') AS NVARCHAR(128))").Scan(&hostname); err != nil {
		return "", err
	}
	return hostname, nil
}

func (a *Adapter) ListTables(ctx context.Context, h source.Handle) ([]schema.Table, error) {
	hh := h.(*Handle)
	rows, err := hh.conn.QueryContext(ctx, `
		SELECT s.name AS schema_name, t.name AS table_name
		FROM sys.tables t
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		ORDER BY s.name, t.name`)
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
		if systemSchemas[strings.ToLower(s)] || isSystemTableName(t) {
			continue
		}
		out = append(out, schema.Table{Schema: s, Name: t})
	}
	return out, rows.Err()
}

func (a *Adapter) DescribeColumns(ctx context.Context, h source.Handle, schemaName, table string) ([]source.ColumnInfo, error) {
	hh := h.(*Handle)
	rows, err := hh.conn.QueryContext(ctx, `
		SELECT
			c.name,
			ty.name,
			c.is_nullable,
			CASE WHEN pk.column_id IS NOT NULL THEN 'PRI' ELSE '' END,
			CASE WHEN c.is_identity = 1 THEN 'auto_increment' ELSE '' END,
			NULLIF(c.max_length, -1),
			c.precision,
			c.scale
		FROM sys.columns c
		JOIN sys.tables t ON c.object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		JOIN sys.types ty ON c.user_type_id = ty.user_type_id
		LEFT JOIN (
			SELECT ic.object_id, ic.column_id
			FROM sys.index_columns ic
			JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
			WHERE i.is_primary_key = 1
		) pk ON pk.object_id = c.object_id AND pk.column_id = c.column_id
		WHERE s.name = @p1 AND t.name = @p2
		ORDER BY c.column_id`, schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []source.ColumnInfo
	for rows.Next() {
		var col source.ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Key, &col.Extra,
			&col.MaxLength, &col.NumericPrecision, &col.NumericScale); err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

func (a *Adapter) DetectPK(ctx context.Context, h source.Handle, schemaName, table string) ([]string, error) {
	hh := h.(*Handle)
	rows, err := hh.conn.QueryContext(ctx, `
		SELECT c.name
		FROM sys.key_constraints kc
		JOIN sys.tables t ON kc.parent_object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		JOIN sys.index_columns ic ON ic.object_id = kc.parent_object_id AND ic.index_id = kc.unique_index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE kc.type = 'PK' AND s.name = @p1 AND t.name = @p2
		ORDER BY ic.key_ordinal`, schemaName, table)
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
	stmt := fmt.Sprintf("SELECT count(*) FROM %s", qualify(schemaName, table))
	var n int64
	if err := hh.conn.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *Adapter) ReadChunk(ctx context.Context, h source.Handle, schemaName, table string, cursor source.Cursor, chunkSize int, pkColumns, candidateColumns []string) (source.Chunk, error) {
	var chunk source.Chunk
	var err error

	b := backoff.New(retryBackoff.max, retryBackoff.interval)
	for attempt := 0; attempt < maxChunkRetries; attempt++ {
		chunk, err = a.readChunkOnce(ctx, h, schemaName, table, cursor, chunkSize, pkColumns, candidateColumns)
		if err == nil {
			return chunk, nil
		}
		if attempt < maxChunkRetries-1 {
			if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
				return source.Chunk{}, sleepErr
			}
		}
	}
	return source.Chunk{}, err
}

func (a *Adapter) readChunkOnce(ctx context.Context, h source.Handle, schemaName, table string, cursor source.Cursor, chunkSize int, pkColumns, candidateColumns []string) (source.Chunk, error) {
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
	selectList := quoteJoin(colNames)
	qualified := qualify(schemaName, table)

	var stmt string
	var args []any

	if hasCursorCol {
		last := cursor.PKValue
		if cursor.Strategy == pkstrategy.TemporalPK {
			last = cursor.TemporalValue
		}
		quotedCursor := "[" + cursorCol + "]"
		if last == nil {
			stmt = fmt.Sprintf("SELECT TOP (@p1) %s FROM %s ORDER BY %s ASC", selectList, qualified, quotedCursor)
			args = []any{chunkSize}
		} else {
			stmt = fmt.Sprintf("SELECT TOP (@p2) %s FROM %s WHERE %s > @p1 ORDER BY %s ASC", selectList, qualified, quotedCursor, quotedCursor)
			args = []any{*last, chunkSize}
		}
	} else {
		orderCol := "[" + colNames[0] + "]"
		stmt = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY", selectList, qualified, orderCol)
		args = []any{cursor.Offset, chunkSize}
	}

	rows, err := hh.conn.QueryContext(ctx, stmt, args...)
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
	qualified := qualify(schemaName, table)
	quotedCol := "[" + pkColumn + "]"

	out := make(map[string]bool, len(pkValues))
	const subBatch = 500
	for start := 0; start < len(pkValues); start += subBatch {
		end := start + subBatch
		if end > len(pkValues) {
			end = len(pkValues)
		}
		batch := pkValues[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for i, v := range batch {
			placeholders[i] = fmt.Sprintf("@p%d", i+1)
			args[i] = v
		}

		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", quotedCol, qualified, quotedCol, strings.Join(placeholders, ", "))
		rows, err := hh.conn.QueryContext(ctx, stmt, args...)
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

func qualify(schemaName, table string) string {
	return "[" + schemaName + "].[" + table + "]"
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "[" + n + "]"
	}
	return strings.Join(quoted, ", ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
