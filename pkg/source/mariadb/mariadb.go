// SPDX-License-Identifier: Apache-2.0

// Package mariadb implements source.Adapter for MariaDB and MySQL — the
// spec names the engine "MariaDB" but both share a wire protocol and the
// same go-sql-driver/mysql driver.
package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cloudflare/backoff"

	"github.com/tgberrios/datasync/pkg/pkstrategy"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/source"
)

var systemSchemas = map[string]bool{
	"information_schema": true,
	"mysql":              true,
	"performance_schema": true,
	"sys":                true,
}

// maxChunkRetries bounds the retry-on-dropped-connection loop read_chunk
// uses, per spec.md §4.2's "a broken connection mid-chunk fails that
// chunk only" — the caller sees an error once retries are exhausted
// rather than this adapter hanging forever.
const maxChunkRetries = 3

var retryBackoff = struct {
	max, interval time.Duration
}{max: 30 * time.Second, interval: 500 * time.Millisecond}

// Handle wraps an open MySQL/MariaDB connection.
type Handle struct {
	conn *sql.DB
}

func (h *Handle) Close() error { return h.conn.Close() }

// Adapter is the MariaDB/MySQL source.Adapter implementation.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Open(ctx context.Context, connString string) (source.Handle, error) {
	conn, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, fmt.Errorf("mariadb: open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mariadb: ping: %w", err)
	}

	// wait_timeout governs idle connection lifetime; lock_wait_timeout
	// governs DML lock waits. Both set to 600s per spec.md §4.2.
	if _, err := conn.ExecContext(ctx, "SET SESSION wait_timeout = 600, SESSION lock_wait_timeout = 600"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mariadb: set session timeouts: %w", err)
	}

	return &Handle{conn: conn}, nil
}

// DetectHostname implements source.HostnameDetector, satisfying spec.md
// §4.7's preference for the server's own reported hostname over parsing
// the connection string.
func (a *Adapter) DetectHostname(ctx context.Context, h source.Handle) (string, error) {
	hh := h.(*Handle)
	var hostname string
	if err := hh.conn.QueryRowContext(ctx, "SELECT @@hostname").Scan(&hostname); err != nil {
		return "", err
	}
	return hostname, nil
}

func (a *Adapter) ListTables(ctx context.Context, h source.Handle) ([]schema.Table, error) {
	hh := h.(*Handle)
	rows, err := hh.conn.QueryContext(ctx, `
		SELECT table_schema, table_name FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		ORDER BY table_schema, table_name`)
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
		if systemSchemas[strings.ToLower(s)] {
			continue
		}
		out = append(out, schema.Table{Schema: s, Name: t})
	}
	return out, rows.Err()
}

func (a *Adapter) DescribeColumns(ctx context.Context, h source.Handle, schemaName, table string) ([]source.ColumnInfo, error) {
	hh := h.(*Handle)
	rows, err := hh.conn.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES', column_key, extra,
		       character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schemaName, table)
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
		SELECT column_name FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`, schemaName, table)
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
		quotedCursor := "`" + cursorCol + "`"
		if last == nil {
			stmt = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC LIMIT ?", selectList, qualified, quotedCursor)
			args = []any{chunkSize}
		} else {
			stmt = fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s ASC LIMIT ?", selectList, qualified, quotedCursor, quotedCursor)
			args = []any{*last, chunkSize}
		}
	} else {
		stmt = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?", selectList, qualified, "`"+colNames[0]+"`")
		args = []any{chunkSize, cursor.Offset}
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
	quotedCol := "`" + pkColumn + "`"

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
			placeholders[i] = "?"
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
	return "`" + schemaName + "`.`" + table + "`"
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
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
