// SPDX-License-Identifier: Apache-2.0

// Package target is the PostgreSQL-facing half of the replication
// pipeline: it mirrors a discovered source table's shape into the target
// schema and applies every chunk a Source Adapter produces. It never
// reads from a source; it only ever receives already-normalized rows and
// writes them, idempotently, against PostgreSQL.
package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tgberrios/datasync/pkg/db"
	"github.com/tgberrios/datasync/pkg/schema"
	"github.com/tgberrios/datasync/pkg/synclog"
)

// statementTimeout is the per-transaction statement_timeout spec.md §4.3
// step 2 requires on every write transaction.
const statementTimeout = "600s"

// Writer is the Target Writer: schema/table DDL, truncate, bulk
// insert/upsert/delete and the narrow row-level reads tablesync's
// incremental and delete-reconciliation branches need. It shares its
// connection with catalog.Store — both address the same target
// PostgreSQL instance, and every statement here already quotes its own
// fully-qualified identifiers, so there's nothing gained from a separate
// connection pool.
type Writer struct {
	conn db.DB
	log  synclog.Logger
}

// New returns a Writer backed by conn.
func New(conn db.DB, log synclog.Logger) *Writer {
	if log == nil {
		log = synclog.NewNoop()
	}
	return &Writer{conn: conn, log: log}
}

func quoteIdent(s string) string {
	return pq.QuoteIdentifier(strings.ToLower(s))
}

func qualifiedTable(lowerSchema, table string) string {
	return quoteIdent(lowerSchema) + "." + quoteIdent(table)
}

// EnsureSchema creates lowerSchema if it doesn't already exist.
func (w *Writer) EnsureSchema(ctx context.Context, lowerSchema string) error {
	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(lowerSchema))
	_, err := w.conn.ExecContext(ctx, query)
	return err
}

// EnsureTable creates (lowerSchema, table) if it doesn't already exist,
// with one nullable column per spec — no NOT NULL constraint is ever
// emitted, since the source is trusted to hold data PostgreSQL's own
// constraints were never asked to validate. A PRIMARY KEY clause is only
// attached when pkColumns is non-empty. Column and PK names are
// lowercased, matching this system's identifier-casing convention.
// Running this twice with the same inputs is a no-op — IF NOT EXISTS
// makes the statement itself idempotent, and this function adds no
// migration logic on top of it: a column set that changed since the last
// run is spec.md §7's schema error, and tablesync.Sync detects it (via
// ActualColumns, before calling this) and drops the table through
// DropTable rather than asking EnsureTable to alter it in place.
func (w *Writer) EnsureTable(ctx context.Context, lowerSchema, table string, columns []schema.ColumnSpec, pkColumns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("target: EnsureTable requires at least one column for %s.%s", lowerSchema, table)
	}

	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c.Name), c.PGType))
	}
	if len(pkColumns) > 0 {
		quoted := make([]string, len(pkColumns))
		for i, c := range pkColumns {
			quoted[i] = quoteIdent(c)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", qualifiedTable(lowerSchema, table), strings.Join(defs, ",\n\t"))
	_, err := w.conn.ExecContext(ctx, query)
	return err
}

// ActualColumns returns the lowercased column names currently defined on
// the mirrored table, in ordinal position, or nil if the table doesn't
// exist yet. tablesync.Sync compares this against the source's freshly
// described columns to detect the schema drift spec.md §7 calls a
// full-reset condition.
func (w *Writer) ActualColumns(ctx context.Context, lowerSchema, table string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
	rows, err := w.conn.QueryContext(ctx, query, lowerSchema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// DropTable drops the mirrored table if it exists — the full-reset half
// of spec.md §7's schema-error recovery, paired with the caller zeroing
// the row's progress and moving it back to FULL_LOAD.
func (w *Writer) DropTable(ctx context.Context, lowerSchema, table string) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", qualifiedTable(lowerSchema, table))
	_, err := w.conn.ExecContext(ctx, query)
	return err
}

// Truncate empties a mirrored table, cascading to anything referencing
// it. Per spec.md §9's open question on FK-dependent cascading: this
// system's target tables are exclusively machine-managed mirrors, so an
// operator-added FK onto one is already outside the contract this writer
// promises to honor — cascading matches every source vendor's own
// TRUNCATE behavior and keeps a RESET from failing part-way through.
func (w *Writer) Truncate(ctx context.Context, lowerSchema, table string) error {
	query := fmt.Sprintf("TRUNCATE %s CASCADE", qualifiedTable(lowerSchema, table))
	_, err := w.conn.ExecContext(ctx, query)
	return err
}

// Count returns the current row count of the mirrored table. A
// not-yet-created table counts as zero rows rather than an error — the
// first cycle for any table sees an empty target before EnsureTable's
// caller has even run once in some code paths (e.g. a catalog row seeded
// by hand ahead of its first sync).
func (w *Writer) Count(ctx context.Context, lowerSchema, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", qualifiedTable(lowerSchema, table))
	rows, err := w.conn.QueryContext(ctx, query)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, err
	}
	defer rows.Close()

	var n int64
	if err := db.ScanFirstValue(rows, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// MaxTimeColumn returns MAX(column) of the mirrored table, or nil when
// the column doesn't exist on the target or the table is empty — both
// cases tablesync.persistProgress treats as "fall back to NOW()".
func (w *Writer) MaxTimeColumn(ctx context.Context, lowerSchema, table, column string) (*time.Time, error) {
	if column == "" {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", quoteIdent(column), qualifiedTable(lowerSchema, table))
	rows, err := w.conn.QueryContext(ctx, query)
	if err != nil {
		if isUndefinedColumn(err) || isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var t sql.NullTime
	if err := db.ScanFirstValue(rows, &t); err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// ReadRow fetches one row of the mirrored table by its PK tuple, for the
// incremental branch's column-by-column comparison. found is false when
// no row matches — the caller treats that as "not yet inserted, the bulk
// branch's job".
func (w *Writer) ReadRow(ctx context.Context, lowerSchema, table string, columns, pkColumns, pkValues []string) (map[string]*string, bool, error) {
	if len(pkColumns) == 0 || len(pkColumns) != len(pkValues) {
		return nil, false, fmt.Errorf("target: ReadRow requires matching, non-empty pk columns/values for %s.%s", lowerSchema, table)
	}

	selectCols := make([]string, len(columns))
	for i, c := range columns {
		selectCols[i] = quoteIdent(c)
	}

	where, args := pkWhereClause(pkColumns, pkValues, 1)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(selectCols, ", "), qualifiedTable(lowerSchema, table), where)

	rows, err := w.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}

	scanned, err := scanIntoMap(rows, columns)
	if err != nil {
		return nil, false, err
	}
	return scanned, true, nil
}

// UpdateRow issues an UPDATE for exactly the columns in sets, which are
// already-rendered SQL value text (a quoted literal, "NULL" or
// "DEFAULT" — normalize.Result's own vocabulary) keyed by lowercased
// column name. The WHERE clause matches the PK tuple via bound
// parameters.
func (w *Writer) UpdateRow(ctx context.Context, lowerSchema, table string, pkColumns, pkValues []string, sets map[string]string) error {
	if len(sets) == 0 {
		return nil
	}
	if len(pkColumns) == 0 || len(pkColumns) != len(pkValues) {
		return fmt.Errorf("target: UpdateRow requires matching, non-empty pk columns/values for %s.%s", lowerSchema, table)
	}

	assignments := make([]string, 0, len(sets))
	for col, val := range sets {
		assignments = append(assignments, fmt.Sprintf("%s = %s", quoteIdent(col), val))
	}

	where, args := pkWhereClause(pkColumns, pkValues, 1)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", qualifiedTable(lowerSchema, table), strings.Join(assignments, ", "), where)

	return w.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = '%s'", statementTimeout)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// ReadPKPage pages through the mirrored table's PK columns, ordered by
// them, for delete-reconciliation's target-side enumeration. A page
// shorter than limit tells the caller it has reached the end.
func (w *Writer) ReadPKPage(ctx context.Context, lowerSchema, table string, pkColumns []string, limit, offset int) ([]map[string]*string, error) {
	if len(pkColumns) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		quoted[i] = quoteIdent(c)
	}
	cols := strings.Join(quoted, ", ")

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT $1 OFFSET $2", cols, qualifiedTable(lowerSchema, table), cols)
	rows, err := w.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var page []map[string]*string
	for rows.Next() {
		r, err := scanIntoMap(rows, pkColumns)
		if err != nil {
			return nil, err
		}
		page = append(page, r)
	}
	return page, rows.Err()
}

// pkWhereClause builds a parameterized "col1 = $n AND col2 = $n+1 ..."
// clause starting at paramOffset, and the arg slice to pass alongside it.
func pkWhereClause(pkColumns, pkValues []string, paramOffset int) (string, []any) {
	clauses := make([]string, len(pkColumns))
	args := make([]any, len(pkColumns))
	for i, c := range pkColumns {
		clauses[i] = fmt.Sprintf("%s = $%d", quoteIdent(c), paramOffset+i)
		args[i] = pkValues[i]
	}
	return strings.Join(clauses, " AND "), args
}

// scanIntoMap scans the current row of rows into a map keyed by cols,
// preserving SQL NULL as a nil *string.
func scanIntoMap(rows *sql.Rows, cols []string) (map[string]*string, error) {
	dest := make([]any, len(cols))
	vals := make([]sql.NullString, len(cols))
	for i := range dest {
		dest[i] = &vals[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	out := make(map[string]*string, len(cols))
	for i, c := range cols {
		if vals[i].Valid {
			v := vals[i].String
			out[c] = &v
		} else {
			out[c] = nil
		}
	}
	return out, nil
}
