// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"fmt"

	"github.com/tgberrios/datasync/pkg/schema"
)

// FakeHandle is the Handle returned by Fake.Open.
type FakeHandle struct{ closed bool }

func (h *FakeHandle) Close() error {
	h.closed = true
	return nil
}

// Fake is an in-memory Adapter double for unit-testing tablesync and
// catalogsync without a real vendor driver or testcontainer. Tests seed
// Fake.Tables directly and drive ReadChunk/ExistsInSource against it.
type Fake struct {
	Tables map[schema.Table]*FakeTable

	// OpenErr, when set, is returned by Open instead of a handle.
	OpenErr error
	// ListTablesErr, when set, is returned by ListTables.
	ListTablesErr error
}

// FakeTable is one table's rows, columns and PK/candidate metadata.
type FakeTable struct {
	Columns          []ColumnInfo
	PKColumns        []string
	CandidateColumns []string
	TimeColumn       string
	Rows             []Row // in cursor order
}

func NewFake() *Fake {
	return &Fake{Tables: make(map[schema.Table]*FakeTable)}
}

func (f *Fake) Open(ctx context.Context, connString string) (Handle, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	return &FakeHandle{}, nil
}

func (f *Fake) ListTables(ctx context.Context, h Handle) ([]schema.Table, error) {
	if f.ListTablesErr != nil {
		return nil, f.ListTablesErr
	}
	out := make([]schema.Table, 0, len(f.Tables))
	for t := range f.Tables {
		out = append(out, t)
	}
	return out, nil
}

func (f *Fake) DescribeColumns(ctx context.Context, h Handle, schemaName, table string) ([]ColumnInfo, error) {
	t, ok := f.Tables[schema.Table{Schema: schemaName, Name: table}]
	if !ok {
		return nil, fmt.Errorf("fake: unknown table %s.%s", schemaName, table)
	}
	return t.Columns, nil
}

func (f *Fake) DetectPK(ctx context.Context, h Handle, schemaName, table string) ([]string, error) {
	t, ok := f.Tables[schema.Table{Schema: schemaName, Name: table}]
	if !ok {
		return nil, fmt.Errorf("fake: unknown table %s.%s", schemaName, table)
	}
	return t.PKColumns, nil
}

func (f *Fake) DetectTimeColumn(ctx context.Context, h Handle, schemaName, table string) (string, error) {
	t, ok := f.Tables[schema.Table{Schema: schemaName, Name: table}]
	if !ok {
		return "", fmt.Errorf("fake: unknown table %s.%s", schemaName, table)
	}
	return t.TimeColumn, nil
}

func (f *Fake) Count(ctx context.Context, h Handle, schemaName, table string) (int64, error) {
	t, ok := f.Tables[schema.Table{Schema: schemaName, Name: table}]
	if !ok {
		return 0, fmt.Errorf("fake: unknown table %s.%s", schemaName, table)
	}
	return int64(len(t.Rows)), nil
}

// ReadChunk paginates Rows by simple index math driven by the cursor's
// strategy — it trusts the caller to have positioned Offset/PKValue/
// TemporalValue consistently with prior calls, exactly as a real database
// cursor would be trusted to.
func (f *Fake) ReadChunk(ctx context.Context, h Handle, schemaName, table string, cursor Cursor, chunkSize int, pkColumns, candidateColumns []string) (Chunk, error) {
	t, ok := f.Tables[schema.Table{Schema: schemaName, Name: table}]
	if !ok {
		return Chunk{}, fmt.Errorf("fake: unknown table %s.%s", schemaName, table)
	}

	colTypes := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		colTypes[c.Name] = c.Type
	}

	start := 0
	switch cursor.Strategy {
	case "PK", "TEMPORAL_PK":
		cursorCol := ""
		if len(pkColumns) > 0 {
			cursorCol = pkColumns[0]
		} else if len(candidateColumns) > 0 {
			cursorCol = candidateColumns[0]
		}
		last := cursor.PKValue
		if cursor.Strategy == "TEMPORAL_PK" {
			last = cursor.TemporalValue
		}
		if last != nil {
			for i, r := range t.Rows {
				if v := r[cursorCol]; v != nil && *v == *last {
					start = i + 1
					break
				}
			}
		}
	default: // OFFSET
		start = int(cursor.Offset)
	}

	end := start + chunkSize
	if end > len(t.Rows) {
		end = len(t.Rows)
	}
	if start > len(t.Rows) {
		start = len(t.Rows)
	}
	page := t.Rows[start:end]

	next := cursor
	if len(page) > 0 {
		last := page[len(page)-1]
		switch cursor.Strategy {
		case "PK":
			if len(pkColumns) > 0 {
				next.PKValue = last[pkColumns[0]]
			}
		case "TEMPORAL_PK":
			if len(candidateColumns) > 0 {
				next.TemporalValue = last[candidateColumns[0]]
			}
		default:
			next.Offset = int64(end)
		}
	}

	return Chunk{Rows: page, NextCursor: next, ColumnTypes: colTypes}, nil
}

func (f *Fake) ExistsInSource(ctx context.Context, h Handle, schemaName, table string, pkColumn string, pkValues []string) (map[string]bool, error) {
	t, ok := f.Tables[schema.Table{Schema: schemaName, Name: table}]
	if !ok {
		return nil, fmt.Errorf("fake: unknown table %s.%s", schemaName, table)
	}

	present := make(map[string]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		if v := r[pkColumn]; v != nil {
			present[*v] = struct{}{}
		}
	}

	out := make(map[string]bool, len(pkValues))
	for _, v := range pkValues {
		_, ok := present[v]
		out[v] = ok
	}
	return out, nil
}
