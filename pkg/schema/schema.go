// SPDX-License-Identifier: Apache-2.0

// Package schema describes the shape of a source table as reported by a
// Source Adapter, and the column specification a Target Writer uses to
// create its mirror in PostgreSQL. It intentionally carries none of a
// migration engine's diffing machinery — adapters and synchronizers only
// ever need a snapshot of "what does this table look like right now".
package schema

import "fmt"

// Table identifies a table in a source, scoped to its schema (or, for
// MongoDB, its database).
type Table struct {
	Schema string
	Name   string
}

// String renders the qualified name used in log messages and catalog keys.
func (t Table) String() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// ColumnDescriptor is a source column as reported by describe_columns:
// ordinal-position order, vendor-native type text, and the metadata needed
// both to classify it (pkstrategy, normalize) and to map it to a
// PostgreSQL column (target.typemap).
type ColumnDescriptor struct {
	Name   string
	Type   string
	Key    string // vendor-native key marker, e.g. "PRI", "UNI"; "" if none
	Extra  string // vendor-native extra marker, e.g. "auto_increment"
	MaxLength         *int
	NumericPrecision  *int
	NumericScale      *int
	Nullable          bool
}

// IsPrimaryKey reports whether the source marked this column as (part of)
// the table's primary key.
func (c ColumnDescriptor) IsPrimaryKey() bool {
	return c.Key == "PRI"
}

// ColumnSpec is a column ready to be rendered into a CREATE TABLE
// statement by the Target Writer: a lowercase name and the PostgreSQL type
// it was mapped to. No NOT NULL or DEFAULT clause is ever attached — every
// mirrored column is nullable, to tolerate whatever normalize.Normalize
// does with dirty source data.
type ColumnSpec struct {
	Name   string
	PGType string
}
