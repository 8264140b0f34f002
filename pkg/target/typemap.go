// SPDX-License-Identifier: Apache-2.0

package target

import (
	"fmt"
	"strconv"
	"strings"
)

// MapType implements spec.md §4.3's source-family → PostgreSQL type
// table: a pure function from a vendor-native declared type (plus the
// length/precision/scale describe_columns reported) to the PostgreSQL
// type EnsureTable renders into its CREATE TABLE statement. It never
// errors — an unrecognized source type falls back to TEXT, the same
// permissive stance normalize.Normalize takes with unrecognized cell
// data.
func MapType(declared string, maxLength, numericPrecision, numericScale *int) string {
	upper := strings.ToUpper(strings.TrimSpace(declared))
	name, args := splitArgs(upper)

	switch name {
	case "TINYINT", "SMALLINT", "INT2":
		return "SMALLINT"
	case "INT", "INT4", "INTEGER", "MEDIUMINT":
		return "INTEGER"
	case "BIGINT", "INT8", "BIGSERIAL", "SERIAL8", "IDENTITY":
		return "BIGINT"
	case "SERIAL", "SERIAL4":
		return "INTEGER"

	case "DECIMAL", "NUMERIC", "DEC":
		return numeric(numericPrecision, numericScale, args)
	case "MONEY":
		return "NUMERIC(19,4)"

	case "FLOAT", "REAL":
		return "REAL"
	case "DOUBLE", "DOUBLE PRECISION":
		return "DOUBLE PRECISION"

	case "CHAR", "NCHAR", "CHARACTER":
		return boundedOrUnbounded("CHAR", args, maxLength)
	case "VARCHAR", "NVARCHAR", "CHARACTER VARYING":
		return boundedOrUnbounded("VARCHAR", args, maxLength)

	case "TEXT", "LONGTEXT", "MEDIUMTEXT", "TINYTEXT", "CLOB", "NTEXT", "XML", "SQL_VARIANT":
		return "TEXT"

	case "DATE":
		return "DATE"
	case "TIME":
		return "TIME"

	case "DATETIMEOFFSET":
		return "TIMESTAMP WITH TIME ZONE"
	case "DATETIME", "DATETIME2", "SMALLDATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		if name == "TIMESTAMPTZ" {
			return "TIMESTAMP WITH TIME ZONE"
		}
		return "TIMESTAMP"

	case "BIT", "BOOLEAN", "BOOL":
		return "BOOLEAN"

	case "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB", "BINARY", "VARBINARY", "IMAGE", "BYTEA":
		return "BYTEA"

	case "UNIQUEIDENTIFIER", "UUID":
		return "UUID"

	case "JSON", "JSONB", "DOCUMENT", "ARRAY", "BSON", "BSON_DOCUMENT", "BSON_ARRAY":
		return "JSONB"

	default:
		return "TEXT"
	}
}

// numeric renders NUMERIC(p,s) from either the describe_columns-reported
// precision/scale or the type's own declared args, falling back to an
// unbounded NUMERIC when neither is usable.
func numeric(precision, scale *int, args string) string {
	if precision != nil {
		s := 0
		if scale != nil {
			s = *scale
		}
		return fmt.Sprintf("NUMERIC(%d,%d)", *precision, s)
	}
	if args != "" {
		return fmt.Sprintf("NUMERIC(%s)", args)
	}
	return "NUMERIC"
}

// boundedOrUnbounded renders base(n) when a 1..65535 length is available
// from either maxLength or the type's own declared args, else an
// unbounded VARCHAR per spec.md §4.3's "else unbounded VARCHAR" clause —
// applied to CHAR the same way, since an unbounded CHAR has no sensible
// meaning in PostgreSQL.
func boundedOrUnbounded(base, args string, maxLength *int) string {
	n := 0
	if maxLength != nil && *maxLength >= 1 && *maxLength <= 65535 {
		n = *maxLength
	} else if v, err := strconv.Atoi(args); err == nil && v >= 1 && v <= 65535 {
		n = v
	}
	if n == 0 {
		return "VARCHAR"
	}
	return fmt.Sprintf("%s(%d)", base, n)
}

func splitArgs(upper string) (name, args string) {
	open := strings.IndexByte(upper, '(')
	if open < 0 {
		return strings.TrimSpace(upper), ""
	}
	closeIdx := strings.IndexByte(upper, ')')
	if closeIdx < open {
		return strings.TrimSpace(upper[:open]), ""
	}
	return strings.TrimSpace(upper[:open]), strings.TrimSpace(upper[open+1 : closeIdx])
}
