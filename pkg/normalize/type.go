// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"strconv"
	"strings"
)

type family int

const (
	familyOther family = iota
	familyInteger
	familyFloat
	familyChar
	familyBinary
	familyBoolean
	familyDate
	familyTime
	familyTimestamp
	familyText
)

type typeInfo struct {
	family family
	// length is the declared length for CHAR(n)/VARCHAR(n); 0 if absent
	// or out of the valid 1..65535 range.
	length int
}

// parseType classifies a declared source column type string (e.g.
// "VARCHAR(255)", "decimal(10,2)", "BIGINT", "datetime2") into a family
// used to pick which normalization rule applies.
func parseType(declared string) typeInfo {
	upper := strings.ToUpper(strings.TrimSpace(declared))
	name, args := splitTypeArgs(upper)

	switch name {
	case "TINYINT", "SMALLINT", "INT", "INT2", "INT4", "INT8", "INTEGER",
		"BIGINT", "MEDIUMINT", "SERIAL", "BIGSERIAL", "IDENTITY":
		return typeInfo{family: familyInteger}

	case "FLOAT", "REAL", "DOUBLE", "DOUBLE PRECISION", "DECIMAL",
		"NUMERIC", "MONEY", "DEC":
		return typeInfo{family: familyFloat}

	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "CHARACTER",
		"CHARACTER VARYING":
		length := 0
		if n, err := strconv.Atoi(args); err == nil && n >= 1 && n <= 65535 {
			length = n
		}
		return typeInfo{family: familyChar, length: length}

	case "TEXT", "LONGTEXT", "MEDIUMTEXT", "TINYTEXT", "CLOB", "NTEXT":
		return typeInfo{family: familyText}

	case "BYTEA", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB",
		"VARBINARY", "BINARY", "IMAGE":
		return typeInfo{family: familyBinary}

	case "BOOLEAN", "BOOL", "BIT":
		return typeInfo{family: familyBoolean}

	case "DATE":
		return typeInfo{family: familyDate}

	case "TIME":
		return typeInfo{family: familyTime}

	case "DATETIME", "DATETIME2", "SMALLDATETIME", "TIMESTAMP",
		"TIMESTAMPTZ", "DATETIMEOFFSET", "TIMESTAMP WITH TIME ZONE",
		"TIMESTAMP WITHOUT TIME ZONE":
		return typeInfo{family: familyTimestamp}

	default:
		return typeInfo{family: familyOther}
	}
}

// splitTypeArgs splits "VARCHAR(255)" into ("VARCHAR", "255") and leaves
// types without parens (e.g. "BIGINT") with an empty args string.
func splitTypeArgs(upper string) (name, args string) {
	open := strings.IndexByte(upper, '(')
	if open < 0 {
		return strings.TrimSpace(upper), ""
	}
	close := strings.IndexByte(upper, ')')
	if close < open {
		return strings.TrimSpace(upper[:open]), ""
	}
	name = strings.TrimSpace(upper[:open])
	inner := upper[open+1 : close]
	// For DECIMAL(p,s) style types we only need the family, not the args,
	// so take just the first comma-separated component when present.
	if comma := strings.IndexByte(inner, ','); comma >= 0 {
		inner = inner[:comma]
	}
	return name, strings.TrimSpace(inner)
}
