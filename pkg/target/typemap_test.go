// SPDX-License-Identifier: Apache-2.0

package target_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tgberrios/datasync/pkg/target"
)

func intp(n int) *int { return &n }

func TestMapType(t *testing.T) {
	tests := []struct {
		name    string
		decl    string
		maxLen  *int
		numPrec *int
		numScl  *int
		want    string
	}{
		{name: "tinyint", decl: "TINYINT", want: "SMALLINT"},
		{name: "int", decl: "INT", want: "INTEGER"},
		{name: "bigint", decl: "BIGINT", want: "BIGINT"},
		{name: "auto increment bigint", decl: "IDENTITY", want: "BIGINT"},
		{name: "decimal with precision", decl: "DECIMAL", numPrec: intp(10), numScl: intp(2), want: "NUMERIC(10,2)"},
		{name: "decimal with declared args", decl: "DECIMAL(12,4)", want: "NUMERIC(12,4)"},
		{name: "money", decl: "MONEY", want: "NUMERIC(19,4)"},
		{name: "float", decl: "FLOAT", want: "REAL"},
		{name: "double", decl: "DOUBLE", want: "DOUBLE PRECISION"},
		{name: "varchar bounded", decl: "VARCHAR", maxLen: intp(255), want: "VARCHAR(255)"},
		{name: "varchar unbounded when length out of range", decl: "VARCHAR", maxLen: intp(0), want: "VARCHAR"},
		{name: "nvarchar bounded via args", decl: "NVARCHAR(100)", want: "VARCHAR(100)"},
		{name: "char bounded", decl: "CHAR", maxLen: intp(1), want: "CHAR(1)"},
		{name: "text", decl: "TEXT", want: "TEXT"},
		{name: "longtext", decl: "LONGTEXT", want: "TEXT"},
		{name: "date", decl: "DATE", want: "DATE"},
		{name: "time", decl: "TIME", want: "TIME"},
		{name: "datetime", decl: "DATETIME", want: "TIMESTAMP"},
		{name: "datetime2", decl: "DATETIME2", want: "TIMESTAMP"},
		{name: "datetimeoffset", decl: "DATETIMEOFFSET", want: "TIMESTAMP WITH TIME ZONE"},
		{name: "bit", decl: "BIT", want: "BOOLEAN"},
		{name: "boolean", decl: "BOOLEAN", want: "BOOLEAN"},
		{name: "blob", decl: "BLOB", want: "BYTEA"},
		{name: "varbinary", decl: "VARBINARY", want: "BYTEA"},
		{name: "image", decl: "IMAGE", want: "BYTEA"},
		{name: "uniqueidentifier", decl: "UNIQUEIDENTIFIER", want: "UUID"},
		{name: "xml", decl: "XML", want: "TEXT"},
		{name: "sql_variant", decl: "SQL_VARIANT", want: "TEXT"},
		{name: "bson document", decl: "DOCUMENT", want: "JSONB"},
		{name: "unknown falls back to text", decl: "SOMETHING_WEIRD", want: "TEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := target.MapType(tt.decl, tt.maxLen, tt.numPrec, tt.numScl)
			assert.Equal(t, tt.want, got)
		})
	}
}
