// SPDX-License-Identifier: Apache-2.0

package normalize_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgberrios/datasync/pkg/normalize"
)

func ptr(s string) *string { return &s }

func TestNormalize_SentinelNulls(t *testing.T) {
	tests := []struct {
		raw  *string
		kind normalize.Kind
	}{
		{nil, normalize.KindDefault},
		{ptr(""), normalize.KindDefault},
		{ptr("NULL"), normalize.KindDefault},
		{ptr("null"), normalize.KindDefault},
		{ptr(`\N`), normalize.KindDefault},
		{ptr(`\0`), normalize.KindDefault},
	}
	for _, tt := range tests {
		got := normalize.Normalize(tt.raw, "VARCHAR(20)")
		assert.Equal(t, tt.kind, got.Kind)
	}
}

func TestNormalize_ZeroDateSentinel(t *testing.T) {
	// spec.md §8 scenario 6
	got := normalize.Normalize(ptr("0000-00-00"), "DATE")
	assert.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'1970-01-01'", got.Literal)

	got = normalize.Normalize(ptr("0000-00-00"), "TIMESTAMP")
	assert.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'1970-01-01 00:00:00'", got.Literal)

	// The same literal text is legitimate data in a VARCHAR column.
	got = normalize.Normalize(ptr("0000-00-00"), "VARCHAR(20)")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'0000-00-00'", got.Literal)
}

func TestNormalize_UnsafeBytesForceNull(t *testing.T) {
	got := normalize.Normalize(ptr("caf\xc3\xa9"), "VARCHAR(20)")
	assert.Equal(t, normalize.KindDefault, got.Kind)

	got = normalize.Normalize(ptr("bad\x01byte"), "TEXT")
	assert.Equal(t, normalize.KindNull, got.Kind)

	// tab/LF/CR are allowed.
	got = normalize.Normalize(ptr("line1\nline2\ttabbed\r"), "TEXT")
	require.Equal(t, normalize.KindLiteral, got.Kind)
}

func TestNormalize_VarcharTruncation(t *testing.T) {
	got := normalize.Normalize(ptr("abcdefghij"), "VARCHAR(5)")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'abcde'", got.Literal)

	// a declared length outside 1..65535 means no truncation at all
	got = normalize.Normalize(ptr("xxxxx"), "VARCHAR(0)") // invalid length, unbounded
	require.Equal(t, normalize.KindLiteral, got.Kind)
}

func TestNormalize_BinaryType(t *testing.T) {
	got := normalize.Normalize(ptr("DEADBEEF"), "BYTEA")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'DEADBEEF'", got.Literal)

	got = normalize.Normalize(ptr("not-hex-!!"), "BLOB")
	assert.Equal(t, normalize.KindDefault, got.Kind)

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	got = normalize.Normalize(ptr(string(long)), "BYTEA")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Len(t, got.Literal, 1000+2) // plus surrounding quotes
}

func TestNormalize_TemporalMalformed(t *testing.T) {
	for _, v := range []string{"20230101", "2023", "0000-01-01"} {
		got := normalize.Normalize(ptr(v), "DATE")
		assert.Equal(t, normalize.KindLiteral, got.Kind, v)
		assert.Equal(t, "'1970-01-01'", got.Literal, v)
	}

	got := normalize.Normalize(ptr("2023-06-15"), "DATE")
	assert.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'2023-06-15'", got.Literal)
}

func TestNormalize_BooleanFold(t *testing.T) {
	truthy := []string{"y", "Yes", "1", "TRUE", "true"}
	for _, v := range truthy {
		got := normalize.Normalize(ptr(v), "BOOLEAN")
		require.Equal(t, normalize.KindLiteral, got.Kind, v)
		assert.Equal(t, "'true'", got.Literal, v)
	}

	falsy := []string{"n", "No", "0", "false", "garbage"}
	for _, v := range falsy {
		got := normalize.Normalize(ptr(v), "BIT")
		require.Equal(t, normalize.KindLiteral, got.Kind, v)
		assert.Equal(t, "'false'", got.Literal, v)
	}
}

func TestNormalize_NumericReparse(t *testing.T) {
	got := normalize.Normalize(ptr("  42 "), "INTEGER")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'42'", got.Literal)

	got = normalize.Normalize(ptr("not-a-number"), "INTEGER")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'0'", got.Literal)

	got = normalize.Normalize(ptr("3.14"), "DECIMAL(10,2)")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'3.14'", got.Literal)

	got = normalize.Normalize(ptr("garbage"), "FLOAT")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, "'0.0'", got.Literal)
}

func TestNormalize_QuoteEscaping(t *testing.T) {
	got := normalize.Normalize(ptr(`O'Brien`), "VARCHAR(20)")
	require.Equal(t, normalize.KindLiteral, got.Kind)
	assert.Equal(t, `'O''Brien'`, got.Literal)
}

func TestNormalize_DefaultSubstitution(t *testing.T) {
	tests := []struct {
		declaredType string
		expectKind   normalize.Kind
		expectLit    string
	}{
		{"INTEGER", normalize.KindLiteral, "'0'"},
		{"FLOAT", normalize.KindLiteral, "'0.0'"},
		{"TIMESTAMP", normalize.KindLiteral, "'1970-01-01 00:00:00'"},
		{"DATE", normalize.KindLiteral, "'1970-01-01'"},
		{"TIME", normalize.KindLiteral, "'00:00:00'"},
		{"TEXT", normalize.KindNull, ""},
		{"VARCHAR(20)", normalize.KindDefault, ""},
	}
	for _, tt := range tests {
		got := normalize.Normalize(nil, tt.declaredType)
		assert.Equal(t, tt.expectKind, got.Kind, tt.declaredType)
		if tt.expectKind == normalize.KindLiteral {
			assert.Equal(t, tt.expectLit, got.Literal, tt.declaredType)
		}
	}
}

// TestNormalize_RoundTrip checks spec.md §8's idempotence property:
// normalize(normalize(v, t), t) == normalize(v, t), reapplying the
// unquoted literal text as the next input.
func TestNormalize_RoundTrip(t *testing.T) {
	cases := []struct {
		raw string
		typ string
	}{
		{"abcdefghij", "VARCHAR(5)"},
		{"2023-06-15", "DATE"},
		{"2023-06-15 10:30:00", "TIMESTAMP"},
		{"yes", "BOOLEAN"},
		{"0", "BOOLEAN"},
		{"  42  ", "INTEGER"},
		{"3.140", "FLOAT"},
		{"DEADBEEF", "BYTEA"},
		{"plain text", "TEXT"},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.typ, tc.raw), func(t *testing.T) {
			first := normalize.Normalize(ptr(tc.raw), tc.typ)
			require.Equal(t, normalize.KindLiteral, first.Kind)

			unquoted := unquote(first.Literal)
			second := normalize.Normalize(&unquoted, tc.typ)

			assert.Equal(t, first.Kind, second.Kind)
			assert.Equal(t, first.Literal, second.Literal)
		})
	}
}

func unquote(lit string) string {
	if len(lit) >= 2 && lit[0] == '\'' && lit[len(lit)-1] == '\'' {
		inner := lit[1 : len(lit)-1]
		out := make([]byte, 0, len(inner))
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\'' && i+1 < len(inner) && inner[i+1] == '\'' {
				out = append(out, '\'')
				i++
				continue
			}
			out = append(out, inner[i])
		}
		return string(out)
	}
	return lit
}
