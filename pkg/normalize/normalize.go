// SPDX-License-Identifier: Apache-2.0

// Package normalize maps a source cell (raw text plus its declared source
// column type) to a PostgreSQL-safe marker: a quoted SQL literal, an
// explicit NULL, or DEFAULT (letting PostgreSQL apply the column default).
// It never raises — every rule below has a defined fallback — because a
// single dirty cell must never abort an entire chunk.
package normalize

import (
	"strconv"
	"strings"
)

// Kind identifies which of the three markers a Result carries.
type Kind int

const (
	// KindLiteral carries a ready-to-embed, single-quoted SQL literal.
	KindLiteral Kind = iota
	// KindNull means the column should be set to SQL NULL.
	KindNull
	// KindDefault means the column should be omitted from the statement
	// (or set to DEFAULT) so PostgreSQL applies its column default.
	KindDefault
)

// Result is the outcome of normalizing a single cell.
type Result struct {
	Kind Kind
	// Literal holds the quoted SQL literal when Kind == KindLiteral.
	Literal string
}

func null() Result    { return Result{Kind: KindNull} }
func deflt() Result   { return Result{Kind: KindDefault} }
func lit(s string) Result {
	return Result{Kind: KindLiteral, Literal: quote(s)}
}

// Normalize implements the normalization contract from the replication
// spec: given a possibly-nil raw cell and its declared source type, return
// one of Null, Default or a quoted Literal. Rules are applied in order;
// the first one that fires wins, except for the "sensible default" rule
// which is always applied last as a finishing pass over any NULL result.
func Normalize(raw *string, declaredType string) Result {
	ti := parseType(declaredType)

	if raw == nil {
		return finishNull(ti)
	}
	v := *raw

	// Rule 1: sentinel NULLs.
	if isSentinelNull(v, ti) {
		return finishNull(ti)
	}

	// Rule 2: unsafe-to-encode bytes force NULL.
	if hasUnsafeBytes(v) {
		return finishNull(ti)
	}

	switch ti.family {
	case familyChar:
		// Rule 3: VARCHAR(n)/CHAR(n) truncation.
		if ti.length > 0 {
			v = truncateRunes(v, ti.length)
		}
		if v == "" {
			return finishNull(ti)
		}
		return lit(v)

	case familyBinary:
		// Rule 4: binary types (BYTEA, BLOB).
		if !isValidBinaryText(v) {
			return finishNull(ti)
		}
		if len(v) > 1000 {
			v = v[:1000]
		}
		return lit(v)

	case familyDate, familyTime, familyTimestamp:
		// Rule 5: malformed/zero date-time text.
		if looksLikeZeroOrInvalidTemporal(v) {
			return finishNull(ti)
		}
		return lit(v)

	case familyBoolean:
		// Rule 6: boolean/bit folding.
		return lit(foldBoolean(v))

	case familyInteger:
		// Rule 7: numeric re-parse/re-emit.
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			// Parse failure emits a literal fallback directly — this is
			// not a NULL, so rule 8 never runs for this path.
			return lit("0")
		}
		return lit(strconv.FormatInt(n, 10))

	case familyFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return lit("0.0")
		}
		return lit(strconv.FormatFloat(f, 'f', -1, 64))

	default:
		// No type-specific rule applies (TEXT, unknown/other types):
		// pass the value through unchanged.
		return lit(v)
	}
}

// finishNull applies rule 8: when a value has become NULL by any of the
// preceding rules, substitute a sensible default literal for numeric and
// date/timestamp types, keep NULL for TEXT, and fall back to DEFAULT for
// every other textual/unclassified type.
func finishNull(ti typeInfo) Result {
	switch ti.family {
	case familyInteger:
		return lit("0")
	case familyFloat:
		return lit("0.0")
	case familyTimestamp:
		return lit("1970-01-01 00:00:00")
	case familyDate:
		return lit("1970-01-01")
	case familyTime:
		return lit("00:00:00")
	case familyText:
		return null()
	default:
		return deflt()
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var sentinelText = map[string]struct{}{
	"":     {},
	"null": {},
	`\n`:   {}, // literal backslash-N, the MySQL dump NULL marker
	`\0`:   {},
}

var zeroDateMarkers = map[string]struct{}{
	"0000-00-00": {},
	"1900-01-01": {},
	"1970-01-01": {},
}

func isSentinelNull(v string, ti typeInfo) bool {
	lower := strings.ToLower(v)
	if _, ok := sentinelText[lower]; ok {
		return true
	}
	if ti.family == familyDate || ti.family == familyTime || ti.family == familyTimestamp {
		// Zero-date markers are only NULL sentinels for temporal columns;
		// the same literal text in a VARCHAR column is legitimate data.
		base, _, _ := strings.Cut(v, " ")
		if _, ok := zeroDateMarkers[base]; ok {
			return true
		}
	}
	return false
}

func hasUnsafeBytes(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b >= 0x80 {
			return true
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return true
		}
		if b == 0x7F {
			return true
		}
	}
	return false
}

func isValidBinaryText(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		isHex := (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
		if isHex || b == ' ' || b == '\\' || b == 'x' || b == 'X' {
			continue
		}
		return false
	}
	return true
}

func looksLikeZeroOrInvalidTemporal(v string) bool {
	if !strings.Contains(v, "-") {
		return true
	}
	if len(v) < 10 {
		return true
	}
	if isPurelyNumeric(v) {
		return true
	}
	if strings.HasPrefix(v, "0000") {
		return true
	}
	return false
}

func isPurelyNumeric(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var trueValues = map[string]struct{}{
	"y": {}, "yes": {}, "1": {}, "true": {},
}

func foldBoolean(v string) string {
	if _, ok := trueValues[strings.ToLower(strings.TrimSpace(v))]; ok {
		return "true"
	}
	return "false"
}
