// SPDX-License-Identifier: Apache-2.0

// Package connstr provides helpers for working with the opaque connection
// strings stored in metadata.catalog.connection_string. The core never
// parses a connection string to extract credentials; the only information
// ever pulled out of one is the target schema search path (for the
// PostgreSQL target and source) and the hostname (to classify a cluster
// name when a source database doesn't expose its own hostname).
package connstr

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// AppendSearchPathOption take a Postgres connection string in URL format and
// produces the same connection string with the search_path option set to the
// provided schema.
func AppendSearchPathOption(connStr, schema string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}

	if schema == "" {
		return connStr, nil
	}

	q := u.Query()
	q.Set("options", fmt.Sprintf("-c search_path=%s", schema))
	encodedQuery := q.Encode()

	// Replace '+' with '%20' to ensure proper encoding of spaces within the
	// `options` query parameter.
	encodedQuery = strings.ReplaceAll(encodedQuery, "+", "%20")

	u.RawQuery = encodedQuery

	return u.String(), nil
}

// mysqlDSNHost matches the host(:port) portion of a go-sql-driver/mysql
// DSN of the form user:pass@tcp(host:port)/dbname.
var mysqlDSNHost = regexp.MustCompile(`@tcp\(([^)]+)\)`)

// mssqlADOHost matches the `server=...` key of an MSSQL ADO-style
// connection string (server=host,port;user id=...;password=...).
var mssqlADOHost = regexp.MustCompile(`(?i)server\s*=\s*([^;]+)`)

// Hostname extracts the host portion of a connection string without
// attempting to parse credentials out of it. It supports the URL forms used
// by Postgres (postgres://), MongoDB (mongodb:// and mongodb+srv://) and
// MSSQL (sqlserver://), the go-sql-driver/mysql DSN form
// (user:pass@tcp(host:port)/db), and the MSSQL ADO key=value form
// (server=host;...). Returns an empty string if no host can be identified,
// never an error — this is a best-effort classification helper, not a
// correctness-critical parse.
func Hostname(connStr string) string {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return ""
	}

	if isURLForm(connStr) {
		if u, err := url.Parse(connStr); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}

	if m := mysqlDSNHost.FindStringSubmatch(connStr); len(m) == 2 {
		return stripPort(m[1])
	}

	if m := mssqlADOHost.FindStringSubmatch(connStr); len(m) == 2 {
		return stripPort(strings.TrimSpace(m[1]))
	}

	return ""
}

func isURLForm(s string) bool {
	for _, scheme := range []string{"postgres://", "postgresql://", "mongodb://", "mongodb+srv://", "sqlserver://"} {
		if strings.HasPrefix(strings.ToLower(s), scheme) {
			return true
		}
	}
	return false
}

func stripPort(hostport string) string {
	host, _, found := strings.Cut(hostport, ",")
	if found {
		hostport = host
	}
	host, _, found = strings.Cut(hostport, ":")
	if found {
		return host
	}
	return hostport
}
