// SPDX-License-Identifier: Apache-2.0

package catalogsync

import (
	"regexp"
	"strings"

	"github.com/tgberrios/datasync/internal/connstr"
)

// clusterPatterns classifies a lowercased hostname by substring, in the
// order spec.md §4.7 lists them. The first match wins.
var clusterPatterns = []struct {
	label   string
	needles []string
}{
	{"PRODUCTION", []string{"prod"}},
	{"STAGING", []string{"staging", "stage"}},
	{"DEVELOPMENT", []string{"dev"}},
	{"TESTING", []string{"test"}},
	{"UAT", []string{"uat"}},
	{"QA", []string{"qa"}},
	{"LOCAL", []string{"local", "127.0.0.1"}},
}

var (
	clusterMarker = regexp.MustCompile(`cluster[-_a-z0-9]*`)
	dbNodeMarker  = regexp.MustCompile(`db-[a-z0-9]+`)
)

// classifyHostname maps a source hostname to one of the named
// environments, falling back to a CLUSTER-/DB- prefixed extraction and
// finally to the hostname itself uppercased, so the result is never empty
// for a non-empty hostname.
func classifyHostname(hostname string) string {
	if hostname == "" {
		return ""
	}
	lower := strings.ToLower(hostname)

	for _, p := range clusterPatterns {
		for _, needle := range p.needles {
			if strings.Contains(lower, needle) {
				return p.label
			}
		}
	}
	if m := clusterMarker.FindString(lower); m != "" {
		return strings.ToUpper(m)
	}
	if m := dbNodeMarker.FindString(lower); m != "" {
		return strings.ToUpper(m)
	}
	return strings.ToUpper(hostname)
}

// hostFromConnectionString extracts the host part of a connection string
// without knowing its vendor-specific shape, delegating to the same
// best-effort parser the PostgreSQL search_path helper lives alongside —
// connection strings are opaque to the rest of the core, so every bit of
// shape-specific parsing stays in one place.
func hostFromConnectionString(conn string) string {
	return connstr.Hostname(conn)
}
