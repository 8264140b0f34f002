// SPDX-License-Identifier: Apache-2.0

package catalogsync

import (
	"context"
	"fmt"

	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/source"
)

// BackfillClusterNames implements step 3 of spec.md §4.7: after every
// engine's discovery pass, recompute cluster_name for any row whose field
// is still empty. The hostname comes from the live server when the
// adapter supports it, else from parsing the connection string, and is
// memoized per connection string within one call so rows sharing a
// connection don't reopen it once per row.
func (s *Synchronizer) BackfillClusterNames(ctx context.Context, engines []catalog.Engine) error {
	for _, engine := range engines {
		if err := s.backfillEngine(ctx, engine); err != nil {
			return fmt.Errorf("catalogsync: backfill cluster names for %s: %w", engine, err)
		}
	}
	return nil
}

func (s *Synchronizer) backfillEngine(ctx context.Context, engine catalog.Engine) error {
	rows, err := s.catalog.ListByEngine(ctx, engine)
	if err != nil {
		return err
	}

	resolved := make(map[string]string)
	for _, row := range rows {
		if row.ClusterName != "" {
			continue
		}
		name, memoized := resolved[row.ConnectionString]
		if !memoized {
			name = s.resolveClusterName(ctx, engine, row.ConnectionString)
			resolved[row.ConnectionString] = name
		}
		if name == "" {
			continue
		}
		if err := s.catalog.UpdateClusterName(ctx, row.Key(), name); err != nil {
			s.log.Warn("failed to backfill cluster_name", "schema", row.SchemaName, "table", row.TableName, "engine", engine, "error", err)
		}
	}
	return nil
}

// resolveClusterName prefers the source's own reported hostname over
// parsing the connection string, per spec.md §4.7.
func (s *Synchronizer) resolveClusterName(ctx context.Context, engine catalog.Engine, connString string) string {
	if adapter, ok := s.sources[engine]; ok {
		if detector, ok := adapter.(source.HostnameDetector); ok {
			if hostname := s.liveHostname(ctx, adapter, detector, connString); hostname != "" {
				return classifyHostname(hostname)
			}
		}
	}
	if host := hostFromConnectionString(connString); host != "" {
		return classifyHostname(host)
	}
	return ""
}

func (s *Synchronizer) liveHostname(ctx context.Context, adapter source.Adapter, detector source.HostnameDetector, connString string) string {
	handle, err := adapter.Open(ctx, connString)
	if err != nil {
		return ""
	}
	defer handle.Close()

	hostname, err := detector.DetectHostname(ctx, handle)
	if err != nil {
		return ""
	}
	return hostname
}
