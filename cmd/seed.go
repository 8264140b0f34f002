// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/pkstrategy"
)

// seedTableName is the sentinel placeholder table name a seeded
// connection is registered under. The Catalog Synchronizer's next
// discovery pass for this connection string both populates the real
// tables underneath it and deletes this row, since it never reappears in
// the adapter's ListTables output — the same "stale row whose table
// vanished" deletion path every other discovery pass uses.
const seedTableName = "__seed__"

// seedEntry is one connection this command registers for the Catalog
// Synchronizer to discover tables under, the only place a connection
// string is ever read from outside the database.
type seedEntry struct {
	Engine           catalog.Engine `json:"engine"`
	ConnectionString string         `json:"connection_string"`
	ClusterName      string         `json:"cluster_name"`
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Register source connections from a YAML file for the catalog synchronizer to discover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readSeedFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := NewCatalogStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sp, _ := pterm.DefaultSpinner.WithText("Seeding connections...").Start()
			n := 0
			for _, entry := range entries {
				if err := seedConnection(ctx, store, entry); err != nil {
					sp.Fail(fmt.Sprintf("Failed to seed %s: %s", entry.ConnectionString, err))
					return err
				}
				n++
			}

			sp.Success(fmt.Sprintf("Seeded %d connection(s); run 'datasync run' to discover their tables", n))
			return nil
		},
	}
}

func readSeedFile(fileName string) ([]seedEntry, error) {
	raw, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var entries []seedEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	for _, e := range entries {
		if e.Engine == "" || e.ConnectionString == "" {
			return nil, fmt.Errorf("seed file: engine and connection_string are required for every entry")
		}
	}
	return entries, nil
}

// seedConnection upserts a single placeholder row per connection: one row
// under seedTableName is enough for the Catalog Synchronizer to pick up
// the connection string on its next pass and discover every real table
// underneath it.
func seedConnection(ctx context.Context, store *catalog.Store, entry seedEntry) error {
	row := catalog.Row{
		SchemaName:       seedTableName,
		TableName:        seedTableName,
		ClusterName:      entry.ClusterName,
		DBEngine:         entry.Engine,
		ConnectionString: entry.ConnectionString,
		Status:           catalog.StatusPending,
		PKStrategy:       pkstrategy.Offset,
		HasPK:            false,
		Active:           false,
	}
	return store.Upsert(ctx, row)
}
