// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tgberrios/datasync/cmd/flags"
	"github.com/tgberrios/datasync/pkg/catalog"
	"github.com/tgberrios/datasync/pkg/source"
	"github.com/tgberrios/datasync/pkg/source/mariadb"
	"github.com/tgberrios/datasync/pkg/source/mongo"
	"github.com/tgberrios/datasync/pkg/source/mssql"
	"github.com/tgberrios/datasync/pkg/source/pgsource"
	"github.com/tgberrios/datasync/pkg/synclog"
)

// Version is the datasync version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("DATASYNC")
	viper.AutomaticEnv()

	flags.SourceConnectionFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "datasync",
	SilenceUsage: true,
	Version:      Version,
}

// NewCatalogStore opens the target catalog store using the bound
// connection flags, applying strict JSON-Schema validation when
// requested.
func NewCatalogStore(ctx context.Context) (*catalog.Store, error) {
	var opts []catalog.Option
	if flags.StrictValidation() {
		opts = append(opts, catalog.WithSchemaValidation())
	}
	return catalog.New(ctx, flags.PostgresURL(), flags.CatalogSchema(), opts...)
}

// sourceAdapters returns the fixed set of vendor adapters, one per engine,
// each a stateless strategy object opened per connection string by its
// callers — mirroring the "one Table Synchronizer parameterised by a
// Source Adapter" neutral strategy.
func sourceAdapters() map[catalog.Engine]source.Adapter {
	return map[catalog.Engine]source.Adapter{
		catalog.EngineMariaDB:    mariadb.New(),
		catalog.EngineMSSQL:      mssql.New(),
		catalog.EngineMongo:      mongo.New(),
		catalog.EnginePostgreSQL: pgsource.New(),
	}
}

// engineOrder is the fixed dispatch order spec.md §4.8 walks every cycle.
func engineOrder() []catalog.Engine {
	return []catalog.Engine{
		catalog.EngineMariaDB,
		catalog.EngineMSSQL,
		catalog.EngineMongo,
		catalog.EnginePostgreSQL,
	}
}

func newLogger() synclog.Logger {
	return synclog.New()
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(seedCmd())

	return rootCmd.Execute()
}
