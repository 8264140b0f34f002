// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tgberrios/datasync/pkg/catalogsync"
	"github.com/tgberrios/datasync/pkg/orchestrator"
	"github.com/tgberrios/datasync/pkg/runtimeconfig"
	"github.com/tgberrios/datasync/pkg/tablesync"
	"github.com/tgberrios/datasync/pkg/target"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the replication orchestrator until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := NewCatalogStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		log := newLogger()

		cfg := runtimeconfig.New(store)
		if err := cfg.Refresh(ctx); err != nil {
			return fmt.Errorf("loading initial runtime config: %w", err)
		}
		go cfg.Watch(ctx, cfg.Get().SyncInterval)

		sources := sourceAdapters()
		writer := target.New(store.Conn(), log)
		tabSync := tablesync.New(store, writer, sources, cfg, log)
		catSync := catalogsync.New(store, sources, log)

		orch := orchestrator.New(store, catSync, tabSync, cfg, log, engineOrder())

		pterm.Info.Println("Replication orchestrator starting, press Ctrl-C to stop")
		err = orch.Run(ctx)
		if err != nil && ctx.Err() != nil {
			pterm.Info.Println("Replication orchestrator stopped")
			return nil
		}
		return err
	},
}
