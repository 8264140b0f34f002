// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the catalog schema, creating metadata.catalog and metadata.config",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := NewCatalogStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		sp, _ := pterm.DefaultSpinner.WithText("Initializing catalog schema...").Start()
		if err := store.Init(cmd.Context()); err != nil {
			sp.Fail(fmt.Sprintf("Failed to initialize catalog schema: %s", err))
			return err
		}

		sp.Success("Catalog schema ready")
		return nil
	},
}
