// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tgberrios/datasync/pkg/catalog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List every tracked table and its replication status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, err := NewCatalogStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var views []catalog.RowView
		for _, engine := range engineOrder() {
			rows, err := store.ListByEngine(ctx, engine)
			if err != nil {
				return fmt.Errorf("listing %s rows: %w", engine, err)
			}
			for _, row := range rows {
				views = append(views, catalog.ToView(row))
			}
		}

		out, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(out))
		return nil
	},
}
