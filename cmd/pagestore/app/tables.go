package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/app"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
	"github.com/Blackdeer1524/PageStore/src/storage/systemcatalog"
)

func initTables() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "tables",
		Short: "Lists the tables of the system catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), &app.StoreEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				Action: func(_ context.Context, db *engine.Database, _ src.Logger) error {
					catalog, err := systemcatalog.New(db)
					if err != nil {
						return err
					}

					cmd.Printf("catalog version %d\n", catalog.CurrentVersion())
					for _, meta := range catalog.Tables() {
						cmd.Printf("%6d  %-20s %s\n", meta.ID, meta.Name, meta.Path)
					}

					return nil
				},
			})
		},
	})
}
