package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/app"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
)

func initCheckpoint() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "checkpoint",
		Short: "Recovers the store, takes a checkpoint and truncates the log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), &app.StoreEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				Action: func(ctx context.Context, db *engine.Database, log src.Logger) error {
					before := db.Log().Size()
					if err := db.Checkpoint(ctx); err != nil {
						return err
					}

					log.Infow(
						"checkpoint taken",
						"sizeBefore", before,
						"sizeAfter", db.Log().Size(),
					)

					return nil
				},
			})
		},
	})
}
