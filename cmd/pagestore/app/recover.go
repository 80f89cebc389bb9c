package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/app"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
)

func initRecover() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Replays the log and leaves the store consistent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := &app.StoreEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				Action: func(_ context.Context, _ *engine.Database, log src.Logger) error {
					log.Info("store recovered")
					return nil
				},
			}

			if err := app.Run(cmd.Context(), e); err != nil {
				return err
			}

			cmd.Printf(
				"redone: %d, undone: %d, confirmed: %d, truncated bytes: %d\n",
				e.Report.Redone,
				e.Report.Undone,
				e.Report.Confirmed,
				e.Report.TruncatedBytes,
			)

			return nil
		},
	})
}
