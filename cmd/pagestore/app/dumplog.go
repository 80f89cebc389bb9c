package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/PageStore/src"
	"github.com/Blackdeer1524/PageStore/src/app"
	"github.com/Blackdeer1524/PageStore/src/storage/engine"
)

func initDumpLog() {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "dump-log",
		Short: "Prints every log record without modifying the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), &app.StoreEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				ReadOnly:   true,
				Log:        src.NopLogger(),
				Action: func(_ context.Context, db *engine.Database, _ src.Logger) error {
					if asJSON {
						return db.Log().DumpJSON(cmd.OutOrStdout())
					}

					return db.Log().Dump(cmd.OutOrStdout())
				},
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the log as a JSON document")

	rootCmd.AddCommand(cmd)
}
