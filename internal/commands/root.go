package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "codexmem",
		Short:         "Local-first memory for coding sessions (worker, ingest, search bridge)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; existing environment always wins.
			if err := godotenv.Load(); err == nil {
				slog.Debug("loaded .env")
			}

			if dataDir, err := cmd.Flags().GetString("data-dir"); err == nil && dataDir != "" {
				app.SetDataDirOverride(dataDir)
			}

			app.SetupCLILogging()
			cmd.Flags().Visit(func(f *pflag.Flag) {
				slog.Debug("flag override", "flag", f.Name, "value", f.Value.String())
			})
			return nil
		},
	}

	root.PersistentFlags().String("data-dir", "", "Override data directory (default: ~/.codexmem)")
	root.PersistentFlags().Int("port", 0, "Override worker port (default: configured workerPort)")
	root.Flags().BoolP("version", "v", false, "version for codexmem")

	root.AddCommand(NewWorkerCmd(version))
	root.AddCommand(NewIngestCmd())
	root.AddCommand(NewBridgeCmd(version))
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewDoctorCmd(version))
	root.AddCommand(NewMigrateDataCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Error("command failed", "error", err.Error())
		}
	}
	return err
}
