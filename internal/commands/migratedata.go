package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/output"
)

// NewMigrateDataCmd copies a legacy ~/.codex-mem data directory into the
// canonical ~/.codexmem location.
func NewMigrateDataCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "migrate-data",
		Short: "Copy the legacy data directory to the canonical location",
		Long: "Copies ~/.codex-mem into ~/.codexmem file by file. The legacy directory is " +
			"never modified or removed; existing destination files are kept unless --force.",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.MigrateDataDir(app.MigrateOptions{DryRun: dryRun, Force: force})
			if err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(report)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the migration plan without copying anything")
	cmd.Flags().BoolVar(&force, "force", false, "Re-run a locked migration and overwrite existing files")
	return cmd
}
