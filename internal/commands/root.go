package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivazin/kapitalbank-uz-export/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "kbexport",
		Short:   "Export Kapitalbank UZ transaction history to a spreadsheet",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newExportCommand())

	return rootCmd
}
