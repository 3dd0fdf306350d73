package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/storage"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Project bootstrap and maintenance",
}

var opsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .loom directory structure and a default config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		if err := config.EnsureProject(root); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("Initialized loom project in %s", config.DataDir(root)))
		return nil
	},
}

var opsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade persisted plan metadata to the current schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if err := e.repo.MigrateLegacy(cmdContext(cmd)); err != nil {
			return err
		}
		PrintSuccess("Plan metadata migrated to the current schema")
		return nil
	},
}

var journalLines int

var opsJournalCmd = &cobra.Command{
	Use:   "journal <plan-id>",
	Short: "Print the most recent journal entries of a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		exists, err := e.store.Exists(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("plan %s: %w", args[0], storage.ErrPlanNotFound)
		}
		lines := e.journalFor(args[0]).Tail(journalLines)
		if len(lines) == 0 {
			PrintEmptyState("No journal entries")
			return nil
		}
		for _, line := range lines {
			PrintInfo(line)
		}
		return nil
	},
}

func init() {
	opsJournalCmd.Flags().IntVarP(&journalLines, "lines", "n", 20, "Number of entries to print")

	opsCmd.AddCommand(opsInitCmd)
	opsCmd.AddCommand(opsMigrateCmd)
	opsCmd.AddCommand(opsJournalCmd)
}
