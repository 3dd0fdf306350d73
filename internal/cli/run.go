package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/executor/local"
	"github.com/loomworks/loom/internal/plan"
)

var runAgentRunner string

var planRunCmd = &cobra.Command{
	Use:   "run <plan-id>",
	Short: "Execute a pending plan with the local executors",
	Long: `Execute a pending plan: shell and process specifications run directly,
agent specifications are piped to the command given with --agent-runner.
Plans carrying agent specifications fail their nodes when no runner is
configured.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)
		planID := args[0]

		registry := executor.NewRegistry()
		registry.MustRegister(plan.SpecShell, local.ShellExecutor{})
		registry.MustRegister(plan.SpecProcess, local.ProcessExecutor{})
		if strings.TrimSpace(runAgentRunner) != "" {
			agent, err := local.NewAgentExecutor(strings.Fields(runAgentRunner))
			if err != nil {
				return err
			}
			registry.MustRegister(plan.SpecAgent, agent)
		}
		dispatcher, err := executor.NewDispatcher(e.repo, registry)
		if err != nil {
			return err
		}

		e.journalFor(planID).Append("plan run started")
		p, err := dispatcher.RunPlan(ctx, planID)
		if err != nil {
			return err
		}
		e.journalFor(planID).Appendf("plan run stopped: %s", p.Meta.Status)

		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		switch p.Meta.Status {
		case plan.StatusSucceeded:
			PrintSuccess(fmt.Sprintf("Plan %s succeeded", planID))
			return nil
		case plan.StatusFailed:
			return fmt.Errorf("plan %s failed; inspect it with \"loom plan show %s\"", planID, planID)
		default:
			PrintWarning(fmt.Sprintf("Plan %s stopped while %s", planID, p.Meta.Status))
			return nil
		}
	},
}

func init() {
	planRunCmd.Flags().StringVar(&runAgentRunner, "agent-runner", "", "Command that executes agent instructions read from stdin")
}
