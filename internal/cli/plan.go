package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/repository"
	"github.com/loomworks/loom/manifest"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create, inspect, and drive plans",
}

var (
	scaffoldBase     string
	scaffoldTarget   string
	scaffoldParallel int
	scaffoldRepo     string
	scaffoldWorktree string
)

var planScaffoldCmd = &cobra.Command{
	Use:   "scaffold <name>",
	Short: "Create a new plan in scaffolding status",
	Long: `Create a new plan containing only the auto-managed snapshot-validation
node. Add nodes with "loom node add", then seal the plan with
"loom plan finalize".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)

		opts := repository.ScaffoldOptions{
			BaseBranch:   firstNonEmpty(scaffoldBase, e.cfg.BaseBranch),
			TargetBranch: firstNonEmpty(scaffoldTarget, e.cfg.TargetBranch),
			MaxParallel:  scaffoldParallel,
			RepoPath:     scaffoldRepo,
			WorktreeRoot: scaffoldWorktree,
		}
		if opts.MaxParallel == 0 {
			opts.MaxParallel = e.cfg.MaxParallel
		}
		p, err := e.repo.Scaffold(ctx, args[0], opts)
		if err != nil {
			return err
		}
		e.journalFor(p.ID()).Appendf("plan scaffolded: %s", args[0])

		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		PrintSuccess(fmt.Sprintf("Scaffolded plan %q", args[0]))
		PrintLabelValue("ID", p.ID())
		PrintLabelValue("Status", string(p.Meta.Status))
		return nil
	},
}

var planApplyCmd = &cobra.Command{
	Use:   "apply <manifest-file>",
	Short: "Scaffold, populate, and finalize a plan from a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)

		m, err := manifest.Load(ctx, args[0])
		if err != nil {
			return err
		}
		if m.BaseBranch == "" {
			m.BaseBranch = e.cfg.BaseBranch
		}
		if m.TargetBranch == "" {
			m.TargetBranch = e.cfg.TargetBranch
		}
		if m.MaxParallel == 0 {
			m.MaxParallel = e.cfg.MaxParallel
		}
		p, err := manifest.Apply(ctx, e.repo, m)
		if err != nil {
			return err
		}
		e.journalFor(p.ID()).Appendf("plan applied from %s", args[0])

		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		PrintSuccess(fmt.Sprintf("Applied plan %q (%d nodes)", m.Name, len(p.Meta.Nodes)))
		PrintLabelValue("ID", p.ID())
		PrintLabelValue("Status", string(p.Meta.Status))
		return nil
	},
}

var planFinalizeCmd = &cobra.Command{
	Use:   "finalize <plan-id>",
	Short: "Seal a scaffolding plan's topology and move it to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		p, err := e.repo.Finalize(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		e.journalFor(p.ID()).Append("plan finalized")

		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		PrintSuccess(fmt.Sprintf("Finalized plan %s (%d nodes)", args[0], len(p.Meta.Nodes)))
		return nil
	},
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		plans, err := e.repo.List(cmdContext(cmd))
		if err != nil {
			return err
		}

		if jsonOutput {
			metas := make([]plan.Metadata, 0, len(plans))
			for _, p := range plans {
				metas = append(metas, p.Meta)
			}
			return outputJSON(cmd, metas)
		}
		if len(plans) == 0 {
			PrintEmptyState("No plans found")
			return nil
		}
		rows := make([][]string, 0, len(plans))
		for _, p := range plans {
			rows = append(rows, []string{
				p.ID(),
				p.Meta.Name,
				string(p.Meta.Status),
				fmt.Sprintf("%d", len(p.Meta.Nodes)),
				p.Meta.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
		PrintTable([]string{"ID", "NAME", "STATUS", "NODES", "CREATED"}, rows)
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan's nodes and their execution state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		p, err := e.repo.GetDefinition(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		PrintSection(p.Meta.Name)
		PrintLabelValue("ID", p.ID())
		PrintLabelValue("Status", string(p.Meta.Status))
		PrintLabelValue("Base branch", p.Meta.BaseBranch)
		if p.Meta.TargetBranch != "" {
			PrintLabelValue("Target branch", p.Meta.TargetBranch)
		}
		if p.Meta.MaxParallel > 0 {
			PrintLabelValue("Max parallel", fmt.Sprintf("%d", p.Meta.MaxParallel))
		}
		fmt.Println()

		rows := make([][]string, 0, len(p.Meta.Nodes))
		for _, node := range p.Meta.Nodes {
			status, attempts := "-", "-"
			if state, ok := p.NodeState(node.ID); ok {
				status = string(state.Status)
				attempts = fmt.Sprintf("%d", state.Attempts)
			}
			rows = append(rows, []string{
				node.ProducerID,
				node.Group,
				strings.Join(dependencyNames(p, node), ","),
				status,
				attempts,
			})
		}
		PrintTable([]string{"NODE", "GROUP", "DEPENDS ON", "STATUS", "ATTEMPTS"}, rows)
		return nil
	},
}

// dependencyNames renders a node's dependencies as producer identifiers
// regardless of which identifier space the plan currently stores.
func dependencyNames(p *plan.Plan, node plan.Node) []string {
	names := make([]string, 0, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		if resolved, ok := p.Node(dep); ok {
			names = append(names, resolved.ProducerID)
			continue
		}
		names = append(names, dep)
	}
	return names
}

var planPauseCmd = &cobra.Command{
	Use:   "pause <plan-id>",
	Short: "Request a cooperative pause of a running plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		p, err := e.repo.Pause(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		e.journalFor(p.ID()).Append("pause requested")
		PrintSuccess(fmt.Sprintf("Plan %s is %s", args[0], p.Meta.Status))
		if p.Meta.Status == plan.StatusPausing {
			PrintWarning("Dispatched nodes run to completion before the plan settles to paused")
		}
		return nil
	},
}

var planResumeCmd = &cobra.Command{
	Use:   "resume <plan-id>",
	Short: "Lift a pause and return the plan to running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		p, err := e.repo.Resume(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		e.journalFor(p.ID()).Append("plan resumed")
		PrintSuccess(fmt.Sprintf("Plan %s is %s", args[0], p.Meta.Status))
		return nil
	},
}

var planCancelCmd = &cobra.Command{
	Use:   "cancel <plan-id>",
	Short: "Cancel a plan and mark its unfinished nodes canceled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		p, err := e.repo.Cancel(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		e.journalFor(p.ID()).Append("plan canceled")
		PrintSuccess(fmt.Sprintf("Plan %s is %s", args[0], p.Meta.Status))
		return nil
	},
}

var deleteTombstoneOnly bool

var planDeleteCmd = &cobra.Command{
	Use:   "delete <plan-id>",
	Short: "Delete a plan (tombstone first, then physical removal)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if deleteTombstoneOnly {
			e.repo.MarkDeletedSync(args[0])
			PrintWarning(fmt.Sprintf("Tombstone recorded for plan %s; cleanup happens on a later load", args[0]))
			return nil
		}
		e.journalFor(args[0]).Append("plan deleted")
		if err := e.repo.Delete(cmdContext(cmd), args[0]); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("Deleted plan %s", args[0]))
		return nil
	},
}

func init() {
	planScaffoldCmd.Flags().StringVar(&scaffoldBase, "base-branch", "", "Branch the plan's working snapshot is cut from")
	planScaffoldCmd.Flags().StringVar(&scaffoldTarget, "target-branch", "", "Branch the finished plan merges into")
	planScaffoldCmd.Flags().IntVar(&scaffoldParallel, "max-parallel", 0, "Upper bound on concurrently running nodes")
	planScaffoldCmd.Flags().StringVar(&scaffoldRepo, "repo", "", "Path of the git repository the plan works in")
	planScaffoldCmd.Flags().StringVar(&scaffoldWorktree, "worktree", "", "Root of the plan's working tree")

	planDeleteCmd.Flags().BoolVar(&deleteTombstoneOnly, "tombstone-only", false, "Only record the deletion tombstone, defer physical removal")

	planCmd.AddCommand(planScaffoldCmd)
	planCmd.AddCommand(planApplyCmd)
	planCmd.AddCommand(planFinalizeCmd)
	planCmd.AddCommand(planRunCmd)
	planCmd.AddCommand(planListCmd)
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planPauseCmd)
	planCmd.AddCommand(planResumeCmd)
	planCmd.AddCommand(planCancelCmd)
	planCmd.AddCommand(planDeleteCmd)
}
