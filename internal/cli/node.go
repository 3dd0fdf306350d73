package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/plan"
	"github.com/loomworks/loom/internal/plan/repository"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Shape a scaffolding plan's nodes",
}

var (
	addName      string
	addDesc      string
	addDeps      []string
	addGroup     string
	addShell     string
	addAgent     string
	addAgentFile string
	addProcess   string
	addArgs      []string
	addAutoHeal  bool
	addNoChanges bool
)

var nodeAddCmd = &cobra.Command{
	Use:   "add <plan-id> <producer-id>",
	Short: "Add a node to a scaffolding plan",
	Long: `Add a node to a scaffolding plan. The work specification comes from one
of --shell, --agent, --agent-file, or --process; prechecks and postchecks
are attached separately with "loom node spec".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		work, err := buildWorkSpec()
		if err != nil {
			return err
		}
		node := plan.Node{
			ProducerID:       args[1],
			Name:             firstNonEmpty(addName, args[1]),
			Description:      addDesc,
			DependsOn:        append([]string(nil), addDeps...),
			Group:            addGroup,
			Work:             work,
			AutoHeal:         addAutoHeal,
			ExpectsNoChanges: addNoChanges,
		}
		p, err := e.repo.AddNode(cmdContext(cmd), args[0], node)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		PrintSuccess(fmt.Sprintf("Added node %q (%d nodes total)", args[1], len(p.Meta.Nodes)))
		return nil
	},
}

// buildWorkSpec turns the mutually exclusive work flags into a specification.
func buildWorkSpec() (*plan.Spec, error) {
	var specs []*plan.Spec
	if strings.TrimSpace(addShell) != "" {
		specs = append(specs, &plan.Spec{Kind: plan.SpecShell, Shell: &plan.ShellSpec{Command: addShell}})
	}
	if strings.TrimSpace(addAgent) != "" || strings.TrimSpace(addAgentFile) != "" {
		instructions := addAgent
		if strings.TrimSpace(addAgentFile) != "" {
			data, err := os.ReadFile(addAgentFile)
			if err != nil {
				return nil, fmt.Errorf("read agent instructions: %w", err)
			}
			instructions = string(data)
		}
		specs = append(specs, &plan.Spec{Kind: plan.SpecAgent, Agent: &plan.AgentSpec{Instructions: instructions}})
	}
	if strings.TrimSpace(addProcess) != "" {
		specs = append(specs, &plan.Spec{Kind: plan.SpecProcess, Process: &plan.ProcessSpec{Path: addProcess, Args: append([]string(nil), addArgs...)}})
	}
	switch len(specs) {
	case 0:
		return nil, nil
	case 1:
		return specs[0], nil
	default:
		return nil, fmt.Errorf("choose one of --shell, --agent/--agent-file, or --process")
	}
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove <plan-id> <producer-id>",
	Short: "Remove a node from a scaffolding plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		p, err := e.repo.RemoveNode(cmdContext(cmd), args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		PrintSuccess(fmt.Sprintf("Removed node %q (%d nodes remain)", args[1], len(p.Meta.Nodes)))
		return nil
	},
}

var (
	updName      string
	updDesc      string
	updDeps      []string
	updGroup     string
	updAutoHeal  bool
	updNoChanges bool
)

var nodeUpdateCmd = &cobra.Command{
	Use:   "update <plan-id> <producer-id>",
	Short: "Update fields of a node in a scaffolding plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		var update repository.NodeUpdate
		flags := cmd.Flags()
		if flags.Changed("name") {
			update.Name = &updName
		}
		if flags.Changed("desc") {
			update.Description = &updDesc
		}
		if flags.Changed("deps") {
			deps := append([]string(nil), updDeps...)
			update.DependsOn = &deps
		}
		if flags.Changed("group") {
			update.Group = &updGroup
		}
		if flags.Changed("auto-heal") {
			update.AutoHeal = &updAutoHeal
		}
		if flags.Changed("expects-no-changes") {
			update.ExpectsNoChanges = &updNoChanges
		}
		p, err := e.repo.UpdateNode(cmdContext(cmd), args[0], args[1], update)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, p.Meta)
		}
		PrintSuccess(fmt.Sprintf("Updated node %q", args[1]))
		return nil
	},
}

var specFile string

var nodeSpecCmd = &cobra.Command{
	Use:   "spec <plan-id> <node> [phase]",
	Short: "Read a node's specifications, or write one phase from a file",
	Long: `Without --file, print the node's resolved specifications. With --file
and a phase (work, prechecks, postchecks), store the specification read
from the given JSON or YAML file.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)

		if strings.TrimSpace(specFile) == "" {
			specs, err := e.repo.NodeSpecs(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return outputJSON(cmd, specs)
		}
		if len(args) < 3 {
			return fmt.Errorf("writing a spec requires a phase argument (work, prechecks, postchecks)")
		}

		data, err := os.ReadFile(specFile)
		if err != nil {
			return fmt.Errorf("read spec file: %w", err)
		}
		var spec plan.Spec
		switch ext := strings.ToLower(filepath.Ext(specFile)); ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &spec)
		default:
			err = json.Unmarshal(data, &spec)
		}
		if err != nil {
			return fmt.Errorf("parse spec file %s: %w", specFile, err)
		}
		if err := e.repo.WriteNodeSpec(ctx, args[0], args[1], plan.Phase(args[2]), &spec); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("Stored %s spec for node %q", args[2], args[1]))
		return nil
	},
}

func init() {
	nodeAddCmd.Flags().StringVar(&addName, "name", "", "Display name (defaults to the producer id)")
	nodeAddCmd.Flags().StringVar(&addDesc, "desc", "", "Task description")
	nodeAddCmd.Flags().StringSliceVar(&addDeps, "deps", nil, "Producer ids this node depends on")
	nodeAddCmd.Flags().StringVar(&addGroup, "group", "", "Slash-delimited group path, e.g. backend/api")
	nodeAddCmd.Flags().StringVar(&addShell, "shell", "", "Work phase as a shell command line")
	nodeAddCmd.Flags().StringVar(&addAgent, "agent", "", "Work phase as inline agent instructions")
	nodeAddCmd.Flags().StringVar(&addAgentFile, "agent-file", "", "Work phase as agent instructions read from a file")
	nodeAddCmd.Flags().StringVar(&addProcess, "process", "", "Work phase as a subprocess executable path")
	nodeAddCmd.Flags().StringSliceVar(&addArgs, "args", nil, "Arguments for --process")
	nodeAddCmd.Flags().BoolVar(&addAutoHeal, "auto-heal", false, "Retry the node automatically on failure")
	nodeAddCmd.Flags().BoolVar(&addNoChanges, "expects-no-changes", false, "Flag the node as expecting no file changes")

	nodeUpdateCmd.Flags().StringVar(&updName, "name", "", "New display name")
	nodeUpdateCmd.Flags().StringVar(&updDesc, "desc", "", "New task description")
	nodeUpdateCmd.Flags().StringSliceVar(&updDeps, "deps", nil, "Replacement dependency list")
	nodeUpdateCmd.Flags().StringVar(&updGroup, "group", "", "New group path")
	nodeUpdateCmd.Flags().BoolVar(&updAutoHeal, "auto-heal", false, "Retry the node automatically on failure")
	nodeUpdateCmd.Flags().BoolVar(&updNoChanges, "expects-no-changes", false, "Flag the node as expecting no file changes")

	nodeSpecCmd.Flags().StringVar(&specFile, "file", "", "JSON or YAML file holding the specification to store")

	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
	nodeCmd.AddCommand(nodeUpdateCmd)
	nodeCmd.AddCommand(nodeSpecCmd)
}
