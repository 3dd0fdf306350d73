package manifest

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/plan"
)

// varsPass splits the vars block off so its values can feed the evaluation
// context for the rest of the file.
type varsPass struct {
	Vars   *varsBlock `hcl:"vars,block"`
	Remain hcl.Body   `hcl:",remain"`
}

type varsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type hclManifest struct {
	Plan  *hclPlan   `hcl:"plan,block"`
	Nodes []*hclNode `hcl:"node,block"`
}

type hclPlan struct {
	Name         string   `hcl:"name,label"`
	BaseBranch   string   `hcl:"base_branch,optional"`
	TargetBranch string   `hcl:"target_branch,optional"`
	MaxParallel  int      `hcl:"max_parallel,optional"`
	RepoPath     string   `hcl:"repo_path,optional"`
	WorktreeRoot string   `hcl:"worktree_root,optional"`
	Validation   *hclSpec `hcl:"validation,block"`
}

type hclNode struct {
	Producer         string   `hcl:"producer,label"`
	Name             string   `hcl:"name,optional"`
	Description      string   `hcl:"description,optional"`
	Group            string   `hcl:"group,optional"`
	DependsOn        []string `hcl:"depends_on,optional"`
	AutoHeal         bool     `hcl:"auto_heal,optional"`
	ExpectsNoChanges bool     `hcl:"expects_no_changes,optional"`
	Prechecks        *hclSpec `hcl:"prechecks,block"`
	Work             *hclSpec `hcl:"work,block"`
	Postchecks       *hclSpec `hcl:"postchecks,block"`
}

type hclSpec struct {
	Agent   *hclAgentSpec   `hcl:"agent,block"`
	Shell   *hclShellSpec   `hcl:"shell,block"`
	Process *hclProcessSpec `hcl:"process,block"`
}

type hclAgentSpec struct {
	Instructions string `hcl:"instructions"`
}

type hclShellSpec struct {
	Command string            `hcl:"command"`
	Dir     string            `hcl:"dir,optional"`
	Env     map[string]string `hcl:"env,optional"`
}

type hclProcessSpec struct {
	Path string            `hcl:"path"`
	Args []string          `hcl:"args,optional"`
	Dir  string            `hcl:"dir,optional"`
	Env  map[string]string `hcl:"env,optional"`
}

func parseHCL(data []byte, path string) (Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return Manifest{}, fmt.Errorf("manifest: parse %s: %s", path, diags.Error())
	}

	var pass varsPass
	if diags := gohcl.DecodeBody(file.Body, nil, &pass); diags.HasErrors() {
		return Manifest{}, fmt.Errorf("manifest: decode %s: %s", path, diags.Error())
	}
	evalCtx, err := buildEvalContext(pass.Vars)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %s: %w", path, err)
	}

	var decoded hclManifest
	if diags := gohcl.DecodeBody(pass.Remain, evalCtx, &decoded); diags.HasErrors() {
		return Manifest{}, fmt.Errorf("manifest: decode %s: %s", path, diags.Error())
	}
	if decoded.Plan == nil {
		return Manifest{}, fmt.Errorf("manifest: %s has no plan block", path)
	}

	validation, err := decoded.Plan.Validation.toSpec(fmt.Sprintf("validation block of plan %q", decoded.Plan.Name))
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %s: %w", path, err)
	}
	m := Manifest{
		Name:         decoded.Plan.Name,
		BaseBranch:   decoded.Plan.BaseBranch,
		TargetBranch: decoded.Plan.TargetBranch,
		MaxParallel:  decoded.Plan.MaxParallel,
		RepoPath:     decoded.Plan.RepoPath,
		WorktreeRoot: decoded.Plan.WorktreeRoot,
		Validation:   validation,
	}
	for _, raw := range decoded.Nodes {
		node, err := raw.toNode()
		if err != nil {
			return Manifest{}, fmt.Errorf("manifest: %s: %w", path, err)
		}
		m.Nodes = append(m.Nodes, node)
	}
	return m, nil
}

// buildEvalContext evaluates the vars block into the var.* namespace. Vars
// must be literal values; they cannot reference other vars.
func buildEvalContext(vars *varsBlock) (*hcl.EvalContext, error) {
	values := map[string]cty.Value{}
	if vars != nil {
		attrs, diags := vars.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("read vars block: %s", diags.Error())
		}
		for name, attr := range attrs {
			val, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("evaluate var %s: %s", name, diags.Error())
			}
			values[name] = val
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(values)},
	}, nil
}

func (n *hclNode) toNode() (plan.Node, error) {
	node := plan.Node{
		ProducerID:       n.Producer,
		Name:             n.Name,
		Description:      n.Description,
		Group:            n.Group,
		DependsOn:        n.DependsOn,
		AutoHeal:         n.AutoHeal,
		ExpectsNoChanges: n.ExpectsNoChanges,
	}
	if node.Name == "" {
		node.Name = n.Producer
	}
	var err error
	if node.Prechecks, err = n.Prechecks.toSpec(fmt.Sprintf("prechecks block of node %q", n.Producer)); err != nil {
		return plan.Node{}, err
	}
	if node.Work, err = n.Work.toSpec(fmt.Sprintf("work block of node %q", n.Producer)); err != nil {
		return plan.Node{}, err
	}
	if node.Postchecks, err = n.Postchecks.toSpec(fmt.Sprintf("postchecks block of node %q", n.Producer)); err != nil {
		return plan.Node{}, err
	}
	return node, nil
}

func (s *hclSpec) toSpec(where string) (*plan.Spec, error) {
	if s == nil {
		return nil, nil
	}
	populated := 0
	if s.Agent != nil {
		populated++
	}
	if s.Shell != nil {
		populated++
	}
	if s.Process != nil {
		populated++
	}
	if populated != 1 {
		return nil, fmt.Errorf("%s needs exactly one of agent, shell, or process", where)
	}
	switch {
	case s.Agent != nil:
		return &plan.Spec{Kind: plan.SpecAgent, Agent: &plan.AgentSpec{Instructions: s.Agent.Instructions}}, nil
	case s.Shell != nil:
		return &plan.Spec{Kind: plan.SpecShell, Shell: &plan.ShellSpec{Command: s.Shell.Command, Dir: s.Shell.Dir, Env: s.Shell.Env}}, nil
	default:
		return &plan.Spec{Kind: plan.SpecProcess, Process: &plan.ProcessSpec{Path: s.Process.Path, Args: s.Process.Args, Dir: s.Process.Dir, Env: s.Process.Env}}, nil
	}
}
