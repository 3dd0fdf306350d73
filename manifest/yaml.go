package manifest

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/plan"
)

type yamlManifest struct {
	Plan  yamlPlan   `yaml:"plan"`
	Nodes []yamlNode `yaml:"nodes"`
}

type yamlPlan struct {
	Name         string     `yaml:"name"`
	BaseBranch   string     `yaml:"base_branch"`
	TargetBranch string     `yaml:"target_branch"`
	MaxParallel  int        `yaml:"max_parallel"`
	RepoPath     string     `yaml:"repo_path"`
	WorktreeRoot string     `yaml:"worktree_root"`
	Validation   *plan.Spec `yaml:"validation"`
}

type yamlNode struct {
	Producer         string     `yaml:"producer"`
	Name             string     `yaml:"name"`
	Description      string     `yaml:"description"`
	Group            string     `yaml:"group"`
	DependsOn        []string   `yaml:"depends_on"`
	AutoHeal         bool       `yaml:"auto_heal"`
	ExpectsNoChanges bool       `yaml:"expects_no_changes"`
	Prechecks        *plan.Spec `yaml:"prechecks"`
	Work             *plan.Spec `yaml:"work"`
	Postchecks       *plan.Spec `yaml:"postchecks"`
}

func parseYAML(data []byte, path string) (Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Manifest{}, fmt.Errorf("manifest: %s is empty", path)
	}
	var doc yamlManifest
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode %s: %w", path, err)
	}

	m := Manifest{
		Name:         doc.Plan.Name,
		BaseBranch:   doc.Plan.BaseBranch,
		TargetBranch: doc.Plan.TargetBranch,
		MaxParallel:  doc.Plan.MaxParallel,
		RepoPath:     doc.Plan.RepoPath,
		WorktreeRoot: doc.Plan.WorktreeRoot,
		Validation:   doc.Plan.Validation,
	}
	for _, raw := range doc.Nodes {
		node := plan.Node{
			ProducerID:       raw.Producer,
			Name:             raw.Name,
			Description:      raw.Description,
			Group:            raw.Group,
			DependsOn:        raw.DependsOn,
			AutoHeal:         raw.AutoHeal,
			ExpectsNoChanges: raw.ExpectsNoChanges,
			Prechecks:        raw.Prechecks,
			Work:             raw.Work,
			Postchecks:       raw.Postchecks,
		}
		if node.Name == "" {
			node.Name = raw.Producer
		}
		m.Nodes = append(m.Nodes, node)
	}
	return m, nil
}
