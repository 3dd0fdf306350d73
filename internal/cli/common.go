package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/journal"
	"github.com/loomworks/loom/internal/plan/repository"
	"github.com/loomworks/loom/internal/storage"
)

// logger is built per invocation by newEnv so the log level can come from
// the project config when the flag is not set.
var logger *slog.Logger

// env bundles the wiring every command needs: the resolved project root, its
// config, the file store, and the plan repository on top.
type env struct {
	root  string
	cfg   config.Config
	store *storage.FileStore
	repo  *repository.Repository
}

// newEnv resolves the project root and wires the repository to its file
// store.
func newEnv() (*env, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	logger = ctxlog.New(firstNonEmpty(flagLogLevel, cfg.LogLevel), flagLogFormat, os.Stderr)
	store, err := storage.NewFileStore(config.DataDir(root))
	if err != nil {
		return nil, err
	}
	repo, err := repository.New(store, repository.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &env{root: root, cfg: cfg, store: store, repo: repo}, nil
}

// projectRoot honors the --root flag first, then LOOM_ROOT, then the
// working directory.
func projectRoot() (string, error) {
	if strings.TrimSpace(flagRoot) != "" {
		return filepath.Clean(flagRoot), nil
	}
	return config.ResolveRoot()
}

// cmdContext returns the command's context with the logger attached.
func cmdContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if logger != nil {
		ctx = ctxlog.WithLogger(ctx, logger)
	}
	return ctx
}

// journalFor opens the journal stored next to a plan's metadata. Journals
// are best-effort; the nil journal returned on failure swallows writes.
func (e *env) journalFor(planID string) *journal.Journal {
	j, err := journal.ForPlan(e.store.PlanDir(planID))
	if err != nil {
		return nil
	}
	return j
}

// outputJSON writes a value as indented JSON to the command's stdout.
func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
