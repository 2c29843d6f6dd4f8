// Package runner executes recipe plans step by step.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lemon07r/crank/internal/config"
	errsummary "github.com/lemon07r/crank/internal/errors"
	"github.com/lemon07r/crank/internal/recipe"
	"github.com/lemon07r/crank/internal/result"
	"github.com/lemon07r/crank/internal/sweep"
)

var headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)

// StepError reports the leaf step that stopped a run.
type StepError struct {
	Recipe   string // Recipe chain, e.g. "checks > clippy"
	Step     string // Display form of the step
	ExitCode int
	Err      error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Recipe, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %s: exit code %d", e.Recipe, e.Step, e.ExitCode)
}

func (e *StepError) Unwrap() error { return e.Err }

// ContainerStarter creates the executor used for container steps.
type ContainerStarter func(ctx context.Context) (Executor, error)

// Runner orchestrates recipe execution.
type Runner struct {
	cfg    *config.Config
	book   *recipe.Book
	root   string
	out    io.Writer
	logger *slog.Logger

	host           Executor
	startContainer ContainerStarter
}

// NewRunner creates a runner for the configured workspace. Step output and
// status lines are written to out.
func NewRunner(cfg *config.Config, book *recipe.Book, out io.Writer, logger *slog.Logger) (*Runner, error) {
	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	r := &Runner{
		cfg:    cfg,
		book:   book,
		root:   root,
		out:    out,
		logger: logger,
		host: &HostExecutor{
			Dir:            root,
			MaxOutputBytes: cfg.Runner.MaxOutputBytes,
		},
	}
	r.startContainer = r.defaultContainer
	return r, nil
}

// Root returns the absolute workspace root.
func (r *Runner) Root() string {
	return r.root
}

// Book returns the recipe book the runner resolves names against.
func (r *Runner) Book() *recipe.Book {
	return r.book
}

// SetContainerStarter overrides how container executors are created.
func (r *Runner) SetContainerStarter(fn ContainerStarter) {
	r.startContainer = fn
}

func (r *Runner) defaultContainer(ctx context.Context) (Executor, error) {
	r.logger.Info("starting container", "image", r.cfg.Docker.Image)
	return StartContainerExecutor(ctx, ContainerOptions{
		Image:          r.cfg.Docker.Image,
		AutoPull:       r.cfg.Docker.AutoPull,
		WorkspaceDir:   r.root,
		CacheDir:       r.abs(r.cfg.Docker.CacheDir),
		Name:           fmt.Sprintf("crank-%d", time.Now().UnixNano()),
		MaxOutputBytes: r.cfg.Runner.MaxOutputBytes,
	})
}

func (r *Runner) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.root, path)
}

// RunDir returns the absolute directory run records are written to.
func (r *Runner) RunDir() string {
	return r.abs(r.cfg.Runner.RunDir)
}

// RunOptions configures a recipe run.
type RunOptions struct {
	Recipe    string
	DryRun    bool // Print the plan without executing
	Container bool // Run every exec step in the container
	Record    bool // Persist the run record
}

// Plan resolves and flattens a recipe with the configured placeholders.
func (r *Runner) Plan(name string) (*recipe.Plan, error) {
	return r.book.Plan(name, r.cfg.Vars())
}

// Run executes the recipe's plan in order and stops at the first failing
// step. Later steps are recorded as skipped. The returned error wraps a
// *StepError when a step failed. For a dry run the returned record is nil.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*result.Run, error) {
	plan, err := r.Plan(opts.Recipe)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		r.printPlan(plan, opts.Container)
		return nil, nil
	}

	needContainer := false
	for _, leaf := range plan.Leaves {
		if leaf.Step.Kind() == recipe.KindRun && (leaf.Container || opts.Container) {
			needContainer = true
		}
	}

	run := result.NewRun(plan.Recipe, result.RunConfig{
		Root:      r.root,
		Container: needContainer,
		Image:     imageIf(needContainer, r.cfg.Docker.Image),
		Timeout:   r.cfg.Runner.StepTimeout,
	})
	run.PlanDigest = result.DigestPlan(plan.Commands())
	run.Lockfiles.Before = r.Lockfiles()

	var container Executor
	defer func() {
		if container != nil {
			r.logger.Debug("removing container")
			if err := container.Close(); err != nil {
				r.logger.Warn("failed to remove container", "error", err)
			}
		}
	}()

	var stepErr *StepError
	for _, leaf := range plan.Leaves {
		sr := stepRecord{StepResult: result.StepResult{
			Chain:   leaf.Label(),
			Command: leaf.Step.String(),
		}}

		if stepErr != nil {
			sr.Status = result.StatusSkipped
			run.AddStep(sr.StepResult)
			r.print(result.FormatStep(sr.StepResult))
			continue
		}

		var ex Executor = r.host
		if leaf.Step.Kind() == recipe.KindRun && (leaf.Container || opts.Container) {
			if container == nil {
				container, err = r.startContainer(ctx)
				if err != nil {
					container = nil
					sr.Status = result.StatusError
					sr.ExitCode = 1
					sr.Output = err.Error()
					run.AddStep(sr.StepResult)
					r.print(result.FormatStep(sr.StepResult))
					stepErr = &StepError{Recipe: sr.Chain, Step: sr.Command, ExitCode: 1, Err: err}
					continue
				}
			}
			ex = container
		}

		r.print(headerStyle.Render("==> "+sr.Chain) + " " + sr.Command + "\n")
		r.runLeaf(ctx, leaf, ex, &sr)
		added := run.AddStep(sr.StepResult)
		r.print(result.FormatStep(*added))

		if sr.Status != result.StatusPass {
			code := sr.ExitCode
			if code <= 0 {
				code = 1
			}
			stepErr = &StepError{Recipe: sr.Chain, Step: sr.Command, ExitCode: code, Err: sr.err}
		}
	}

	run.Lockfiles.After = r.Lockfiles()
	run.Lockfiles.Changed = sweep.Changed(run.Lockfiles.Before, run.Lockfiles.After)

	switch {
	case stepErr == nil:
		run.Complete(result.StatusPass)
	case ctx.Err() != nil:
		run.Complete(result.StatusInterrupted)
	case stepErr.Err != nil:
		run.Complete(result.StatusError)
	default:
		run.Complete(result.StatusFail)
	}

	if opts.Record && r.cfg.Runner.Record {
		if err := run.Save(r.RunDir()); err != nil {
			r.logger.Error("failed to save run", "error", err)
		}
	}

	if stepErr != nil {
		return run, stepErr
	}
	return run, nil
}

// stepRecord is a step result plus the error that ended it, if any.
type stepRecord struct {
	result.StepResult
	err error
}

func (s *stepRecord) fail(status result.Status, code int, err error) {
	s.Status = status
	s.ExitCode = code
	s.err = err
}

// runLeaf executes a single leaf step and fills in sr.
func (r *Runner) runLeaf(ctx context.Context, leaf recipe.Leaf, ex Executor, sr *stepRecord) {
	start := time.Now()
	defer func() { sr.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		sr.fail(result.StatusInterrupted, -1, err)
		return
	}

	switch leaf.Step.Kind() {
	case recipe.KindRun:
		res, err := ex.Exec(ctx, leaf.Step.Run, r.out, r.cfg.StepTimeout())
		if res != nil {
			sr.Output = res.Combined
			sr.Truncated = res.Truncated
			sr.ExitCode = res.ExitCode
		}
		switch {
		case err != nil && ctx.Err() != nil:
			sr.fail(result.StatusInterrupted, -1, err)
		case err != nil:
			code := sr.ExitCode
			if errors.Is(err, ErrCommandNotFound) {
				code = exitCodeNotFound
				sr.Output += fmt.Sprintf("%s: command not found; is it installed and on PATH?\n", leaf.Step.Run[0])
			}
			sr.fail(result.StatusError, code, err)
		case res.ExitCode != 0:
			sr.Status = result.StatusFail
		default:
			sr.Status = result.StatusPass
		}
		if sr.Status != result.StatusPass {
			sr.ErrorSummary = errsummary.NewSummarizer(errsummary.ToolFor(leaf.Step.Run)).Summarize(sr.Output)
		}

	case recipe.KindRemoveDirs, recipe.KindRemoveFiles:
		paths, err := r.Targets(leaf.Step)
		r.finishRemoval(sr, paths, err)

	case recipe.KindBuiltin:
		var sb strings.Builder
		if err := r.builtin(leaf.Step.Builtin, &sb); err != nil {
			sr.fail(result.StatusError, 1, err)
		} else {
			sr.Status = result.StatusPass
		}
		sr.Output = sb.String()
		r.print(sr.Output)

	default:
		sr.fail(result.StatusError, 1, fmt.Errorf("cannot execute step %s", leaf.Step))
	}
}

func (r *Runner) finishRemoval(sr *stepRecord, paths []string, findErr error) {
	if findErr != nil {
		sr.fail(result.StatusError, 1, findErr)
		return
	}

	removed, err := sweep.Remove(paths)
	var sb strings.Builder
	for _, p := range removed {
		fmt.Fprintf(&sb, "removed %s\n", r.rel(p))
	}
	if len(paths) == 0 {
		sb.WriteString("nothing to remove\n")
	}
	sr.Output = sb.String()
	r.print(sr.Output)

	if err != nil {
		sr.Output += err.Error() + "\n"
		sr.ErrorSummary = strings.Split(err.Error(), "\n")
		sr.fail(result.StatusError, 1, err)
		return
	}
	sr.Status = result.StatusPass
}

func (r *Runner) builtin(name string, w io.Writer) error {
	switch name {
	case recipe.BuiltinList:
		return WriteRecipeTable(w, r.book)
	default:
		return fmt.Errorf("unknown builtin %q", name)
	}
}

// stateDirs are crank's own run and cache directories. Sweeps never enter
// them.
func (r *Runner) stateDirs() []string {
	return []string{r.RunDir(), r.abs(r.cfg.Docker.CacheDir)}
}

// Targets returns the absolute paths a removal step would delete. File
// searches also skip build output directories, which hold packaged copies
// of workspace lockfiles.
func (r *Runner) Targets(step recipe.Step) ([]string, error) {
	switch step.Kind() {
	case recipe.KindRemoveDirs:
		return sweep.FindDirs(r.root, step.RemoveDirs, r.stateDirs()...)
	case recipe.KindRemoveFiles:
		skip := append(r.stateDirs(), r.cfg.Workspace.TargetDir)
		return sweep.FindFiles(r.root, step.RemoveFiles, skip...)
	default:
		return nil, fmt.Errorf("step %s removes nothing", step)
	}
}

// Lockfiles returns the BLAKE3 fingerprint of every lockfile below the
// workspace root, keyed by path relative to the root.
func (r *Runner) Lockfiles() map[string]string {
	paths, err := r.Targets(recipe.Step{RemoveFiles: r.cfg.Workspace.Lockfile})
	if err != nil {
		r.logger.Debug("finding lockfiles", "error", err)
		return nil
	}
	sums, err := sweep.Fingerprint(paths)
	if err != nil {
		r.logger.Debug("fingerprinting lockfiles", "error", err)
		return nil
	}
	rel := make(map[string]string, len(sums))
	for p, sum := range sums {
		rel[r.rel(p)] = sum
	}
	return rel
}

func (r *Runner) rel(path string) string {
	if rel, err := filepath.Rel(r.root, path); err == nil {
		return rel
	}
	return path
}

func (r *Runner) printPlan(plan *recipe.Plan, container bool) {
	r.print(fmt.Sprintf("Plan for %s (%d steps):\n", plan.Recipe, len(plan.Leaves)))
	for i, leaf := range plan.Leaves {
		where := ""
		if leaf.Step.Kind() == recipe.KindRun && (leaf.Container || container) {
			where = " [container]"
		}
		r.print(fmt.Sprintf("  %d. %s: %s%s\n", i+1, leaf.Label(), leaf.Step, where))
	}
}

func (r *Runner) print(s string) {
	if r.out != nil {
		_, _ = io.WriteString(r.out, s)
	}
}

func imageIf(ok bool, image string) string {
	if ok {
		return image
	}
	return ""
}
