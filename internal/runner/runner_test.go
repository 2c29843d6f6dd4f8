package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon07r/crank/internal/config"
	"github.com/lemon07r/crank/internal/recipe"
	"github.com/lemon07r/crank/internal/result"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func sh(script string) recipe.Step {
	return recipe.Step{Run: []string{"sh", "-c", script}}
}

func testConfig(root string) *config.Config {
	cfg := config.Default
	cfg.Workspace.Root = root
	cfg.Runner.RunDir = filepath.Join(root, ".crank", "runs")
	return &cfg
}

func newTestRunner(t *testing.T, root string, book *recipe.Book, out io.Writer) *Runner {
	t.Helper()
	require.NoError(t, book.Validate())
	r, err := NewRunner(testConfig(root), book, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

// failFastBook has a composite that fails in its second recipe.
func failFastBook(t *testing.T) *recipe.Book {
	t.Helper()
	b := recipe.NewBook()
	require.NoError(t, b.Add(recipe.Recipe{Name: "one", Steps: []recipe.Step{sh("echo one")}}))
	require.NoError(t, b.Add(recipe.Recipe{Name: "two", Steps: []recipe.Step{sh("echo boom >&2; exit 3")}}))
	require.NoError(t, b.Add(recipe.Recipe{Name: "three", Steps: []recipe.Step{sh("touch three.marker")}}))
	require.NoError(t, b.Add(recipe.Recipe{Name: "all", Steps: []recipe.Step{
		{Call: "one"}, {Call: "two"}, {Call: "three"},
	}}))
	return b
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	requireShell(t)
	t.Parallel()

	root := t.TempDir()
	var out bytes.Buffer
	r := newTestRunner(t, root, failFastBook(t), &out)

	run, err := r.Run(context.Background(), RunOptions{Recipe: "all", Record: true})
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "all > two", stepErr.Recipe)
	assert.Equal(t, 3, stepErr.ExitCode)

	require.NotNil(t, run)
	assert.Equal(t, result.StatusFail, run.Status)
	require.Len(t, run.Steps, 3)
	assert.Equal(t, result.StatusPass, run.Steps[0].Status)
	assert.Equal(t, result.StatusFail, run.Steps[1].Status)
	assert.Contains(t, run.Steps[1].Output, "boom")
	assert.Equal(t, result.StatusSkipped, run.Steps[2].Status)

	assert.NoFileExists(t, filepath.Join(root, "three.marker"), "skipped step must not run")
	assert.Contains(t, out.String(), "one")

	assert.FileExists(t, filepath.Join(r.RunDir(), run.ID, "result.json"))
}

func TestRunPasses(t *testing.T) {
	requireShell(t)
	t.Parallel()

	root := t.TempDir()
	b := recipe.NewBook()
	require.NoError(t, b.Add(recipe.Recipe{Name: "ok", Steps: []recipe.Step{sh("true"), sh("echo done")}}))
	r := newTestRunner(t, root, b, io.Discard)

	run, err := r.Run(context.Background(), RunOptions{Recipe: "ok"})
	require.NoError(t, err)
	assert.True(t, run.Passed())
	assert.Len(t, run.Steps, 2)
	assert.NotEmpty(t, run.PlanDigest)

	// Record was not requested
	assert.NoDirExists(t, r.RunDir())
}

func TestRunCommandNotFound(t *testing.T) {
	t.Parallel()

	b := recipe.NewBook()
	require.NoError(t, b.Add(recipe.Recipe{Name: "missing", Steps: []recipe.Step{
		{Run: []string{"crank-definitely-not-installed", "--all"}},
	}}))
	r := newTestRunner(t, t.TempDir(), b, io.Discard)

	run, err := r.Run(context.Background(), RunOptions{Recipe: "missing"})
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 127, stepErr.ExitCode)
	assert.True(t, errors.Is(err, ErrCommandNotFound))
	assert.Equal(t, result.StatusError, run.Status)
	assert.Contains(t, run.Steps[0].Output, "command not found")
}

func TestHostExecutorMissingDir(t *testing.T) {
	t.Parallel()

	h := &HostExecutor{Dir: filepath.Join(t.TempDir(), "gone")}
	_, err := h.Exec(context.Background(), []string{"cargo", "build"}, io.Discard, 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCommandNotFound), "a missing directory is not a missing command")
	assert.Contains(t, err.Error(), "working directory")
}

func TestRunDryRunExecutesNothing(t *testing.T) {
	requireShell(t)
	t.Parallel()

	root := t.TempDir()
	var out bytes.Buffer
	r := newTestRunner(t, root, failFastBook(t), &out)

	run, err := r.Run(context.Background(), RunOptions{Recipe: "all", DryRun: true})
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoFileExists(t, filepath.Join(root, "three.marker"))
	assert.Contains(t, out.String(), "3. all > three: sh -c touch three.marker")
}

func TestRunUnknownRecipe(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, t.TempDir(), recipe.Default(), io.Discard)
	_, err := r.Run(context.Background(), RunOptions{Recipe: "deploy"})
	assert.True(t, errors.Is(err, recipe.ErrUnknownRecipe))
}

func TestRunCleanRemovesTargetsAndLockfiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, f := range []string{
		"Cargo.toml",
		"Cargo.lock",
		"target/debug/app",
		"crates/core/Cargo.lock",
		"crates/core/target/debug/lib",
		"crates/core/src/lib.rs",
	} {
		path := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	var out bytes.Buffer
	r := newTestRunner(t, root, recipe.Default(), &out)

	run, err := r.Run(context.Background(), RunOptions{Recipe: "clean"})
	require.NoError(t, err)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "clean > remove-lockfiles", run.Steps[1].Chain)

	assert.NoDirExists(t, filepath.Join(root, "target"))
	assert.NoDirExists(t, filepath.Join(root, "crates/core/target"))
	assert.NoFileExists(t, filepath.Join(root, "Cargo.lock"))
	assert.NoFileExists(t, filepath.Join(root, "crates/core/Cargo.lock"))
	assert.FileExists(t, filepath.Join(root, "Cargo.toml"))
	assert.FileExists(t, filepath.Join(root, "crates/core/src/lib.rs"))

	assert.Len(t, run.Lockfiles.Before, 2)
	assert.Empty(t, run.Lockfiles.After)
	assert.ElementsMatch(t, []string{"Cargo.lock", filepath.Join("crates", "core", "Cargo.lock")}, run.Lockfiles.Changed)
	assert.Contains(t, out.String(), "removed target")
}

func TestLockfilesIgnoreBuildOutputAndCache(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cached := filepath.Join(root, ".crank/cache/cargo-home/registry/src/index/dep-1.0.0/Cargo.lock")
	packaged := filepath.Join(root, "target/package/mycrate-0.1.0/Cargo.lock")
	for _, path := range []string{filepath.Join(root, "Cargo.lock"), packaged, cached} {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	r := newTestRunner(t, root, recipe.Default(), io.Discard)

	lockfiles := r.Lockfiles()
	assert.Len(t, lockfiles, 1)
	assert.Contains(t, lockfiles, "Cargo.lock")

	run, err := r.Run(context.Background(), RunOptions{Recipe: "remove-lockfiles"})
	require.NoError(t, err)
	assert.True(t, run.Passed())
	assert.NoFileExists(t, filepath.Join(root, "Cargo.lock"))
	assert.FileExists(t, cached, "cargo cache must survive remove-lockfiles")
	assert.FileExists(t, packaged)
}

func TestRunListBuiltin(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := newTestRunner(t, t.TempDir(), recipe.Default(), &out)

	run, err := r.Run(context.Background(), RunOptions{Recipe: "list"})
	require.NoError(t, err)
	assert.True(t, run.Passed())
	for _, name := range recipe.Default().Names() {
		assert.Contains(t, run.Steps[0].Output, name)
	}
	assert.Contains(t, out.String(), "format, build, clippy, test, miri")
}

func TestRunInterrupted(t *testing.T) {
	requireShell(t)
	t.Parallel()

	b := recipe.NewBook()
	require.NoError(t, b.Add(recipe.Recipe{Name: "slow", Steps: []recipe.Step{sh("sleep 30"), sh("true")}}))
	r := newTestRunner(t, t.TempDir(), b, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	run, err := r.Run(ctx, RunOptions{Recipe: "slow"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, result.StatusInterrupted, run.Status)
	assert.Equal(t, result.StatusSkipped, run.Steps[1].Status)
}

// fakeExecutor records commands instead of running them.
type fakeExecutor struct {
	calls  [][]string
	codes  map[string]int
	closed bool
}

func (f *fakeExecutor) Exec(_ context.Context, args []string, out io.Writer, _ time.Duration) (*ExecResult, error) {
	f.calls = append(f.calls, args)
	_, _ = io.WriteString(out, "container: "+strings.Join(args, " ")+"\n")
	return &ExecResult{ExitCode: f.codes[strings.Join(args, " ")], Combined: "output"}, nil
}

func (f *fakeExecutor) Close() error {
	f.closed = true
	return nil
}

func TestRunInContainer(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := newTestRunner(t, t.TempDir(), recipe.Default(), &out)
	fake := &fakeExecutor{codes: map[string]int{
		"cargo clippy --tests --all --all-features": 101,
	}}
	starts := 0
	r.SetContainerStarter(func(context.Context) (Executor, error) {
		starts++
		return fake, nil
	})

	run, err := r.Run(context.Background(), RunOptions{Recipe: "checks", Container: true})

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 101, stepErr.ExitCode)
	assert.Equal(t, "checks > clippy", stepErr.Recipe)

	assert.Equal(t, 1, starts, "one container serves every step")
	assert.True(t, fake.closed)
	assert.Equal(t, [][]string{
		{"cargo", "fmt", "--all"},
		{"cargo", "build", "--all", "--all-features"},
		{"cargo", "clippy", "--all", "--all-features"},
		{"cargo", "clippy", "--tests", "--all", "--all-features"},
	}, fake.calls)

	require.Len(t, run.Steps, 6)
	assert.Equal(t, result.StatusSkipped, run.Steps[4].Status)
	assert.Equal(t, result.StatusSkipped, run.Steps[5].Status)
	assert.True(t, run.Config.Container)
}

func TestRunContainerStartFailure(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, t.TempDir(), recipe.Default(), io.Discard)
	r.SetContainerStarter(func(context.Context) (Executor, error) {
		return nil, errors.New("docker daemon not accessible")
	})

	run, err := r.Run(context.Background(), RunOptions{Recipe: "build", Container: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker daemon not accessible")
	assert.Equal(t, result.StatusError, run.Status)
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	b := newTailBuffer(4)
	_, _ = b.Write([]byte("ab"))
	assert.Equal(t, "ab", b.String())
	assert.False(t, b.Truncated())

	_, _ = b.Write([]byte("cdefghij"))
	assert.Equal(t, "ghij", b.String())
	assert.True(t, b.Truncated())
}

func TestWriteRecipeTable(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, WriteRecipeTable(&out, recipe.Default()))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2+recipe.Default().Len())
	assert.True(t, strings.HasPrefix(lines[2], "build"))

	out.Reset()
	require.NoError(t, WriteRecipeTable(&out, recipe.NewBook()))
	assert.Equal(t, "No recipes defined.\n", out.String())
}
