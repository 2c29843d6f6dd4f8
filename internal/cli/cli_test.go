package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemon07r/crank/internal/config"
	"github.com/lemon07r/crank/internal/recipe"
	"github.com/lemon07r/crank/internal/result"
	"github.com/lemon07r/crank/internal/runner"
)

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}

	for _, tc := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tc.input), &out, "Delete?")
		if err != nil {
			t.Fatalf("confirm(%q) error = %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("confirm(%q) = %v, want %v", tc.input, got, tc.want)
		}
		if out.String() != "Delete? [y/N] " {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestExitFor(t *testing.T) {
	t.Parallel()

	if err := exitFor(nil); err != nil {
		t.Errorf("exitFor(nil) = %v, want nil", err)
	}

	err := exitFor(&runner.StepError{Recipe: "checks > test", Step: "cargo test", ExitCode: 101})
	var exitErr *exitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("exitFor(StepError) = %v, want *exitError", err)
	}
	if exitErr.code != 101 {
		t.Errorf("exit code = %d, want 101", exitErr.code)
	}

	plain := errors.New("boom")
	if got := exitFor(plain); got != plain {
		t.Errorf("exitFor(plain) = %v, want the same error", got)
	}
}

func saveRun(t *testing.T, base, recipeName string, status result.Status) *result.Run {
	t.Helper()
	run := result.NewRun(recipeName, result.RunConfig{Root: "."})
	run.AddStep(result.StepResult{Chain: recipeName, Command: "cargo " + recipeName, Status: status, Duration: time.Second})
	run.Complete(status)
	if err := run.Save(base); err != nil {
		t.Fatalf("saving run: %v", err)
	}
	return run
}

func TestResolveRunPath(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	older := saveRun(t, base, "build", result.StatusPass)
	newer := saveRun(t, base, "test", result.StatusFail)

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(older.Dir(base), "result.json"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got, err := resolveRunPath(base, "latest")
	if err != nil {
		t.Fatalf("resolveRunPath(latest) error = %v", err)
	}
	if got != newer.Dir(base) {
		t.Errorf("latest = %q, want %q", got, newer.Dir(base))
	}

	got, err = resolveRunPath(base, older.ID)
	if err != nil {
		t.Fatalf("resolveRunPath(id) error = %v", err)
	}
	if got != older.Dir(base) {
		t.Errorf("by id = %q, want %q", got, older.Dir(base))
	}

	got, err = resolveRunPath(base, older.Dir(base))
	if err != nil {
		t.Fatalf("resolveRunPath(dir) error = %v", err)
	}
	if got != older.Dir(base) {
		t.Errorf("by dir = %q, want %q", got, older.Dir(base))
	}

	if _, err := resolveRunPath(base, "no-such-run"); err == nil {
		t.Error("resolveRunPath should fail for unknown run")
	}
}

func TestLatestRunEmpty(t *testing.T) {
	t.Parallel()

	if _, err := latestRun(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("latestRun should fail when the run directory does not exist")
	}

	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "not-a-run"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := latestRun(base); err == nil {
		t.Error("latestRun should ignore directories without result.json")
	}
}

func TestOutputJSONAndYAML(t *testing.T) {
	t.Parallel()

	recipes := recipe.Default().List()

	var jsonBuf bytes.Buffer
	if err := outputJSON(&jsonBuf, recipes); err != nil {
		t.Fatalf("outputJSON() error = %v", err)
	}
	var decoded []recipe.Recipe
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
	if len(decoded) != len(recipes) {
		t.Errorf("decoded %d recipes, want %d", len(decoded), len(recipes))
	}

	var yamlBuf bytes.Buffer
	if err := outputYAML(&yamlBuf, recipes); err != nil {
		t.Fatalf("outputYAML() error = %v", err)
	}
	if !strings.Contains(yamlBuf.String(), "- name: build\n") {
		t.Errorf("YAML output missing build recipe:\n%s", yamlBuf.String())
	}
	if !strings.Contains(yamlBuf.String(), "call: format") {
		t.Errorf("YAML output missing checks calls:\n%s", yamlBuf.String())
	}
}

func TestWriteStarterConfigLoads(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := writeStarterConfig(&buf); err != nil {
		t.Fatalf("writeStarterConfig() error = %v", err)
	}
	if !strings.Contains(buf.String(), "# [recipes.test]") {
		t.Error("starter config should include a commented recipe example")
	}

	path := filepath.Join(t.TempDir(), config.FileName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(starter) error = %v", err)
	}
	if !reflect.DeepEqual(loaded.Workspace, config.Default.Workspace) {
		t.Errorf("workspace = %+v, want defaults", loaded.Workspace)
	}
	if len(loaded.Recipes) != 0 {
		t.Errorf("recipes = %v, want none", loaded.Recipes)
	}
}

func TestCleanTargets(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, dir := range []string{"target/debug", "crates/a/target", ".git/target"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, file := range []string{"Cargo.lock", "crates/a/Cargo.lock", "crates/a/Cargo.toml"} {
		if err := os.WriteFile(filepath.Join(root, file), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	r := newTestRunner(t, root, nil)
	plan, err := r.Plan("clean")
	if err != nil {
		t.Fatalf("Plan(clean) error = %v", err)
	}

	got, err := cleanTargets(r, plan)
	if err != nil {
		t.Fatalf("cleanTargets() error = %v", err)
	}
	want := []string{
		filepath.Join("crates", "a", "target"),
		"target",
		"Cargo.lock",
		filepath.Join("crates", "a", "Cargo.lock"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cleanTargets() = %v, want %v", got, want)
	}
}

func TestAddRecipeCommands(t *testing.T) {
	t.Parallel()

	parent := &cobra.Command{Use: "crank"}
	parent.AddCommand(&cobra.Command{Use: "list", Short: "command"})
	parent.AddCommand(&cobra.Command{Use: "clean", Short: "command"})

	addRecipeCommands(parent)

	byName := make(map[string]*cobra.Command)
	for _, c := range parent.Commands() {
		if _, dup := byName[c.Name()]; dup {
			t.Errorf("duplicate command %q", c.Name())
		}
		byName[c.Name()] = c
	}

	for _, name := range []string{"format", "build", "test", "miri", "clippy", "checks", "remove-lockfiles", "list-outdated", "update", "publish"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("missing recipe command %q", name)
		}
	}
	if byName["list"].Short != "command" || byName["clean"].Short != "command" {
		t.Error("existing commands should not be replaced by recipe commands")
	}
}

func TestGenerateComparison(t *testing.T) {
	t.Parallel()

	a := result.NewRun("checks", result.RunConfig{})
	a.ID = "run-a"
	a.AddStep(result.StepResult{Chain: "checks > format", Command: "cargo fmt --all", Status: result.StatusPass, Duration: time.Second})
	a.AddStep(result.StepResult{Chain: "checks > build", Command: "cargo build", Status: result.StatusFail, ExitCode: 101, Duration: 2 * time.Second})
	a.AddStep(result.StepResult{Chain: "checks > test", Command: "cargo test", Status: result.StatusSkipped})
	a.Complete(result.StatusFail)

	b := result.NewRun("build", result.RunConfig{})
	b.ID = "run-b"
	b.AddStep(result.StepResult{Chain: "checks > build", Command: "cargo build", Status: result.StatusPass, Duration: 3 * time.Second})
	b.Complete(result.StatusPass)

	c := generateComparison([]*result.Run{a, b})

	if len(c.Runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(c.Runs))
	}
	if c.Runs[0].Passed != 1 || c.Runs[0].Failed != 1 || c.Runs[0].Skipped != 1 {
		t.Errorf("run-a counts = %+v", c.Runs[0])
	}
	wantSteps := []string{"checks > format: cargo fmt --all", "checks > build: cargo build", "checks > test: cargo test"}
	if !reflect.DeepEqual(c.Steps, wantSteps) {
		t.Errorf("steps = %v, want %v", c.Steps, wantSteps)
	}
	if got := c.StepMatrix["checks > build: cargo build"]["run-b"]; got != "✅ 3s" {
		t.Errorf("build cell for run-b = %q, want %q", got, "✅ 3s")
	}
	if got := c.StepMatrix["checks > test: cargo test"]["run-a"]; got != result.StatusEmoji[result.StatusSkipped] {
		t.Errorf("skipped cell = %q, want emoji only", got)
	}

	var buf bytes.Buffer
	writeComparisonReport(&buf, c)
	report := buf.String()
	for _, want := range []string{"### Run Comparison", "| run-a | checks |", "### Step Matrix", "| `checks > format: cargo fmt --all` | ✅ 1s | - |"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestLockfileDrift(t *testing.T) {
	t.Parallel()

	recorded := map[string]string{
		"Cargo.lock":          "blake3:aa",
		"crates/a/Cargo.lock": "blake3:bb",
		"crates/b/Cargo.lock": "blake3:cc",
	}
	current := map[string]string{
		"Cargo.lock":          "blake3:aa",
		"crates/a/Cargo.lock": "blake3:b2",
		"crates/c/Cargo.lock": "blake3:dd",
	}

	got := lockfileDrift(recorded, current)
	want := []string{
		"crates/a/Cargo.lock - modified since the run",
		"crates/b/Cargo.lock - removed since the run",
		"crates/c/Cargo.lock - created since the run",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lockfileDrift() = %v, want %v", got, want)
	}

	if got := lockfileDrift(recorded, recorded); len(got) != 0 {
		t.Errorf("identical sets should not drift, got %v", got)
	}
}

func newTestRunner(t *testing.T, root string, overrides map[string]recipe.Recipe) *runner.Runner {
	t.Helper()
	c := config.Default
	c.Workspace.Root = root
	c.Recipes = overrides
	book, err := c.Book()
	if err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	r, err := runner.NewRunner(&c, book, io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r
}

func TestRunCleanNothingToRemove(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, t.TempDir(), nil)
	plan, err := r.Plan("clean")
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	ran := ""
	err = runClean(&out, r, plan, false,
		func(string) (bool, error) { t.Error("should not ask"); return false, nil },
		func(ref string) error { ran = ref; return nil })
	if err != nil {
		t.Fatalf("runClean() error = %v", err)
	}
	if ran != "" {
		t.Errorf("ran %q, want nothing", ran)
	}
	if !strings.Contains(out.String(), "Nothing to clean.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunCleanOverrideWithoutRemovals(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, t.TempDir(), map[string]recipe.Recipe{
		"clean": {Description: "cargo clean", Steps: []recipe.Step{{Run: []string{"cargo", "clean"}}}},
	})
	plan, err := r.Plan("clean")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		dry     bool
		wantAsk bool
	}{
		{name: "run", dry: false, wantAsk: true},
		{name: "dry run prints plan", dry: true, wantAsk: false},
	}

	for _, tc := range tests {
		var out bytes.Buffer
		asked, ran := "", ""
		err := runClean(&out, r, plan, tc.dry,
			func(q string) (bool, error) { asked = q; return true, nil },
			func(ref string) error { ran = ref; return nil })
		if err != nil {
			t.Fatalf("%s: runClean() error = %v", tc.name, err)
		}
		if ran != "clean" {
			t.Errorf("%s: ran %q, want clean", tc.name, ran)
		}
		if (asked != "") != tc.wantAsk {
			t.Errorf("%s: asked %q, want asked = %v", tc.name, asked, tc.wantAsk)
		}
		if strings.Contains(out.String(), "Nothing to clean.") {
			t.Errorf("%s: override was skipped: %q", tc.name, out.String())
		}
	}
}

func TestRunCleanCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "target", "debug"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := newTestRunner(t, root, nil)
	plan, err := r.Plan("clean")
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	ran := ""
	err = runClean(&out, r, plan, false,
		func(q string) (bool, error) { return false, nil },
		func(ref string) error { ran = ref; return nil })
	if err != nil {
		t.Fatalf("runClean() error = %v", err)
	}
	if ran != "" {
		t.Errorf("ran %q after the prompt was declined", ran)
	}
	if !strings.Contains(out.String(), "  target\n") || !strings.Contains(out.String(), "Cancelled.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestVerifyRunDetectsDrift(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	lockfile := filepath.Join(root, "Cargo.lock")
	if err := os.WriteFile(lockfile, []byte("version = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestRunner(t, root, nil)
	recorded, err := r.Run(context.Background(), runner.RunOptions{Recipe: "list", Record: true})
	if err != nil {
		t.Fatalf("Run(list) error = %v", err)
	}
	run, err := result.Load(recorded.Dir(r.RunDir()))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var out bytes.Buffer
	if err := verifyRun(&out, r, run); err != nil {
		t.Fatalf("verifyRun(unchanged) = %v\n%s", err, out.String())
	}

	changedPlan := newTestRunner(t, root, map[string]recipe.Recipe{
		"list": {Description: "List twice", Steps: []recipe.Step{{Builtin: recipe.BuiltinList}, {Builtin: recipe.BuiltinList}}},
	})
	out.Reset()
	assertExitCode(t, verifyRun(&out, changedPlan, run), 1)
	if !strings.Contains(out.String(), "Plan digest MISMATCH") {
		t.Errorf("plan mismatch not reported:\n%s", out.String())
	}

	if err := os.WriteFile(lockfile, []byte("version = 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	assertExitCode(t, verifyRun(&out, r, run), 1)
	if !strings.Contains(out.String(), "Cargo.lock - modified since the run") {
		t.Errorf("lockfile drift not reported:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "✓ Plan digest matches") {
		t.Errorf("plan should still match:\n%s", out.String())
	}
}

func assertExitCode(t *testing.T, err error, want int) {
	t.Helper()
	var exitErr *exitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *exitError", err)
	}
	if exitErr.code != want {
		t.Errorf("exit code = %d, want %d", exitErr.code, want)
	}
}
