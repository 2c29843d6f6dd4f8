// Package result provides run records, persistence and output formatting.
package result

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/zeebo/blake3"
)

// Status represents the outcome of a run or a single step.
type Status string

const (
	StatusPass        Status = "pass"
	StatusFail        Status = "fail"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
	StatusSkipped     Status = "skipped"
)

// StatusEmoji maps status values to their emoji representations.
var StatusEmoji = map[Status]string{
	StatusPass:        "✅",
	StatusFail:        "❌",
	StatusError:       "⚠️",
	StatusInterrupted: "⏹️",
	StatusSkipped:     "⏭️",
}

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
	ruleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// Run is the record of a single recipe invocation.
type Run struct {
	ID          string        `json:"id"`
	Recipe      string        `json:"recipe"`
	Status      Status        `json:"status"`
	Steps       []StepResult  `json:"steps"`
	TotalTime   time.Duration `json:"total_time_ns"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	PlanDigest  string        `json:"plan_digest,omitempty"`
	Lockfiles   Lockfiles     `json:"lockfiles"`
	Config      RunConfig     `json:"config"`
}

// RunConfig captures the settings a run was executed with.
type RunConfig struct {
	Root      string `json:"root"`
	Container bool   `json:"container"`
	Image     string `json:"image,omitempty"`
	Timeout   int    `json:"step_timeout"`
}

// Lockfiles holds lockfile fingerprints taken before and after a run.
type Lockfiles struct {
	Before  map[string]string `json:"before,omitempty"`
	After   map[string]string `json:"after,omitempty"`
	Changed []string          `json:"changed,omitempty"`
}

// StepResult is the outcome of one leaf step.
type StepResult struct {
	Number       int           `json:"number"`
	Chain        string        `json:"chain"`
	Command      string        `json:"command"`
	Status       Status        `json:"status"`
	ExitCode     int           `json:"exit_code"`
	Duration     time.Duration `json:"duration_ns"`
	ErrorSummary []string      `json:"error_summary,omitempty"`
	Output       string        `json:"output,omitempty"`
	Truncated    bool          `json:"truncated,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Passed reports whether the step ran and succeeded.
func (s StepResult) Passed() bool {
	return s.Status == StatusPass
}

// NewRun creates a run record for the given recipe.
func NewRun(recipe string, cfg RunConfig) *Run {
	now := time.Now()
	// Random suffix keeps IDs unique within the same second
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	id := fmt.Sprintf("%s-%s-%s", recipe, now.Format("2006-01-02T150405"), hex.EncodeToString(randBytes))

	return &Run{
		ID:        id,
		Recipe:    recipe,
		Status:    StatusFail,
		Steps:     make([]StepResult, 0),
		StartedAt: now,
		Config:    cfg,
	}
}

// DigestPlan returns a BLAKE3 digest over the ordered step commands, so two
// runs can be compared for whether they executed the same plan.
func DigestPlan(commands []string) string {
	h := blake3.New()
	for _, c := range commands {
		_, _ = h.Write([]byte(c))
		_, _ = h.Write([]byte{0})
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)[:16])
}

// AddStep appends a step result and assigns its number.
func (r *Run) AddStep(s StepResult) *StepResult {
	s.Number = len(r.Steps) + 1
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	r.Steps = append(r.Steps, s)
	return &r.Steps[len(r.Steps)-1]
}

// Complete finalizes the run with the given status.
func (r *Run) Complete(status Status) {
	r.Status = status
	r.CompletedAt = time.Now()
	r.TotalTime = r.CompletedAt.Sub(r.StartedAt)
}

// Passed returns true if the run passed.
func (r *Run) Passed() bool {
	return r.Status == StatusPass
}

// FailedStep returns the first step that did not pass or get skipped.
func (r *Run) FailedStep() *StepResult {
	for i := range r.Steps {
		switch r.Steps[i].Status {
		case StatusPass, StatusSkipped:
			continue
		}
		return &r.Steps[i]
	}
	return nil
}

// Counts returns how many steps passed, failed and were skipped.
func (r *Run) Counts() (passed, failed, skipped int) {
	for _, s := range r.Steps {
		switch s.Status {
		case StatusPass:
			passed++
		case StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	return passed, failed, skipped
}

// Dir returns the directory path for storing the run under baseDir.
func (r *Run) Dir(baseDir string) string {
	return filepath.Join(baseDir, r.ID)
}

// Save writes result.json, report.md and step logs under baseDir.
func (r *Run) Save(baseDir string) error {
	dir := r.Dir(baseDir)

	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	resultJSON, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), resultJSON, 0644); err != nil {
		return fmt.Errorf("writing result.json: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(r.GenerateMarkdown()), 0644); err != nil {
		return fmt.Errorf("writing report.md: %w", err)
	}

	for _, s := range r.Steps {
		if s.Status == StatusSkipped {
			continue
		}
		logFile := filepath.Join(dir, "logs", fmt.Sprintf("step-%d.log", s.Number))
		if err := os.WriteFile(logFile, []byte(s.Output), 0644); err != nil {
			return fmt.Errorf("writing step log: %w", err)
		}
	}

	return nil
}

// Load reads a run record from a run directory or a result.json path.
func Load(path string) (*Run, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, "result.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}

	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing result: %w", err)
	}
	return &r, nil
}

// GenerateMarkdown generates a human-readable markdown report.
func (r *Run) GenerateMarkdown() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# crank report: %s\n\n", r.Recipe)
	fmt.Fprintf(&sb, "**Status:** %s %s\n\n", StatusEmoji[r.Status], strings.ToUpper(string(r.Status)))
	fmt.Fprintf(&sb, "**Started:** %s\n\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Completed:** %s\n\n", r.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Total Time:** %s\n\n", r.TotalTime.Round(time.Millisecond))
	passed, failed, skipped := r.Counts()
	fmt.Fprintf(&sb, "**Steps:** %d passed, %d failed, %d skipped\n\n", passed, failed, skipped)

	sb.WriteString("---\n\n")
	sb.WriteString("## Steps\n\n")

	for _, s := range r.Steps {
		fmt.Fprintf(&sb, "### %d. %s - %s %s\n\n", s.Number, s.Chain, StatusEmoji[s.Status], strings.ToUpper(string(s.Status)))
		fmt.Fprintf(&sb, "- **Command:** `%s`\n", s.Command)
		if s.Status == StatusSkipped {
			sb.WriteString("\n")
			continue
		}
		fmt.Fprintf(&sb, "- **Exit Code:** %d\n", s.ExitCode)
		fmt.Fprintf(&sb, "- **Duration:** %s\n\n", s.Duration.Round(time.Millisecond))

		if len(s.ErrorSummary) > 0 {
			sb.WriteString("**Error Summary:**\n\n")
			for _, e := range s.ErrorSummary {
				fmt.Fprintf(&sb, "- %s\n", e)
			}
			sb.WriteString("\n")
		}

		if s.Output != "" {
			sb.WriteString("<details>\n<summary>Output</summary>\n\n```\n")
			sb.WriteString(s.Output)
			if s.Truncated {
				sb.WriteString("\n[output truncated]")
			}
			sb.WriteString("\n```\n</details>\n\n")
		}
	}

	if len(r.Lockfiles.Changed) > 0 {
		sb.WriteString("## Lockfile Changes\n\n")
		for _, p := range r.Lockfiles.Changed {
			fmt.Fprintf(&sb, "- `%s`: %s -> %s\n", p, orNone(r.Lockfiles.Before[p]), orNone(r.Lockfiles.After[p]))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString("## Configuration\n\n")
	fmt.Fprintf(&sb, "- **Root:** %s\n", r.Config.Root)
	fmt.Fprintf(&sb, "- **Container:** %v\n", r.Config.Container)
	if r.Config.Image != "" {
		fmt.Fprintf(&sb, "- **Image:** %s\n", r.Config.Image)
	}
	fmt.Fprintf(&sb, "- **Step Timeout:** %ds\n", r.Config.Timeout)
	if r.PlanDigest != "" {
		fmt.Fprintf(&sb, "- **Plan Digest:** %s\n", r.PlanDigest)
	}

	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// FormatStep returns a one-line status for a finished step.
func FormatStep(s StepResult) string {
	var sb strings.Builder
	switch s.Status {
	case StatusPass:
		fmt.Fprintf(&sb, " %s %s", passStyle.Render("✓"), s.Chain)
	case StatusSkipped:
		fmt.Fprintf(&sb, " %s %s", dimStyle.Render("-"), dimStyle.Render(s.Chain+" (skipped)"))
	case StatusInterrupted:
		fmt.Fprintf(&sb, " %s %s (interrupted)", warnStyle.Render("!"), s.Chain)
	default:
		fmt.Fprintf(&sb, " %s %s (exit code %d)", failStyle.Render("✗"), s.Chain, s.ExitCode)
	}
	if s.Status != StatusSkipped {
		fmt.Fprintf(&sb, "  %s", dimStyle.Render(s.Duration.Round(time.Millisecond).String()))
	}
	sb.WriteString("\n")

	if s.Status != StatusPass && s.Status != StatusSkipped && len(s.ErrorSummary) > 0 {
		for _, e := range s.ErrorSummary {
			fmt.Fprintf(&sb, "   • %s\n", e)
		}
	}
	return sb.String()
}

// FormatSummary returns a formatted summary for the end of a run.
func FormatSummary(r *Run) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(ruleStyle.Render(rule) + "\n")

	switch r.Status {
	case StatusPass:
		fmt.Fprintf(&sb, " %s\n", passStyle.Render("✓ PASSED"))
	case StatusInterrupted:
		fmt.Fprintf(&sb, " %s\n", warnStyle.Render("! INTERRUPTED"))
	default:
		fmt.Fprintf(&sb, " %s\n", failStyle.Render("✗ "+strings.ToUpper(string(r.Status))))
	}

	sb.WriteString("\n")
	passed, failed, skipped := r.Counts()
	fmt.Fprintf(&sb, " Recipe:    %s\n", r.Recipe)
	fmt.Fprintf(&sb, " Steps:     %d passed, %d failed, %d skipped\n", passed, failed, skipped)
	if f := r.FailedStep(); f != nil {
		fmt.Fprintf(&sb, " Failed:    %s\n", f.Chain)
	}
	for _, p := range r.Lockfiles.Changed {
		fmt.Fprintf(&sb, " Lockfile:  %s changed\n", p)
	}
	fmt.Fprintf(&sb, " Duration:  %s\n", r.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(&sb, " Run:       %s\n", r.ID)
	sb.WriteString(ruleStyle.Render(rule) + "\n")

	return sb.String()
}
