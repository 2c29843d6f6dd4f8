// Package errors provides error summarization for cargo tool output.
package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// Pattern represents a regex pattern and its human-readable summary.
type Pattern struct {
	Regex   *regexp.Regexp
	Summary string
}

// Summarizer extracts human-readable error summaries from tool output.
type Summarizer struct {
	patterns []Pattern
}

// NewSummarizer creates a summarizer for the given tool. Unknown tools fall
// back to the first lines of output.
func NewSummarizer(tool string) *Summarizer {
	var patterns []Pattern

	switch tool {
	case "cargo":
		patterns = cargoPatterns
	case "clippy":
		patterns = append(append([]Pattern(nil), clippyPatterns...), cargoPatterns...)
	case "miri":
		patterns = append(append([]Pattern(nil), miriPatterns...), cargoPatterns...)
	default:
		patterns = nil
	}

	return &Summarizer{patterns: patterns}
}

// ToolFor picks the summarizer tool for a command line.
func ToolFor(args []string) string {
	if len(args) == 0 || !strings.HasSuffix(args[0], "cargo") {
		return ""
	}
	for _, a := range args[1:] {
		switch a {
		case "clippy":
			return "clippy"
		case "miri":
			return "miri"
		}
	}
	return "cargo"
}

// Summarize extracts error summaries from output.
// Returns a slice of human-readable error messages.
func (s *Summarizer) Summarize(output string) []string {
	if len(s.patterns) == 0 {
		return s.fallbackSummary(output)
	}

	var summaries []string
	seen := make(map[string]bool)

	lines := strings.Split(output, "\n")
	for _, line := range lines {
		for _, p := range s.patterns {
			if matches := p.Regex.FindStringSubmatch(line); matches != nil {
				summary := p.Summary
				for i, match := range matches[1:] {
					placeholder := "$" + strconv.Itoa(i+1)
					summary = strings.ReplaceAll(summary, placeholder, match)
				}

				if !seen[summary] {
					seen[summary] = true
					summaries = append(summaries, summary)
				}
				break
			}
		}
	}

	if len(summaries) == 0 {
		return s.fallbackSummary(output)
	}

	return summaries
}

// fallbackSummary returns the first few lines of output when no patterns match.
func (s *Summarizer) fallbackSummary(output string) []string {
	lines := strings.Split(strings.TrimSpace(output), "\n")

	var result []string
	for i, line := range lines {
		if i >= 5 {
			break
		}
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Compiling ") && !strings.HasPrefix(line, "Checking ") {
			result = append(result, line)
		}
	}

	return result
}

// rustc and cargo test patterns.
var cargoPatterns = []Pattern{
	{regexp.MustCompile(`error\[E0382\]`), "Use of moved value (borrow checker)"},
	{regexp.MustCompile(`error\[E0499\]`), "Cannot borrow as mutable more than once"},
	{regexp.MustCompile(`error\[E0502\]`), "Cannot borrow as mutable while borrowed as immutable"},
	{regexp.MustCompile(`error\[E0597\]`), "Value does not live long enough"},
	{regexp.MustCompile(`error\[E0515\]`), "Cannot return reference to local variable"},
	{regexp.MustCompile(`error\[E0507\]`), "Cannot move out of borrowed content"},
	{regexp.MustCompile(`error\[E0308\]`), "Mismatched types"},
	{regexp.MustCompile(`error\[E0425\]`), "Cannot find value in scope"},
	{regexp.MustCompile(`error\[E0433\]`), "Failed to resolve module/type"},
	{regexp.MustCompile(`error\[E0277\]`), "Trait bound not satisfied"},
	{regexp.MustCompile(`error\[E0599\]`), "Method not found"},
	{regexp.MustCompile(`error\[E0412\]`), "Cannot find type in scope"},
	{regexp.MustCompile(`error\[(E\d{4})\]: (.+)`), "$1: $2"},
	{regexp.MustCompile(`thread '.+' panicked at (.+)`), "Panic: $1"},
	{regexp.MustCompile(`^test (\S+) \.\.\. FAILED`), "Test failed: $1"},
	{regexp.MustCompile(`^Diff in (.+) at line (\d+)`), "Not formatted: $1:$2"},
	{regexp.MustCompile(`error: no such command: .(\w[\w-]*).`), "Cargo subcommand not installed: $1"},
	{regexp.MustCompile(`error: toolchain '(.+)' is not installed`), "Toolchain not installed: $1"},
	{regexp.MustCompile(`error: could not find .Cargo\.toml.`), "No Cargo.toml found"},
	{regexp.MustCompile(`error: failed to publish (.+)`), "Publish failed: $1"},
	{regexp.MustCompile(`error: could not compile .(\S+).`), "Could not compile $1"},
}

// clippy lint patterns. Lint names come from the "#[warn(...)]" or
// "#[deny(...)]" notes and from help links.
var clippyPatterns = []Pattern{
	{regexp.MustCompile(`#\[(?:warn|deny)\((clippy::\w+)\)\]`), "Lint: $1"},
	{regexp.MustCompile(`rust-clippy/master/index\.html#(\w+)`), "Lint: clippy::$1"},
	{regexp.MustCompile(`-D (clippy::\w+)`), "Lint denied: $1"},
}

// miri patterns.
var miriPatterns = []Pattern{
	{regexp.MustCompile(`error: Undefined Behavior: (.+)`), "Undefined Behavior: $1"},
	{regexp.MustCompile(`error: memory leaked`), "Memory leak detected"},
	{regexp.MustCompile(`error: unsupported operation: (.+)`), "Unsupported by miri: $1"},
	{regexp.MustCompile(`error: deadlock: (.+)`), "Deadlock: $1"},
	{regexp.MustCompile(`error: the main thread terminated without waiting`), "Main thread exited with live threads"},
}
