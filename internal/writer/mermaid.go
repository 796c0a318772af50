package writer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MermaidChecker validates one diagram source, returning the parse error.
type MermaidChecker func(ctx context.Context, source string) error

// CommandChecker builds a checker backed by the mermaid CLI (mmdc). When
// the binary is not installed, it returns nil and validation is skipped
// silently.
func CommandChecker() MermaidChecker {
	bin, err := exec.LookPath("mmdc")
	if err != nil {
		return nil
	}
	return func(ctx context.Context, source string) error {
		dir := os.TempDir()
		id := uuid.NewString()[:8]
		in := filepath.Join(dir, "mermaid_"+id+".mmd")
		out := filepath.Join(dir, "mermaid_"+id+".svg")
		if err := os.WriteFile(in, []byte(source), 0o644); err != nil {
			return fmt.Errorf("write diagram: %w", err)
		}
		defer os.Remove(in)
		defer os.Remove(out)

		cmd := exec.CommandContext(ctx, bin, "-i", in, "-o", out)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("mermaid parse: %s", firstLines(string(output), 5))
		}
		return nil
	}
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
