package wiki

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BottomMatter is the optional YAML metadata block at the end of a stored
// document, between --- markers. The content store keeps it inline; readers
// parse it opportunistically.
type BottomMatter struct {
	ID          string `yaml:"id,omitempty"`
	RepoURL     string `yaml:"repo_url,omitempty"`
	DocType     string `yaml:"doc_type,omitempty"`
	GeneratedAt string `yaml:"generated_at,omitempty"`
	Model       string `yaml:"model,omitempty"`
}

// SplitBottomMatter separates the markdown body from a trailing bottom
// matter block. Content without a block returns (content, nil).
func SplitBottomMatter(content string) (string, *BottomMatter) {
	trimmed := strings.TrimRight(content, "\n")
	if !strings.HasSuffix(trimmed, "---") {
		return content, nil
	}
	// Find the opening marker of the trailing block.
	withoutClose := strings.TrimSuffix(trimmed, "---")
	open := strings.LastIndex(withoutClose, "\n---\n")
	if open < 0 {
		return content, nil
	}
	body := withoutClose[:open]
	yamlText := withoutClose[open+len("\n---\n"):]

	var bm BottomMatter
	if err := yaml.Unmarshal([]byte(yamlText), &bm); err != nil {
		return content, nil // opportunistic: malformed block stays in the body
	}
	if bm == (BottomMatter{}) {
		return content, nil
	}
	return strings.TrimRight(body, "\n") + "\n", &bm
}

// AppendBottomMatter renders the block and appends it to the body.
func AppendBottomMatter(body string, bm BottomMatter) (string, error) {
	if bm.GeneratedAt == "" {
		bm.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
	encoded, err := yaml.Marshal(bm)
	if err != nil {
		return "", fmt.Errorf("marshal bottom matter: %w", err)
	}
	body = strings.TrimRight(body, "\n")
	return body + "\n\n---\n" + string(encoded) + "---\n", nil
}
