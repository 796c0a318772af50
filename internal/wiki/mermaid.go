package wiki

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MermaidBlock is one fenced mermaid block found in a document.
type MermaidBlock struct {
	Source string
	// Offset is the ordinal position among mermaid blocks, used when a
	// repair pass replaces one block in the original text.
	Offset int
}

// ExtractMermaidBlocks walks the markdown AST and returns every fenced
// block with the "mermaid" info string.
func ExtractMermaidBlocks(markdown string) []MermaidBlock {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var blocks []MermaidBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fence, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if fence.Info == nil {
			return ast.WalkContinue, nil
		}
		lang := strings.TrimSpace(string(fence.Info.Segment.Value(source)))
		if lang != "mermaid" {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		for i := 0; i < fence.Lines().Len(); i++ {
			seg := fence.Lines().At(i)
			sb.Write(seg.Value(source))
		}
		blocks = append(blocks, MermaidBlock{Source: sb.String(), Offset: len(blocks)})
		return ast.WalkContinue, nil
	})
	return blocks
}

// ReplaceMermaidBlock swaps the nth fenced mermaid block's source for
// repaired content, returning the updated markdown. Out-of-range offsets
// return the input unchanged.
func ReplaceMermaidBlock(markdown string, offset int, repaired string) string {
	lines := strings.Split(markdown, "\n")
	inBlock := false
	blockIdx := -1
	start, end := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inBlock && strings.HasPrefix(trimmed, "```mermaid") {
			inBlock = true
			blockIdx++
			if blockIdx == offset {
				start = i
			}
			continue
		}
		if inBlock && strings.HasPrefix(trimmed, "```") {
			inBlock = false
			if blockIdx == offset && start >= 0 {
				end = i
				break
			}
		}
	}
	if start < 0 || end < 0 {
		return markdown
	}
	repaired = strings.TrimRight(repaired, "\n")
	out := append([]string(nil), lines[:start+1]...)
	out = append(out, strings.Split(repaired, "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n")
}
