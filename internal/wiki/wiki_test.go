package wiki

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	md := "See [[Payments]] and [[Auth|the auth page]].\nIgnore [[https://example.com]] and [[ ]]."
	links := ExtractLinks(md)

	require.Len(t, links, 2)
	assert.Equal(t, "Payments", links[0].Target)
	assert.Equal(t, "Payments", links[0].Display)
	assert.Equal(t, "Auth", links[1].Target)
	assert.Equal(t, "the auth page", links[1].Display)
}

func TestTargetsDedupe(t *testing.T) {
	md := "[[A]] then [[B]] then [[A|again]]"
	assert.Equal(t, []string{"A", "B"}, Targets(md))
}

func TestSanitize(t *testing.T) {
	valid := map[string]struct{}{"Payments": {}}
	md := "See [[Payments]] and [[Ghost Page]] and [[Ghost Page|this text]]."

	out := Sanitize(md, valid)
	assert.Equal(t, "See [[Payments]] and Ghost Page and this text.", out)
}

func TestSanitizeLeavesValidPipes(t *testing.T) {
	valid := map[string]struct{}{"Payments": {}}
	out := Sanitize("[[Payments|billing]]", valid)
	assert.Equal(t, "[[Payments|billing]]", out)
}

func TestExtractMermaidBlocks(t *testing.T) {
	md := "Intro\n\n```mermaid\ngraph TD\nA-->B\n```\n\n```go\nfunc main() {}\n```\n\n```mermaid\nsequenceDiagram\n```\n"
	blocks := ExtractMermaidBlocks(md)

	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0].Source, "graph TD")
	assert.Equal(t, 1, blocks[1].Offset)
	assert.Contains(t, blocks[1].Source, "sequenceDiagram")
}

func TestReplaceMermaidBlock(t *testing.T) {
	md := "a\n```mermaid\nbroken\n```\nb\n```mermaid\nalso broken\n```\nc"
	out := ReplaceMermaidBlock(md, 1, "fixed")

	assert.Contains(t, out, "broken", "first block untouched")
	assert.Contains(t, out, "fixed")
	assert.NotContains(t, out, "also broken")
}

func TestBottomMatterRoundTrip(t *testing.T) {
	body := "# Title\n\nSome prose.\n"
	withBM, err := AppendBottomMatter(body, BottomMatter{ID: "doc-1", RepoURL: "https://example.com/r", DocType: "overview"})
	require.NoError(t, err)

	gotBody, bm := SplitBottomMatter(withBM)
	require.NotNil(t, bm)
	assert.Equal(t, "doc-1", bm.ID)
	assert.Equal(t, "overview", bm.DocType)
	assert.Equal(t, "https://example.com/r", bm.RepoURL)
	assert.Equal(t, body, gotBody)
	assert.NotEmpty(t, bm.GeneratedAt)
}

func TestSplitBottomMatterAbsent(t *testing.T) {
	body, bm := SplitBottomMatter("just some markdown\n")
	assert.Nil(t, bm)
	assert.Equal(t, "just some markdown\n", body)
}

func TestSplitBottomMatterMalformed(t *testing.T) {
	content := "body\n\n---\n: not yaml [\n---\n"
	body, bm := SplitBottomMatter(content)
	assert.Nil(t, bm)
	assert.Equal(t, content, body)
}
