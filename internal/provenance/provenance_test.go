package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSourceRefs(t *testing.T) {
	md := "Setup lives in `cmd/server/main.go` and `config.yaml`.\n" +
		"```go title=\"internal/auth/token.go\"\nfunc Token() {}\n```\n" +
		"Do not pick up `a phrase with spaces` or `https://example.com/x.go` or `variableName`.\n"

	refs := ExtractSourceRefs(md, []string{"docs/README.md", "cmd/server/main.go"})

	assert.Equal(t, []string{
		"internal/auth/token.go",
		"cmd/server/main.go",
		"config.yaml",
		"docs/README.md",
	}, refs)
}

func TestHashSources(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n"), 0o600))

	hashes := HashSources(root, []string{"pkg/a.go", "missing.go", "../escape.go"})

	require.Len(t, hashes, 1)
	sum := sha256.Sum256([]byte("package pkg\n"))
	assert.Equal(t, hex.EncodeToString(sum[:])[:16], hashes["pkg/a.go"])
}

func TestFilterExisting(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.go"), []byte("x"), 0o600))

	out := FilterExisting(root, []string{"real.go", "ghost.go"})
	assert.Equal(t, []string{"real.go"}, out)
}
