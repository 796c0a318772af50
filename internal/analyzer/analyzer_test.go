package analyzer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// buildFixture lays out a small polyglot monorepo:
//
//	backend/  go module importing shared
//	frontend/ npm package
//	shared/   plain directory, no marker
func buildFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, root, "backend/go.mod", "module example.com/backend\n")
	writeFile(t, root, "backend/main.go", "package main\n\nimport \"shared/util\"\n\nfunc main() {}\n")
	writeFile(t, root, "backend/server.go", "package main\n")
	writeFile(t, root, "backend/handler.go", "package main\n")

	writeFile(t, root, "frontend/package.json", `{"name": "frontend"}`)
	writeFile(t, root, "frontend/index.js", "import util from 'shared/util'\n")
	writeFile(t, root, "frontend/app.js", "console.log('hi')\n")
	writeFile(t, root, "frontend/nav.js", "console.log('nav')\n")

	writeFile(t, root, "shared/util/strings.py", "import os\n")
	writeFile(t, root, "shared/util/paths.py", "import sys\n")
	writeFile(t, root, "shared/util/ids.py", "import uuid\n")

	// Noise that must be skipped.
	writeFile(t, root, "node_modules/dep/index.js", "x")
	writeFile(t, root, "backend/go.sum", "checksum noise")
	writeFile(t, root, "big/huge.js", strings.Repeat("x", 600*1024))

	return root
}

func TestAnalyzeManifest(t *testing.T) {
	a, err := Analyze(buildFixture(t))
	require.NoError(t, err)

	paths := make([]string, 0, len(a.Files))
	for _, f := range a.Files {
		paths = append(paths, f.Path)
	}

	assert.Contains(t, paths, "backend/main.go")
	assert.Contains(t, paths, "frontend/index.js")
	assert.NotContains(t, paths, "node_modules/dep/index.js", "vendored dirs are skipped")
	assert.NotContains(t, paths, "backend/go.sum", "lockfiles are skipped")
	assert.NotContains(t, paths, "big/huge.js", "files over 500KB are skipped")

	assert.Equal(t, int(a.TotalBytes/4), a.TokenEstimate)
	assert.Equal(t, SizeSmall, a.SizeLabel)
}

func TestAnalyzeModules(t *testing.T) {
	a, err := Analyze(buildFixture(t))
	require.NoError(t, err)

	require.Contains(t, a.Modules, "backend", "go.mod marker defines the backend module")
	require.Contains(t, a.Modules, "frontend")
	require.Contains(t, a.Modules, "shared/util", "marker-less files fall back to first two segments")

	backend := a.Modules["backend"]
	assert.Contains(t, backend.EntryPoints, "backend/main.go")
	assert.Greater(t, backend.Languages["go"], 0)
}

func TestAnalyzeImportGraph(t *testing.T) {
	a, err := Analyze(buildFixture(t))
	require.NoError(t, err)

	backend := a.Modules["backend"]
	_, ok := backend.ImportsFrom["shared/util"]
	assert.True(t, ok, "backend imports shared/util")

	shared := a.Modules["shared/util"]
	_, ok = shared.ImportedBy["backend"]
	assert.True(t, ok, "reverse edge recorded")
}

func TestAnalyzeCrates(t *testing.T) {
	a, err := Analyze(buildFixture(t))
	require.NoError(t, err)

	assert.Contains(t, a.Crates, "backend")
	assert.Contains(t, a.Crates, "frontend")
	assert.NotContains(t, a.Crates, "shared/util", "no crate marker")
}

func TestCrateDeduplicationDropsNested(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/package.json", `{"name": "app"}`)
	writeFile(t, root, "app/a.js", "x")
	writeFile(t, root, "app/b.js", "x")
	writeFile(t, root, "app/c.js", "x")
	writeFile(t, root, "app/nested/package.json", `{"name": "nested"}`)
	writeFile(t, root, "app/nested/d.js", "x")
	writeFile(t, root, "app/nested/e.js", "x")
	writeFile(t, root, "app/nested/f.js", "x")

	a, err := Analyze(root)
	require.NoError(t, err)

	assert.Contains(t, a.Crates, "app")
	assert.NotContains(t, a.Crates, "app/nested", "nested crate collapses into ancestor")
}

func TestSmallModuleMerge(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "svc/go.mod", "module svc\n")
	writeFile(t, root, "svc/a.go", "package svc\n")
	writeFile(t, root, "svc/b.go", "package svc\n")
	writeFile(t, root, "svc/c.go", "package svc\n")
	// Two-file marker module merges into its top-dir parent.
	writeFile(t, root, "svc/tiny/go.mod", "module tiny\n")
	writeFile(t, root, "svc/tiny/one.go", "package tiny\n")

	a, err := Analyze(root)
	require.NoError(t, err)

	assert.NotContains(t, a.Modules, "svc/tiny")
	require.Contains(t, a.Modules, "svc")
	assert.GreaterOrEqual(t, len(a.Modules["svc"].Files), 4)
}

func TestSizeLabelLarge(t *testing.T) {
	root := t.TempDir()
	// Three 400KB files put the estimate at ~300k tokens.
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, root, "src/"+name+".go", strings.Repeat("x", 400*1024))
	}

	a, err := Analyze(root)
	require.NoError(t, err)
	assert.Equal(t, SizeLarge, a.SizeLabel)
}
