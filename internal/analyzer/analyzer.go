// Package analyzer walks a cloned repository and produces the structural
// analysis the rest of the pipeline consumes: a file manifest, logical
// modules with an import graph, and crate roots.
package analyzer

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

// Size labels derived from the token estimate.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

const (
	maxFileBytes     = 500 * 1024 // larger files are assumed generated or minified
	markerWalkLevels = 4
	minModuleFiles   = 3
	importScanLines  = 100
)

// FileEntry is one file in the manifest.
type FileEntry struct {
	Path string // relative, slash-separated
	Size int64
}

// ModuleInfo is a logical grouping of source files. Immutable once Analyze returns.
type ModuleInfo struct {
	Name          string
	TopDir        string
	Files         []FileEntry
	TokenEstimate int
	ImportsFrom   map[string]struct{}
	ImportedBy    map[string]struct{}
	EntryPoints   []string
	Languages     map[string]int
}

// Analysis is the result of one repository walk.
type Analysis struct {
	RepoPath      string
	Files         []FileEntry
	TotalBytes    int64
	TokenEstimate int
	SizeLabel     string
	TopDirs       []string
	Modules       map[string]*ModuleInfo
	Crates        []string
}

// ModuleCount returns the number of detected modules.
func (a *Analysis) ModuleCount() int { return len(a.Modules) }

// skipDirs are vendored or generated trees never worth documenting.
var skipDirs = map[string]struct{}{
	".git": {}, ".hg": {}, ".svn": {}, "node_modules": {}, "vendor": {},
	"__pycache__": {}, ".venv": {}, "venv": {}, ".tox": {}, "target": {},
	"dist": {}, "build": {}, "out": {}, ".next": {}, ".nuxt": {},
	"coverage": {}, ".idea": {}, ".vscode": {}, ".cache": {}, ".gradle": {},
	"bin": {}, "obj": {},
}

var lockfileNames = map[string]struct{}{
	"package-lock.json": {}, "yarn.lock": {}, "pnpm-lock.yaml": {},
	"Cargo.lock": {}, "go.sum": {}, "poetry.lock": {}, "Pipfile.lock": {},
	"composer.lock": {}, "Gemfile.lock": {}, "uv.lock": {}, "bun.lockb": {},
}

// sourceExtensions is the allowlist of source, markup and config files.
var sourceExtensions = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".rs": "rust", ".java": "java",
	".kt": "kotlin", ".rb": "ruby", ".php": "php", ".c": "c", ".h": "c",
	".cpp": "cpp", ".cc": "cpp", ".hpp": "cpp", ".cs": "csharp",
	".swift": "swift", ".scala": "scala", ".sh": "shell", ".bash": "shell",
	".sql": "sql", ".proto": "protobuf", ".md": "markdown", ".rst": "markdown",
	".yaml": "config", ".yml": "config", ".toml": "config", ".json": "config",
	".ini": "config", ".cfg": "config", ".env": "config", ".tf": "terraform",
	".html": "html", ".css": "css", ".scss": "css", ".vue": "vue",
	".svelte": "svelte", ".graphql": "graphql", ".dockerfile": "docker",
}

// packageMarkers define module boundaries; the crateMarkers subset defines
// crate roots (language-internal markers like __init__.py excluded).
var packageMarkers = []string{
	"package.json", "Cargo.toml", "go.mod", "pyproject.toml", "setup.py",
	"pom.xml", "build.gradle", "Gemfile", "composer.json", "CMakeLists.txt",
	"Package.swift",
}

var crateMarkers = map[string]struct{}{
	"package.json": {}, "Cargo.toml": {}, "go.mod": {}, "pyproject.toml": {},
	"pom.xml": {}, "build.gradle": {}, "Gemfile": {}, "composer.json": {},
	"Package.swift": {},
}

// entryPointNames flag probable program entry files within a module.
var entryPointNames = map[string]struct{}{
	"main.go": {}, "main.py": {}, "__main__.py": {}, "index.js": {},
	"index.ts": {}, "main.rs": {}, "lib.rs": {}, "app.py": {}, "cli.py": {},
	"server.js": {}, "main.java": {}, "Main.java": {},
}

// Analyze walks repoPath and builds the full analysis.
func Analyze(repoPath string) (*Analysis, error) {
	info, err := os.Stat(repoPath)
	if err != nil {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo path %s is not a directory", repoPath)
	}

	a := &Analysis{RepoPath: repoPath}
	if err := a.walk(); err != nil {
		return nil, err
	}

	a.TokenEstimate = int(a.TotalBytes / 4)
	switch {
	case a.TokenEstimate < 50_000:
		a.SizeLabel = SizeSmall
	case a.TokenEstimate < 200_000:
		a.SizeLabel = SizeMedium
	default:
		a.SizeLabel = SizeLarge
	}

	a.detectModules()
	a.buildImportGraph()
	a.detectCrates()

	slog.Info("repository analyzed",
		logfields.Path(repoPath),
		slog.Int("files", len(a.Files)),
		slog.Int("modules", len(a.Modules)),
		slog.Int("tokens", a.TokenEstimate),
		slog.String("size", a.SizeLabel))
	return a, nil
}

func (a *Analysis) walk() error {
	topDirs := make(map[string]struct{})

	err := filepath.WalkDir(a.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if _, skip := skipDirs[name]; skip && path != a.RepoPath {
				return filepath.SkipDir
			}
			return nil
		}
		if _, lock := lockfileNames[name]; lock {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := sourceExtensions[ext]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileBytes {
			return nil
		}

		rel, err := filepath.Rel(a.RepoPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		a.Files = append(a.Files, FileEntry{Path: rel, Size: info.Size()})
		a.TotalBytes += info.Size()

		if idx := strings.IndexByte(rel, '/'); idx > 0 {
			topDirs[rel[:idx]] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk repository: %w", err)
	}

	sort.Slice(a.Files, func(i, j int) bool { return a.Files[i].Path < a.Files[j].Path })
	for d := range topDirs {
		a.TopDirs = append(a.TopDirs, d)
	}
	sort.Strings(a.TopDirs)
	return nil
}

// detectModules assigns every file to a module via the nearest
// package-marker ancestor (at most 4 levels up), with a first-two-segments
// fallback, then merges tiny modules into their parent by first segment.
func (a *Analysis) detectModules() {
	markerDirs := a.collectMarkerDirs()
	modules := make(map[string]*ModuleInfo)

	for _, f := range a.Files {
		name := a.moduleFor(f.Path, markerDirs)
		m, ok := modules[name]
		if !ok {
			m = &ModuleInfo{
				Name:        name,
				TopDir:      firstSegment(name),
				ImportsFrom: make(map[string]struct{}),
				ImportedBy:  make(map[string]struct{}),
				Languages:   make(map[string]int),
			}
			modules[name] = m
		}
		m.Files = append(m.Files, f)
		m.TokenEstimate += int(f.Size / 4)
		if lang, ok := sourceExtensions[strings.ToLower(filepath.Ext(f.Path))]; ok {
			m.Languages[lang]++
		}
		if _, entry := entryPointNames[filepath.Base(f.Path)]; entry {
			m.EntryPoints = append(m.EntryPoints, f.Path)
		}
	}

	// Merge undersized modules into their top-dir sibling.
	for name, m := range modules {
		if len(m.Files) >= minModuleFiles {
			continue
		}
		parent := m.TopDir
		if parent == name {
			continue
		}
		target, ok := modules[parent]
		if !ok {
			// Adopt the first-segment name rather than creating churn.
			m.Name = parent
			delete(modules, name)
			if existing, dup := modules[parent]; dup {
				mergeModule(existing, m)
			} else {
				modules[parent] = m
			}
			continue
		}
		mergeModule(target, m)
		delete(modules, name)
	}

	a.Modules = modules
}

func mergeModule(dst, src *ModuleInfo) {
	dst.Files = append(dst.Files, src.Files...)
	dst.TokenEstimate += src.TokenEstimate
	dst.EntryPoints = append(dst.EntryPoints, src.EntryPoints...)
	for lang, n := range src.Languages {
		dst.Languages[lang] += n
	}
}

// collectMarkerDirs maps directory (relative, "" for root) to true when it
// holds any package marker.
func (a *Analysis) collectMarkerDirs() map[string]bool {
	markers := make(map[string]bool)
	for _, f := range a.Files {
		base := filepath.Base(f.Path)
		for _, marker := range packageMarkers {
			if base == marker {
				markers[dirOf(f.Path)] = true
				break
			}
		}
	}
	// Markers can be non-source files outside the allowlist (Gemfile,
	// CMakeLists.txt); probe the filesystem for those too.
	dirs := make(map[string]struct{})
	for _, f := range a.Files {
		dirs[dirOf(f.Path)] = struct{}{}
	}
	for d := range dirs {
		if markers[d] {
			continue
		}
		for _, marker := range packageMarkers {
			if _, err := os.Stat(filepath.Join(a.RepoPath, filepath.FromSlash(d), marker)); err == nil {
				markers[d] = true
				break
			}
		}
	}
	return markers
}

// moduleFor walks up at most markerWalkLevels ancestors looking for a marker
// directory; otherwise the first two path segments name the module.
func (a *Analysis) moduleFor(relPath string, markerDirs map[string]bool) string {
	dir := dirOf(relPath)
	for level := 0; level <= markerWalkLevels; level++ {
		if markerDirs[dir] {
			if dir == "" {
				return firstSegments(relPath, 2)
			}
			return dir
		}
		if dir == "" {
			break
		}
		dir = parentDir(dir)
	}
	return firstSegments(relPath, 2)
}

// importPatterns map language → prefixes whose remainder is an import path.
// Only the cheap line-prefix forms; full parsing is not worth it for a
// coarse module graph.
type importPattern struct {
	prefix  string
	cleanup func(string) string
}

var importPatternsByLang = map[string][]importPattern{
	"go":         {{prefix: "import ", cleanup: cleanQuoted}, {prefix: "\t\"", cleanup: cleanQuoted}, {prefix: "\t_ \"", cleanup: cleanQuoted}},
	"python":     {{prefix: "import ", cleanup: cleanPythonImport}, {prefix: "from ", cleanup: cleanPythonImport}},
	"javascript": {{prefix: "import ", cleanup: cleanJSImport}, {prefix: "const ", cleanup: cleanRequire}},
	"typescript": {{prefix: "import ", cleanup: cleanJSImport}, {prefix: "export ", cleanup: cleanJSImport}},
	"rust":       {{prefix: "use ", cleanup: cleanRustUse}, {prefix: "mod ", cleanup: cleanRustUse}},
	"java":       {{prefix: "import ", cleanup: cleanJavaImport}},
	"ruby":       {{prefix: "require ", cleanup: cleanQuoted}, {prefix: "require_relative ", cleanup: cleanQuoted}},
	"php":        {{prefix: "use ", cleanup: cleanJavaImport}},
	"c":          {{prefix: "#include \"", cleanup: cleanQuoted}},
	"cpp":        {{prefix: "#include \"", cleanup: cleanQuoted}},
	"swift":      {{prefix: "import ", cleanup: cleanJavaImport}},
}

func cleanQuoted(s string) string {
	for _, q := range []byte{'"', '\'', '`'} {
		if start := strings.IndexByte(s, q); start >= 0 {
			if end := strings.IndexByte(s[start+1:], q); end >= 0 {
				return s[start+1 : start+1+end]
			}
		}
	}
	return strings.TrimSpace(s)
}

func cleanPythonImport(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, " \t"); idx > 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, ".", "/")
}

func cleanJSImport(s string) string {
	if idx := strings.Index(s, "from "); idx >= 0 {
		s = s[idx+5:]
	}
	return strings.Trim(cleanQuoted(s), "./")
}

func cleanRequire(s string) string {
	if idx := strings.Index(s, "require("); idx < 0 {
		return ""
	} else {
		s = s[idx+8:]
	}
	return strings.Trim(cleanQuoted(s), "./")
}

func cleanRustUse(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	if idx := strings.IndexAny(s, ":{ "); idx > 0 {
		s = s[:idx]
	}
	return s
}

func cleanJavaImport(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	if idx := strings.IndexAny(s, " \t"); idx > 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, ".", "/")
}

// buildImportGraph scans the first importScanLines lines of every source
// file, extracts import paths, and resolves them against module names by
// prefix match. Resolution failures are expected and silent.
func (a *Analysis) buildImportGraph() {
	moduleNames := make([]string, 0, len(a.Modules))
	for name := range a.Modules {
		moduleNames = append(moduleNames, name)
	}
	// Longest-first so nested modules win prefix matches.
	sort.Slice(moduleNames, func(i, j int) bool { return len(moduleNames[i]) > len(moduleNames[j]) })

	fileModule := make(map[string]string)
	for name, m := range a.Modules {
		for _, f := range m.Files {
			fileModule[f.Path] = name
		}
	}

	for _, f := range a.Files {
		lang, ok := sourceExtensions[strings.ToLower(filepath.Ext(f.Path))]
		if !ok {
			continue
		}
		patterns, ok := importPatternsByLang[lang]
		if !ok {
			continue
		}
		fromModule := fileModule[f.Path]
		for _, imp := range scanImports(filepath.Join(a.RepoPath, filepath.FromSlash(f.Path)), patterns) {
			target := resolveImport(imp, moduleNames)
			if target == "" || target == fromModule {
				continue
			}
			a.Modules[fromModule].ImportsFrom[target] = struct{}{}
			a.Modules[target].ImportedBy[fromModule] = struct{}{}
		}
	}
}

func scanImports(path string, patterns []importPattern) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var imports []string
	scanner := bufio.NewScanner(file)
	for lineNo := 0; scanner.Scan() && lineNo < importScanLines; lineNo++ {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		for _, p := range patterns {
			if strings.HasPrefix(trimmed, strings.TrimLeft(p.prefix, "\t")) || strings.HasPrefix(line, p.prefix) {
				if imp := p.cleanup(trimmed); imp != "" {
					imports = append(imports, imp)
				}
			}
		}
	}
	return imports
}

// resolveImport matches an import path against module names: a module name
// that is a path-prefix of the import (or vice versa) resolves.
func resolveImport(imp string, moduleNames []string) string {
	imp = strings.Trim(imp, "/")
	if imp == "" {
		return ""
	}
	for _, name := range moduleNames {
		if imp == name || strings.HasPrefix(imp, name+"/") || strings.HasPrefix(imp+"/", name+"/") {
			return name
		}
		// Match on the final segment for languages that import bare package names.
		if base := filepath.Base(name); base == imp || strings.HasPrefix(imp, base+"/") {
			return name
		}
	}
	return ""
}

// detectCrates finds the shallowest crate-marker directory per subtree,
// skipping the repo root; a crate nested under another crate is a
// sub-module, not a crate.
func (a *Analysis) detectCrates() {
	var candidates []string
	seen := make(map[string]struct{})

	err := filepath.WalkDir(a.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if _, skip := skipDirs[d.Name()]; skip && path != a.RepoPath {
			return filepath.SkipDir
		}
		if path == a.RepoPath {
			return nil
		}
		for marker := range crateMarkers {
			if _, err := os.Stat(filepath.Join(path, marker)); err == nil {
				rel, rerr := filepath.Rel(a.RepoPath, path)
				if rerr == nil {
					rel = filepath.ToSlash(rel)
					if _, dup := seen[rel]; !dup {
						seen[rel] = struct{}{}
						candidates = append(candidates, rel)
					}
				}
				break
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	sort.Strings(candidates)
	for _, c := range candidates {
		nested := false
		for _, kept := range a.Crates {
			if strings.HasPrefix(c, kept+"/") {
				nested = true
				break
			}
		}
		if !nested {
			a.Crates = append(a.Crates, c)
		}
	}
}

func dirOf(relPath string) string {
	d := filepath.ToSlash(filepath.Dir(relPath))
	if d == "." {
		return ""
	}
	return d
}

func parentDir(dir string) string {
	if idx := strings.LastIndexByte(dir, '/'); idx > 0 {
		return dir[:idx]
	}
	return ""
}

func firstSegment(path string) string {
	if idx := strings.IndexByte(path, '/'); idx > 0 {
		return path[:idx]
	}
	return path
}

func firstSegments(path string, n int) string {
	parts := strings.Split(path, "/")
	if len(parts) <= n {
		// Path too shallow: the containing directory names the module,
		// with root files grouped under "root".
		if len(parts) <= 1 {
			return "root"
		}
		return strings.Join(parts[:len(parts)-1], "/")
	}
	return strings.Join(parts[:n], "/")
}
