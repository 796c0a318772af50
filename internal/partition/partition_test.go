package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/analyzer"
)

// fakeAnalysis builds an Analysis with the given modules; edges connects
// module pairs bidirectionally.
func fakeAnalysis(modules map[string]int, edges [][2]string) *analyzer.Analysis {
	a := &analyzer.Analysis{Modules: make(map[string]*analyzer.ModuleInfo)}
	for name, tokens := range modules {
		a.Modules[name] = &analyzer.ModuleInfo{
			Name:          name,
			TopDir:        firstSeg(name),
			TokenEstimate: tokens,
			ImportsFrom:   make(map[string]struct{}),
			ImportedBy:    make(map[string]struct{}),
			Files:         []analyzer.FileEntry{{Path: name + "/file.go", Size: int64(tokens * 4)}},
		}
		a.TokenEstimate += tokens
	}
	for _, e := range edges {
		a.Modules[e[0]].ImportsFrom[e[1]] = struct{}{}
		a.Modules[e[1]].ImportedBy[e[0]] = struct{}{}
	}
	return a
}

func firstSeg(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i]
		}
	}
	return s
}

func TestSingleAreaWhenFewModules(t *testing.T) {
	a := fakeAnalysis(map[string]int{"a": 900_000, "b": 900_000, "c": 900_000}, nil)

	areas := Partition(a, 100_000, Options{})
	require.Len(t, areas, 1, "module_count < 4 never splits, even with huge tokens")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, areas[0].Modules)
}

func TestSingleAreaWhenUnderBudget(t *testing.T) {
	modules := make(map[string]int)
	for i := 0; i < 50; i++ {
		modules[string(rune('a'+i%26))+string(rune('a'+i/26))] = 100
	}
	a := fakeAnalysis(modules, nil)

	areas := Partition(a, 100_000, Options{})
	require.Len(t, areas, 1, "token_estimate < 2x budget never splits")
}

func TestCommunitiesFollowEdges(t *testing.T) {
	// Two clusters of heavily connected modules plus a bridge-free layout.
	a := fakeAnalysis(map[string]int{
		"api/a": 60_000, "api/b": 60_000, "api/c": 60_000,
		"web/x": 60_000, "web/y": 60_000, "web/z": 60_000,
	}, [][2]string{
		{"api/a", "api/b"}, {"api/b", "api/c"}, {"api/a", "api/c"},
		{"web/x", "web/y"}, {"web/y", "web/z"}, {"web/x", "web/z"},
	})

	areas := Partition(a, 50_000, Options{MinAreas: 2, MaxAreas: 4})
	require.GreaterOrEqual(t, len(areas), 2)

	// No area mixes the two clusters.
	for _, area := range areas {
		hasAPI, hasWeb := false, false
		for _, m := range area.Modules {
			if firstSeg(m) == "api" {
				hasAPI = true
			}
			if firstSeg(m) == "web" {
				hasWeb = true
			}
		}
		assert.False(t, hasAPI && hasWeb, "area %s mixes communities: %v", area.Name, area.Modules)
	}
}

func TestForceSplitOnCompleteGraph(t *testing.T) {
	// Complete graph collapses to one community; all modules share one top
	// dir, so directory fallback also yields one group; force-split applies.
	modules := map[string]int{
		"core/a": 70_000, "core/b": 70_000, "core/c": 70_000,
		"core/d": 70_000, "core/e": 70_000, "core/f": 70_000,
	}
	var edges [][2]string
	names := []string{"core/a", "core/b", "core/c", "core/d", "core/e", "core/f"}
	for i := range names {
		for j := i + 1; j < len(names); j++ {
			edges = append(edges, [2]string{names[i], names[j]})
		}
	}
	a := fakeAnalysis(modules, edges)
	for _, m := range a.Modules {
		m.TopDir = "core"
	}

	areas := Partition(a, 100_000, Options{})
	assert.Greater(t, len(areas), 1, "force-split must break a single community")

	total := 0
	for _, area := range areas {
		total += len(area.Modules)
	}
	assert.Equal(t, 6, total, "every module lands in exactly one area")
}

func TestDeterministic(t *testing.T) {
	build := func() *analyzer.Analysis {
		return fakeAnalysis(map[string]int{
			"api/a": 60_000, "api/b": 50_000, "web/x": 70_000, "web/y": 40_000,
			"db/p": 30_000, "db/q": 45_000,
		}, [][2]string{
			{"api/a", "api/b"}, {"web/x", "web/y"}, {"db/p", "db/q"}, {"api/a", "db/p"},
		})
	}

	first := Partition(build(), 40_000, Options{})
	second := Partition(build(), 40_000, Options{})

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Modules, second[i].Modules)
	}
}

func TestAreasSortedBySizeDescending(t *testing.T) {
	a := fakeAnalysis(map[string]int{
		"api/a": 90_000, "api/b": 90_000, "web/x": 20_000, "web/y": 20_000,
		"db/p": 50_000, "db/q": 50_000,
	}, [][2]string{
		{"api/a", "api/b"}, {"web/x", "web/y"}, {"db/p", "db/q"},
	})

	areas := Partition(a, 50_000, Options{})
	for i := 1; i < len(areas); i++ {
		assert.GreaterOrEqual(t, areas[i-1].TokenEstimate, areas[i].TokenEstimate)
	}
}

func TestMaxAreasEnforced(t *testing.T) {
	modules := make(map[string]int)
	for c := 'a'; c <= 'l'; c++ {
		modules[string(c)+"/m"] = 80_000
	}
	a := fakeAnalysis(modules, nil)

	areas := Partition(a, 40_000, Options{})
	assert.LessOrEqual(t, len(areas), DefaultMaxAreas)
	assert.GreaterOrEqual(t, len(areas), 2)
}
