// Package partition splits a large repository's module graph into coherent
// documentation areas via weighted label propagation, with directory and
// round-robin fallbacks and a token-balance pass.
package partition

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/analyzer"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

const (
	// DefaultMinAreas and DefaultMaxAreas bound the partition size.
	DefaultMinAreas = 3
	DefaultMaxAreas = 7

	// shuffleSeed fixes the label propagation visit order so partitioning
	// is deterministic across runs.
	shuffleSeed = 1337

	maxIterations = 50
)

// Area is a frozen partition of modules sized for the planner's context window.
type Area struct {
	Name          string
	Modules       []string
	Files         []analyzer.FileEntry
	TokenEstimate int
}

// Options tune the partitioner; zero values take defaults.
type Options struct {
	MinAreas int
	MaxAreas int
}

func (o Options) withDefaults() Options {
	if o.MinAreas <= 0 {
		o.MinAreas = DefaultMinAreas
	}
	if o.MaxAreas <= 0 {
		o.MaxAreas = DefaultMaxAreas
	}
	return o
}

// Partition decides whether to split and returns the areas. A one-element
// result means "do not split"; callers never branch on whether partitioning
// happened.
func Partition(a *analyzer.Analysis, contextBudget int, opts Options) []Area {
	opts = opts.withDefaults()

	if a.TokenEstimate < 2*contextBudget || a.ModuleCount() < 4 {
		return []Area{wholeRepoArea(a)}
	}

	groups := labelPropagation(a)
	if len(groups) <= 1 {
		groups = groupByTopDir(a)
	}
	if len(groups) <= 1 {
		groups = forceSplit(a, opts.MaxAreas)
	}

	groups = balance(a, groups, contextBudget, opts)

	areas := assemble(a, groups)
	slog.Info("repository partitioned",
		logfields.Count(len(areas)),
		slog.Int("modules", a.ModuleCount()),
		slog.Int("tokens", a.TokenEstimate))
	return areas
}

func wholeRepoArea(a *analyzer.Analysis) Area {
	modules := sortedModuleNames(a)
	return Area{
		Name:          "repository",
		Modules:       modules,
		Files:         a.Files,
		TokenEstimate: a.TokenEstimate,
	}
}

func sortedModuleNames(a *analyzer.Analysis) []string {
	names := make([]string, 0, len(a.Modules))
	for name := range a.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// labelPropagation runs weighted label propagation over the undirected
// module graph. Each node adopts the label whose neighboring token weight is
// highest, ties broken by smallest label, until a full pass changes nothing.
func labelPropagation(a *analyzer.Analysis) [][]string {
	names := sortedModuleNames(a)

	adjacency := make(map[string]map[string]struct{}, len(names))
	hasEdges := false
	for name, m := range a.Modules {
		neighbors := make(map[string]struct{})
		for n := range m.ImportsFrom {
			neighbors[n] = struct{}{}
		}
		for n := range m.ImportedBy {
			neighbors[n] = struct{}{}
		}
		delete(neighbors, name)
		if len(neighbors) > 0 {
			hasEdges = true
		}
		adjacency[name] = neighbors
	}
	if !hasEdges {
		return nil
	}

	labels := make(map[string]string, len(names))
	for _, name := range names {
		labels[name] = name
	}

	rng := rand.New(rand.NewSource(shuffleSeed))
	order := append([]string(nil), names...)

	for iter := 0; iter < maxIterations; iter++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		changed := false
		for _, node := range order {
			weights := make(map[string]int)
			for neighbor := range adjacency[node] {
				weights[labels[neighbor]] += a.Modules[neighbor].TokenEstimate
			}
			if len(weights) == 0 {
				continue
			}
			best := labels[node]
			bestWeight := -1
			labelKeys := make([]string, 0, len(weights))
			for l := range weights {
				labelKeys = append(labelKeys, l)
			}
			sort.Strings(labelKeys)
			for _, l := range labelKeys {
				if weights[l] > bestWeight {
					best, bestWeight = l, weights[l]
				}
			}
			if best != labels[node] {
				labels[node] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	byLabel := make(map[string][]string)
	for _, name := range names {
		byLabel[labels[name]] = append(byLabel[labels[name]], name)
	}
	return groupsOf(byLabel)
}

func groupByTopDir(a *analyzer.Analysis) [][]string {
	byDir := make(map[string][]string)
	for _, name := range sortedModuleNames(a) {
		byDir[a.Modules[name].TopDir] = append(byDir[a.Modules[name].TopDir], name)
	}
	return groupsOf(byDir)
}

// forceSplit round-robins modules, largest first, into maxAreas buckets by
// current bucket token size.
func forceSplit(a *analyzer.Analysis, maxAreas int) [][]string {
	names := sortedModuleNames(a)
	sort.SliceStable(names, func(i, j int) bool {
		return a.Modules[names[i]].TokenEstimate > a.Modules[names[j]].TokenEstimate
	})

	n := maxAreas
	if len(names) < n {
		n = len(names)
	}
	buckets := make([][]string, n)
	sizes := make([]int, n)
	for _, name := range names {
		smallest := 0
		for i := 1; i < n; i++ {
			if sizes[i] < sizes[smallest] {
				smallest = i
			}
		}
		buckets[smallest] = append(buckets[smallest], name)
		sizes[smallest] += a.Modules[name].TokenEstimate
	}

	var groups [][]string
	for _, b := range buckets {
		if len(b) > 0 {
			groups = append(groups, b)
		}
	}
	return groups
}

func groupsOf(m map[string][]string) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	groups := make([][]string, 0, len(keys))
	for _, k := range keys {
		g := m[k]
		sort.Strings(g)
		groups = append(groups, g)
	}
	return groups
}

func groupTokens(a *analyzer.Analysis, group []string) int {
	total := 0
	for _, name := range group {
		total += a.Modules[name].TokenEstimate
	}
	return total
}

// crossEdges counts import edges between two groups in either direction.
func crossEdges(a *analyzer.Analysis, g1, g2 []string) int {
	in2 := make(map[string]struct{}, len(g2))
	for _, name := range g2 {
		in2[name] = struct{}{}
	}
	count := 0
	for _, name := range g1 {
		m := a.Modules[name]
		for n := range m.ImportsFrom {
			if _, ok := in2[n]; ok {
				count++
			}
		}
		for n := range m.ImportedBy {
			if _, ok := in2[n]; ok {
				count++
			}
		}
	}
	return count
}

// balance merges undersized groups, splits oversized ones, then enforces the
// min/max group counts.
func balance(a *analyzer.Analysis, groups [][]string, contextBudget int, opts Options) [][]string {
	mergeFloor := contextBudget / opts.MaxAreas

	// Merge: smallest group into the neighbor with the most cross-edges.
	for len(groups) > 2 {
		smallest := smallestGroup(a, groups)
		if groupTokens(a, groups[smallest]) >= mergeFloor {
			break
		}
		target, bestEdges := -1, -1
		for i := range groups {
			if i == smallest {
				continue
			}
			edges := crossEdges(a, groups[smallest], groups[i])
			if edges > bestEdges {
				target, bestEdges = i, edges
			}
		}
		if bestEdges <= 0 {
			// No connecting edges; merge into the smallest other group.
			target = -1
			for i := range groups {
				if i == smallest {
					continue
				}
				if target < 0 || groupTokens(a, groups[i]) < groupTokens(a, groups[target]) {
					target = i
				}
			}
		}
		groups[target] = append(groups[target], groups[smallest]...)
		sort.Strings(groups[target])
		groups = append(groups[:smallest], groups[smallest+1:]...)
	}

	// Split: bisect any group over twice the budget.
	for len(groups) < opts.MaxAreas {
		idx := -1
		for i := range groups {
			if groupTokens(a, groups[i]) > 2*contextBudget && len(groups[i]) >= 2 {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		left, right := bisect(a, groups[idx])
		groups[idx] = left
		groups = append(groups, right)
	}

	// Enforce bounds.
	for len(groups) > opts.MaxAreas {
		i, j := twoSmallest(a, groups)
		groups[i] = append(groups[i], groups[j]...)
		sort.Strings(groups[i])
		groups = append(groups[:j], groups[j+1:]...)
	}
	for len(groups) < opts.MinAreas {
		idx, largest := -1, -1
		for i := range groups {
			if len(groups[i]) < 2 {
				continue
			}
			if tokens := groupTokens(a, groups[i]); tokens > largest {
				idx, largest = i, tokens
			}
		}
		if idx < 0 {
			break
		}
		left, right := bisect(a, groups[idx])
		groups[idx] = left
		groups = append(groups, right)
	}

	return groups
}

// bisect splits a group at the midpoint of its sorted-by-size module list.
func bisect(a *analyzer.Analysis, group []string) ([]string, []string) {
	sorted := append([]string(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return a.Modules[sorted[i]].TokenEstimate > a.Modules[sorted[j]].TokenEstimate
	})
	mid := len(sorted) / 2
	left := append([]string(nil), sorted[:mid]...)
	right := append([]string(nil), sorted[mid:]...)
	sort.Strings(left)
	sort.Strings(right)
	return left, right
}

func smallestGroup(a *analyzer.Analysis, groups [][]string) int {
	idx := 0
	for i := range groups {
		if groupTokens(a, groups[i]) < groupTokens(a, groups[idx]) {
			idx = i
		}
	}
	return idx
}

func twoSmallest(a *analyzer.Analysis, groups [][]string) (int, int) {
	first, second := -1, -1
	for i := range groups {
		t := groupTokens(a, groups[i])
		switch {
		case first < 0 || t < groupTokens(a, groups[first]):
			second = first
			first = i
		case second < 0 || t < groupTokens(a, groups[second]):
			second = i
		}
	}
	if first > second {
		first, second = second, first
	}
	return first, second
}

// assemble orders areas by size descending and names each from its dominant
// top-level directories.
func assemble(a *analyzer.Analysis, groups [][]string) []Area {
	areas := make([]Area, 0, len(groups))
	for _, group := range groups {
		area := Area{Modules: group, Name: areaName(a, group)}
		for _, name := range group {
			m := a.Modules[name]
			area.Files = append(area.Files, m.Files...)
			area.TokenEstimate += m.TokenEstimate
		}
		sort.Slice(area.Files, func(i, j int) bool { return area.Files[i].Path < area.Files[j].Path })
		areas = append(areas, area)
	}
	sort.SliceStable(areas, func(i, j int) bool { return areas[i].TokenEstimate > areas[j].TokenEstimate })
	return areas
}

func areaName(a *analyzer.Analysis, group []string) string {
	if len(group) == 1 {
		return group[0]
	}
	dirTokens := make(map[string]int)
	for _, name := range group {
		m := a.Modules[name]
		dirTokens[m.TopDir] += m.TokenEstimate
	}
	dirs := make([]string, 0, len(dirTokens))
	for d := range dirTokens {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirTokens[dirs[i]] != dirTokens[dirs[j]] {
			return dirTokens[dirs[i]] > dirTokens[dirs[j]]
		}
		return dirs[i] < dirs[j]
	})
	if len(dirs) > 3 {
		dirs = dirs[:3]
	}
	return strings.Join(dirs, "-")
}

// Describe renders a short human-readable summary for logs.
func Describe(areas []Area) string {
	parts := make([]string, 0, len(areas))
	for _, area := range areas {
		parts = append(parts, fmt.Sprintf("%s(%d modules, ~%d tokens)", area.Name, len(area.Modules), area.TokenEstimate))
	}
	return strings.Join(parts, ", ")
}
