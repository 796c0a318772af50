// Package scout runs the tier-0 reconnaissance workers. Each scout reads a
// slice of the repository through a prompt-sized manifest and produces a
// structured markdown report; the planner consumes the concatenated,
// possibly compressed, reports.
package scout

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/analyzer"
)

// Topic scout keys, in catalogue order.
const (
	TopicStructure    = "structure"
	TopicArchitecture = "architecture"
	TopicAPI          = "api"
	TopicInfra        = "infra"
	TopicTests        = "tests"
	KeyDiff           = "diff"
)

// Ratio thresholds for the optional topic scouts.
const (
	infraRatioThreshold = 0.3
	testsRatioThreshold = 1.0
)

// moduleScoutMinModules gates module scouts: below this, topic scouts
// cover the repository fine.
const moduleScoutMinModules = 4

// Completer is the slice of the LLM client a scout needs. *llm.Client
// satisfies it; tests swap in fakes.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	ContextWindow() int
}

// Report is one scout's output. Failed reports keep a short placeholder
// body so the planner always sees every scheduled key.
type Report struct {
	Key     string
	Content string
	Failed  bool
}

// BudgetRatio is repository tokens over the scout model's context window.
func BudgetRatio(tokenEstimate, contextWindow int) float64 {
	if contextWindow <= 0 {
		return 0
	}
	return float64(tokenEstimate) / float64(contextWindow)
}

// SelectTopics returns the topic scouts to run for a budget ratio.
// structure, architecture and api always run.
func SelectTopics(ratio float64) []string {
	topics := []string{TopicStructure, TopicArchitecture, TopicAPI}
	if ratio >= infraRatioThreshold {
		topics = append(topics, TopicInfra)
	}
	if ratio >= testsRatioThreshold {
		topics = append(topics, TopicTests)
	}
	return topics
}

// UseModuleScouts reports whether the repository is big and modular enough
// to scout per module group instead of per topic.
func UseModuleScouts(ratio float64, moduleCount int) bool {
	return ratio > 1.0 && moduleCount >= moduleScoutMinModules
}

// ModuleBuckets groups module names for module scouts. Packing is
// locality-aware: a module prefers the bucket already holding a sibling
// (same parent directory) unless that bucket has grown past twice the
// average, in which case the smallest bucket wins.
func ModuleBuckets(modules map[string]*analyzer.ModuleInfo, parallel int) [][]string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := modules[names[i]], modules[names[j]]
		if a.TokenEstimate != b.TokenEstimate {
			return a.TokenEstimate > b.TokenEstimate
		}
		return names[i] < names[j]
	})

	count := 3 * parallel
	if count < 4 {
		count = 4
	}
	if count > len(names) {
		count = len(names)
	}
	if count == 0 {
		return nil
	}

	type bucket struct {
		names   []string
		tokens  int
		parents map[string]struct{}
	}
	buckets := make([]*bucket, count)
	for i := range buckets {
		buckets[i] = &bucket{parents: make(map[string]struct{})}
	}

	total := 0
	filled := 0
	for _, name := range names {
		parent := path.Dir(name)
		avg := 0
		if filled > 0 {
			avg = total / filled
		}
		var target *bucket
		for _, b := range buckets {
			if _, ok := b.parents[parent]; ok && (avg == 0 || b.tokens <= 2*avg) {
				target = b
				break
			}
		}
		if target == nil {
			target = buckets[0]
			for _, b := range buckets[1:] {
				if b.tokens < target.tokens {
					target = b
				}
			}
		}

		if len(target.names) == 0 {
			filled++
		}
		target.names = append(target.names, name)
		target.tokens += modules[name].TokenEstimate
		target.parents[parent] = struct{}{}
		total += modules[name].TokenEstimate
	}

	var out [][]string
	for _, b := range buckets {
		if len(b.names) > 0 {
			sort.Strings(b.names)
			out = append(out, b.names)
		}
	}
	return out
}

// ModuleKey is the report key for a module-scout bucket.
func ModuleKey(i int) string { return fmt.Sprintf("module_group_%d", i+1) }
