package scout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
)

const (
	maxCompressionPasses = 3
	charsPerToken        = 4
)

// compressionPrompts get stricter each pass. The final pass strips all prose.
var compressionPrompts = []string{
	"Compress this scout report to roughly a third of its length. Preserve every concrete fact: names, paths, endpoints, types, config keys. Cut repetition and hedging.",
	"Compress this scout report hard, to roughly a third of its length. Keep only facts a documentation planner needs; drop examples and commentary.",
	"Reduce this scout report to a bare inventory: names, endpoints, file paths, config keys, one line each. No prose, no explanation.",
}

// Compress shrinks the report set until the concatenation fits half the
// planner's context window (tokens converted to chars at 4x). Reports
// already inside their share pass through untouched; the rest go through up
// to three LLM passes, each targeting a 3x reduction.
func (p *Pool) Compress(ctx context.Context, reports []Report, plannerWindow int) ([]Report, error) {
	budget := plannerWindow / 2 * charsPerToken
	if totalLen(reports) <= budget {
		return reports, nil
	}

	client, err := p.NewClient()
	if err != nil {
		return nil, fmt.Errorf("compression client: %w", err)
	}

	perReport := budget / len(reports)
	for pass := 0; pass < maxCompressionPasses; pass++ {
		if totalLen(reports) <= budget {
			break
		}
		for i := range reports {
			if len(reports[i].Content) <= perReport || reports[i].Failed {
				continue
			}
			compressed, err := client.CompleteWithSystem(ctx, systemPrompt,
				compressionPrompts[pass]+"\n\n---\n\n"+reports[i].Content)
			if err != nil {
				slog.Warn("compression pass failed, keeping report as-is",
					logfields.Scout(reports[i].Key), logfields.Error(err))
				continue
			}
			if len(compressed) < len(reports[i].Content) {
				reports[i].Content = strings.TrimSpace(compressed)
			}
		}
		slog.Info("compression pass done",
			slog.Int("pass", pass+1),
			logfields.Count(totalLen(reports)))
	}
	return reports, nil
}

// Concatenate joins reports into the planner input.
func Concatenate(reports []Report) string {
	var sb strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&sb, "## Scout report: %s\n\n%s\n\n", r.Key, r.Content)
	}
	return sb.String()
}

func totalLen(reports []Report) int {
	n := 0
	for _, r := range reports {
		n += len(r.Content)
	}
	return n
}
