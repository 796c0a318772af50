package scout

import (
	"fmt"
	"strings"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/gitrepo"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

// DiffTask builds the single diff-scout task for a regeneration run: the
// scout correlates what changed in the repository against the documents
// that already exist and reports which are stale.
func DiffTask(change *gitrepo.ChangeContext, docs []*store.Document) Task {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The repository moved from commit %s to %s.\n\n", change.FromSHA, change.ToSHA)

	sb.WriteString("Commits in between:\n")
	for _, c := range change.Commits {
		sb.WriteString("- " + c + "\n")
	}

	sb.WriteString("\nExisting documentation pages:\n")
	for _, d := range docs {
		fmt.Fprintf(&sb, "- %q at %s", d.Title, d.Path)
		if d.Description != "" {
			sb.WriteString(": " + d.Description)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nDiff:\n```diff\n")
	sb.WriteString(change.Diff)
	sb.WriteString("\n```\n\n")
	sb.WriteString(`For each existing page, state whether it is OUTDATED (describes behavior
the diff changed), MISSING FACTS (the diff added something it should cover),
or CURRENT. Also list features the diff removed that any page still
describes. Be specific: name the page and the code change.`)

	return Task{Key: KeyDiff, Prompt: sb.String(), Retry: true}
}
