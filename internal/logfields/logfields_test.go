package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"JobID", KeyJobID, "123", JobID("123")},
		{"JobStatus", KeyJobStatus, "queued", JobStatus("queued")},
		{"Stage", KeyStage, "scout", Stage("scout")},
		{"Repo", KeyRepo, "https://example.com/r", Repo("https://example.com/r")},
		{"Commit", KeyCommit, "abc123", Commit("abc123")},
		{"Doc", KeyDoc, "doc-1", Doc("doc-1")},
		{"Title", KeyTitle, "Overview", Title("Overview")},
		{"Path", KeyPath, "repo/guides", Path("repo/guides")},
		{"Area", KeyArea, "backend", Area("backend")},
		{"Scout", KeyScout, "api", Scout("api")},
		{"Endpoint", KeyEndpoint, "planner", Endpoint("planner")},
		{"Model", KeyModel, "m1", Model("m1")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestErrorAttr(t *testing.T) {
	if got := Error(nil).Value.String(); got != "" {
		t.Fatalf("nil error should render empty, got %q", got)
	}
	if got := Error(errors.New("boom")).Value.String(); got != "boom" {
		t.Fatalf("expected boom, got %q", got)
	}
}
