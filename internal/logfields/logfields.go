package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyRepo       = "repo_url"
	KeyCommit     = "commit"
	KeyDoc        = "doc_id"
	KeyTitle      = "title"
	KeyPath       = "path"
	KeyArea       = "area"
	KeyScout      = "scout"
	KeyEndpoint   = "endpoint"
	KeyModel      = "model"
	KeyError      = "error"
	KeyCount      = "count"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr    { return slog.String(KeyJobStatus, s) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Repo(url string) slog.Attr       { return slog.String(KeyRepo, url) }
func Commit(sha string) slog.Attr     { return slog.String(KeyCommit, sha) }
func Doc(id string) slog.Attr         { return slog.String(KeyDoc, id) }
func Title(t string) slog.Attr        { return slog.String(KeyTitle, t) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Area(name string) slog.Attr      { return slog.String(KeyArea, name) }
func Scout(key string) slog.Attr      { return slog.String(KeyScout, key) }
func Endpoint(e string) slog.Attr     { return slog.String(KeyEndpoint, e) }
func Model(m string) slog.Attr        { return slog.String(KeyModel, m) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
