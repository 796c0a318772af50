package store

import "time"

// Author types recorded on versions.
const (
	AuthorAI     = "ai"
	AuthorHuman  = "human"
	AuthorSystem = "system"
)

// LinkTypeWikilink is the default dependency type; the only one allowed to
// form cycles.
const LinkTypeWikilink = "wikilink"

const previewLen = 500

// Document is the stored unit. Version is a monotonic counter incremented on
// every content update; DeletedAt non-nil means soft-deleted.
type Document struct {
	ID             string
	Path           string
	Title          string
	Content        string
	ContentPreview string
	Description    string
	Keywords       []string
	RepoURL        string
	RepoName       string
	DocType        string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
	EmbeddingModel string
}

// Crate returns the first path segment.
func (d *Document) Crate() string {
	for i := 0; i < len(d.Path); i++ {
		if d.Path[i] == '/' {
			return d.Path[:i]
		}
	}
	return d.Path
}

// DocumentCreate is the upsert payload.
type DocumentCreate struct {
	Path        string
	Title       string
	Content     string
	Description string
	Keywords    []string
	RepoURL     string
	RepoName    string
	DocType     string
	AuthorType  string
	AuthorMeta  *AuthorMeta
}

// DocumentUpdate carries an update; nil fields are left unchanged.
// Version, when non-nil, enables optimistic locking.
type DocumentUpdate struct {
	Content     *string
	Description *string
	Version     *int
	AuthorType  string
	AuthorMeta  *AuthorMeta
}

// AuthorMeta is the JSON metadata stored on each version.
type AuthorMeta struct {
	Model        string            `json:"model,omitempty"`
	CommitSHA    string            `json:"commit_sha,omitempty"`
	SourceHashes map[string]string `json:"source_hashes,omitempty"`
	Trigger      string            `json:"trigger,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	MovedDoc     string            `json:"moved_doc,omitempty"`
}

// Version is an immutable snapshot of a document.
type Version struct {
	ID          string
	DocID       string
	Content     string
	ContentHash string
	AuthorType  string
	AuthorMeta  *AuthorMeta
	CreatedAt   time.Time
}

// Dependency is a directed wikilink-graph edge.
type Dependency struct {
	FromDocID string
	ToDocID   string
	LinkType  string
	LinkText  string
	Section   string
}

// ListOptions filter List.
type ListOptions struct {
	Skip       int
	Limit      int
	PathPrefix string
	RepoURL    string
}

// Snapshot is the pre-run state the orchestrator captures for cleanup.
type Snapshot struct {
	DocIDs        []string
	ByID          map[string]*Document
	HumanEdited   map[string]struct{}
	UserOrganized map[string]struct{}
}

// CleanupResult reports what orphan cleanup did and refused to do.
type CleanupResult struct {
	Deleted                int      `json:"deleted"`
	PreservedHuman         int      `json:"preserved_human"`
	PreservedUserOrganized int      `json:"preserved_user_organized"`
	PreservedFailed        int      `json:"preserved_failed"`
	Errors                 []string `json:"errors"`
}
