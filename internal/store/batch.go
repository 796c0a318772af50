package store

import (
	"context"
	"fmt"
	"strings"
)

// Batch operation names.
const (
	BatchDelete         = "delete"
	BatchMove           = "move"
	BatchAddKeywords    = "add_keywords"
	BatchRemoveKeywords = "remove_keywords"
)

// BatchRequest applies one operation to many documents.
type BatchRequest struct {
	Operation string   `json:"operation"`
	DocIDs    []string `json:"doc_ids"`
	Path      string   `json:"path,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
}

// BatchResult reports per-document outcomes; a failure on one document does
// not stop the rest.
type BatchResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Batch runs a batch operation. Each document is its own unit of work.
func (s *Store) Batch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	switch req.Operation {
	case BatchDelete, BatchMove, BatchAddKeywords, BatchRemoveKeywords:
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown batch operation %q", req.Operation)}
	}
	if len(req.DocIDs) == 0 {
		return nil, &ValidationError{Msg: "doc_ids is required"}
	}
	if req.Operation == BatchMove && req.Path == "" {
		return nil, &ValidationError{Msg: "path is required for move"}
	}
	if (req.Operation == BatchAddKeywords || req.Operation == BatchRemoveKeywords) && len(req.Keywords) == 0 {
		return nil, &ValidationError{Msg: "keywords are required"}
	}

	result := &BatchResult{Failed: make(map[string]string)}
	for _, id := range req.DocIDs {
		var err error
		switch req.Operation {
		case BatchDelete:
			err = s.Delete(ctx, id)
		case BatchMove:
			_, err = s.Move(ctx, id, req.Path)
		case BatchAddKeywords:
			err = s.editKeywords(ctx, id, req.Keywords, nil)
		case BatchRemoveKeywords:
			err = s.editKeywords(ctx, id, nil, req.Keywords)
		}
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

func (s *Store) editKeywords(ctx context.Context, docID string, add, remove []string) error {
	doc, err := s.Get(ctx, docID)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(doc.Keywords)+len(add))
	var keywords []string
	drop := make(map[string]struct{}, len(remove))
	for _, k := range remove {
		drop[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range append(append([]string{}, doc.Keywords...), add...) {
		lower := strings.ToLower(k)
		if _, gone := drop[lower]; gone {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		keywords = append(keywords, k)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"UPDATE documents SET keywords = ? WHERE id = ?"+activeFilter,
		marshalKeywords(keywords), docID)
	if err != nil {
		return fmt.Errorf("update keywords of %s: %w", docID, err)
	}
	return nil
}
