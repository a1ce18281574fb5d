package records

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

// DocumentMetadata is the caller-supplied description of one document.
type DocumentMetadata struct {
	UserID string
	// DocumentID groups chunks. Defaults to doc-<docKey>.
	DocumentID string
	Question   string
	Title      string
	Source     string
}

// Enricher turns chunks into records with IDs and metadata.
type Enricher struct {
	keys KeySource
	now  func() time.Time
}

// NewEnricher creates an Enricher. A nil keys uses MonotonicKeys.
func NewEnricher(keys KeySource) *Enricher {
	if keys == nil {
		keys = NewMonotonicKeys()
	}
	return &Enricher{keys: keys, now: time.Now}
}

// Enrich builds one record per chunk. All records share one docKey; each
// gets its chunk index and a fresh timestamp.
func (e *Enricher) Enrich(chunks []string, meta DocumentMetadata) ([]vectorstore.Document, error) {
	if err := ValidateUserID(meta.UserID); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	docKey := e.keys.Next()
	documentID := meta.DocumentID
	if documentID == "" {
		documentID = "doc-" + docKey
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, text := range chunks {
		md := map[string]interface{}{
			KeyUserID:     meta.UserID,
			KeyDocumentID: documentID,
			KeyDocKey:     docKey,
			KeyChunkIndex: i,
			KeyTimestamp:  e.now().UTC().Format(time.RFC3339Nano),
		}
		setIfPresent(md, KeyQuestion, meta.Question)
		setIfPresent(md, KeyTitle, meta.Title)
		setIfPresent(md, KeyProvenance, meta.Source)

		docs[i] = vectorstore.Document{
			ID:       FormatID(meta.UserID, docKey, i),
			Content:  text,
			Metadata: md,
		}
	}

	if err := CheckUnique(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func setIfPresent(md map[string]interface{}, key, value string) {
	if value != "" {
		md[key] = value
	}
}

// CheckUnique fails if two documents share an ID.
func CheckUnique(docs []vectorstore.Document) error {
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateRecordID, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
