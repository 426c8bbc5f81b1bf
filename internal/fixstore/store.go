// Package fixstore provides read-only lookup of historical fix examples
// used to ground LLM patch prompts.
//
// Examples live in an embedded chromem-go collection so no external vector
// service is required. The pipeline only queries the store; population is
// an offline concern (the Add method exists for seeding and tests).
package fixstore

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// FixExample is one historical vulnerability fix.
type FixExample struct {
	ID       string
	CVEID    string
	Problem  string
	Solution string
	Diff     string
	Language string
}

// Store wraps a chromem collection of fix examples.
type Store struct {
	collection *chromem.Collection
	logger     *zap.Logger
}

// Config configures the store.
type Config struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string
	// Collection is the collection name. Default "eureka_fix_examples".
	Collection string
	// Compress enables gob compression for the persistent store.
	Compress bool
}

// New opens (or creates) the fix-example collection.
//
// embed may be nil, in which case chromem's default embedding is used; in
// practice callers inject the embedding function wired to their model
// provider.
func New(cfg Config, embed chromem.EmbeddingFunc, logger *zap.Logger) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = "eureka_fix_examples"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("fixstore: opening persistent store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("fixstore: opening collection %q: %w", cfg.Collection, err)
	}

	return &Store{collection: collection, logger: logger}, nil
}

// Add seeds one example. Embeds the problem and solution text for semantic
// retrieval.
func (s *Store) Add(ctx context.Context, ex FixExample) error {
	if ex.ID == "" {
		return fmt.Errorf("fixstore: example needs an ID")
	}
	doc := chromem.Document{
		ID:      ex.ID,
		Content: ex.Problem + "\n\n" + ex.Solution,
		Metadata: map[string]string{
			"cve_id":   ex.CVEID,
			"problem":  ex.Problem,
			"solution": ex.Solution,
			"diff":     ex.Diff,
			"language": ex.Language,
		},
	}
	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("fixstore: adding example %s: %w", ex.ID, err)
	}
	return nil
}

// Similar returns up to k examples semantically close to query. An empty
// collection yields an empty slice, not an error.
func (s *Store) Similar(ctx context.Context, query string, k int) ([]FixExample, error) {
	count := s.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fixstore: querying examples: %w", err)
	}

	examples := make([]FixExample, 0, len(results))
	for _, r := range results {
		examples = append(examples, FixExample{
			ID:       r.ID,
			CVEID:    r.Metadata["cve_id"],
			Problem:  r.Metadata["problem"],
			Solution: r.Metadata["solution"],
			Diff:     r.Metadata["diff"],
			Language: r.Metadata["language"],
		})
	}

	s.logger.Debug("fix examples retrieved",
		zap.String("query_head", head(query, 80)),
		zap.Int("returned", len(examples)),
	)
	return examples, nil
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
