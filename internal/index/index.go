package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pengxiaoo/caddie/internal/domain"
)

// Match is a similarity hit against the index.
type Match struct {
	DocID    string
	Question string
	Score    float64
}

type entry struct {
	Question string
	Vector   []float32
}

// SemanticIndex holds one embedding per document and answers nearest-question
// lookups by cosine similarity. Entries are keyed by doc id, so re-inserting
// the same id replaces the previous vector.
type SemanticIndex struct {
	mu       sync.RWMutex
	entries  map[string]entry
	embedder domain.Embedder
	cutoff   float64
}

// New creates an empty semantic index.
func New(embedder domain.Embedder, cutoff float64) *SemanticIndex {
	return &SemanticIndex{
		entries:  make(map[string]entry),
		embedder: embedder,
		cutoff:   cutoff,
	}
}

// Insert embeds the question and stores it under the doc id.
func (idx *SemanticIndex) Insert(ctx context.Context, docID, question string) error {
	result, err := idx.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("embed question: %w", err)
	}
	idx.InsertVector(docID, question, result.Embedding)
	return nil
}

// InsertVector stores a precomputed embedding under the doc id.
func (idx *SemanticIndex) InsertVector(docID, question string, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[docID] = entry{Question: question, Vector: vector}
}

// Delete removes a doc id from the index. Returns whether it was present.
func (idx *SemanticIndex) Delete(docID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.entries[docID]
	delete(idx.entries, docID)
	return ok
}

// Contains reports whether a doc id is indexed.
func (idx *SemanticIndex) Contains(docID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[docID]
	return ok
}

// Len returns the number of indexed documents.
func (idx *SemanticIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Query embeds the question and returns the best match at or above the
// similarity cutoff. The second return value is false when nothing clears it.
func (idx *SemanticIndex) Query(ctx context.Context, question string) (Match, bool, error) {
	result, err := idx.embedder.Embed(ctx, question)
	if err != nil {
		return Match{}, false, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	best := Match{Score: -1}
	for id, e := range idx.entries {
		score := cosineSimilarity(result.Embedding, e.Vector)
		if score > best.Score {
			best = Match{DocID: id, Question: e.Question, Score: score}
		}
	}

	if best.Score < idx.cutoff {
		return Match{}, false, nil
	}
	return best, true, nil
}

// DocIDs returns all indexed doc ids in stable order.
func (idx *SemanticIndex) DocIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes every entry.
func (idx *SemanticIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]entry)
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either has zero norm or the dimensions disagree.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
