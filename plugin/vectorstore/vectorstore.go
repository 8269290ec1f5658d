package vectorstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"

	// DefaultEmbeddingModel is used when no embedding model is named.
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Product is one catalog entry to index.
type Product struct {
	ID       string
	Name     string
	Content  string
	Metadata map[string]string
}

// SearchResult is a single semantic-search hit.
type SearchResult struct {
	ProductID string
	Name      string
	Content   string
	Score     float32
}

// Store wraps chromem-go with one collection per store URL.
// Embeddings are computed with the function passed to each call and handed to
// chromem precomputed, so a collection is never bound to one API key.
type Store struct {
	mu sync.RWMutex
	db *chromem.DB
}

// New opens the persistent index at dataDir/vectorstore/, or an in-memory one when dataDir is empty.
func New(dataDir string) (*Store, error) {
	if dataDir == "" {
		return &Store{db: chromem.NewDB()}, nil
	}
	dir := filepath.Join(dataDir, "vectorstore")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create vectorstore dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vectorstore: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenAICompatEmbedding returns an embedding function for an OpenAI-compatible endpoint.
// An empty baseURL means api.openai.com.
func OpenAICompatEmbedding(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil)
}

// collectionName returns the per-store collection name.
func collectionName(storeURL string) string {
	sum := sha1.Sum([]byte(strings.TrimRight(strings.ToLower(strings.TrimSpace(storeURL)), "/")))
	return "store_" + hex.EncodeToString(sum[:8]) + "_products"
}

// getOrCreateCollection returns (or creates) the per-store collection.
func (s *Store) getOrCreateCollection(storeURL string, embed chromem.EmbeddingFunc) *chromem.Collection {
	name := collectionName(storeURL)
	col := s.db.GetCollection(name, embed)
	if col == nil {
		var err error
		col, err = s.db.CreateCollection(name, map[string]string{"store": storeURL}, embed)
		if err != nil {
			slog.Error("failed to create vector collection", "store", storeURL, "err", err)
			return nil
		}
	}
	return col
}

// Count returns the number of products indexed for the store.
func (s *Store) Count(storeURL string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.db.GetCollection(collectionName(storeURL), nil)
	if col == nil {
		return 0
	}
	return col.Count()
}

// UpsertProducts indexes (or re-indexes) products for a store.
func (s *Store) UpsertProducts(ctx context.Context, storeURL string, embed chromem.EmbeddingFunc, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.getOrCreateCollection(storeURL, embed)
	if col == nil {
		return fmt.Errorf("vectorstore: nil collection for store %s", storeURL)
	}
	docs := make([]chromem.Document, 0, len(products))
	for _, p := range products {
		metadata := map[string]string{"name": p.Name}
		for k, v := range p.Metadata {
			metadata[k] = v
		}
		content := p.Content
		if content == "" {
			content = p.Name
		}
		embedding, err := embed(ctx, content)
		if err != nil {
			return fmt.Errorf("embed product %s: %w", p.ID, err)
		}
		docs = append(docs, chromem.Document{ID: p.ID, Content: content, Metadata: metadata, Embedding: embedding})
	}
	return col.AddDocuments(ctx, docs, 1)
}

// SearchSimilar returns the top-k products most semantically similar to the query.
func (s *Store) SearchSimilar(ctx context.Context, storeURL string, embed chromem.EmbeddingFunc, query string, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(storeURL), embed)
	if col == nil {
		return nil, nil
	}

	count := col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	embedding, err := embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var results []chromem.Result

	// chromem-go can reject nResults even after the Count check; step down k.
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.QueryEmbedding(ctx, embedding, attemptK, nil, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ProductID: r.ID,
			Name:      r.Metadata["name"],
			Content:   r.Content,
			Score:     r.Similarity,
		})
	}
	return out, nil
}
