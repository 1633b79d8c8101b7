package core

import (
	"context"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ChunkRouterConfig carries the chunking knobs.
type ChunkRouterConfig struct {
	MaxChunkLength int // chars, default 200
}

// ChunkRouter splits a prompt into chunks and assigns each chunk to its
// nearest expert by embedding similarity.
type ChunkRouter struct {
	cfg   ChunkRouterConfig
	index *ExpertIndex
	embed EmbedFn

	mu          sync.Mutex
	embedCache  map[uint64]Vector // memoizes EmbedFn within a single process lifetime by chunk-text hash
}

// NewChunkRouter constructs a router over index, using embed to vectorize
// chunks.
func NewChunkRouter(cfg ChunkRouterConfig, index *ExpertIndex, embed EmbedFn) *ChunkRouter {
	if cfg.MaxChunkLength <= 0 {
		cfg.MaxChunkLength = 200
	}
	return &ChunkRouter{cfg: cfg, index: index, embed: embed, embedCache: make(map[uint64]Vector)}
}

// Route splits prompt into chunks, embeds each, and assigns each to its
// nearest expert. An empty prompt yields an empty result. If the index is
// empty, Route fails with NoExperts.
func (r *ChunkRouter) Route(ctx context.Context, prompt string) ([]Routing, error) {
	chunks := splitPrompt(prompt, r.cfg.MaxChunkLength)
	if len(chunks) == 0 {
		return nil, nil
	}
	if r.index.Size() == 0 {
		return nil, newErr(ErrNoExperts, "expert index is empty")
	}

	routings := make([]Routing, len(chunks))
	for i, chunk := range chunks {
		embedding, err := r.embedCached(ctx, chunk.Text)
		if err != nil {
			return nil, wrapErr(ErrNoExperts, "embed chunk", err).WithChunk(i)
		}
		chunk.Embedding = embedding

		hits, err := r.index.FindBestExperts(embedding, 1)
		if err != nil {
			return nil, wrapErr(ErrNoExperts, "find_best_experts", err).WithChunk(i)
		}
		if len(hits) == 0 {
			return nil, newErr(ErrNoExperts, "no experts available").WithChunk(i)
		}
		routings[i] = Routing{Chunk: chunk, WorkerID: hits[0].WorkerID, Distance: hits[0].Distance}
	}
	return routings, nil
}

// embedCached memoizes EmbedFn per chunk text within one Route call's
// lifetime (and across calls on the same router), avoiding repeated
// embedding work for duplicate chunk text. Keyed by a non-cryptographic
// hash since this is a pure performance cache, not a security boundary.
func (r *ChunkRouter) embedCached(ctx context.Context, text string) (Vector, error) {
	key := xxhash.Sum64String(text)
	r.mu.Lock()
	if v, ok := r.embedCache[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	v, err := r.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.embedCache[key] = v
	r.mu.Unlock()
	return v, nil
}

// splitPrompt splits prompt into chunks of at most maxLen characters,
// preferring whitespace boundaries; a single token longer than maxLen is
// split mid-token. Chunk.Index preserves order for later reassembly.
func splitPrompt(prompt string, maxLen int) []Chunk {
	if prompt == "" {
		return nil
	}
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: uint32(len(chunks)), Text: current.String()})
		current.Reset()
	}

	for _, word := range words {
		for len(word) > maxLen {
			flush()
			chunks = append(chunks, Chunk{Index: uint32(len(chunks)), Text: word[:maxLen]})
			word = word[maxLen:]
		}
		candidateLen := current.Len() + len(word)
		if current.Len() > 0 {
			candidateLen++ // separating space
		}
		if candidateLen > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()
	return chunks
}
