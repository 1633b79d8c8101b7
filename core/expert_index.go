package core

import (
	"math"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/meshnet-labs/meshnet/internal/hnsw"
)

// ExpertIndex is an HNSW cosine-similarity index from an expert embedding to
// a worker id. It is shared read-mostly: insertions take the
// underlying index's writer lock, lookups its reader lock.
type ExpertIndex struct {
	dim   int
	index *hnsw.Index

	mu      sync.RWMutex
	labelOf map[int]string // hnsw label -> worker id, insertion order implied by label
	cache   *lru.Cache[string, []ExpertHit]
	log     *logrus.Logger
}

type ExpertHit struct {
	WorkerID string
	Distance float32

	label int // hnsw insertion label; breaks distance ties in insertion order
}

// ExpertIndexConfig exposes the HNSW construction parameters.
type ExpertIndexConfig struct {
	Dimensions     int
	M              int
	EfConstruction int
	MaxElements    int
	// QueryCacheSize bounds the number of (embedding-key -> results) entries
	// memoized across find_best_experts calls; 0 disables the cache.
	QueryCacheSize int
}

// NewExpertIndex constructs an empty index over vectors of cfg.Dimensions.
func NewExpertIndex(cfg ExpertIndexConfig) (*ExpertIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, newErr(ErrDimensionMismatch, "dimensions must be positive")
	}
	ei := &ExpertIndex{
		dim: cfg.Dimensions,
		index: hnsw.New(cfg.Dimensions, hnsw.Params{
			M:              cfg.M,
			EfConstruction: cfg.EfConstruction,
			MaxElements:    cfg.MaxElements,
		}),
		labelOf: make(map[int]string),
		log:     logrus.StandardLogger(),
	}
	if cfg.QueryCacheSize > 0 {
		c, err := lru.New[string, []ExpertHit](cfg.QueryCacheSize)
		if err != nil {
			return nil, wrapErr(ErrDimensionMismatch, "query cache", err)
		}
		ei.cache = c
	}
	return ei, nil
}

// AddExpert inserts worker_id -> embedding. Fails with DimensionMismatch if
// the embedding length differs from the index dimension.
func (ei *ExpertIndex) AddExpert(workerID string, embedding Vector) error {
	label, err := ei.index.Add([]float32(embedding))
	if err != nil {
		return wrapErr(ErrDimensionMismatch, "add_expert", err)
	}
	ei.mu.Lock()
	ei.labelOf[label] = workerID
	if ei.cache != nil {
		ei.cache.Purge() // the graph changed; stale cached neighbor lists are unsafe to reuse
	}
	ei.mu.Unlock()
	ei.log.WithFields(logrus.Fields{"worker_id": workerID, "label": label}).Info("expert_index: added expert")
	return nil
}

// FindBestExperts returns up to min(k, size) results sorted by ascending
// cosine distance, stable for exact ties by insertion order.
func (ei *ExpertIndex) FindBestExperts(query Vector, k int) ([]ExpertHit, error) {
	if k <= 0 {
		return nil, nil
	}
	ef := k
	if ef < 16 {
		ef = 16
	}

	cacheKey := ""
	if ei.cache != nil {
		cacheKey = cacheKeyFor(query, k)
		if hits, ok := ei.cache.Get(cacheKey); ok {
			return hits, nil
		}
	}

	results, err := ei.index.Search([]float32(query), k, ef)
	if err != nil {
		return nil, wrapErr(ErrDimensionMismatch, "find_best_experts", err)
	}

	ei.mu.RLock()
	hits := make([]ExpertHit, len(results))
	for i, r := range results {
		hits[i] = ExpertHit{WorkerID: ei.labelOf[r.Label], Distance: r.Dist, label: r.Label}
	}
	ei.mu.RUnlock()

	// HNSW search order is only approximately stable under ties; re-sort by
	// (distance, insertion label) so identical-distance results always come
	// back in insertion order.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].label < hits[j].label
	})

	if ei.cache != nil {
		ei.cache.Add(cacheKey, hits)
	}
	return hits, nil
}

// Size returns the number of indexed experts.
func (ei *ExpertIndex) Size() int { return ei.index.Size() }

func cacheKeyFor(v Vector, k int) string {
	b := make([]byte, 0, 4*len(v)+4)
	for _, f := range v {
		bits := math.Float32bits(f)
		b = append(b, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	b = append(b, byte(k), byte(k>>8), byte(k>>16), byte(k>>24))
	return string(b)
}
