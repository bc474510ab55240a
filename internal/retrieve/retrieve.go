// Package retrieve implements hybrid contextual retrieval: parallel
// search strategies over the chunk store, blended re-ranking, context
// expansion, diversity caps, and lost-in-middle reordering.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chunkstack/chunkstack/internal/config"
	"github.com/chunkstack/chunkstack/internal/embed"
	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/query"
	"github.com/chunkstack/chunkstack/internal/store"
)

// Strategy identifies one retrieval strategy.
type Strategy string

const (
	StrategyVectorOnly Strategy = "vectorOnly"
	StrategyLexical    Strategy = "lexical"
	StrategyMultiScale Strategy = "multiScale"
	StrategyContextual Strategy = "contextual"

	// StrategyExpansion marks items added by context expansion rather
	// than by a search strategy.
	StrategyExpansion Strategy = "expansion"
)

// AllStrategies is the default strategy set.
var AllStrategies = []Strategy{StrategyVectorOnly, StrategyLexical, StrategyMultiScale, StrategyContextual}

// Options tunes one retrieval call. Zero values select configured
// defaults.
type Options struct {
	K          int
	Strategies []Strategy
	Filters    store.SearchFilters

	HierarchicalExpansion bool
	SemanticExpansion     bool
	MaxExpansionChunks    int

	LostInMiddleMitigation bool

	MaxChunksPerSource int
	MaxChunksPerPage   int
}

// Item is one ranked retrieval result.
type Item struct {
	Chunk    *store.ChunkNode
	Score    float64
	Strategy Strategy // largest contributing strategy
	Citation store.Citation
}

// Stats records one strategy's contribution to a query.
type Stats struct {
	Candidates int
	Error      string
}

// Result is the response for one retrieval call.
type Result struct {
	Items     []Item
	Stats     map[Strategy]Stats
	QueryType query.Type
	Keywords  []string
	// Degraded is true when any enabled strategy was silently dropped,
	// including the lexical-only fallback when the provider is down.
	Degraded bool
}

// Retriever executes hybrid retrieval against a chunk store.
type Retriever struct {
	store      *store.Store
	provider   embed.Provider
	classifier *query.Classifier
	cfg        config.RetrievalConfig
	log        *slog.Logger
}

// New creates a retriever. provider may be nil, which forces
// lexical-only operation.
func New(st *store.Store, provider embed.Provider, cfg config.RetrievalConfig, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:      st,
		provider:   provider,
		classifier: query.NewClassifier(0),
		cfg:        cfg,
		log:        logger,
	}
}

// candidate accumulates per-strategy evidence for one chunk.
type candidate struct {
	vector     float64 // best similarity across vector strategies
	contextual float64 // contextual strategy similarity
	lexical    float64 // normalised lexical score
	byStrategy map[Strategy]float64
}

// Retrieve runs the enabled strategies in parallel, merges candidates
// under the blended score, and applies expansion, diversity, and
// ordering.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, opts Options) (*Result, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, cserr.New(cserr.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if opts.K <= 0 {
		opts.K = 10
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = AllStrategies
	}
	if opts.MaxChunksPerSource == 0 {
		opts.MaxChunksPerSource = r.cfg.MaxChunksPerSource
	}
	if opts.MaxChunksPerPage == 0 {
		opts.MaxChunksPerPage = r.cfg.MaxChunksPerPage
	}
	if opts.MaxExpansionChunks == 0 {
		opts.MaxExpansionChunks = r.cfg.MaxExpansionChunks
	}

	cls := r.classifier.Classify(queryText)
	res := &Result{
		Stats:     make(map[Strategy]Stats),
		QueryType: cls.Type,
		Keywords:  cls.Keywords,
	}

	qvecs := r.queryVectors(ctx, queryText, cls, res)

	cands := r.runStrategies(ctx, queryText, qvecs, opts, cls, res)

	// Fallback: a completely empty merge retries plain VectorOnly
	// before giving up.
	if len(cands) == 0 && qvecs != nil {
		if hits, err := r.store.SearchByVector(ctx, store.KindContent, qvecs[store.KindContent], opts.K, opts.Filters); err == nil {
			cands = make(map[string]*candidate)
			mergeVectorHits(cands, StrategyVectorOnly, hits)
		}
	}
	if len(cands) == 0 {
		return res, nil
	}

	items, err := r.rank(ctx, cands, cls.Type)
	if err != nil {
		return nil, err
	}

	items = applyDiversityCaps(items, opts.MaxChunksPerSource, opts.MaxChunksPerPage)
	if len(items) > opts.K {
		items = items[:opts.K]
	}

	if opts.HierarchicalExpansion || opts.SemanticExpansion {
		// Expansion context competes for the same K slots and the same
		// caps as the anchors. It scores half its anchor, so the top
		// of the list is always an anchor.
		items = r.expand(ctx, items, opts)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
		items = applyDiversityCaps(items, opts.MaxChunksPerSource, opts.MaxChunksPerPage)
		if len(items) > opts.K {
			items = items[:opts.K]
		}
	}
	if opts.LostInMiddleMitigation {
		items = reorderLostInMiddle(items)
	}

	res.Items = items
	return res, nil
}

// queryVectors embeds the query once per needed kind. A missing or
// mismatched provider returns nil and marks the result degraded.
func (r *Retriever) queryVectors(ctx context.Context, queryText string, cls query.Classification, res *Result) map[store.EmbeddingKind][]float32 {
	if r.provider == nil || !r.provider.Available(ctx) {
		r.log.Warn("embedding provider unavailable, using lexical-only retrieval")
		res.Degraded = true
		return nil
	}
	if err := r.store.CheckDimensions(r.provider.Dimensions()); err != nil {
		r.log.Warn("provider dimensions do not match the store, using lexical-only retrieval",
			"error", err)
		res.Degraded = true
		return nil
	}

	// The semantic index holds keyword-oriented inputs, so it gets the
	// extracted keywords; the other kinds embed the raw query.
	kindText := map[store.EmbeddingKind]string{
		store.KindContent:      queryText,
		store.KindContextual:   queryText,
		store.KindHierarchical: queryText,
		store.KindSemantic:     queryText,
	}
	if len(cls.Keywords) > 0 {
		kindText[store.KindSemantic] = strings.Join(cls.Keywords, " ")
	}

	kinds := make([]store.EmbeddingKind, 0, len(kindText))
	texts := make([]string, 0, len(kindText))
	for _, kind := range store.AllKinds {
		kinds = append(kinds, kind)
		texts = append(texts, kindText[kind])
	}

	vecs, err := r.provider.EmbedBatch(ctx, texts)
	if err != nil {
		r.log.Warn("query embedding failed, using lexical-only retrieval", "error", err)
		res.Degraded = true
		return nil
	}

	out := make(map[store.EmbeddingKind][]float32, len(kinds))
	for i, kind := range kinds {
		out[kind] = vecs[i]
	}
	return out
}

// runStrategies fans out the enabled strategies and merges their hits.
func (r *Retriever) runStrategies(ctx context.Context, queryText string, qvecs map[store.EmbeddingKind][]float32, opts Options, cls query.Classification, res *Result) map[string]*candidate {
	k1 := opts.K * 2

	type strategyHits struct {
		strategy Strategy
		vector   []store.VectorHit
		lexical  []store.LexicalHit
	}
	results := make(chan strategyHits, len(opts.Strategies)*4)

	g, gctx := errgroup.WithContext(ctx)

	for _, st := range opts.Strategies {
		if st != StrategyLexical && qvecs == nil {
			res.Degraded = true
			continue
		}
		switch st {
		case StrategyVectorOnly:
			g.Go(func() error {
				hits, err := r.store.SearchByVector(gctx, store.KindContent, qvecs[store.KindContent], k1, opts.Filters)
				if err != nil {
					r.recordError(res, StrategyVectorOnly, err)
					return nil
				}
				results <- strategyHits{strategy: StrategyVectorOnly, vector: hits}
				return nil
			})
		case StrategyLexical:
			g.Go(func() error {
				hits, err := r.store.SearchByText(gctx, queryText, k1, opts.Filters)
				if err != nil {
					r.recordError(res, StrategyLexical, err)
					return nil
				}
				results <- strategyHits{strategy: StrategyLexical, lexical: hits}
				return nil
			})
		case StrategyMultiScale:
			for _, kind := range []store.EmbeddingKind{store.KindContextual, store.KindHierarchical, store.KindSemantic} {
				g.Go(func() error {
					hits, err := r.store.SearchByVector(gctx, kind, qvecs[kind], opts.K, opts.Filters)
					if err != nil {
						r.recordError(res, StrategyMultiScale, err)
						return nil
					}
					results <- strategyHits{strategy: StrategyMultiScale, vector: hits}
					return nil
				})
			}
		case StrategyContextual:
			g.Go(func() error {
				filters := opts.Filters
				if ct := preferredContentType(cls.Type); ct != "" && filters.ContentType == "" {
					filters.ContentType = ct
				}
				hits, err := r.store.SearchByVector(gctx, store.KindContextual, qvecs[store.KindContextual], opts.K, filters)
				if err != nil {
					r.recordError(res, StrategyContextual, err)
					return nil
				}
				results <- strategyHits{strategy: StrategyContextual, vector: hits}
				return nil
			})
		}
	}

	_ = g.Wait()
	close(results)

	cands := make(map[string]*candidate)
	for sh := range results {
		stats := res.Stats[sh.strategy]
		if sh.lexical != nil {
			stats.Candidates += len(sh.lexical)
			mergeLexicalHits(cands, sh.lexical)
		} else {
			stats.Candidates += len(sh.vector)
			mergeVectorHits(cands, sh.strategy, sh.vector)
		}
		res.Stats[sh.strategy] = stats
	}
	return cands
}

func (r *Retriever) recordError(res *Result, st Strategy, err error) {
	r.log.Warn("retrieval strategy failed", "strategy", string(st), "error", err)
	stats := res.Stats[st]
	stats.Error = err.Error()
	res.Stats[st] = stats
	res.Degraded = true
}

func mergeVectorHits(cands map[string]*candidate, st Strategy, hits []store.VectorHit) {
	for _, h := range hits {
		c := cands[h.ChunkID]
		if c == nil {
			c = &candidate{byStrategy: make(map[Strategy]float64)}
			cands[h.ChunkID] = c
		}
		score := float64(h.Score)
		if score > c.vector {
			c.vector = score
		}
		if st == StrategyContextual && score > c.contextual {
			c.contextual = score
		}
		if score > c.byStrategy[st] {
			c.byStrategy[st] = score
		}
	}
}

// mergeLexicalHits normalises lexical scores by the best hit so they
// are comparable with cosine similarities.
func mergeLexicalHits(cands map[string]*candidate, hits []store.LexicalHit) {
	if len(hits) == 0 {
		return
	}
	max := hits[0].Score
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	if max <= 0 {
		max = 1
	}
	for _, h := range hits {
		c := cands[h.ChunkID]
		if c == nil {
			c = &candidate{byStrategy: make(map[Strategy]float64)}
			cands[h.ChunkID] = c
		}
		norm := h.Score / max
		if norm > c.lexical {
			c.lexical = norm
		}
		if norm > c.byStrategy[StrategyLexical] {
			c.byStrategy[StrategyLexical] = norm
		}
	}
}

// rank fetches candidate chunks and orders them by the blended score.
func (r *Retriever) rank(ctx context.Context, cands map[string]*candidate, qt query.Type) ([]Item, error) {
	ids := make([]string, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chunks, err := r.store.Meta().GetChunks(ctx, ids)
	if err != nil {
		return nil, cserr.New(cserr.ErrCodeSearchFailed, "failed to load candidate chunks", err)
	}

	items := make([]Item, 0, len(chunks))
	for _, c := range chunks {
		cand := cands[c.ID]
		items = append(items, Item{
			Chunk:    c,
			Score:    r.blend(cand, c, qt),
			Strategy: topStrategy(cand),
			Citation: c.Citation(),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Chunk.ID < items[j].Chunk.ID
	})
	return items, nil
}

// blend computes the weighted score. Lexical evidence substitutes for
// vector similarity when it is the stronger signal, which keeps
// degraded lexical-only retrieval on the same scale.
func (r *Retriever) blend(cand *candidate, c *store.ChunkNode, qt query.Type) float64 {
	similarity := cand.vector
	if cand.lexical > similarity {
		similarity = cand.lexical
	}

	score := r.cfg.VectorWeight*similarity +
		r.cfg.ContentTypeWeight*contentTypeMatch(qt, c.ContentType, r.cfg.MatrixOverrides) +
		r.cfg.InstructionalWeight*c.InstructionalValue +
		r.cfg.QualityWeight*c.QualityScore +
		r.cfg.ContextualWeight*cand.contextual

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func topStrategy(cand *candidate) Strategy {
	best := StrategyVectorOnly
	bestScore := -1.0
	for _, st := range AllStrategies {
		if s, ok := cand.byStrategy[st]; ok && s > bestScore {
			best, bestScore = st, s
		}
	}
	return best
}

// expand appends context around each anchor item: the parent and up to
// two children for hierarchical expansion, and the nearest siblings by
// contextual similarity for semantic expansion. Expanded items carry
// half the anchor score; the caller re-ranks and re-caps the result.
func (r *Retriever) expand(ctx context.Context, items []Item, opts Options) []Item {
	present := make(map[string]bool, len(items))
	for _, it := range items {
		present[it.Chunk.ID] = true
	}

	out := items
	add := func(c *store.ChunkNode, anchor Item) {
		if c == nil || present[c.ID] {
			return
		}
		present[c.ID] = true
		out = append(out, Item{
			Chunk:    c,
			Score:    anchor.Score / 2,
			Strategy: StrategyExpansion,
			Citation: c.Citation(),
		})
	}

	for _, it := range items {
		if opts.HierarchicalExpansion {
			parent, err := r.store.Meta().GetParent(ctx, it.Chunk.ID)
			if err == nil {
				add(parent, it)
			}
			children, err := r.store.Meta().GetChildren(ctx, it.Chunk.ID)
			if err == nil {
				for i, ch := range children {
					if i >= 2 {
						break
					}
					add(ch, it)
				}
			}
		}
		if opts.SemanticExpansion && opts.MaxExpansionChunks > 0 {
			siblings, err := r.store.Meta().GetSiblings(ctx, it.Chunk.ID)
			if err == nil {
				for i, sib := range nearestByContextual(it.Chunk, siblings) {
					if i >= opts.MaxExpansionChunks {
						break
					}
					add(sib, it)
				}
			}
		}
	}
	return out
}

// nearestByContextual orders siblings by cosine similarity of their
// stored contextual embeddings to the anchor's. Siblings without a
// contextual vector sort last in reading order.
func nearestByContextual(anchor *store.ChunkNode, siblings []*store.ChunkNode) []*store.ChunkNode {
	ref := anchor.Embeddings[store.KindContextual]
	if len(ref) == 0 {
		return siblings
	}
	type scored struct {
		c   *store.ChunkNode
		sim float64
	}
	list := make([]scored, len(siblings))
	for i, s := range siblings {
		list[i] = scored{c: s, sim: cosine(ref, s.Embeddings[store.KindContextual])}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].sim > list[j].sim })
	out := make([]*store.ChunkNode, len(list))
	for i, s := range list {
		out[i] = s.c
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// String formats stats for logs.
func (s Stats) String() string {
	if s.Error != "" {
		return fmt.Sprintf("%d candidates (error: %s)", s.Candidates, s.Error)
	}
	return fmt.Sprintf("%d candidates", s.Candidates)
}
