package retriever

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/corpus"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// applePayPrefix is the id prefix of the Apple Pay guides.
const applePayPrefix = "hyundai_applepay"

// candidateScore is the nominal score of a card candidate fetched without a
// body match. Later candidates score slightly lower so the lookup order holds.
const candidateScore = 0.5

// mergedBonus is added to "_merged" guides in the guide_with_terms scope.
const mergedBonus = 0.6

// idBonus is the specific-document bonus table for the guide_with_terms scope.
var idBonus = map[string]float64{
	"narasarang_faq_004":        0.2,
	"guide_kpass_benefit_terms": 0.3,
	"guide_annual_fee_terms":    0.2,
}

// tablePlan is the search of a single corpus table within a pass.
type tablePlan struct {
	query corpus.Query

	// cardNames triggers the products candidate lookup.
	cardNames []string
}

// plan selects the tables a decision may search and builds their queries.
func plan(req Request, dec router.Decision, vec []float32) []tablePlan {
	terms := searchTerms(dec)
	limit := req.TopK * 2

	guide := corpus.Query{
		Table:         types.TableGuide,
		Embedding:     vec,
		Terms:         terms,
		Scopes:        dec.DocumentSources,
		ExcludeScopes: dec.ExcludeSources,
		IDPrefix:      dec.Filters.IDPrefix,
		Limit:         limit,
	}

	if dec.ApplePayIntent != "" {
		// Apple Pay keeps the search on the guides. Loss and theft loosen the
		// prefix so the generic loss guides stay reachable.
		if guide.IDPrefix == "" && !mentionsLoss(dec) {
			guide.IDPrefix = applePayPrefix
		}
		return []tablePlan{{query: guide}}
	}

	products := tablePlan{
		query: corpus.Query{
			Table: types.TableProducts,
			Terms: terms,
			Limit: limit,
		},
		cardNames: dec.Filters.CardNames,
	}

	switch dec.DBRoute {
	case router.DBCard:
		return []tablePlan{products}
	case router.DBGuide:
		return []tablePlan{{query: guide}}
	default:
		return []tablePlan{products, {query: guide}}
	}
}

// searchTerms is the lexical term bag: lexicon hits first, then the nouns.
func searchTerms(dec router.Decision) []string {
	sig := dec.MatchedSignals
	out := sig.Keywords()
	for _, t := range sig.Terms {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// pass runs one retrieval pass over every planned table concurrently and
// returns the merged, unsorted documents.
func (r *Retriever) pass(ctx context.Context, req Request, dec router.Decision, mode Mode, vec []float32) ([]types.Document, error) {
	plans := plan(req, dec, vec)
	results := make([][]types.Document, len(plans))
	failures := make([]error, len(plans))

	var g errgroup.Group
	for i, p := range plans {
		g.Go(func() error {
			docs, err := r.searchTable(ctx, req, dec, mode, p)
			if errors.Is(err, corpus.ErrUnknownScope) {
				return err
			}
			results[i], failures[i] = docs, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		out    []types.Document
		failed int
	)
	for i := range plans {
		if failures[i] != nil {
			failed++
			slog.Warn("retriever: table search failed", "table", plans[i].query.Table, "err", failures[i])
			continue
		}
		out = append(out, results[i]...)
	}
	if len(plans) > 0 && failed == len(plans) {
		return nil, errors.Join(append([]error{ErrUnavailable}, failures...)...)
	}
	return out, nil
}

func (r *Retriever) searchTable(ctx context.Context, req Request, dec router.Decision, mode Mode, p tablePlan) ([]types.Document, error) {
	q := p.query
	if q.Table == types.TableProducts {
		return r.searchProducts(ctx, req, p)
	}

	var (
		vecDocs, textDocs []types.Document
		vecErr, textErr   error
	)
	vectorRan := q.Table.HasEmbedding() && len(q.Embedding) > 0
	if vectorRan {
		vecDocs, vecErr = r.corpus.VectorSearch(ctx, q)
		if errors.Is(vecErr, corpus.ErrUnknownScope) {
			return nil, vecErr
		}
		if vecErr != nil {
			slog.Warn("retriever: vector branch failed", "table", q.Table, "err", vecErr)
			vectorRan = false
		}
	}
	if mode == ModeHybrid || !vectorRan {
		textDocs, textErr = r.corpus.TextSearch(ctx, q)
		if errors.Is(textErr, corpus.ErrUnknownScope) {
			return nil, textErr
		}
	}
	if !vectorRan && textErr != nil {
		return nil, errors.Join(vecErr, textErr)
	}
	if textErr != nil {
		slog.Warn("retriever: lexical branch failed", "table", q.Table, "err", textErr)
	}

	docs := merge(vecDocs, textDocs, r.textWeight, vectorRan && mode == ModeHybrid)
	if slices.Contains(dec.DocumentSources, types.SourceGuideWithTerms) {
		applyBonuses(docs)
	}
	return docs, nil
}

// searchProducts resolves named cards to candidate rows before the body
// match. Without a named card, or when no candidate exists and a card match
// is not required, the terms alone drive the scan.
func (r *Retriever) searchProducts(ctx context.Context, req Request, p tablePlan) ([]types.Document, error) {
	q := p.query
	if len(p.cardNames) > 0 {
		ids, err := r.corpus.CardCandidateIDs(ctx, p.cardNames)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			q.CandidateIDs = ids
			docs, err := r.corpus.TextSearch(ctx, q)
			if err != nil {
				return nil, err
			}
			if len(docs) > 0 {
				return merge(nil, docs, r.textWeight, false), nil
			}
			return r.fetchCandidates(ctx, ids, q.Limit)
		}
		if req.RequireCardMatch {
			return nil, nil
		}
	}
	if len(q.Terms) == 0 {
		return nil, nil
	}
	docs, err := r.corpus.TextSearch(ctx, q)
	if err != nil {
		return nil, err
	}
	return merge(nil, docs, r.textWeight, false), nil
}

func (r *Retriever) fetchCandidates(ctx context.Context, ids []string, limit int) ([]types.Document, error) {
	if len(ids) > limit {
		ids = ids[:limit]
	}
	refs := make([]types.DocRef, len(ids))
	for i, id := range ids {
		refs[i] = types.DocRef{Table: types.TableProducts, ID: id, Score: candidateScore - 0.01*float64(i)}
	}
	return r.corpus.FetchDocuments(ctx, refs)
}

// merge joins the vector and lexical rows of one table by id. A weighted
// merge scores (1-w)*vector + w*min(text, 1); otherwise the branch that ran
// scores alone, the vector score taking precedence.
func merge(vecDocs, textDocs []types.Document, w float64, weighted bool) []types.Document {
	byID := make(map[string]*types.Document, len(vecDocs)+len(textDocs))
	var order []string
	add := func(d types.Document) *types.Document {
		if cur, ok := byID[d.ID]; ok {
			return cur
		}
		c := d
		c.VectorScore, c.TextScore = nil, nil
		byID[d.ID] = &c
		order = append(order, d.ID)
		return &c
	}
	for _, d := range vecDocs {
		add(d).VectorScore = d.VectorScore
	}
	for _, d := range textDocs {
		add(d).TextScore = d.TextScore
	}

	out := make([]types.Document, 0, len(order))
	for _, id := range order {
		d := byID[id]
		v, t := deref(d.VectorScore), min(deref(d.TextScore), 1)
		switch {
		case weighted:
			d.Score = (1-w)*v + w*t
		case d.VectorScore != nil:
			d.Score = v
		default:
			d.Score = t
		}
		out = append(out, *d)
	}
	return out
}

func applyBonuses(docs []types.Document) {
	for i := range docs {
		if strings.Contains(docs[i].ID, "_merged") {
			docs[i].Score += mergedBonus
		}
		docs[i].Score += idBonus[docs[i].ID]
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// sortDocs orders docs by pin, pin rank, score, then (table, id).
func sortDocs(docs []types.Document) {
	sort.SliceStable(docs, func(i, j int) bool { return types.Less(docs[i], docs[j]) })
}

// dedupe keeps the best-scored copy of each (table, id).
func dedupe(docs []types.Document) []types.Document {
	sortDocs(docs)
	seen := make(map[types.DocRef]struct{}, len(docs))
	out := docs[:0]
	for _, d := range docs {
		k := types.DocRef{Table: d.Table, ID: d.ID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}
	return out
}
