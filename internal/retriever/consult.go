package retriever

import (
	"context"
	"time"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/corpus"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// Consult-case gate thresholds.
const (
	consultMinTurn       = 2
	consultMinConfidence = 0.6
	consultMinHits       = 2

	// DefaultConsultLimit is the number of consult cases returned.
	DefaultConsultLimit = 3
)

// ConsultGate decides whether a turn runs the consult-case search.
type ConsultGate struct {
	Enabled  bool
	Cooldown time.Duration
}

// Allow reports whether the consult-case search should run for dec on the
// given session state. turn is the turn being answered.
func (g ConsultGate) Allow(dec router.Decision, st *session.State, turn int, now time.Time) bool {
	if !g.Enabled || !dec.ShouldSearch || !dec.NeedConsultCaseSearch {
		return false
	}
	cooldown := g.Cooldown
	if cooldown <= 0 {
		cooldown = session.DefaultConsultCooldown
	}
	if st != nil && st.ConsultCoolingDown(now, cooldown) {
		return false
	}
	return turn >= consultMinTurn ||
		dec.IntentConfidence >= consultMinConfidence ||
		dec.MatchedSignals.HitCount() >= consultMinHits
}

// SearchConsult runs the vector and lexical branches against the
// consultation cases. The intent categories filter the first attempt; when
// it finds nothing the search is repeated without them. Consult cases are an
// add-on and never enter the primary document list.
func (r *Retriever) SearchConsult(ctx context.Context, query string, dec router.Decision, limit int) ([]types.Document, error) {
	if limit <= 0 {
		limit = DefaultConsultLimit
	}
	q := corpus.Query{
		Table:      types.TableConsult,
		Embedding:  r.embed(ctx, query),
		Terms:      searchTerms(dec),
		Categories: dec.Filters.Intent,
		Limit:      limit,
	}
	p := tablePlan{query: q}

	docs, err := r.searchTable(ctx, Request{TopK: limit}, router.Decision{}, ModeHybrid, p)
	if err == nil && len(docs) == 0 && len(q.Categories) > 0 {
		p.query.Categories = nil
		docs, err = r.searchTable(ctx, Request{TopK: limit}, router.Decision{}, ModeHybrid, p)
	}
	if err != nil {
		return nil, err
	}
	sortDocs(docs)
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}
