package corpus

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// DefaultLimit is the row limit applied when Query.Limit is not positive.
const DefaultLimit = 5

// Lexical term limits.
const (
	minTrigramRunes = 3
	maxTrigramTerms = 3
	minLikeRunes    = 2
	maxLikeTerms    = 6
)

// Query describes one search against a single corpus table.
type Query struct {
	Table types.Table

	// Embedding drives the vector branch. Ignored for tables without an
	// embedding column.
	Embedding []float32

	// Terms drive the lexical branch.
	Terms []string

	// Scopes restricts service_guide rows to these source tags (OR).
	Scopes []string

	// ExcludeScopes removes service_guide rows carrying these source tags.
	ExcludeScopes []string

	// IDPrefix keeps only rows whose id starts with the prefix.
	IDPrefix string

	// Categories keeps only rows whose category is one of these.
	Categories []string

	// CandidateIDs keeps only these ids. Used by the products card-name
	// lookup.
	CandidateIDs []string

	Limit int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// tableSpec describes how a corpus table maps onto types.Document. Every
// table is selected as (id, title, content, category, extra, metadata,
// structured); extra lands in Metadata under extraKey.
type tableSpec struct {
	name       string
	title      string
	content    string
	category   string
	extra      string
	extraKey   string
	structured string
}

var specs = map[types.Table]tableSpec{
	types.TableProducts: {
		name:       "products",
		title:      "name",
		content:    "concat_ws(E'\\n', COALESCE(main_benefits::text, ''), COALESCE(performance_condition::text, ''))",
		category:   "COALESCE(card_type, '')",
		extra:      "COALESCE(brand, '')",
		extraKey:   "brand",
		structured: "structured",
	},
	types.TableGuide: {
		name:       "service_guide",
		title:      "title",
		content:    "content",
		category:   "COALESCE(category, '')",
		extra:      "COALESCE(document_type, '')",
		extraKey:   "document_type",
		structured: "structured",
	},
	types.TableConsult: {
		name:       "consultation_cases",
		title:      "title",
		content:    "content",
		category:   "COALESCE(category, '')",
		extra:      "COALESCE(consultation_id::text, '')",
		extraKey:   "consultation_id",
		structured: "NULL::jsonb",
	},
}

func specFor(t types.Table) (tableSpec, error) {
	s, ok := specs[t]
	if !ok {
		return tableSpec{}, fmt.Errorf("corpus: unknown table %q", t)
	}
	return s, nil
}

func (s tableSpec) columns() string {
	return fmt.Sprintf("id, %s, %s, %s, %s, COALESCE(metadata, '{}'::jsonb), %s",
		s.title, s.content, s.category, s.extra, s.structured)
}

// args accumulates positional parameters.
type args struct {
	vals []any
}

func (a *args) next(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
}

// where builds the filter conditions of q. The returned string is empty or
// starts with "WHERE".
func where(q Query, a *args, extra ...string) (string, error) {
	conds := slices.Clone(extra)
	if q.Table == types.TableGuide {
		sc, err := scopeClause(q.Scopes, q.ExcludeScopes)
		if err != nil {
			return "", err
		}
		if sc != "" {
			conds = append(conds, sc)
		}
	} else if len(q.Scopes) > 0 || len(q.ExcludeScopes) > 0 {
		// scope names are still validated for other tables
		if _, err := scopeClause(q.Scopes, q.ExcludeScopes); err != nil {
			return "", err
		}
	}
	if q.IDPrefix != "" {
		conds = append(conds, "id LIKE "+a.next(escapeLike(q.IDPrefix)+"%"))
	}
	if len(q.Categories) > 0 {
		conds = append(conds, "category = ANY("+a.next(q.Categories)+")")
	}
	if len(q.CandidateIDs) > 0 {
		conds = append(conds, "id = ANY("+a.next(q.CandidateIDs)+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, "\n  AND "), nil
}

// trigramTerms returns the up to maxTrigramTerms longest terms with at least
// minTrigramRunes runes. Ties keep input order.
func trigramTerms(terms []string) []string {
	var out []string
	for _, t := range uniqueTrimmed(terms) {
		if utf8.RuneCountInString(t) >= minTrigramRunes {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return utf8.RuneCountInString(b) - utf8.RuneCountInString(a)
	})
	if len(out) > maxTrigramTerms {
		out = out[:maxTrigramTerms]
	}
	return out
}

// likeTerms returns the terms usable for an ILIKE scan.
func likeTerms(terms []string) []string {
	var out []string
	for _, t := range uniqueTrimmed(terms) {
		if utf8.RuneCountInString(t) >= minLikeRunes {
			out = append(out, t)
		}
	}
	if len(out) > maxLikeTerms {
		out = out[:maxLikeTerms]
	}
	return out
}

func uniqueTrimmed(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// vectorSQL builds the nearest-neighbour query using op (<=> or <->).
func vectorSQL(q Query, op string) (string, []any, error) {
	s, err := specFor(q.Table)
	if err != nil {
		return "", nil, err
	}
	a := &args{}
	vecArg := a.next(pgvector.NewVector(q.Embedding))
	w, err := where(q, a, "embedding IS NOT NULL")
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf(`
		SELECT %s, embedding %s %s AS distance
		FROM   %s
		%s
		ORDER  BY distance, id
		LIMIT  %s`, s.columns(), op, vecArg, s.name, w, a.next(q.limit()))
	return sql, a.vals, nil
}

// trigramSQL builds the pg_trgm similarity scan, or "" when no term is
// long enough.
func trigramSQL(q Query) (string, []any, error) {
	terms := trigramTerms(q.Terms)
	if len(terms) == 0 {
		return "", nil, nil
	}
	s, err := specFor(q.Table)
	if err != nil {
		return "", nil, err
	}
	a := &args{}
	var score, match []string
	for _, t := range terms {
		p := a.next(t)
		score = append(score, fmt.Sprintf("GREATEST(similarity(%s, %s), similarity(%s, %s))", s.title, p, s.content, p))
		match = append(match, fmt.Sprintf("%s %% %s OR %s %% %s", s.title, p, s.content, p))
	}
	w, err := where(q, a, "("+strings.Join(match, " OR ")+")")
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf(`
		SELECT %s, (%s) AS text_score
		FROM   %s
		%s
		ORDER  BY text_score DESC, id
		LIMIT  %s`, s.columns(), strings.Join(score, " + "), s.name, w, a.next(q.limit()))
	return sql, a.vals, nil
}

// likeSQL builds the ILIKE OR-group scan scored by the share of matching
// terms, or "" when there are no usable terms.
func likeSQL(q Query) (string, []any, error) {
	terms := likeTerms(q.Terms)
	if len(terms) == 0 {
		return "", nil, nil
	}
	s, err := specFor(q.Table)
	if err != nil {
		return "", nil, err
	}
	a := &args{}
	var score, match []string
	for _, t := range terms {
		p := a.next("%" + escapeLike(t) + "%")
		m := fmt.Sprintf("(%s ILIKE %s OR %s ILIKE %s)", s.title, p, s.content, p)
		match = append(match, m)
		score = append(score, fmt.Sprintf("CASE WHEN %s THEN 1 ELSE 0 END", m))
	}
	w, err := where(q, a, "("+strings.Join(match, " OR ")+")")
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf(`
		SELECT %s, ((%s)::float8 / %d) AS text_score
		FROM   %s
		%s
		ORDER  BY text_score DESC, id
		LIMIT  %s`, s.columns(), strings.Join(score, " + "), len(terms), s.name, w, a.next(q.limit()))
	return sql, a.vals, nil
}
