// Package corpus provides read-only access to the three indexed corpus
// tables (products, service_guide, consultation_cases) in PostgreSQL.
//
// Vector columns use pgvector; the lexical branch prefers pg_trgm similarity
// and degrades to an ILIKE scan when the extension is missing or yields
// nothing. All methods are safe for concurrent use.
//
// Usage:
//
//	store, err := corpus.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	docs, err := store.VectorSearch(ctx, corpus.Query{Table: types.TableGuide, Embedding: vec})
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// maxCardCandidates bounds the products card-name pre-lookup.
const maxCardCandidates = 20

// undefinedFunction is the SQLSTATE for a missing operator or function
// (pgvector cosine operator, pg_trgm similarity).
const undefinedFunction = "42883"

var _ lexicon.CardNameSource = (*Store)(nil)

// Store is the PostgreSQL-backed corpus.
type Store struct {
	pool    *pgxpool.Pool
	trigram atomic.Bool

	// cosineBroken latches once the <=> operator has been reported missing so
	// later searches go straight to <->.
	cosineBroken atomic.Bool
}

// Option configures a Store.
type Option func(*options)

type options struct {
	maxConns int32
	trigram  bool
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(o *options) { o.maxConns = n }
}

// WithTrigram enables the pg_trgm lexical branch. Enabled by default.
func WithTrigram(on bool) Option {
	return func(o *options) { o.trigram = on }
}

// Open connects to dsn, registers pgvector types on every connection, and
// pings the database.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := options{trigram: true}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("corpus: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("corpus: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("corpus: ping: %w", err)
	}

	s := &Store{pool: pool}
	s.trigram.Store(o.trigram)
	return s, nil
}

// Pool exposes the underlying pool for schema management and tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// VectorSearch returns the rows nearest to q.Embedding by cosine distance.
// Each document's VectorScore and Score are 1 - distance. When the cosine
// operator is unavailable the search is retried with L2 distance, mapped to
// the same scale for unit vectors.
func (s *Store) VectorSearch(ctx context.Context, q Query) ([]types.Document, error) {
	if !q.Table.HasEmbedding() || len(q.Embedding) == 0 {
		return nil, nil
	}

	if !s.cosineBroken.Load() {
		docs, err := s.vectorQuery(ctx, q, "<=>")
		if err == nil || !isUndefinedFunction(err) {
			return docs, err
		}
		slog.Warn("corpus: cosine operator unavailable, falling back to L2", "table", q.Table, "err", err)
		s.cosineBroken.Store(true)
	}
	return s.vectorQuery(ctx, q, "<->")
}

func (s *Store) vectorQuery(ctx context.Context, q Query, op string) ([]types.Document, error) {
	sql, args, err := vectorSQL(q, op)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus: vector search %s: %w", q.Table, err)
	}
	docs, err := collect(rows, q.Table, func(d *types.Document, dist float64) {
		score := 1 - dist
		if op == "<->" {
			score = 1 - dist*dist/2
		}
		d.VectorScore = &score
		d.Score = score
	})
	if err != nil {
		return nil, fmt.Errorf("corpus: vector search %s: %w", q.Table, err)
	}
	return docs, nil
}

// TextSearch runs the lexical branch for q.Terms. The trigram scan runs first
// when enabled; the ILIKE OR-group runs whenever the trigram scan returned
// nothing. Each document's TextScore and Score carry the lexical score.
func (s *Store) TextSearch(ctx context.Context, q Query) ([]types.Document, error) {
	if s.trigram.Load() {
		docs, err := s.textQuery(ctx, q, trigramSQL)
		switch {
		case err != nil && isUndefinedFunction(err):
			slog.Warn("corpus: pg_trgm unavailable, disabling trigram branch", "err", err)
			s.trigram.Store(false)
		case err != nil:
			return nil, err
		case len(docs) > 0:
			return docs, nil
		}
	}
	return s.textQuery(ctx, q, likeSQL)
}

func (s *Store) textQuery(ctx context.Context, q Query, build func(Query) (string, []any, error)) ([]types.Document, error) {
	sql, args, err := build(q)
	if err != nil {
		return nil, err
	}
	if sql == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus: text search %s: %w", q.Table, err)
	}
	docs, err := collect(rows, q.Table, func(d *types.Document, score float64) {
		d.TextScore = &score
		d.Score = score
	})
	if err != nil {
		return nil, fmt.Errorf("corpus: text search %s: %w", q.Table, err)
	}
	return docs, nil
}

// CardCandidateIDs returns up to 20 product ids whose normalized name equals
// or starts with one of the normalized names. Names are normalized by
// lowercasing and removing spaces, matching the expression index.
func (s *Store) CardCandidateIDs(ctx context.Context, names []string) ([]string, error) {
	var exact, prefix []string
	seen := map[string]struct{}{}
	for _, n := range names {
		for _, v := range lexicon.CardNameVariants(n) {
			key := strings.ReplaceAll(strings.ToLower(v), " ", "")
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			exact = append(exact, key)
			prefix = append(prefix, escapeLike(key)+"%")
		}
	}
	if len(exact) == 0 {
		return nil, nil
	}

	const q = `
		SELECT id
		FROM   products
		WHERE  lower(replace(name, ' ', '')) = ANY($1)
		   OR  lower(replace(name, ' ', '')) LIKE ANY($2)
		ORDER  BY (lower(replace(name, ' ', '')) = ANY($1)) DESC, id
		LIMIT  $3`
	rows, err := s.pool.Query(ctx, q, exact, prefix, maxCardCandidates)
	if err != nil {
		return nil, fmt.Errorf("corpus: card candidates: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("corpus: card candidates: %w", err)
	}
	return ids, nil
}

// FetchDocuments re-materializes refs from the current table contents, in
// the order given. Score and pin fields are carried over from each ref.
// Refs whose row no longer exists are dropped.
func (s *Store) FetchDocuments(ctx context.Context, refs []types.DocRef) ([]types.Document, error) {
	byTable := map[types.Table][]string{}
	for _, r := range refs {
		byTable[r.Table] = append(byTable[r.Table], r.ID)
	}

	found := map[types.Table]map[string]types.Document{}
	for table, ids := range byTable {
		spec, err := specFor(table)
		if err != nil {
			return nil, err
		}
		sql := fmt.Sprintf("SELECT %s, 0::float8 FROM %s WHERE id = ANY($1)", spec.columns(), spec.name)
		rows, err := s.pool.Query(ctx, sql, ids)
		if err != nil {
			return nil, fmt.Errorf("corpus: fetch %s: %w", table, err)
		}
		docs, err := collect(rows, table, nil)
		if err != nil {
			return nil, fmt.Errorf("corpus: fetch %s: %w", table, err)
		}
		m := make(map[string]types.Document, len(docs))
		for _, d := range docs {
			m[d.ID] = d
		}
		found[table] = m
	}

	out := make([]types.Document, 0, len(refs))
	for _, r := range refs {
		d, ok := found[r.Table][r.ID]
		if !ok {
			continue
		}
		d.Score = r.Score
		d.Pinned = r.Pinned
		d.PinRank = r.PinRank
		out = append(out, d)
	}
	return out, nil
}

// CardNames implements lexicon.CardNameSource.
func (s *Store) CardNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT name FROM products WHERE name IS NOT NULL AND name <> '' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("corpus: card names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("corpus: card names: %w", err)
	}
	return names, nil
}

// collect scans rows selected with tableSpec.columns plus one trailing float
// column, which is handed to score when non-nil.
func collect(rows pgx.Rows, table types.Table, score func(*types.Document, float64)) ([]types.Document, error) {
	spec := specs[table]
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Document, error) {
		var (
			d          types.Document
			category   string
			extra      string
			meta       map[string]any
			structured map[string]any
			value      float64
		)
		if err := row.Scan(&d.ID, &d.Title, &d.Content, &category, &extra, &meta, &structured, &value); err != nil {
			return types.Document{}, err
		}
		d.Table = table
		if meta == nil {
			meta = map[string]any{}
		}
		if category != "" {
			if _, ok := meta["category"]; !ok {
				meta["category"] = category
			}
		}
		if extra != "" {
			meta[spec.extraKey] = extra
		}
		d.Metadata = meta
		d.Structured = structured
		if score != nil {
			score(&d, value)
		}
		return d, nil
	})
}

func isUndefinedFunction(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedFunction
}
