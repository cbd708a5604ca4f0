package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlTables returns the corpus DDL with the embedding dimension substituted.
// The production corpus is built by an offline ETL; this DDL exists so a
// development database and the integration tests can be bootstrapped.
func ddlTables(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS products (
    id                    TEXT   PRIMARY KEY,
    name                  TEXT   NOT NULL,
    card_type             TEXT,
    brand                 TEXT,
    main_benefits         TEXT,
    performance_condition TEXT,
    metadata              JSONB  NOT NULL DEFAULT '{}',
    structured            JSONB
);

CREATE INDEX IF NOT EXISTS idx_products_name_norm
    ON products ((lower(replace(name, ' ', ''))) text_pattern_ops);

CREATE TABLE IF NOT EXISTS service_guide (
    id            TEXT   PRIMARY KEY,
    title         TEXT   NOT NULL DEFAULT '',
    content       TEXT   NOT NULL DEFAULT '',
    category      TEXT,
    document_type TEXT,
    metadata      JSONB  NOT NULL DEFAULT '{}',
    embedding     vector(%[1]d),
    structured    JSONB
);

CREATE INDEX IF NOT EXISTS idx_service_guide_embedding
    ON service_guide USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS consultation_cases (
    id                  TEXT    PRIMARY KEY,
    consultation_id     TEXT,
    title               TEXT    NOT NULL DEFAULT '',
    content             TEXT    NOT NULL DEFAULT '',
    category            TEXT,
    metadata            JSONB   NOT NULL DEFAULT '{}',
    embedding           vector(%[1]d),
    usage_count         INTEGER NOT NULL DEFAULT 0,
    effectiveness_score REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_consultation_cases_embedding
    ON consultation_cases USING hnsw (embedding vector_cosine_ops);
`, dims)
}

const ddlTrigram = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE INDEX IF NOT EXISTS idx_service_guide_content_trgm
    ON service_guide USING gin (content gin_trgm_ops);

CREATE INDEX IF NOT EXISTS idx_consultation_cases_content_trgm
    ON consultation_cases USING gin (content gin_trgm_ops);
`

// EnsureSchema creates the corpus tables and indexes when missing. It is
// idempotent. pg_trgm is optional: when it cannot be installed the failure is
// logged and the lexical branch falls back to ILIKE at query time.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if _, err := pool.Exec(ctx, ddlTables(dims)); err != nil {
		return fmt.Errorf("corpus: ensure schema: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTrigram); err != nil {
		slog.Warn("corpus: pg_trgm unavailable", "err", err)
	}
	return nil
}
