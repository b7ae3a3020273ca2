// Package postgres provides a PostgreSQL-backed [memory.SegmentStore].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.WriteSegment(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPracticeSegments = `
CREATE TABLE IF NOT EXISTS practice_segments (
    id                  BIGSERIAL    PRIMARY KEY,
    session_id          TEXT         NOT NULL,
    mode                TEXT         NOT NULL,
    question            TEXT         NOT NULL DEFAULT '',
    transcript          TEXT         NOT NULL,
    grammar_score       SMALLINT     NOT NULL,
    fluency_score       SMALLINT     NOT NULL,
    confidence_score    SMALLINT     NOT NULL,
    pronunciation_score SMALLINT     NOT NULL,
    speaking_speed      INTEGER      NOT NULL,
    filler_count        INTEGER      NOT NULL,
    feedback            JSONB        NOT NULL DEFAULT '{}',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_practice_segments_session_id
    ON practice_segments (session_id);
`

// Migrate creates the practice_segments table when it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlPracticeSegments); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
