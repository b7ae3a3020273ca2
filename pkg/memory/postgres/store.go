package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/orato/pkg/memory"
)

var _ memory.SegmentStore = (*Store)(nil)

// Store writes practice segments to PostgreSQL through a pgx connection
// pool. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a pool to dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// WriteSegment implements [memory.SegmentStore].
func (s *Store) WriteSegment(ctx context.Context, rec memory.SegmentRecord) error {
	const q = `
		INSERT INTO practice_segments
		    (session_id, mode, question, transcript,
		     grammar_score, fluency_score, confidence_score, pronunciation_score,
		     speaking_speed, filler_count, feedback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	feedback := []byte(rec.Feedback)
	if len(feedback) == 0 {
		feedback = []byte("{}")
	}

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.Mode,
		rec.Question,
		rec.Transcript,
		rec.GrammarScore,
		rec.FluencyScore,
		rec.ConfidenceScore,
		rec.PronunciationScore,
		rec.SpeakingSpeed,
		rec.FillerCount,
		feedback,
		created,
	)
	if err != nil {
		return fmt.Errorf("postgres store: write segment: %w", err)
	}
	return nil
}

// Ping checks the connection. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
