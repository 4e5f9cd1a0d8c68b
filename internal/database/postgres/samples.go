package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database"
	"github.com/kozaktomas/bioauth/internal/matching"
)

// Store is a database.Store on PostgreSQL. Writes to one identity are
// serialized across processes with a transaction-scoped advisory lock.
type Store struct {
	pool    *Pool
	metrics map[biometric.Modality]matching.Metric
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics sets the distance operator NearestIdentities uses per modality.
// Modalities without an entry use cosine distance.
func WithMetrics(metrics map[biometric.Modality]matching.Metric) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// NewStore creates a Store on an already migrated pool.
func NewStore(pool *Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// isTransient reports serialization failures and deadlocks.
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func (s *Store) withIdentityTx(
	ctx context.Context, modality biometric.Modality, identity biometric.Identity, fn func(tx *sql.Tx) error,
) error {
	return database.Retry(ctx, database.WriteAttempts, isTransient, func() error {
		tx, err := s.pool.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		lockKey := database.IdentityKey(string(modality), string(identity))
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// pinDimension records the modality's embedding length on first use and
// checks dim against it otherwise. A concurrent first insert blocks on the
// primary key until the other transaction settles.
func pinDimension(
	ctx context.Context, tx *sql.Tx, modality biometric.Modality, identity biometric.Identity, dim int,
) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO enrollment_modalities (modality, dim) VALUES ($1, $2)
		ON CONFLICT (modality) DO NOTHING
	`, string(modality), dim); err != nil {
		return fmt.Errorf("pin modality dimension: %w", err)
	}
	var pinned int
	if err := tx.QueryRowContext(ctx, `
		SELECT dim FROM enrollment_modalities WHERE modality = $1
	`, string(modality)).Scan(&pinned); err != nil {
		return fmt.Errorf("query modality dimension: %w", err)
	}
	return database.CheckDimension(identity, pinned, dim)
}

// AddSample appends a sample, creating the identity row on first use.
func (s *Store) AddSample(
	ctx context.Context, modality biometric.Modality, identity biometric.Identity, embedding []float32, aux string,
) (biometric.Sample, error) {
	if err := database.ValidateEmbedding(embedding); err != nil {
		return biometric.Sample{}, err
	}

	var sample biometric.Sample
	err := s.withIdentityTx(ctx, modality, identity, func(tx *sql.Tx) error {
		if err := pinDimension(ctx, tx, modality, identity, len(embedding)); err != nil {
			return err
		}

		var dim int
		err := tx.QueryRowContext(ctx, `
			SELECT dim FROM enrollment_identities
			WHERE modality = $1 AND identity_key = $2
		`, string(modality), string(identity)).Scan(&dim)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO enrollment_identities (modality, identity_key, dim)
				VALUES ($1, $2, $3)
			`, string(modality), string(identity), len(embedding)); err != nil {
				return fmt.Errorf("insert identity: %w", err)
			}
		case err != nil:
			return fmt.Errorf("query identity: %w", err)
		default:
			if err := database.CheckDimension(identity, dim, len(embedding)); err != nil {
				return err
			}
		}

		var seq int
		if err := tx.QueryRowContext(ctx, `
			UPDATE enrollment_identities SET next_seq = next_seq + 1
			WHERE modality = $1 AND identity_key = $2
			RETURNING next_seq
		`, string(modality), string(identity)).Scan(&seq); err != nil {
			return fmt.Errorf("advance sequence: %w", err)
		}

		var createdAt time.Time
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO enrollment_samples (modality, identity_key, dim, seq, embedding, aux_content)
			VALUES ($1, $2, $3, $4, $5::vector, $6)
			RETURNING created_at
		`, string(modality), string(identity), len(embedding), seq, pgvector.NewVector(embedding), aux).Scan(&createdAt); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		sample = biometric.Sample{
			Modality:   modality,
			Identity:   identity,
			Sequence:   seq,
			Embedding:  append([]float32(nil), embedding...),
			AuxContent: aux,
			CreatedAt:  createdAt,
		}
		return nil
	})
	if err != nil {
		return biometric.Sample{}, biometric.NewStorageError("add sample", err)
	}
	return sample, nil
}

// Count returns the number of samples of identity.
func (s *Store) Count(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	var count int
	err := s.pool.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollment_samples WHERE modality = $1 AND identity_key = $2
	`, string(modality), string(identity)).Scan(&count)
	if err != nil {
		return 0, biometric.NewStorageError("count samples", err)
	}
	return count, nil
}

// List returns the samples of identity in sequence order.
func (s *Store) List(ctx context.Context, modality biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT seq, embedding, aux_content, created_at
		FROM enrollment_samples
		WHERE modality = $1 AND identity_key = $2
		ORDER BY seq
	`, string(modality), string(identity))
	if err != nil {
		return nil, biometric.NewStorageError("list samples", err)
	}
	defer rows.Close()

	var samples []biometric.Sample
	for rows.Next() {
		var vec pgvector.Vector
		sample := biometric.Sample{Modality: modality, Identity: identity}
		if err := rows.Scan(&sample.Sequence, &vec, &sample.AuxContent, &sample.CreatedAt); err != nil {
			return nil, biometric.NewStorageError("scan sample", err)
		}
		sample.Embedding = vec.Slice()
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, biometric.NewStorageError("iterate samples", err)
	}
	return samples, nil
}

// Identities returns the identities of modality in first-enrollment order.
func (s *Store) Identities(ctx context.Context, modality biometric.Modality) ([]biometric.Identity, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT identity_key FROM enrollment_identities
		WHERE modality = $1
		ORDER BY id, identity_key
	`, string(modality))
	if err != nil {
		return nil, biometric.NewStorageError("list identities", err)
	}
	defer rows.Close()

	var identities []biometric.Identity
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, biometric.NewStorageError("scan identity", err)
		}
		identities = append(identities, biometric.Identity(key))
	}
	if err := rows.Err(); err != nil {
		return nil, biometric.NewStorageError("iterate identities", err)
	}
	return identities, nil
}

// Delete removes identity and its samples.
func (s *Store) Delete(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	var removed int
	err := s.withIdentityTx(ctx, modality, identity, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			WITH deleted AS (
				DELETE FROM enrollment_samples
				WHERE modality = $1 AND identity_key = $2
				RETURNING 1
			)
			SELECT COUNT(*) FROM deleted
		`, string(modality), string(identity)).Scan(&removed); err != nil {
			return fmt.Errorf("delete samples: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM enrollment_identities WHERE modality = $1 AND identity_key = $2
		`, string(modality), string(identity)); err != nil {
			return fmt.Errorf("delete identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, biometric.NewStorageError("delete identity", err)
	}
	return removed, nil
}

// NearestIdentities returns the distinct owners of the k samples nearest to
// probe, nearest first. Only samples of the probe's dimension are searched.
func (s *Store) NearestIdentities(
	ctx context.Context, modality biometric.Modality, probe []float32, k int,
) ([]biometric.Identity, error) {
	if k <= 0 || len(probe) == 0 {
		return nil, nil
	}

	// Euclidean modalities compare unit-length vectors, like the scorer.
	order := "embedding <=> $3::vector"
	if s.metrics[modality] == matching.MetricEuclidean {
		order = "l2_normalize(embedding) <-> l2_normalize($3::vector)"
	}
	query := `
		SELECT identity_key
		FROM enrollment_samples
		WHERE modality = $1 AND dim = $2
		ORDER BY ` + order + `
		LIMIT $4
	`

	rows, err := s.pool.db.QueryContext(ctx, query, string(modality), len(probe), pgvector.NewVector(probe), k)
	if err != nil {
		return nil, biometric.NewStorageError("nearest identities", err)
	}
	defer rows.Close()

	seen := make(map[biometric.Identity]struct{})
	var identities []biometric.Identity
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, biometric.NewStorageError("scan nearest identity", err)
		}
		id := biometric.Identity(key)
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			identities = append(identities, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, biometric.NewStorageError("iterate nearest identities", err)
	}
	return identities, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return biometric.NewStorageError("ping", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
