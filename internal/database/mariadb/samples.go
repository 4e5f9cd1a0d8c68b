package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database"
)

// MariaDB error numbers retried by writes.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// Store is a database.Store on MariaDB. Writes lock the identity row with
// SELECT ... FOR UPDATE.
type Store struct {
	pool *Pool
}

// NewStore creates a Store on an already migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func isTransient(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errLockWaitTimeout || myErr.Number == errDeadlock
	}
	return false
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return database.Retry(ctx, database.WriteAttempts, isTransient, func() error {
		tx, err := s.pool.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

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
// checks dim against it otherwise.
func pinDimension(
	ctx context.Context, tx *sql.Tx, modality biometric.Modality, identity biometric.Identity, dim int,
) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO enrollment_modalities (modality, dim) VALUES (?, ?)
	`, string(modality), dim); err != nil {
		return fmt.Errorf("pin modality dimension: %w", err)
	}
	var pinned int
	if err := tx.QueryRowContext(ctx, `
		SELECT dim FROM enrollment_modalities WHERE modality = ?
		LOCK IN SHARE MODE
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
	encoded, err := database.EncodeEmbeddingJSON(embedding)
	if err != nil {
		return biometric.Sample{}, err
	}

	var sample biometric.Sample
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		// Checked before the identity insert: INSERT IGNORE would turn the
		// foreign key violation into a warning.
		if err := pinDimension(ctx, tx, modality, identity, len(embedding)); err != nil {
			return err
		}

		// INSERT IGNORE takes the unique-key lock so concurrent first
		// enrollments of one identity queue behind each other.
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO enrollment_identities (modality, identity_key, dim)
			VALUES (?, ?, ?)
		`, string(modality), string(identity), len(embedding)); err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}

		var id int64
		var dim, seq int
		if err := tx.QueryRowContext(ctx, `
			SELECT id, dim, next_seq FROM enrollment_identities
			WHERE modality = ? AND identity_key = ?
			FOR UPDATE
		`, string(modality), string(identity)).Scan(&id, &dim, &seq); err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		if err := database.CheckDimension(identity, dim, len(embedding)); err != nil {
			return err
		}
		seq++

		if _, err := tx.ExecContext(ctx, `
			UPDATE enrollment_identities SET next_seq = ? WHERE id = ?
		`, seq, id); err != nil {
			return fmt.Errorf("advance sequence: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO enrollment_samples (identity_id, seq, dim, embedding, aux_content)
			VALUES (?, ?, ?, ?, ?)
		`, id, seq, len(embedding), encoded, aux)
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
		sampleID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}

		sample = biometric.Sample{
			Modality:   modality,
			Identity:   identity,
			Sequence:   seq,
			Embedding:  append([]float32(nil), embedding...),
			AuxContent: aux,
		}
		return tx.QueryRowContext(ctx, `SELECT created_at FROM enrollment_samples WHERE id = ?`, sampleID).
			Scan(&sample.CreatedAt)
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
		SELECT COUNT(*) FROM enrollment_samples es
		JOIN enrollment_identities ei ON ei.id = es.identity_id
		WHERE ei.modality = ? AND ei.identity_key = ?
	`, string(modality), string(identity)).Scan(&count)
	if err != nil {
		return 0, biometric.NewStorageError("count samples", err)
	}
	return count, nil
}

// List returns the samples of identity in sequence order.
func (s *Store) List(ctx context.Context, modality biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT es.seq, es.dim, es.embedding, es.aux_content, es.created_at
		FROM enrollment_samples es
		JOIN enrollment_identities ei ON ei.id = es.identity_id
		WHERE ei.modality = ? AND ei.identity_key = ?
		ORDER BY es.seq
	`, string(modality), string(identity))
	if err != nil {
		return nil, biometric.NewStorageError("list samples", err)
	}
	defer rows.Close()

	var samples []biometric.Sample
	for rows.Next() {
		var raw []byte
		var dim int
		sample := biometric.Sample{Modality: modality, Identity: identity}
		if err := rows.Scan(&sample.Sequence, &dim, &raw, &sample.AuxContent, &sample.CreatedAt); err != nil {
			return nil, biometric.NewStorageError("scan sample", err)
		}
		embedding, err := database.DecodeEmbeddingJSON(raw)
		if err != nil {
			return nil, biometric.NewStorageError("decode sample", err)
		}
		if len(embedding) != dim {
			return nil, biometric.NewStorageError("decode sample",
				fmt.Errorf("sample %d has %d components, expected %d", sample.Sequence, len(embedding), dim))
		}
		sample.Embedding = embedding
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
		WHERE modality = ?
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

// Delete removes identity and, through the cascading foreign key, its samples.
func (s *Store) Delete(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	var removed int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM enrollment_identities
			WHERE modality = ? AND identity_key = ?
			FOR UPDATE
		`, string(modality), string(identity)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			removed = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrollment_samples WHERE identity_id = ?`, id).
			Scan(&removed); err != nil {
			return fmt.Errorf("count samples: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM enrollment_identities WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, biometric.NewStorageError("delete identity", err)
	}
	return removed, nil
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
