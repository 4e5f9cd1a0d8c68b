//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/config"
	"github.com/kozaktomas/bioauth/internal/database"
	"github.com/kozaktomas/bioauth/internal/database/storetest"
	"github.com/kozaktomas/bioauth/internal/matching"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if _, err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

// sharedPoolStore keeps the pool open when the suite closes a store.
type sharedPoolStore struct {
	*Store
}

func (sharedPoolStore) Close() error { return nil }

func truncate(t *testing.T, pool *Pool) {
	t.Helper()
	_, err := pool.DB().ExecContext(context.Background(),
		"TRUNCATE enrollment_samples, enrollment_identities, enrollment_modalities RESTART IDENTITY")
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	suite.Run(t, &storetest.StoreSuite{
		NewStore: func(t *testing.T) database.Store {
			truncate(t, pool)
			return sharedPoolStore{NewStore(pool)}
		},
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		applied, err := pool.Migrate(context.Background())
		require.NoError(t, err)
		require.Empty(t, applied)

		versions, err := pool.MigrationsApplied(context.Background())
		require.NoError(t, err)
		require.Contains(t, versions, "001_enrollment.sql")
		require.Contains(t, versions, "002_modality_dim.sql")
	})

	t.Run("SchemaRejectsWrongDimension", func(t *testing.T) {
		truncate(t, pool)
		ctx := context.Background()
		store := NewStore(pool)
		_, err := store.AddSample(ctx, biometric.ModalityFace, "u1", []float32{1, 0, 0}, "")
		require.NoError(t, err)

		_, err = pool.DB().ExecContext(ctx, `
			INSERT INTO enrollment_samples (modality, identity_key, dim, seq, embedding)
			VALUES ('face', 'u1', 3, 99, '[1,2]')
		`)
		require.Error(t, err)
	})

	t.Run("SchemaRejectsIdentityOffModalityDimension", func(t *testing.T) {
		truncate(t, pool)
		ctx := context.Background()
		store := NewStore(pool)
		_, err := store.AddSample(ctx, biometric.ModalityFace, "u1", []float32{1, 0, 0}, "")
		require.NoError(t, err)

		_, err = pool.DB().ExecContext(ctx, `
			INSERT INTO enrollment_identities (modality, identity_key, dim) VALUES ('face', 'u2', 2)
		`)
		require.Error(t, err)
	})

	t.Run("NearestIdentities", func(t *testing.T) {
		truncate(t, pool)
		ctx := context.Background()
		store := NewStore(pool, WithMetrics(map[biometric.Modality]matching.Metric{
			biometric.ModalityVoice: matching.MetricEuclidean,
		}))

		for _, m := range biometric.Modalities {
			_, err := store.AddSample(ctx, m, "near", []float32{1, 0, 0}, "")
			require.NoError(t, err)
			_, err = store.AddSample(ctx, m, "far", []float32{-1, 0, 0}, "")
			require.NoError(t, err)

			got, err := store.NearestIdentities(ctx, m, []float32{0.9, 0.1, 0}, 2)
			require.NoError(t, err)
			require.Equal(t, []biometric.Identity{"near", "far"}, got)

			got, err = store.NearestIdentities(ctx, m, []float32{1, 0}, 2)
			require.NoError(t, err)
			require.Empty(t, got)
		}
	})
}
