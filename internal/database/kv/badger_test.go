package kv

import (
	"context"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database"
	"github.com/kozaktomas/bioauth/internal/database/storetest"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	return store
}

func TestBadgerStoreSuite(t *testing.T) {
	suite.Run(t, &storetest.StoreSuite{
		NewStore: func(t *testing.T) database.Store { return openInMemory(t) },
	})
}

func TestOpen_RequiresDirOnDisk(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	_, err = store.AddSample(ctx, biometric.ModalityVoice, "u1", []float32{0.25, -0.5}, "open sesame")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer store.Close()

	samples, err := store.List(ctx, biometric.ModalityVoice, "u1")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, []float32{0.25, -0.5}, samples[0].Embedding)
	require.Equal(t, "open sesame", samples[0].AuxContent)

	// Sequence and dimension continue from the persisted meta record.
	_, err = store.AddSample(ctx, biometric.ModalityVoice, "u1", []float32{1, 2, 3}, "")
	require.ErrorIs(t, err, biometric.ErrDimensionMismatch)
	next, err := store.AddSample(ctx, biometric.ModalityVoice, "u1", []float32{1, 2}, "")
	require.NoError(t, err)
	require.Equal(t, 2, next.Sequence)

	// The modality keeps its length for identities enrolled after the reopen.
	_, err = store.AddSample(ctx, biometric.ModalityVoice, "u2", []float32{1, 2, 3}, "")
	var mismatch *biometric.DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 2, mismatch.Expected)
}

func TestStore_RejectsUnknownRecordVersion(t *testing.T) {
	store := openInMemory(t)
	defer store.Close()
	ctx := context.Background()

	_, err := store.AddSample(ctx, biometric.ModalityFace, "u1", []float32{1, 2}, "")
	require.NoError(t, err)

	future, err := msgpack.Marshal(&database.SampleRecord{Version: 99, Dim: 2, Embedding: []float32{1, 2}})
	require.NoError(t, err)
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sampleKey(biometric.ModalityFace, "u1", 1), future)
	}))

	_, err = store.List(ctx, biometric.ModalityFace, "u1")
	require.ErrorIs(t, err, biometric.ErrStorage)
}
