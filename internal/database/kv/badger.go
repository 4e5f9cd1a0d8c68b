// Package kv provides an enrollment store on top of BadgerDB.
package kv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database"
)

const (
	identityPrefix = "id/"
	samplePrefix   = "s/"
	modalityPrefix = "mod/"
	orderSequence  = "seq/identity-order"

	metaVersion = 1
)

// identityMeta is stored once per (modality, identity).
type identityMeta struct {
	Version   int       `msgpack:"v"`
	Identity  string    `msgpack:"i"`
	Dim       int       `msgpack:"d"`
	NextSeq   int       `msgpack:"n"`
	Order     uint64    `msgpack:"o"`
	CreatedAt time.Time `msgpack:"t"`
}

// modalityMeta pins the embedding length shared by every sample of a modality.
type modalityMeta struct {
	Version int `msgpack:"v"`
	Dim     int `msgpack:"d"`
}

// Options configures the Badger store.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string
	// InMemory runs BadgerDB without disk persistence.
	InMemory bool
	// Logger receives badger's warnings and errors. Nil silences them.
	Logger *zap.Logger
}

// Store is a database.Store backed by BadgerDB.
type Store struct {
	db    *badger.DB
	order *badger.Sequence
	locks *database.KeyedMutex
	now   func() time.Time
}

// Open opens (or creates) a Badger store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger directory is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dbOpts = dbOpts.WithLogger(zapLogger{logger.Sugar()})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	order, err := db.GetSequence([]byte(orderSequence), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open identity sequence: %w", err)
	}

	return &Store{
		db:    db,
		order: order,
		locks: database.NewKeyedMutex(),
		now:   time.Now,
	}, nil
}

func metaKey(modality biometric.Modality, identity biometric.Identity) []byte {
	return []byte(identityPrefix + string(modality) + "/" + string(identity))
}

func sampleIdentityPrefix(modality biometric.Modality, identity biometric.Identity) []byte {
	return []byte(samplePrefix + string(modality) + "/" + string(identity) + "/")
}

func sampleKey(modality biometric.Modality, identity biometric.Identity, seq int) []byte {
	return fmt.Appendf(sampleIdentityPrefix(modality, identity), "%010d", seq)
}

func modalityKey(modality biometric.Modality) []byte {
	return []byte(modalityPrefix + string(modality))
}

func isTransient(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

func getMeta(txn *badger.Txn, key []byte) (*identityMeta, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var meta identityMeta
	if err := msgpack.Unmarshal(val, &meta); err != nil {
		return nil, fmt.Errorf("decode identity meta: %w", err)
	}
	if meta.Version != metaVersion {
		return nil, fmt.Errorf("unsupported identity meta version %d", meta.Version)
	}
	return &meta, nil
}

// pinDimension checks dim against the modality's stored length, recording it
// when the modality has none yet. Concurrent first enrollments of different
// identities conflict on the modality key and are retried.
func pinDimension(txn *badger.Txn, modality biometric.Modality, identity biometric.Identity, dim int) error {
	key := modalityKey(modality)
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		val, err := msgpack.Marshal(modalityMeta{Version: metaVersion, Dim: dim})
		if err != nil {
			return fmt.Errorf("encode modality meta: %w", err)
		}
		return txn.Set(key, val)
	case err != nil:
		return err
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	var meta modalityMeta
	if err := msgpack.Unmarshal(val, &meta); err != nil {
		return fmt.Errorf("decode modality meta: %w", err)
	}
	if meta.Version != metaVersion {
		return fmt.Errorf("unsupported modality meta version %d", meta.Version)
	}
	return database.CheckDimension(identity, meta.Dim, dim)
}

// AddSample appends a sample under the identity's lock.
func (s *Store) AddSample(
	ctx context.Context, modality biometric.Modality, identity biometric.Identity, embedding []float32, aux string,
) (biometric.Sample, error) {
	if err := database.ValidateEmbedding(embedding); err != nil {
		return biometric.Sample{}, err
	}

	unlock := s.locks.Lock(database.IdentityKey(string(modality), string(identity)))
	defer unlock()

	var sample biometric.Sample
	err := database.Retry(ctx, database.WriteAttempts, isTransient, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			mk := metaKey(modality, identity)
			meta, err := getMeta(txn, mk)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			if meta == nil {
				order, err := s.order.Next()
				if err != nil {
					return fmt.Errorf("next identity order: %w", err)
				}
				meta = &identityMeta{Version: metaVersion, Identity: string(identity), Order: order, CreatedAt: now}
			}
			if err := database.CheckDimension(identity, meta.Dim, len(embedding)); err != nil {
				return err
			}
			meta.Dim = len(embedding)
			meta.NextSeq++

			sample = biometric.Sample{
				Modality:   modality,
				Identity:   identity,
				Sequence:   meta.NextSeq,
				Embedding:  slices.Clone(embedding),
				AuxContent: aux,
				CreatedAt:  now,
			}
			rec, err := database.EncodeSample(sample)
			if err != nil {
				return err
			}
			metaBytes, err := msgpack.Marshal(meta)
			if err != nil {
				return fmt.Errorf("encode identity meta: %w", err)
			}
			if err := txn.Set(sampleKey(modality, identity, sample.Sequence), rec); err != nil {
				return err
			}
			return txn.Set(mk, metaBytes)
		})
	})
	if err != nil {
		return biometric.Sample{}, biometric.NewStorageError("add sample", err)
	}
	return sample, nil
}

// Count returns the number of samples of identity.
func (s *Store) Count(_ context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	prefix := sampleIdentityPrefix(modality, identity)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, biometric.NewStorageError("count samples", err)
	}
	return count, nil
}

// List returns the samples of identity in sequence order.
func (s *Store) List(_ context.Context, modality biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error) {
	prefix := sampleIdentityPrefix(modality, identity)
	var samples []biometric.Sample
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			sample, err := database.DecodeSample(val)
			if err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return nil
	})
	if err != nil {
		return nil, biometric.NewStorageError("list samples", err)
	}
	return samples, nil
}

// Identities returns the identities of modality in first-enrollment order.
func (s *Store) Identities(_ context.Context, modality biometric.Modality) ([]biometric.Identity, error) {
	prefix := []byte(identityPrefix + string(modality) + "/")
	var metas []identityMeta
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var meta identityMeta
			if err := msgpack.Unmarshal(val, &meta); err != nil {
				return fmt.Errorf("decode identity meta: %w", err)
			}
			metas = append(metas, meta)
		}
		return nil
	})
	if err != nil {
		return nil, biometric.NewStorageError("list identities", err)
	}

	slices.SortFunc(metas, func(a, b identityMeta) int {
		if a.Order != b.Order {
			if a.Order < b.Order {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Identity, b.Identity)
	})
	out := make([]biometric.Identity, len(metas))
	for i := range metas {
		out[i] = biometric.Identity(metas[i].Identity)
	}
	return out, nil
}

// Delete removes identity's meta record and all of its samples in one
// transaction.
func (s *Store) Delete(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	unlock := s.locks.Lock(database.IdentityKey(string(modality), string(identity)))
	defer unlock()

	removed := 0
	err := database.Retry(ctx, database.WriteAttempts, isTransient, func() error {
		removed = 0
		return s.db.Update(func(txn *badger.Txn) error {
			mk := metaKey(modality, identity)
			meta, err := getMeta(txn, mk)
			if err != nil || meta == nil {
				return err
			}

			prefix := sampleIdentityPrefix(modality, identity)
			var keys [][]byte
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = prefix
			iterOpts.PrefetchValues = false
			it := txn.NewIterator(iterOpts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()

			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			removed = len(keys)
			return txn.Delete(mk)
		})
	})
	if err != nil {
		return 0, biometric.NewStorageError("delete identity", err)
	}
	return removed, nil
}

// Ping reports whether the database is open.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return biometric.NewStorageError("ping", errors.New("badger is closed"))
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.order.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("releasing identity sequence: %w", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing badger: %w", err)
	}
	return nil
}

// zapLogger routes badger's warnings and errors to zap and drops the rest.
type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Errorf(f string, v ...any)   { z.l.Errorf("badger: "+f, v...) }
func (z zapLogger) Warningf(f string, v ...any) { z.l.Warnf("badger: "+f, v...) }
func (zapLogger) Infof(string, ...any)          {}
func (zapLogger) Debugf(string, ...any)         {}
