// Package store implements LocalStore: the memory-mapped key/value store of
// UUID-to-asset-bytes backed by BoltDB, per §4.4. Keys are the 32-byte ASCII
// hex form of the asset UUID; values are asset.EncodeStorage output.
//
// Grounded on crowdriff-lru's boltcache.go (openBoltDB/fillCacheFromBolt/
// getFromBolt/putIntoBolt/deleteFromBolt), generalized from an
// LRU-with-embedded-cache object into a standalone storage component that
// StorageManager composes with a separate LruIndex.
package store

import (
	"errors"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/kf6kjg/whip-lru/internal/asset"
)

// Errors returned by LocalStore operations.
var (
	ErrKeyExists = errors.New("store: key already exists")
	ErrNotFound  = errors.New("store: key not found")
	ErrMapFull   = errors.New("store: configured disk budget exhausted")
)

var assetBucket = []byte("assetstore")

// Config configures a LocalStore.
type Config struct {
	// Path is the BoltDB file path.
	Path string

	// MapSizeBytes is the disk budget: the maximum cumulative size, in
	// bytes, of all values LocalStore will hold at once.
	MapSizeBytes int64
}

// LocalStore is the on-disk, memory-mapped asset cache.
type LocalStore struct {
	db   *bolt.DB
	cap  int64
	mu   sync.Mutex // guards `used`; paired with the bolt transaction that mutates it
	used int64
}

// Open opens (creating if necessary) the BoltDB environment at cfg.Path and
// its assetstore bucket. Corruption of the underlying file is fatal, per
// §4.4/§7, and is surfaced as a plain error for the caller to treat as such.
func Open(cfg Config) (*LocalStore, error) {
	db, err := bolt.Open(cfg.Path, 0600, nil)
	if err != nil {
		return nil, err
	}
	s := &LocalStore{db: db, cap: cfg.MapSizeBytes}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(assetBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Put writes bytes under id in a single transaction. Returns ErrKeyExists if
// id is already present, or ErrMapFull if the write would exceed the
// configured disk budget.
func (s *LocalStore) Put(id uuid.UUID, data []byte) error {
	key := []byte(asset.ToHex32(id))
	size := int64(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap > 0 && s.used+size > s.cap {
		return ErrMapFull
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(assetBucket)
		if b.Get(key) != nil {
			return ErrKeyExists
		}
		return b.Put(key, data)
	})
	if err != nil {
		return err
	}
	s.used += size
	return nil
}

// Get returns the bytes stored under id, or ErrNotFound.
func (s *LocalStore) Get(id uuid.UUID) ([]byte, error) {
	key := []byte(asset.ToHex32(id))
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(assetBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes id's row, or returns ErrNotFound.
func (s *LocalStore) Delete(id uuid.UUID) error {
	key := []byte(asset.ToHex32(id))

	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(assetBucket)
		v := b.Get(key)
		if v == nil {
			return ErrNotFound
		}
		size = int64(len(v))
		return b.Delete(key)
	})
	if err != nil {
		return err
	}
	s.used -= size
	return nil
}

// DeleteBatch removes every id in ids within a single transaction. Unlike
// the apparent one-transaction-per-key loop in the source this is derived
// from, every removal here shares one commit — §9 mandates this explicitly
// for eviction rounds.
func (s *LocalStore) DeleteBatch(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var freed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(assetBucket)
		for _, id := range ids {
			key := []byte(asset.ToHex32(id))
			if v := b.Get(key); v != nil {
				freed += int64(len(v))
			}
			// Ignore a missing key: best-effort batch cleanup should not
			// fail the whole round over one already-gone entry.
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.used -= freed
	return nil
}

// ScanEntry is one row discovered by ScanIDs.
type ScanEntry struct {
	ID   uuid.UUID
	Size int64
}

// ScanIDs enumerates every row currently in the store, used once at startup
// to rebuild the LruIndex. Order is whatever BoltDB's cursor yields and is
// treated as arbitrary initial MRU order (see Open Questions in the
// specification).
func (s *LocalStore) ScanIDs() ([]ScanEntry, error) {
	var out []ScanEntry
	var total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(assetBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id, err := asset.ParseHex32(string(k))
			if err != nil {
				continue
			}
			out = append(out, ScanEntry{ID: id, Size: int64(len(v))})
			total += int64(len(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.used = total
	s.mu.Unlock()
	return out, nil
}

// Close flushes and releases the underlying memory mapping.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
