package store

import (
	"bytes"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// bucketName is the single bucket each per-user bbolt file uses; user
// isolation comes from one file per user rather than bucket-per-user,
// mirroring the teacher's one-bucket-per-concern layout
// (cuemby-warren/pkg/storage/boltdb.go) adapted to per-user files instead
// of per-concern buckets since each user's index/graph/journal already
// live behind the Registry's per-user lock.
var bucketName = []byte("pdw")

type boltStore struct {
	db *bolt.DB
}

// NewBoltFactory returns a Factory that opens (creating if necessary) one
// bbolt file per user under dataDir, the local-persistence counterpart to
// NewMemoryFactory.
func NewBoltFactory(dataDir string) Factory {
	return func(user string) (KVStore, error) {
		path := filepath.Join(dataDir, fmt.Sprintf("%s.db", user))
		db, err := bolt.Open(path, 0o600, nil)
		if err != nil {
			return nil, fmt.Errorf("open bbolt store for %s: %w", user, err)
		}
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &boltStore{db: db}, nil
	}
}

func (s *boltStore) Set(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

func (s *boltStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *boltStore) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

func (s *boltStore) Has(key []byte) (bool, error) {
	v, err := s.Get(key)
	return v != nil, err
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Iterator(start, end []byte) Iterator {
	tx, err := s.db.Begin(false)
	if err != nil {
		return &boltIterator{err: err}
	}
	c := tx.Bucket(bucketName).Cursor()
	return &boltIterator{tx: tx, c: c, start: start, end: end, first: true}
}

type boltIterator struct {
	tx          *bolt.Tx
	c           *bolt.Cursor
	start, end  []byte
	first       bool
	k, v        []byte
	err         error
}

func (it *boltIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.first {
		it.first = false
		if it.start != nil {
			it.k, it.v = it.c.Seek(it.start)
		} else {
			it.k, it.v = it.c.First()
		}
	} else {
		it.k, it.v = it.c.Next()
	}
	if it.k == nil {
		return false
	}
	if it.end != nil && bytes.Compare(it.k, it.end) >= 0 {
		it.k, it.v = nil, nil
		return false
	}
	return true
}

func (it *boltIterator) Key() []byte   { return it.k }
func (it *boltIterator) Value() []byte { return it.v }
func (it *boltIterator) Error() error  { return it.err }
func (it *boltIterator) Close() error {
	if it.tx != nil {
		return it.tx.Rollback()
	}
	return nil
}
