// Package peerstore persists the peer table's snapshot blob (spec.md §4.2's
// persist()/load()) to a small goleveldb database, adapted from klaytn's
// storage/database/leveldb_database.go wrapper: same open/recover pattern,
// narrowed to the one key this node needs durable.
package peerstore

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/graft-project/graftd/internal/log"
)

var logger = log.NewModuleLogger(log.ModuleStorage)

// blobKey is the single key under which the peerlist blob is stored.
var blobKey = []byte("peerlist")

// Store is the external peerlist store collaborator referenced by
// spec.md §1 ("assumed: an opaque blob supplied by a peerlist store").
type Store interface {
	Save(blob []byte) error
	Load() ([]byte, error)
	Close() error
}

type levelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates and recovers) a goleveldb database at dir
// to back the peerlist store.
func OpenLevelDB(dir string) (Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("opened peerlist store", "dir", dir)
	return &levelDBStore{db: db}, nil
}

func (s *levelDBStore) Save(blob []byte) error {
	return s.db.Put(blobKey, blob, nil)
}

func (s *levelDBStore) Load() ([]byte, error) {
	v, err := s.db.Get(blobKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return v, err
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}

// MemStore is an in-process Store useful for tests and for --offline runs
// that should not touch disk.
type MemStore struct {
	blob []byte
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Save(blob []byte) error {
	s.blob = append([]byte(nil), blob...)
	return nil
}

func (s *MemStore) Load() ([]byte, error) {
	return s.blob, nil
}

func (s *MemStore) Close() error { return nil }
