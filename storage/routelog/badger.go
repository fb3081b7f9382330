// Package routelog durably records RTA redirect routes so a restart does
// not silently drop a route that a supernode hasn't yet refreshed
// (SPEC_FULL.md's C6 section). Adapted from klaytn's
// storage/database/badger_database.go badgerDB wrapper, narrowed to the
// append/iterate/delete access pattern the rta registry needs.
package routelog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/graft-project/graftd/internal/log"
)

var logger = log.NewModuleLogger(log.ModuleRTA)

const (
	gcThreshold      = int64(1 << 28) // 256MB
	sizeGCTickerTime = 5 * time.Minute

	// keySep separates the recipient and supernode halves of a composite
	// key. A recipient_id can have more than one live route (spec.md §4.6),
	// so the key must include the supernode id to keep each one addressable.
	keySep = "\x00"
)

// Record is one durable redirect record: recipient_id -> supernode_id,
// with the expiry that route entry was stored under.
type Record struct {
	RecipientID string
	SupernodeID string
	ExpiresAt   int64
}

// Log is the durable route log collaborator of the rta registry.
type Log struct {
	db       *badger.DB
	dir      string
	gcTicker *time.Ticker
	stop     chan struct{}
}

// Open opens (creating if absent) a badger-backed route log at dir.
func Open(dir string) (*Log, error) {
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("routelog: %s is not a directory", dir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("routelog: mkdir %s: %w", dir, err)
		}
	} else {
		return nil, fmt.Errorf("routelog: stat %s: %w", dir, err)
	}

	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("routelog: open %s: %w", dir, err)
	}

	l := &Log{db: db, dir: dir, gcTicker: time.NewTicker(sizeGCTickerTime), stop: make(chan struct{})}
	go l.runValueLogGC()
	logger.Info("opened route log", "dir", dir)
	return l, nil
}

func (l *Log) runValueLogGC() {
	_, lastSize := l.db.Size()
	for {
		select {
		case <-l.gcTicker.C:
			_, curSize := l.db.Size()
			if curSize-lastSize < gcThreshold {
				continue
			}
			if err := l.db.RunValueLogGC(0.5); err != nil {
				logger.Warn("route log gc skipped", "err", err)
				continue
			}
			_, lastSize = l.db.Size()
		case <-l.stop:
			return
		}
	}
}

func routeKey(recipientID, supernodeID string) []byte {
	return []byte(recipientID + keySep + supernodeID)
}

// Put durably records one recipient_id -> supernode_id route. expiresAt is
// a unix-seconds deadline. A recipient may have several such records, one
// per supernode currently serving it.
func (l *Log) Put(recipientID, supernodeID string, expiresAt int64) error {
	txn := l.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(routeKey(recipientID, supernodeID), encodeRecord(expiresAt)); err != nil {
		return err
	}
	return txn.Commit(nil)
}

// Delete removes a single recipient_id -> supernode_id route, e.g. once
// that supernode expires or stops serving the recipient.
func (l *Log) Delete(recipientID, supernodeID string) error {
	txn := l.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(routeKey(recipientID, supernodeID)); err != nil {
		return err
	}
	return txn.Commit(nil)
}

// LoadAll iterates every durable route, for use at startup to repopulate
// the in-memory rta registry before any supernode has re-registered.
func (l *Log) LoadAll() ([]Record, error) {
	var out []Record
	txn := l.db.NewTransaction(false)
	defer txn.Discard()
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		val, err := item.Value()
		if err != nil {
			return nil, err
		}
		recipientID, supernodeID, err := splitRouteKey(key)
		if err != nil {
			return nil, fmt.Errorf("routelog: bad key %q: %w", key, err)
		}
		expiresAt, err := decodeRecord(val)
		if err != nil {
			return nil, fmt.Errorf("routelog: decode %s: %w", key, err)
		}
		out = append(out, Record{RecipientID: recipientID, SupernodeID: supernodeID, ExpiresAt: expiresAt})
	}
	return out, nil
}

func splitRouteKey(key string) (recipientID, supernodeID string, err error) {
	i := strings.Index(key, keySep)
	if i < 0 {
		return "", "", fmt.Errorf("missing separator")
	}
	return key[:i], key[i+1:], nil
}

func (l *Log) Close() error {
	close(l.stop)
	l.gcTicker.Stop()
	return l.db.Close()
}

func encodeRecord(expiresAt int64) []byte {
	b := make([]byte, 8)
	putInt64(b, expiresAt)
	return b
}

func decodeRecord(b []byte) (expiresAt int64, err error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("short record (%d bytes)", len(b))
	}
	return getInt64(b), nil
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * uint(7-i)))
	}
}

func getInt64(b []byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u = u<<8 | uint64(b[i])
	}
	return int64(u)
}
