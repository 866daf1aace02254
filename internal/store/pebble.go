package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleProvider persists tabs in a PebbleDB directory so a restart does not
// log everybody out. Keys are laid out as tab/<tabID>/<key>.
type PebbleProvider struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database at dir.
func OpenPebble(dir string) (*PebbleProvider, error) {
	if dir == "" {
		return nil, errors.New("store: pebble path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleProvider{db: db}, nil
}

// Open returns the backend for tabID.
func (p *PebbleProvider) Open(tabID string) (Backend, error) {
	prefix := []byte("tab/" + tabID + "/")
	return &pebbleBackend{db: p.db, prefix: prefix, upper: prefixUpperBound(prefix)}, nil
}

// Close flushes and closes the database.
func (p *PebbleProvider) Close() error {
	return p.db.Close()
}

type pebbleBackend struct {
	db     *pebble.DB
	prefix []byte
	upper  []byte
}

func (b *pebbleBackend) key(k string) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

func (b *pebbleBackend) Read(key string) ([]byte, error) {
	v, closer, err := b.db.Get(b.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (b *pebbleBackend) Write(key string, value []byte) error {
	return b.db.Set(b.key(key), value, pebble.Sync)
}

func (b *pebbleBackend) Delete(key string) error {
	return b.db.Delete(b.key(key), pebble.Sync)
}

func (b *pebbleBackend) Clear() error {
	return b.db.DeleteRange(b.prefix, b.upper, pebble.Sync)
}

func (b *pebbleBackend) Usage() (int64, error) {
	it, err := b.db.NewIter(&pebble.IterOptions{LowerBound: b.prefix, UpperBound: b.upper})
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.Close() }()
	var n int64
	for it.First(); it.Valid(); it.Next() {
		n += int64(len(it.Key()) - len(b.prefix) + len(it.Value()))
	}
	return n, nil
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
