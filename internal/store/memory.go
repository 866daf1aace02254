package store

import (
	"strings"

	"github.com/patrickmn/go-cache"
)

// MemoryProvider keeps every tab in one process-local cache. Entries never
// expire on their own; the tab registry clears a tab when it goes idle.
type MemoryProvider struct {
	cache *cache.Cache
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{cache: cache.New(cache.NoExpiration, 0)}
}

// Open returns the backend for tabID.
func (p *MemoryProvider) Open(tabID string) (Backend, error) {
	return &memoryBackend{cache: p.cache, prefix: tabID + "\x00"}, nil
}

// Close drops everything.
func (p *MemoryProvider) Close() error {
	p.cache.Flush()
	return nil
}

type memoryBackend struct {
	cache  *cache.Cache
	prefix string
}

func (b *memoryBackend) Read(key string) ([]byte, error) {
	v, ok := b.cache.Get(b.prefix + key)
	if !ok {
		return nil, ErrNotFound
	}
	data := v.([]byte)
	return append([]byte(nil), data...), nil
}

func (b *memoryBackend) Write(key string, value []byte) error {
	b.cache.SetDefault(b.prefix+key, append([]byte(nil), value...))
	return nil
}

func (b *memoryBackend) Delete(key string) error {
	b.cache.Delete(b.prefix + key)
	return nil
}

func (b *memoryBackend) Clear() error {
	for k := range b.cache.Items() {
		if strings.HasPrefix(k, b.prefix) {
			b.cache.Delete(k)
		}
	}
	return nil
}

func (b *memoryBackend) Usage() (int64, error) {
	var n int64
	for k, item := range b.cache.Items() {
		if !strings.HasPrefix(k, b.prefix) {
			continue
		}
		data, _ := item.Object.([]byte)
		n += int64(len(k) - len(b.prefix) + len(data))
	}
	return n, nil
}
