// Package store implements the tab-scoped session store: a small key/value
// mapping whose values are kept as JSON text. Every failure is logged and
// reported as a boolean, never returned to the caller.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultQuota mirrors the per-origin sessionStorage budget of common browsers.
const DefaultQuota int64 = 5 << 20

var (
	ErrNotFound      = errors.New("store: key not found")
	ErrQuotaExceeded = errors.New("store: quota exceeded")
)

// Backend holds the raw bytes of a single tab.
type Backend interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Delete(key string) error
	Clear() error
	// Usage returns the bytes held by the tab, counting keys and values.
	Usage() (int64, error)
}

// Toucher is implemented by backends that expire on their own and need to be
// told the tab is still in use.
type Toucher interface {
	Touch() error
}

// Provider opens the Backend that belongs to a tab.
type Provider interface {
	Open(tabID string) (Backend, error)
	Close() error
}

// Store is the typed front of a tab Backend.
type Store struct {
	backend Backend
	quota   int64
	logger  *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithQuota caps the bytes a tab may hold. Zero or less disables the cap.
func WithQuota(n int64) Option {
	return func(s *Store) { s.quota = n }
}

// WithLogger attaches a logger for swallowed failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, quota: DefaultQuota, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set serialises value under key.
func (s *Store) Set(key string, value any) bool {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("failed to save to session store", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := s.checkQuota(key, data); err != nil {
		s.logger.Error("failed to save to session store", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := s.backend.Write(key, data); err != nil {
		s.logger.Error("failed to save to session store", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Get decodes the value under key into dest. It reports false when the key
// is absent, holds JSON null, or cannot be decoded.
func (s *Store) Get(key string, dest any) bool {
	data, err := s.backend.Read(key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Error("failed to read from session store", zap.String("key", key), zap.Error(err))
		return false
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	if err := json.Unmarshal(trimmed, dest); err != nil {
		s.logger.Error("failed to read from session store", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Remove deletes key. Removing a missing key succeeds.
func (s *Store) Remove(key string) bool {
	if err := s.backend.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("failed to remove from session store", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Touch marks the tab as in use. Backends without their own expiry ignore it.
func (s *Store) Touch() bool {
	t, ok := s.backend.(Toucher)
	if !ok {
		return true
	}
	if err := t.Touch(); err != nil {
		s.logger.Warn("failed to refresh session store expiry", zap.Error(err))
		return false
	}
	return true
}

// Clear erases every key of the tab.
func (s *Store) Clear() bool {
	if err := s.backend.Clear(); err != nil {
		s.logger.Error("failed to clear session store", zap.Error(err))
		return false
	}
	return true
}

func (s *Store) checkQuota(key string, data []byte) error {
	if s.quota <= 0 {
		return nil
	}
	used, err := s.backend.Usage()
	if err != nil {
		return fmt.Errorf("measure usage: %w", err)
	}
	prev, err := s.backend.Read(key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("read previous value: %w", err)
	default:
		used -= int64(len(key) + len(prev))
	}
	if projected := used + int64(len(key)+len(data)); projected > s.quota {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, projected, s.quota)
	}
	return nil
}
