// Package store persists downloaded files through a lode Store.
//
// Files are written once under their original name. When a name is
// taken, " (n)" is inserted before the extension, as desktop file
// managers do.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/nimbus/metrics"
)

// Backend names.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// DefaultName is used when a download has no usable name.
const DefaultName = "download"

// maxCollisions bounds the " (n)" search.
const maxCollisions = 1000

// ErrTooManyCollisions is returned when no free name is found.
var ErrTooManyCollisions = errors.New("too many files with the same name")

// Saver persists downloaded bytes.
type Saver interface {
	// Save writes data under a name derived from name and returns the
	// key actually used.
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// LodeSaver writes into a lode Store.
type LodeSaver struct {
	store     lode.Store
	backend   string
	location  string
	collector *metrics.Collector

	// mu serializes name allocation so concurrent saves of the same
	// name get distinct keys.
	mu sync.Mutex
}

// NewSaverWithStore wraps an existing store.
func NewSaverWithStore(st lode.Store, backend, location string) *LodeSaver {
	return &LodeSaver{store: st, backend: backend, location: location}
}

// NewFSSaver stores files under root, creating it if needed.
func NewFSSaver(root string) (*LodeSaver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrap("init", root, err)
	}
	st, err := lode.NewFSFactory(root)()
	if err != nil {
		return nil, wrap("init", root, err)
	}
	return NewSaverWithStore(st, BackendFS, root), nil
}

// NewMemorySaver stores files in memory.
func NewMemorySaver() *LodeSaver {
	return NewSaverWithStore(lode.NewMemory(), BackendMemory, "memory")
}

// WithCollector sets the metrics collector and returns s.
func (s *LodeSaver) WithCollector(c *metrics.Collector) *LodeSaver {
	s.collector = c
	return s
}

// Backend returns the backend name.
func (s *LodeSaver) Backend() string { return s.backend }

// Location describes where files land (directory, bucket/prefix).
func (s *LodeSaver) Location() string { return s.location }

// Save implements Saver.
func (s *LodeSaver) Save(ctx context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.freeKey(ctx, SanitizeName(name))
	if err != nil {
		s.collector.IncSaveFailure()
		return "", err
	}
	if err := s.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		s.collector.IncSaveFailure()
		return "", wrap("write", key, err)
	}
	s.collector.IncSaveSuccess()
	return key, nil
}

// Open returns the stored bytes for key.
func (s *LodeSaver) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, wrap("read", key, err)
	}
	return rc, nil
}

// List returns stored keys.
func (s *LodeSaver) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.List(ctx, "")
	if err != nil {
		return nil, wrap("list", "", err)
	}
	return keys, nil
}

// freeKey returns name, or the first "stem (n)ext" not yet stored.
func (s *LodeSaver) freeKey(ctx context.Context, name string) (string, error) {
	for i := 0; i < maxCollisions; i++ {
		candidate := CollisionName(name, i)
		exists, err := s.store.Exists(ctx, candidate)
		if err != nil {
			return "", wrap("read", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", &StorageError{Kind: ErrUnclassified, Op: "write", Path: name, Err: ErrTooManyCollisions}
}

// CollisionName returns name for n == 0, otherwise "stem (n)ext".
func CollisionName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}

// SanitizeName reduces name to a single safe path element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", "/":
		return DefaultName
	}
	return name
}

var _ Saver = (*LodeSaver)(nil)
