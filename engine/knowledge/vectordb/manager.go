package vectordb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/compozy/ragpipe/pkg/logger"
)

// Manager hands out reference counted stores so the API server, the watcher
// and the MCP tools share one connection per collection.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*sharedStoreEntry
}

type sharedStoreEntry struct {
	store     Store
	refs      int
	signature string
}

var defaultManager = NewManager()

func NewManager() *Manager {
	return &Manager{stores: make(map[string]*sharedStoreEntry)}
}

// AcquireShared returns a store from the process wide manager.
func AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	return defaultManager.AcquireShared(ctx, cfg)
}

// AcquireShared returns the cached store for cfg.ID or opens a new one. The
// release function closes the store when the last holder lets go.
func (m *Manager) AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, nil, err
	}
	signature := signatureKey(cfg)
	m.mu.Lock()
	if entry, ok := m.stores[cfg.ID]; ok {
		defer m.mu.Unlock()
		if entry.signature != signature {
			return nil, nil, fmt.Errorf("vector_db %q: configuration mismatch for shared store", cfg.ID)
		}
		entry.refs++
		return entry.store, m.releaseFunc(cfg.ID, signature), nil
	}
	m.mu.Unlock()
	store, err := instantiateStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.stores[cfg.ID]; ok {
		closeRedundantStore(ctx, cfg.ID, store)
		if entry.signature != signature {
			return nil, nil, fmt.Errorf("vector_db %q: configuration mismatch for shared store", cfg.ID)
		}
		entry.refs++
		return entry.store, m.releaseFunc(cfg.ID, signature), nil
	}
	m.stores[cfg.ID] = &sharedStoreEntry{store: store, refs: 1, signature: signature}
	return store, m.releaseFunc(cfg.ID, signature), nil
}

func closeRedundantStore(ctx context.Context, id string, store Store) {
	if err := store.Close(ctx); err != nil {
		logger.FromContext(ctx).Warn("failed to close redundant vector store", "vector_id", id, "error", err)
	}
}

func (m *Manager) releaseFunc(id string, signature string) func(context.Context) error {
	var once sync.Once
	return func(ctx context.Context) error {
		var toClose Store
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			entry, ok := m.stores[id]
			if !ok || entry.signature != signature {
				return
			}
			entry.refs--
			if entry.refs > 0 {
				return
			}
			delete(m.stores, id)
			toClose = entry.store
		})
		if toClose == nil {
			return nil
		}
		return toClose.Close(ctx)
	}
}

func signatureKey(cfg *Config) string {
	const sigSep = "\x1f"
	return strings.Join([]string{
		string(cfg.Provider),
		cfg.DSN,
		cfg.Path,
		cfg.Collection,
		fmt.Sprintf("%d", cfg.Dimension),
		fmt.Sprintf("%t", cfg.EnsureIndex),
		fmt.Sprintf("%d", cfg.MaxTopK),
	}, sigSep)
}
