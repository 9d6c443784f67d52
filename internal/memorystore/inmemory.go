package memorystore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/types"
)

// InMemoryConfig configures an InMemoryStore.
type InMemoryConfig struct {
	// MaxEntries caps each partition's size; 0 means unlimited. Eviction
	// removes the oldest entry by CreatedAt when the cap is exceeded.
	MaxEntries int

	// Now lets tests inject a deterministic clock.
	Now func() time.Time
}

type partition struct {
	mu      sync.RWMutex
	entries map[string]types.MemoryEntry
}

// InMemoryStore is a per-partition-locked, TTL-aware Store implementation
// for local development and tests.
type InMemoryStore struct {
	config InMemoryConfig
	now    func() time.Time
	logger *zap.Logger

	partMu     sync.RWMutex
	partitions map[string]*partition

	verMu    sync.Mutex
	versions map[string]uint64 // partition/key -> last version issued
}

// NewInMemoryStore builds an InMemoryStore.
func NewInMemoryStore(config InMemoryConfig, logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryStore{
		config:     config,
		now:        now,
		logger:     logger.With(zap.String("component", "memorystore_inmemory")),
		partitions: make(map[string]*partition),
		versions:   make(map[string]uint64),
	}
}

func (s *InMemoryStore) partitionFor(name string) *partition {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	p, ok := s.partitions[name]
	if !ok {
		p = &partition{entries: make(map[string]types.MemoryEntry)}
		s.partitions[name] = p
	}
	return p
}

func (s *InMemoryStore) nextVersion(partitionKey string) uint64 {
	s.verMu.Lock()
	defer s.verMu.Unlock()
	s.versions[partitionKey]++
	return s.versions[partitionKey]
}

func (s *InMemoryStore) Store(ctx context.Context, partitionName, key string, value []byte, format, writer string, ttlSeconds int64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, types.Wrap(types.ErrCancelled, "store cancelled", err)
	}
	if key == "" {
		return 0, types.NewError(types.ErrValidation, "key is required")
	}

	version := s.nextVersion(partitionName + "/" + key)
	entry := types.MemoryEntry{
		Key:       key,
		Partition: partitionName,
		TTL:       ttlSeconds,
		Value:     value,
		Format:    format,
		Writer:    writer,
		CreatedAt: s.now(),
		Version:   version,
	}

	p := s.partitionFor(partitionName)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[key] = entry
	s.evictIfNeededLocked(p)
	return version, nil
}

func (s *InMemoryStore) Retrieve(ctx context.Context, partitionName, key string) (types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.MemoryEntry{}, types.Wrap(types.ErrCancelled, "retrieve cancelled", err)
	}

	p := s.partitionFor(partitionName)
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[key]
	if !ok || entry.Expired(s.now()) {
		return types.MemoryEntry{}, types.NewError(types.ErrNotFound, "key not found: "+key)
	}
	return entry, nil
}

func (s *InMemoryStore) Query(ctx context.Context, partitionName, globPattern string) ([]types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Wrap(types.ErrCancelled, "query cancelled", err)
	}

	p := s.partitionFor(partitionName)
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := s.now()
	out := make([]types.MemoryEntry, 0, len(p.entries))
	for k, entry := range p.entries {
		if entry.Expired(now) {
			continue
		}
		if globPattern == "" || matchGlob(globPattern, k) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *InMemoryStore) StoreShared(ctx context.Context, ownerKind, key string, value []byte, format, writer string) (uint64, error) {
	return s.Store(ctx, types.PartitionFleet, ownerKind+"/"+key, value, format, writer, 0)
}

func (s *InMemoryStore) StoreEvent(ctx context.Context, event types.Event) error {
	if err := ctx.Err(); err != nil {
		return types.Wrap(types.ErrCancelled, "store_event cancelled", err)
	}

	p := s.partitionFor(types.PartitionEvents)
	p.mu.Lock()
	defer p.mu.Unlock()

	key := eventKey(event)
	version := s.nextVersion(types.PartitionEvents + "/" + key)
	p.entries[key] = types.MemoryEntry{
		Key:       key,
		Partition: types.PartitionEvents,
		Value:     nil,
		Format:    "event",
		Writer:    event.Source,
		CreatedAt: event.Timestamp,
		Version:   version,
	}
	s.evictIfNeededLocked(p)
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, partitionName, key string) error {
	if err := ctx.Err(); err != nil {
		return types.Wrap(types.ErrCancelled, "delete cancelled", err)
	}

	p := s.partitionFor(partitionName)
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.entries, key)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// evictIfNeededLocked assumes p.mu is held for writing.
func (s *InMemoryStore) evictIfNeededLocked(p *partition) {
	if s.config.MaxEntries <= 0 || len(p.entries) <= s.config.MaxEntries {
		return
	}

	type kv struct {
		key       string
		createdAt time.Time
	}
	all := make([]kv, 0, len(p.entries))
	for k, e := range p.entries {
		all = append(all, kv{key: k, createdAt: e.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].createdAt.Before(all[j].createdAt) })

	toEvict := len(p.entries) - s.config.MaxEntries
	for i := 0; i < toEvict && i < len(all); i++ {
		delete(p.entries, all[i].key)
	}
}

// matchGlob matches pattern against s, with "*" as a wildcard anywhere in
// pattern (tail-wildcard is the common case but any position is supported).
func matchGlob(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(pattern, "*") && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	if !strings.HasSuffix(pattern, "*") && !strings.HasSuffix(s, parts[len(parts)-1]) {
		return false
	}

	idx := 0
	for _, part := range parts {
		if part == "" {
			continue
		}
		pos := strings.Index(s[idx:], part)
		if pos < 0 {
			return false
		}
		idx += pos + len(part)
	}
	return true
}
