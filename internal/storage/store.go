package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrConflict is returned by Update when concurrent writers kept
// invalidating the group's reads.
var ErrConflict = errors.New("transaction conflict")

// TxFunc reads through r and returns the writes to commit. It may be called
// more than once by stores that retry on conflict, so it must not have side
// effects beyond its return values.
type TxFunc func(ctx context.Context, r Reader) ([]Op, error)

// Op is a single staged write. Delete removes the key and ignores Value.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Reader is the read side of a box store. A missing key is reported through
// the bool result, never as an error.
type Reader interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
}

// Store persists boxes addressed by exact key.
// Apply must commit every op or none of them. Update runs fn and commits its
// ops as one serializable transaction: no write from another Update or Apply,
// in this process or any other sharing the store, lands between fn's reads
// and the commit.
type Store interface {
	Reader
	Apply(ctx context.Context, ops []Op) error
	Update(ctx context.Context, fn TxFunc) error
	Close() error
}

// MemoryStore serializes writers with txMu; mu only guards the map.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	boxes map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boxes: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.boxes[string(key)]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (m *MemoryStore) Apply(_ context.Context, ops []Op) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.apply(ops)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, fn TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	ops, err := fn(ctx, m)
	if err != nil {
		return err
	}
	m.apply(ops)
	return nil
}

func (m *MemoryStore) apply(ops []Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Delete {
			delete(m.boxes, string(op.Key))
			continue
		}
		m.boxes[string(op.Key)] = clone(op.Value)
	}
}

// Len reports the number of stored boxes.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.boxes)
}

func (m *MemoryStore) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
