package universe

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// MemStore is an in-memory Universe, implementing the same
// scheduler.LedgerStore and storage.CAS surfaces as Store. It exists for
// tests that want a Universe without standing up Badger, grounded on the
// same codec so round-tripping a *types.Utxo through either backend is
// byte-identical.
type MemStore struct {
	mu    sync.RWMutex
	utxos map[types.UtxoID][]byte
	code  map[string][]byte
}

// NewMemStore constructs an empty in-memory Universe.
func NewMemStore() *MemStore {
	return &MemStore{
		utxos: make(map[types.UtxoID][]byte),
		code:  make(map[string][]byte),
	}
}

// GetUtxo implements scheduler.LedgerStore.
func (m *MemStore) GetUtxo(_ context.Context, id types.UtxoID) (*types.Utxo, bool, error) {
	m.mu.RLock()
	raw, ok := m.utxos[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	u, err := decodeUtxo(id, raw)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// PutUtxo implements scheduler.LedgerStore.
func (m *MemStore) PutUtxo(_ context.Context, u *types.Utxo) error {
	raw := encodeUtxo(u)
	m.mu.Lock()
	m.utxos[u.ID] = raw
	m.mu.Unlock()
	return nil
}

// RemoveUtxo implements scheduler.LedgerStore.
func (m *MemStore) RemoveUtxo(_ context.Context, id types.UtxoID) error {
	m.mu.Lock()
	delete(m.utxos, id)
	m.mu.Unlock()
	return nil
}

// LiveUtxoIDs enumerates every UTXO currently in the store.
func (m *MemStore) LiveUtxoIDs(_ context.Context) ([]types.UtxoID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]types.UtxoID, 0, len(m.utxos))
	for id := range m.utxos {
		ids = append(ids, id)
	}
	return ids, nil
}

// Put implements storage.CAS.
func (m *MemStore) Put(_ context.Context, content []byte) ([]byte, uint64, error) {
	sum := sha256.Sum256(content)
	hash := sum[:]
	stored := make([]byte, len(content))
	copy(stored, content)

	m.mu.Lock()
	m.code[string(hash)] = stored
	m.mu.Unlock()
	return hash, uint64(len(content)), nil
}

// Get implements storage.CAS.
func (m *MemStore) Get(_ context.Context, hash []byte) ([]byte, error) {
	m.mu.RLock()
	raw, ok := m.code[string(hash)]
	m.mu.RUnlock()
	if !ok {
		return nil, wasmerr.New(wasmerr.UnknownCode, "no content stored under the requested hash")
	}
	return raw, nil
}

// Has implements storage.CAS.
func (m *MemStore) Has(_ context.Context, hash []byte) (bool, error) {
	m.mu.RLock()
	_, ok := m.code[string(hash)]
	m.mu.RUnlock()
	return ok, nil
}

// Remove implements storage.CAS.
func (m *MemStore) Remove(_ context.Context, hash []byte) error {
	m.mu.Lock()
	delete(m.code, string(hash))
	m.mu.Unlock()
	return nil
}
