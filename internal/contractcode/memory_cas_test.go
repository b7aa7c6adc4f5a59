package contractcode

import (
	"context"
	"fmt"
	"sync"

	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// memoryCAS is a trivial in-memory storage.CAS used only to exercise
// Registry.Resolve's fallback path in tests.
type memoryCAS struct {
	mu      sync.Mutex
	content map[string][]byte
}

func newMemoryCAS() *memoryCAS {
	return &memoryCAS{content: make(map[string][]byte)}
}

func (m *memoryCAS) Put(_ context.Context, content []byte) ([]byte, uint64, error) {
	id := types.ComputeProgramID(content)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[string(id[:])] = content
	return id[:], uint64(len(content)), nil
}

func (m *memoryCAS) Get(_ context.Context, hash []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.content[string(hash)]
	if !ok {
		return nil, fmt.Errorf("no content for hash %x", hash)
	}
	return content, nil
}

func (m *memoryCAS) Has(_ context.Context, hash []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.content[string(hash)]
	return ok, nil
}

func (m *memoryCAS) Remove(_ context.Context, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, string(hash))
	return nil
}
