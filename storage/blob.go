package storage

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrBlobNotFound indica que a chave nunca foi gravada.
var ErrBlobNotFound = errors.New("blob não encontrado")

// BlobStore é a capacidade de persistência chave/valor usada para reidratar o estado.
type BlobStore interface {
	LoadBlob(ctx context.Context, key string) ([]byte, error)
	SaveBlob(ctx context.Context, key string, data []byte) error
	Close() error
}

// MemoryStore guarda os blobs em memória. Útil em testes e no modo efêmero.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) LoadBlob(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) SaveBlob(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
