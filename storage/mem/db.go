package mem

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/weallnet/weall/storage"
)

var _ storage.Driver = (*Store)(nil)

var errNotFound = errors.New("not found")

type storeObj struct {
	data []byte
}

// Store implements an in memory storage.Driver. It backs the journal and
// checkpoints during a session and in unit tests.
type Store struct {
	store map[string]storeObj
	mu    sync.RWMutex
}

func NewMemStore() *Store {
	return &Store{
		store: map[string]storeObj{},
	}
}

func (m *Store) WriteKey(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = storeObj{
		data: append([]byte(nil), data...),
	}
	return nil
}

func (m *Store) GetKey(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, found := m.store[key]
	if !found {
		return nil, errors.Wrapf(errNotFound, "key %q", key)
	}
	return obj.data, nil
}

func (m *Store) ErrIsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// Len reports how many keys have been written.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
