package patient

import (
	"context"
	"encoding/json"
	"sync"
)

// Store loads and saves the whole patient collection. Implementations never
// keep a collection between calls; callers own the returned value.
type Store interface {
	Load(ctx context.Context) (*Collection, error)
	Save(ctx context.Context, c *Collection) error
}

// MemoryStore keeps the serialized collection in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := NewCollection()
	if len(s.data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(s.data, c); err != nil {
		return NewCollection(), nil
	}
	return c, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Collection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}
