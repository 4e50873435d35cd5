package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/platepulse/recommender/internal/domain"
)

// MockUserRepository is a hand-written, in-memory UserRepository for tests.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[int64]*domain.User

	// Optional error overrides: set in tests to simulate failure paths.
	ListActiveErr error
	GetByIDErr    error

	// BeforeList, when set, runs at the start of ListActive. Tests use it to
	// hold a run open.
	BeforeList func()
}

func NewMockUserRepository(users ...*domain.User) *MockUserRepository {
	m := &MockUserRepository{users: make(map[int64]*domain.User)}
	for _, u := range users {
		m.Add(u)
	}
	return m
}

// Add stores a copy of u.
func (m *MockUserRepository) Add(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *u
	m.users[u.ID] = &clone
}

func (m *MockUserRepository) ListActive(_ context.Context) ([]*domain.User, error) {
	if m.BeforeList != nil {
		m.BeforeList()
	}
	if m.ListActiveErr != nil {
		return nil, m.ListActiveErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		if u.Active {
			clone := *u
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockUserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}
