package server

import (
	"context"
	"sort"
	"sync"

	"propman/internal/auth"
)

// memUsers is an in-memory auth.UserStore for handler tests.
type memUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]auth.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[int64]auth.User{}}
}

func (m *memUsers) Create(_ context.Context, u *auth.User) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := auth.NormalizeEmail(u.Email)
	for _, existing := range m.users {
		if existing.Email == email {
			return nil, auth.ErrEmailTaken
		}
	}
	m.nextID++
	cp := *u
	cp.ID = m.nextID
	cp.Email = email
	m.users[cp.ID] = cp
	return &cp, nil
}

func (m *memUsers) FindByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == auth.NormalizeEmail(email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	u, err := m.FindByEmail(ctx, email)
	return u != nil, err
}

func (m *memUsers) List(context.Context) ([]auth.User, error) {
	return m.filter(func(auth.User) bool { return true }), nil
}

func (m *memUsers) ListByRole(_ context.Context, role auth.Role) ([]auth.User, error) {
	return m.filter(func(u auth.User) bool { return u.Role == role }), nil
}

func (m *memUsers) Update(_ context.Context, id int64, fn func(*auth.User) error) (*auth.User, error) {
	return m.update(func(u auth.User) bool { return u.ID == id }, fn)
}

func (m *memUsers) UpdateByEmail(_ context.Context, email string, fn func(*auth.User) error) (*auth.User, error) {
	return m.update(func(u auth.User) bool { return u.Email == auth.NormalizeEmail(email) }, fn)
}

func (m *memUsers) UpdateByResetToken(_ context.Context, digest string, fn func(*auth.User) error) (*auth.User, error) {
	return m.update(func(u auth.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == digest
	}, fn)
}

func (m *memUsers) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return auth.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) update(pred func(auth.User) bool, fn func(*auth.User) error) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if !pred(u) {
			continue
		}
		if err := fn(&u); err != nil {
			return nil, err
		}
		m.users[id] = u
		return &u, nil
	}
	return nil, auth.ErrUserNotFound
}

func (m *memUsers) filter(pred func(auth.User) bool) []auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.User
	for _, u := range m.users {
		if pred(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memUsers) get(id int64) auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}
