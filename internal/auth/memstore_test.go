package auth

import (
	"context"
	"sync"
)

// memStore is an in-memory UserStore. The mutex is held across fn so
// updates serialise the way row locks do.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]User
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]User{}}
}

func (m *memStore) Create(_ context.Context, u *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == NormalizeEmail(u.Email) {
			return nil, ErrEmailTaken
		}
	}
	m.nextID++
	cp := *u
	cp.ID = m.nextID
	cp.Email = NormalizeEmail(u.Email)
	m.users[cp.ID] = cp
	return &cp, nil
}

func (m *memStore) FindByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.match(func(u User) bool { return u.Email == NormalizeEmail(email) }); ok {
		u := m.users[id]
		return &u, nil
	}
	return nil, nil
}

func (m *memStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	u, err := m.FindByEmail(ctx, email)
	return u != nil, err
}

func (m *memStore) List(_ context.Context) ([]User, error) {
	return m.filter(func(User) bool { return true }), nil
}

func (m *memStore) ListByRole(_ context.Context, role Role) ([]User, error) {
	return m.filter(func(u User) bool { return u.Role == role }), nil
}

func (m *memStore) Update(_ context.Context, id int64, fn func(*User) error) (*User, error) {
	return m.update(func(u User) bool { return u.ID == id }, fn)
}

func (m *memStore) UpdateByEmail(_ context.Context, email string, fn func(*User) error) (*User, error) {
	return m.update(func(u User) bool { return u.Email == NormalizeEmail(email) }, fn)
}

func (m *memStore) UpdateByResetToken(_ context.Context, digest string, fn func(*User) error) (*User, error) {
	return m.update(func(u User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == digest
	}, fn)
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) update(pred func(User) bool, fn func(*User) error) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.match(pred)
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := m.users[id]
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.users[id] = cp
	out := cp
	return &out, nil
}

func (m *memStore) match(pred func(User) bool) (int64, bool) {
	for id, u := range m.users {
		if pred(u) {
			return id, true
		}
	}
	return 0, false
}

func (m *memStore) filter(pred func(User) bool) []User {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []User
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok && pred(u) {
			out = append(out, u)
		}
	}
	return out
}

// get returns the stored row, for assertions.
func (m *memStore) get(id int64) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}
