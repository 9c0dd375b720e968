package store

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryRepository keeps all documents in process memory.
// It backs development runs and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]User
	chats    map[string]Chat
	invites  map[string]string // invite code -> chat id
	messages map[string][]Message
	reports  map[string]Report
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]User),
		chats:    make(map[string]Chat),
		invites:  make(map[string]string),
		messages: make(map[string][]Message),
		reports:  make(map[string]Report),
	}
}

func (m *MemoryRepository) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryRepository) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryRepository) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) UpdateProfile(_ context.Context, id string, update ProfileUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.DisplayName != nil {
		u.DisplayName = *update.DisplayName
	}
	if update.Pronouns != nil {
		u.Pronouns = *update.Pronouns
	}
	if update.AvatarURL != nil {
		u.AvatarURL = *update.AvatarURL
	}
	m.users[id] = u
	return &u, nil
}

func (m *MemoryRepository) SetBanned(_ context.Context, id string, banned bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Banned = banned
	m.users[id] = u
	return &u, nil
}

func (m *MemoryRepository) CreateChat(_ context.Context, c *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[c.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.invites[c.InviteCode]; ok {
		return ErrAlreadyExists
	}
	m.chats[c.ID] = c.clone()
	m.invites[c.InviteCode] = c.ID
	return nil
}

func (m *MemoryRepository) GetChat(_ context.Context, id string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	c = c.clone()
	return &c, nil
}

func (m *MemoryRepository) FindChatByInvite(_ context.Context, code string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.invites[code]
	if !ok {
		return nil, ErrInviteNotFound
	}
	c := m.chats[id].clone()
	return &c, nil
}

func (m *MemoryRepository) AddParticipant(_ context.Context, chatID, userID string) (*Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		return nil, false, ErrNotFound
	}

	added := false
	if !c.HasParticipant(userID) {
		c.Participants = append(slices.Clone(c.Participants), userID)
		m.chats[chatID] = c
		added = true
	}

	out := c.clone()
	return &out, added, nil
}

func (m *MemoryRepository) ListChatsForUser(_ context.Context, userID string) ([]Chat, error) {
	m.mu.RLock()
	out := make([]Chat, 0)
	for _, c := range m.chats {
		if c.HasParticipant(userID) {
			out = append(out, c.clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) AddMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[msg.ChatID]
	if !ok {
		return ErrNotFound
	}

	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], *msg)
	c.LastMessage = msg.Preview()
	m.chats[msg.ChatID] = c
	return nil
}

func (m *MemoryRepository) ListMessages(_ context.Context, chatID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.chats[chatID]; !ok {
		return nil, ErrNotFound
	}
	out := slices.Clone(m.messages[chatID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) CreateReport(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[r.ID]; ok {
		return ErrAlreadyExists
	}
	m.reports[r.ID] = *r
	return nil
}

func (m *MemoryRepository) GetReport(_ context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) ListReports(_ context.Context) ([]Report, error) {
	m.mu.RLock()
	out := make([]Report, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) DeleteReport(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[id]; !ok {
		return ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

// Close is a no-op for the memory backend.
func (m *MemoryRepository) Close() {}
