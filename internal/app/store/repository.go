package store

import "context"

// Repository is the persistence contract shared by the memory and Postgres backends.
// Returned documents are copies; callers may modify them freely.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error)
	SetBanned(ctx context.Context, id string, banned bool) (*User, error)

	CreateChat(ctx context.Context, c *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	FindChatByInvite(ctx context.Context, code string) (*Chat, error)
	// AddParticipant appends userID with set-union semantics and reports whether the
	// participant list changed.
	AddParticipant(ctx context.Context, chatID, userID string) (*Chat, bool, error)
	ListChatsForUser(ctx context.Context, userID string) ([]Chat, error)

	// AddMessage stores m and refreshes the parent chat's last-message preview.
	AddMessage(ctx context.Context, m *Message) error
	// ListMessages returns a chat's messages ordered by creation time ascending.
	ListMessages(ctx context.Context, chatID string) ([]Message, error)

	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context) ([]Report, error)
	DeleteReport(ctx context.Context, id string) error

	Close()
}
