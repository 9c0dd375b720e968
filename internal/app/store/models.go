/*
Package store holds the DoSpill document model and its persistence.

A Repository persists users, chats, messages and reports (in memory or in Postgres).
The Service wraps a Repository with a change broker: every mutation publishes the
topics it touched, and watchers re-read their query and receive a full snapshot.
Snapshots for one stream are delivered in order; nothing is promised across streams.
*/
package store

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrAlreadyExists is returned when a unique key (id, invite code) is already taken.
	ErrAlreadyExists = errors.New("store: document already exists")

	// ErrInviteNotFound is returned when no chat carries the given invite code.
	ErrInviteNotFound = errors.New("store: invite code not found")
)

// DefaultPronouns is assigned to new profiles.
const DefaultPronouns = "Prefer not to say"

// User is a participant profile. Guest accounts have no email.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl"`
	Pronouns    string    `json:"pronouns"`
	Banned      bool      `json:"isBanned"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsGuest reports whether the account has no email attached.
func (u User) IsGuest() bool {
	return u.Email == ""
}

// ProfileUpdate carries the editable profile fields; nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	Pronouns    *string
	AvatarURL   *string
}

// Chat is a group conversation joined through its invite code.
type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	InviteCode   string    `json:"inviteCode"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	LastMessage  string    `json:"lastMessage,omitempty"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

func (c Chat) clone() Chat {
	c.Participants = slices.Clone(c.Participants)
	return c
}

// Message is an append-only chat entry. Exactly one of Text and ImageURL is set.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text,omitempty"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Preview is the short form shown in chat lists.
func (m Message) Preview() string {
	if m.ImageURL != "" {
		return "Photo"
	}
	return m.Text
}

// Report is a complaint about a participant. Dismissal deletes it.
type Report struct {
	ID             string    `json:"id"`
	ReportedUserID string    `json:"reportedUserId"`
	ReporterID     string    `json:"reporterId"`
	Reason         string    `json:"reason"`
	ChatID         string    `json:"chatId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
