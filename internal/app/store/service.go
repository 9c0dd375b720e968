package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dospill/internal/app/listener"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/randx"
)

var (
	// ErrNotMember is returned when a user acts on a chat they have not joined.
	ErrNotMember = errors.New("store: user is not a chat participant")

	// ErrClosed is returned by watches opened after Close.
	ErrClosed = errors.New("store: service closed")
)

// inviteCodeAttempts bounds retries on invite-code collisions.
const inviteCodeAttempts = 5

// Service is the data service the shells talk to: document reads and mutations plus
// real-time watches. It is safe for concurrent use.
type Service struct {
	repo   Repository
	broker *broker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastNow time.Time

	logger zerolog.Logger
}

// NewService wraps repo. Close releases watches and the repository.
func NewService(repo Repository) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:   repo,
		broker: newBroker(),
		ctx:    ctx,
		cancel: cancel,
		logger: logx.Component("store"),
	}
}

// now returns a strictly increasing timestamp so that creation order is total even when
// two writes land within the clock's resolution.
func (s *Service) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastNow) {
		t = s.lastNow.Add(time.Microsecond)
	}
	s.lastNow = t
	return t
}

// Close stops every watch, waits for their goroutines and closes the repository.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	s.repo.Close()
}

// ---- users ----

// EnsureUser returns the profile for seed.ID, creating it from seed on first sign-in.
// created reports whether a new document was written.
func (s *Service) EnsureUser(ctx context.Context, seed User) (*User, bool, error) {
	u, err := s.repo.GetUser(ctx, seed.ID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("get user: %w", err)
	}

	if seed.DisplayName == "" {
		if seed.IsGuest() {
			seed.DisplayName = "Guest-" + firstN(strings.TrimPrefix(seed.ID, randx.GuestIDPrefix), 6)
		} else {
			seed.DisplayName = "New User"
		}
	}
	if seed.AvatarURL == "" {
		seed.AvatarURL = PlaceholderAvatar(seed.DisplayName)
	}
	if seed.Pronouns == "" {
		seed.Pronouns = DefaultPronouns
	}
	seed.Banned = false
	seed.CreatedAt = s.now()

	if err := s.repo.CreateUser(ctx, &seed); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with another session of the same user.
			u, err := s.repo.GetUser(ctx, seed.ID)
			return u, false, err
		}
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	s.broker.publish(topicUser(seed.ID), topicUsers)
	return &seed, true, nil
}

// PlaceholderAvatar returns the generated avatar URL for a display name.
func PlaceholderAvatar(displayName string) string {
	initial := "G"
	if r := []rune(strings.TrimSpace(displayName)); len(r) > 0 {
		initial = strings.ToUpper(string(r[0]))
	}
	return "https://placehold.co/100x100/5856d6/FFFFFF?text=" + initial
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetUser returns a profile.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers returns every profile.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdateProfile applies update to the profile of id.
func (s *Service) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error) {
	u, err := s.repo.UpdateProfile(ctx, id, update)
	if err != nil {
		return nil, err
	}
	s.broker.publish(topicUser(id), topicUsers)
	return u, nil
}

// SetBanned bans or unbans a user.
func (s *Service) SetBanned(ctx context.Context, id string, banned bool) (*User, error) {
	u, err := s.repo.SetBanned(ctx, id, banned)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", id).Bool("banned", banned).Msg("User ban flag changed")
	s.broker.publish(topicUser(id), topicUsers)
	return u, nil
}

// ---- chats ----

// CreateChat creates a group owned by creatorID with a fresh invite code.
func (s *Service) CreateChat(ctx context.Context, name, creatorID string) (*Chat, error) {
	for attempt := 1; attempt <= inviteCodeAttempts; attempt++ {
		code, err := randx.InviteCode()
		if err != nil {
			return nil, err
		}

		c := &Chat{
			ID:           randx.DocumentID(),
			Name:         name,
			Participants: []string{creatorID},
			InviteCode:   code,
			CreatedBy:    creatorID,
			CreatedAt:    s.now(),
		}

		err = s.repo.CreateChat(ctx, c)
		if errors.Is(err, ErrAlreadyExists) {
			s.logger.Warn().Int("attempt", attempt).Msg("Invite code collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}

		s.broker.publish(topicChatsFor(creatorID))
		return c, nil
	}
	return nil, fmt.Errorf("create chat: no free invite code after %d attempts", inviteCodeAttempts)
}

// JoinChat adds userID to the chat holding the invite code (case-insensitive).
// Joining twice leaves a single entry in the participant list.
func (s *Service) JoinChat(ctx context.Context, code, userID string) (*Chat, error) {
	c, err := s.repo.FindChatByInvite(ctx, randx.NormalizeInviteCode(code))
	if err != nil {
		return nil, err
	}

	c, added, err := s.repo.AddParticipant(ctx, c.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}

	if added {
		topics := make([]string, 0, len(c.Participants))
		for _, p := range c.Participants {
			topics = append(topics, topicChatsFor(p))
		}
		s.broker.publish(topics...)
	}
	return c, nil
}

// GetChat returns a chat.
func (s *Service) GetChat(ctx context.Context, id string) (*Chat, error) {
	return s.repo.GetChat(ctx, id)
}

// ---- messages ----

// SendMessage appends a message from sender to chatID. Exactly one of text and
// imageURL must be non-empty; the caller validates content.
func (s *Service) SendMessage(ctx context.Context, chatID string, sender User, text, imageURL string) (*Message, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(sender.ID) {
		return nil, ErrNotMember
	}

	m := &Message{
		ID:         randx.DocumentID(),
		ChatID:     chatID,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Text:       text,
		ImageURL:   imageURL,
		CreatedAt:  s.now(),
	}
	if err := s.repo.AddMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	topics := []string{topicMessages(chatID)}
	for _, p := range c.Participants {
		topics = append(topics, topicChatsFor(p))
	}
	s.broker.publish(topics...)
	return m, nil
}

// ---- reports ----

// ReportUser files a report. ID and CreatedAt are assigned here.
func (s *Service) ReportUser(ctx context.Context, r Report) (*Report, error) {
	if _, err := s.repo.GetUser(ctx, r.ReportedUserID); err != nil {
		return nil, err
	}

	r.ID = randx.DocumentID()
	r.CreatedAt = s.now()
	if err := s.repo.CreateReport(ctx, &r); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	s.broker.publish(topicReports)
	return &r, nil
}

// GetReport returns a report; dismissed reports are ErrNotFound.
func (s *Service) GetReport(ctx context.Context, id string) (*Report, error) {
	return s.repo.GetReport(ctx, id)
}

// ListReports returns every open report.
func (s *Service) ListReports(ctx context.Context) ([]Report, error) {
	return s.repo.ListReports(ctx)
}

// DismissReport deletes a report permanently.
func (s *Service) DismissReport(ctx context.Context, id string) error {
	if err := s.repo.DeleteReport(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("report_id", id).Msg("Report dismissed")
	s.broker.publish(topicReports)
	return nil
}

// ---- watches ----

// WatchUser streams the profile of id.
func (s *Service) WatchUser(id string, fn func(User)) (listener.Unsubscribe, error) {
	return watch(s, topicUser(id), func(ctx context.Context) (User, error) {
		u, err := s.repo.GetUser(ctx, id)
		if err != nil {
			return User{}, err
		}
		return *u, nil
	}, fn)
}

// WatchChatsForUser streams the chats userID participates in.
func (s *Service) WatchChatsForUser(userID string, fn func([]Chat)) (listener.Unsubscribe, error) {
	return watch(s, topicChatsFor(userID), func(ctx context.Context) ([]Chat, error) {
		return s.repo.ListChatsForUser(ctx, userID)
	}, fn)
}

// WatchMessages streams a chat's messages in creation order.
func (s *Service) WatchMessages(chatID string, fn func([]Message)) (listener.Unsubscribe, error) {
	return watch(s, topicMessages(chatID), func(ctx context.Context) ([]Message, error) {
		return s.repo.ListMessages(ctx, chatID)
	}, fn)
}

// WatchUsers streams every profile.
func (s *Service) WatchUsers(fn func([]User)) (listener.Unsubscribe, error) {
	return watch(s, topicUsers, s.repo.ListUsers, fn)
}

// WatchReports streams every open report.
func (s *Service) WatchReports(fn func([]Report)) (listener.Unsubscribe, error) {
	return watch(s, topicReports, s.repo.ListReports, fn)
}

// watch runs one subscription: an initial snapshot, then one snapshot per coalesced
// change notification, all from a single goroutine so deliveries stay ordered.
// The returned Unsubscribe stops future deliveries; a delivery already in progress
// is not interrupted.
func watch[T any](s *Service, topic string, load func(context.Context) (T, error), fn func(T)) (listener.Unsubscribe, error) {
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}

	id, notify := s.broker.subscribe(topic)
	done := make(chan struct{})
	var once sync.Once

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.broker.unsubscribe(topic, id)

		deliver := func() {
			snapshot, err := load(s.ctx)
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn().Err(err).Str("topic", topic).Msg("Snapshot load failed")
				}
				return
			}
			select {
			case <-done:
				return
			default:
			}
			fn(snapshot)
		}

		deliver()
		for {
			select {
			case <-done:
				return
			case <-s.ctx.Done():
				return
			case <-notify:
				deliver()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}
