package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(NewMemoryRepository())
	t.Cleanup(s.Close)
	return s
}

func mustUser(t *testing.T, s *Service, id, email, name string) *User {
	t.Helper()
	u, _, err := s.EnsureUser(context.Background(), User{ID: id, Email: email, DisplayName: name})
	if err != nil {
		t.Fatalf("EnsureUser(%s): %v", id, err)
	}
	return u
}

// recorder collects watch deliveries.
type recorder[T any] struct {
	mu  sync.Mutex
	got []T
	ch  chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan struct{}, 64)}
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder[T]) last() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// waitFor blocks until ok holds for the latest delivery.
func (r *recorder[T]) waitFor(t *testing.T, ok func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if r.len() > 0 {
			if v := r.last(); ok(v) {
				return v
			}
		}
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatal("timed out waiting for watch delivery")
		}
	}
}

func TestEnsureUserCreatesOnce(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	u, created, err := s.EnsureUser(ctx, User{ID: "guest_abc123def456"})
	if err != nil || !created {
		t.Fatalf("first EnsureUser: created=%v err=%v", created, err)
	}
	if u.DisplayName != "Guest-abc123" {
		t.Errorf("guest display name = %q", u.DisplayName)
	}
	if u.Pronouns != DefaultPronouns || u.AvatarURL == "" || u.Banned {
		t.Errorf("unexpected defaults: %+v", u)
	}

	again, created, err := s.EnsureUser(ctx, User{ID: u.ID, DisplayName: "Other"})
	if err != nil || created {
		t.Fatalf("second EnsureUser: created=%v err=%v", created, err)
	}
	if again.DisplayName != "Guest-abc123" {
		t.Errorf("existing profile was overwritten: %q", again.DisplayName)
	}
}

func TestJoinChatIsIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	owner := mustUser(t, s, "u1", "a@example.com", "Ann")
	joiner := mustUser(t, s, "u2", "b@example.com", "Bob")

	c, err := s.CreateChat(ctx, "Friends", owner.ID)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.JoinChat(ctx, c.InviteCode, joiner.ID); err != nil {
			t.Fatalf("JoinChat #%d: %v", i+1, err)
		}
	}

	got, err := s.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if len(got.Participants) != 2 {
		t.Errorf("participants = %v, want [u1 u2]", got.Participants)
	}

	if _, err := s.JoinChat(ctx, "ZZZZZZ", joiner.ID); !errors.Is(err, ErrInviteNotFound) {
		t.Errorf("unknown invite: err = %v, want ErrInviteNotFound", err)
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	owner := mustUser(t, s, "u1", "a@example.com", "Ann")
	stranger := mustUser(t, s, "u2", "b@example.com", "Bob")

	c, err := s.CreateChat(ctx, "Friends", owner.ID)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if _, err := s.SendMessage(ctx, c.ID, *stranger, "hi", ""); !errors.Is(err, ErrNotMember) {
		t.Errorf("stranger send: err = %v, want ErrNotMember", err)
	}

	if _, err := s.SendMessage(ctx, c.ID, *owner, "", "https://cdn.example.com/x.png"); err != nil {
		t.Fatalf("image send: %v", err)
	}
	got, _ := s.GetChat(ctx, c.ID)
	if got.LastMessage != "Photo" {
		t.Errorf("last message preview = %q, want Photo", got.LastMessage)
	}
}

func TestDismissedReportIsGone(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUser(t, s, "u1", "a@example.com", "Ann")
	mustUser(t, s, "u2", "b@example.com", "Bob")

	r, err := s.ReportUser(ctx, Report{ReportedUserID: "u2", ReporterID: "u1", Reason: "spam"})
	if err != nil {
		t.Fatalf("ReportUser: %v", err)
	}
	if _, err := s.GetReport(ctx, r.ID); err != nil {
		t.Fatalf("GetReport before dismiss: %v", err)
	}

	if err := s.DismissReport(ctx, r.ID); err != nil {
		t.Fatalf("DismissReport: %v", err)
	}
	if _, err := s.GetReport(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReport after dismiss: err = %v, want ErrNotFound", err)
	}
	if err := s.DismissReport(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DismissReport: err = %v, want ErrNotFound", err)
	}
}

func TestWatchMessagesDeliversInOrder(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	owner := mustUser(t, s, "u1", "a@example.com", "Ann")
	c, err := s.CreateChat(ctx, "Friends", owner.ID)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	rec := newRecorder[[]Message]()
	unsub, err := s.WatchMessages(c.ID, rec.add)
	if err != nil {
		t.Fatalf("WatchMessages: %v", err)
	}
	defer unsub()

	rec.waitFor(t, func(m []Message) bool { return len(m) == 0 })

	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		if _, err := s.SendMessage(ctx, c.ID, *owner, text, ""); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	got := rec.waitFor(t, func(m []Message) bool { return len(m) == len(texts) })
	for i, m := range got {
		if m.Text != texts[i] {
			t.Errorf("message %d = %q, want %q", i, m.Text, texts[i])
		}
	}

	// Snapshots only grow: a stream never goes back to an older state.
	rec.mu.Lock()
	for i := 1; i < len(rec.got); i++ {
		if len(rec.got[i]) < len(rec.got[i-1]) {
			t.Errorf("snapshot %d shrank from %d to %d", i, len(rec.got[i-1]), len(rec.got[i]))
		}
	}
	rec.mu.Unlock()
}

func TestWatchChatsSeesJoin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	owner := mustUser(t, s, "u1", "a@example.com", "Ann")
	joiner := mustUser(t, s, "u2", "b@example.com", "Bob")

	rec := newRecorder[[]Chat]()
	unsub, err := s.WatchChatsForUser(joiner.ID, rec.add)
	if err != nil {
		t.Fatalf("WatchChatsForUser: %v", err)
	}
	defer unsub()
	rec.waitFor(t, func(c []Chat) bool { return len(c) == 0 })

	c, err := s.CreateChat(ctx, "Friends", owner.ID)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if _, err := s.JoinChat(ctx, c.InviteCode, joiner.ID); err != nil {
		t.Fatalf("JoinChat: %v", err)
	}

	got := rec.waitFor(t, func(c []Chat) bool { return len(c) == 1 })
	if got[0].ID != c.ID {
		t.Errorf("watched chat = %s, want %s", got[0].ID, c.ID)
	}
}

func TestUnsubscribeStopsDeliveries(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustUser(t, s, "u1", "a@example.com", "Ann")

	rec := newRecorder[User]()
	unsub, err := s.WatchUser("u1", rec.add)
	if err != nil {
		t.Fatalf("WatchUser: %v", err)
	}
	rec.waitFor(t, func(u User) bool { return u.DisplayName == "Ann" })

	unsub()
	unsub() // second call is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for s.broker.count(topicUser("u1")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch goroutine did not release its subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}

	before := rec.len()
	name := "Annie"
	if _, err := s.UpdateProfile(ctx, "u1", ProfileUpdate{DisplayName: &name}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if rec.len() != before {
		t.Errorf("delivery after unsubscribe: %d -> %d", before, rec.len())
	}
}

func TestWatchAfterCloseFails(t *testing.T) {
	s := NewService(NewMemoryRepository())
	s.Close()

	if _, err := s.WatchReports(func([]Report) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("WatchReports after Close: err = %v, want ErrClosed", err)
	}
}
