package shell

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dospill/internal/app/storage"
	"dospill/internal/app/store"
	"dospill/internal/app/user"
	"dospill/internal/pkg/auth/jwt"
	"dospill/internal/pkg/errs"
)

// recordingOutbox keeps every frame a session sends.
type recordingOutbox struct {
	mu        sync.Mutex
	frames    []Frame
	closed    bool
	closeCode int
}

func (o *recordingOutbox) Send(f Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClientClosed
	}
	o.frames = append(o.frames, f)
	return nil
}

func (o *recordingOutbox) Close(code int, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		o.closeCode = code
	}
}

func (o *recordingOutbox) snapshot() []Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.frames)
}

func (o *recordingOutbox) closedWith() (bool, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed, o.closeCode
}

// waitFrame polls until a frame matching ok has been sent.
func (o *recordingOutbox) waitFrame(t *testing.T, ok func(Frame) bool) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range o.snapshot() {
			if ok(f) {
				return f
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for frame")
	return Frame{}
}

func (o *recordingOutbox) waitError(t *testing.T, requestID string) ErrorPayload {
	t.Helper()
	f := o.waitFrame(t, func(f Frame) bool { return f.Type == TypeError && f.RequestID == requestID })
	return f.Payload.(ErrorPayload)
}

func (o *recordingOutbox) waitAck(t *testing.T, requestID string) Frame {
	t.Helper()
	return o.waitFrame(t, func(f Frame) bool { return f.Type == TypeAck && f.RequestID == requestID })
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Name() string { return "fake" }

func (p *countingProvider) UploadURL(context.Context, storage.UploadRequest) (*storage.Upload, error) {
	p.calls.Add(1)
	return &storage.Upload{UploadURL: "https://uploads.example.com/u/1", Method: "PUT"}, nil
}

type fixture struct {
	store   *store.Service
	uploads *countingProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewService(store.NewMemoryRepository())
	t.Cleanup(st.Close)
	return &fixture{store: st, uploads: &countingProvider{}}
}

func (f *fixture) deps() Deps {
	return Deps{Store: f.store, Uploads: f.uploads}
}

// existingUser creates a profile so that the session skips profile setup.
func (f *fixture) existingUser(t *testing.T, id, name string) user.Identity {
	t.Helper()
	_, _, err := f.store.EnsureUser(context.Background(), store.User{ID: id, Email: id + "@example.com", DisplayName: name})
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	return user.Identity{ID: id, Role: jwt.RoleRegistered, Email: id + "@example.com", DisplayName: name}
}

func (f *fixture) start(t *testing.T, id user.Identity) (*Session, *recordingOutbox) {
	t.Helper()
	out := &recordingOutbox{}
	s := NewSession("sess-"+id.ID+id.Role, id, f.deps(), out)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Close)
	return s, out
}

func frame(t *testing.T, typ, requestID string, payload any) Inbound {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return Inbound{Type: typ, RequestID: requestID, Payload: raw}
}

func assertListeners(t *testing.T, s *Session, view View) {
	t.Helper()
	want := slices.Clone(ListenersFor(view))
	slices.Sort(want)
	got := s.listeners.Keys()
	if !slices.Equal(got, want) {
		t.Fatalf("view %s: listeners = %v, want %v", view, got, want)
	}
}

func TestFirstSignInLandsOnProfileSetup(t *testing.T) {
	f := newFixture(t)
	s, out := f.start(t, user.Identity{ID: "guest_abc123def456", Role: jwt.RoleGuest})

	if st := s.State(); st.View != ViewProfileSetup || st.User.DisplayName != "Guest-abc123" {
		t.Fatalf("state = %+v", st)
	}
	assertListeners(t, s, ViewProfileSetup)

	s.Handle(context.Background(), frame(t, TypeSetupProfile, "r1", setupProfilePayload{DisplayName: "  <b></b> "}))
	if e := out.waitError(t, "r1"); e.Code != errs.ErrDisplayNameEmpty {
		t.Fatalf("error code = %d, want %d", e.Code, errs.ErrDisplayNameEmpty)
	}
	if s.State().View != ViewProfileSetup {
		t.Fatal("rejected setup left profile setup")
	}

	s.Handle(context.Background(), frame(t, TypeSetupProfile, "r2", setupProfilePayload{DisplayName: "Robin"}))
	out.waitAck(t, "r2")

	st := s.State()
	if st.View != ViewChats || st.User.DisplayName != "Robin" || st.User.Pronouns != store.DefaultPronouns {
		t.Fatalf("state after setup = %+v", st)
	}
	assertListeners(t, s, ViewChats)
}

func TestTransitionsKeepExactlyTheViewsListeners(t *testing.T) {
	f := newFixture(t)
	id := f.existingUser(t, "u1", "Ana")
	c, err := f.store.CreateChat(context.Background(), "Hikers", "u1")
	if err != nil {
		t.Fatal(err)
	}

	s, out := f.start(t, id)
	assertListeners(t, s, ViewChats)

	steps := []navigatePayload{
		{View: ViewChat, ChatID: c.ID},
		{View: ViewProfile},
		{View: ViewChat, ChatID: c.ID},
		{View: ViewChat, ChatID: c.ID},
		{View: ViewChats},
	}
	for i, p := range steps {
		rid := string(rune('a' + i))
		s.Handle(context.Background(), frame(t, TypeNavigate, rid, p))
		out.waitAck(t, rid)
		assertListeners(t, s, p.View)
	}

	if got := s.State().Seq; got != uint64(len(steps)+1) {
		t.Errorf("seq = %d, want %d", got, len(steps)+1)
	}
}

func TestNavigateToForeignChatIsRefused(t *testing.T) {
	f := newFixture(t)
	f.existingUser(t, "owner", "Owner")
	c, err := f.store.CreateChat(context.Background(), "Private", "owner")
	if err != nil {
		t.Fatal(err)
	}

	s, out := f.start(t, f.existingUser(t, "u2", "Ben"))
	s.Handle(context.Background(), frame(t, TypeNavigate, "n1", navigatePayload{View: ViewChat, ChatID: c.ID}))

	if e := out.waitError(t, "n1"); e.Code != errs.ErrNotChatMember {
		t.Fatalf("code = %d", e.Code)
	}
	if s.State().View != ViewChats {
		t.Fatal("view changed on refused navigation")
	}
	assertListeners(t, s, ViewChats)
}

func TestStaleSnapshotIsDropped(t *testing.T) {
	f := newFixture(t)
	s, out := f.start(t, f.existingUser(t, "u1", "Ana"))

	stale := deliver[[]store.Chat](s, KeyChats, s.State().Seq)
	s.Handle(context.Background(), frame(t, TypeNavigate, "p", navigatePayload{View: ViewProfile}))
	out.waitAck(t, "p")

	carries := func(id string) bool {
		for _, f := range out.snapshot() {
			if chats, ok := f.Payload.([]store.Chat); ok && len(chats) == 1 && chats[0].ID == id {
				return true
			}
		}
		return false
	}

	stale([]store.Chat{{ID: "ghost"}})
	if carries("ghost") {
		t.Fatal("stale callback wrote to the replaced view")
	}

	fresh := deliver[[]store.Chat](s, KeyChats, s.State().Seq)
	fresh([]store.Chat{{ID: "live"}})
	if !carries("live") {
		t.Fatal("callback for the mounted view was dropped")
	}
}

func TestRequestUploadValidatesBeforeProvider(t *testing.T) {
	f := newFixture(t)
	s, out := f.start(t, f.existingUser(t, "u1", "Ana"))

	s.Handle(context.Background(), frame(t, TypeRequestUpload, "bad", requestUploadPayload{
		FileName: "notes.pdf", MimeType: "application/pdf", Size: 2048,
	}))
	if e := out.waitError(t, "bad"); e.Code != errs.ErrNotAnImage {
		t.Fatalf("code = %d, want %d", e.Code, errs.ErrNotAnImage)
	}

	s.Handle(context.Background(), frame(t, TypeRequestUpload, "big", requestUploadPayload{
		FileName: "cat.png", MimeType: "image/png", Size: storage.MaxImageSize + 1,
	}))
	if e := out.waitError(t, "big"); e.Code != errs.ErrFileSizeTooLarge {
		t.Fatalf("code = %d, want %d", e.Code, errs.ErrFileSizeTooLarge)
	}

	if n := f.uploads.calls.Load(); n != 0 {
		t.Fatalf("provider called %d times for rejected files", n)
	}

	s.Handle(context.Background(), frame(t, TypeRequestUpload, "ok", requestUploadPayload{
		FileName: "cat.png", MimeType: "image/png", Size: 2048,
	}))
	ack := out.waitAck(t, "ok")
	if up, ok := ack.Payload.(*storage.Upload); !ok || up.UploadURL == "" {
		t.Fatalf("ack payload = %#v", ack.Payload)
	}
	if n := f.uploads.calls.Load(); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}
}

func TestBannedUserIsRefused(t *testing.T) {
	f := newFixture(t)
	id := f.existingUser(t, "u1", "Ana")
	if _, err := f.store.SetBanned(context.Background(), "u1", true); err != nil {
		t.Fatal(err)
	}

	out := &recordingOutbox{}
	s := NewSession("sess", id, f.deps(), out)
	if err := s.Start(context.Background()); !errs.Is(err, errs.ErrAccountBanned) {
		t.Fatalf("Start err = %v", err)
	}

	if e := out.waitError(t, ""); e.Code != errs.ErrAccountBanned {
		t.Fatalf("code = %d", e.Code)
	}
	if closed, code := out.closedWith(); !closed || code != CloseCodeBanned {
		t.Fatalf("closed = %v code = %d", closed, code)
	}
	if n := s.listeners.Len(); n != 0 {
		t.Fatalf("banned session holds %d listeners", n)
	}
}

func TestBanWhileConnectedSignsOut(t *testing.T) {
	f := newFixture(t)
	s, out := f.start(t, f.existingUser(t, "u1", "Ana"))
	admin, adminOut := f.start(t, user.Identity{Role: jwt.RoleAdmin})

	admin.Handle(context.Background(), frame(t, TypeBanUser, "ban", userTargetPayload{UserID: "u1"}))
	adminOut.waitAck(t, "ban")

	out.waitFrame(t, func(f Frame) bool { return f.Type == TypeSignedOut })
	if closed, code := out.closedWith(); !closed || code != CloseCodeBanned {
		t.Fatalf("closed = %v code = %d", closed, code)
	}
	if st := s.State(); st.View != ViewSignedOut || st.User.ID != "" {
		t.Fatalf("state after ban = %+v", st)
	}
	if n := s.listeners.Len(); n != 0 {
		t.Fatalf("signed-out session holds %d listeners", n)
	}
}

func TestJoinChatValidatesInviteCode(t *testing.T) {
	f := newFixture(t)
	f.existingUser(t, "owner", "Owner")
	c, err := f.store.CreateChat(context.Background(), "Book club", "owner")
	if err != nil {
		t.Fatal(err)
	}
	s, out := f.start(t, f.existingUser(t, "u2", "Ben"))

	s.Handle(context.Background(), frame(t, TypeJoinChat, "short", joinChatPayload{InviteCode: "abc"}))
	if e := out.waitError(t, "short"); e.Code != errs.ErrInviteCodeInvalid {
		t.Fatalf("code = %d", e.Code)
	}

	unknown := "ZZZZZZ"
	if c.InviteCode == unknown {
		unknown = "YYYYYY"
	}
	s.Handle(context.Background(), frame(t, TypeJoinChat, "unknown", joinChatPayload{InviteCode: unknown}))
	if e := out.waitError(t, "unknown"); e.Code != errs.ErrInviteCodeUnknown {
		t.Fatalf("code = %d", e.Code)
	}

	s.Handle(context.Background(), frame(t, TypeJoinChat, "ok", joinChatPayload{InviteCode: "  " + strings.ToLower(c.InviteCode) + " "}))
	out.waitAck(t, "ok")

	got, err := f.store.GetChat(context.Background(), c.ID)
	if err != nil || !got.HasParticipant("u2") {
		t.Fatalf("u2 not a participant: %+v %v", got, err)
	}
	if s.State().View != ViewChats {
		t.Fatal("join changed the view")
	}

	// The joined chat reaches the chat list stream.
	out.waitFrame(t, func(f Frame) bool {
		chats, ok := f.Payload.([]store.Chat)
		return f.Type == TypeSnapshot && f.Key == KeyChats && ok && len(chats) == 1
	})
}

func TestSendMessageNeedsOpenChat(t *testing.T) {
	f := newFixture(t)
	s, out := f.start(t, f.existingUser(t, "u1", "Ana"))

	s.Handle(context.Background(), frame(t, TypeCreateChat, "c", createChatPayload{Name: " Trip "}))
	c := out.waitAck(t, "c").Payload.(*store.Chat)
	if c.Name != "Trip" {
		t.Fatalf("chat name = %q", c.Name)
	}

	s.Handle(context.Background(), frame(t, TypeSendMessage, "early", sendMessagePayload{Text: "hi"}))
	if e := out.waitError(t, "early"); e.Code != errs.ErrNotChatMember {
		t.Fatalf("code = %d", e.Code)
	}

	s.Handle(context.Background(), frame(t, TypeNavigate, "open", navigatePayload{View: ViewChat, ChatID: c.ID}))
	out.waitAck(t, "open")

	s.Handle(context.Background(), frame(t, TypeSendMessage, "empty", sendMessagePayload{Text: "   "}))
	if e := out.waitError(t, "empty"); e.Code != errs.ErrMessageEmpty {
		t.Fatalf("code = %d", e.Code)
	}

	s.Handle(context.Background(), frame(t, TypeSendMessage, "m1", sendMessagePayload{Text: "<i>hello</i>"}))
	out.waitAck(t, "m1")
	s.Handle(context.Background(), frame(t, TypeSendImage, "m2", sendImagePayload{ImageURL: "https://cdn.example.com/cat.png"}))
	out.waitAck(t, "m2")

	seq := s.State().Seq
	out.waitFrame(t, func(f Frame) bool {
		msgs, ok := f.Payload.([]store.Message)
		return f.Type == TypeSnapshot && f.Key == KeyMessages && f.Seq == seq && ok &&
			len(msgs) == 2 && msgs[0].Text == "hello" && msgs[1].Preview() == "Photo"
	})

	s.Handle(context.Background(), frame(t, TypeSendImage, "bad", sendImagePayload{ImageURL: "javascript:alert(1)"}))
	if e := out.waitError(t, "bad"); e.Code != errs.ErrInvalidParams {
		t.Fatalf("code = %d", e.Code)
	}
}

func TestReportUser(t *testing.T) {
	f := newFixture(t)
	f.existingUser(t, "u2", "Ben")
	s, out := f.start(t, f.existingUser(t, "u1", "Ana"))

	s.Handle(context.Background(), frame(t, TypeReportUser, "self", reportUserPayload{UserID: "u1", Reason: "me"}))
	if e := out.waitError(t, "self"); e.Code != errs.ErrSelfReport {
		t.Fatalf("code = %d", e.Code)
	}

	s.Handle(context.Background(), frame(t, TypeReportUser, "blank", reportUserPayload{UserID: "u2", Reason: " "}))
	if e := out.waitError(t, "blank"); e.Code != errs.ErrReportReasonEmpty {
		t.Fatalf("code = %d", e.Code)
	}

	s.Handle(context.Background(), frame(t, TypeReportUser, "ghost", reportUserPayload{UserID: "nobody", Reason: "spam"}))
	if e := out.waitError(t, "ghost"); e.Code != errs.ErrUserNotFound {
		t.Fatalf("code = %d", e.Code)
	}

	s.Handle(context.Background(), frame(t, TypeReportUser, "ok", reportUserPayload{UserID: "u2", Reason: "spam"}))
	r := out.waitAck(t, "ok").Payload.(*store.Report)
	if r.ReporterID != "u1" || r.ReportedUserID != "u2" {
		t.Fatalf("report = %+v", r)
	}
}

func TestAdminDashboardStreamsModeration(t *testing.T) {
	f := newFixture(t)
	f.existingUser(t, "u1", "Ana")
	f.existingUser(t, "u2", "Ben")
	r, err := f.store.ReportUser(context.Background(), store.Report{ReportedUserID: "u2", ReporterID: "u1", Reason: "spam"})
	if err != nil {
		t.Fatal(err)
	}

	admin, out := f.start(t, user.Identity{Role: jwt.RoleAdmin})
	assertListeners(t, admin, ViewDashboard)

	out.waitFrame(t, func(f Frame) bool {
		snap, ok := f.Payload.(ReportsSnapshot)
		return ok && snap.Total == 1
	})

	admin.Handle(context.Background(), frame(t, TypeBanUser, "ban", userTargetPayload{UserID: "u2"}))
	out.waitAck(t, "ban")
	out.waitFrame(t, func(f Frame) bool {
		snap, ok := f.Payload.(UsersSnapshot)
		return ok && snap.Total == 2 && snap.Banned == 1
	})

	admin.Handle(context.Background(), frame(t, TypeDismissReport, "dismiss", reportTargetPayload{ReportID: r.ID}))
	out.waitAck(t, "dismiss")
	out.waitFrame(t, func(f Frame) bool {
		snap, ok := f.Payload.(ReportsSnapshot)
		return ok && snap.Total == 0
	})

	admin.Handle(context.Background(), frame(t, TypeDismissReport, "again", reportTargetPayload{ReportID: r.ID}))
	if e := out.waitError(t, "again"); e.Code != errs.ErrReportNotFound {
		t.Fatalf("code = %d", e.Code)
	}

	// User frames are not accepted on an admin session.
	admin.Handle(context.Background(), frame(t, TypeCreateChat, "chat", createChatPayload{Name: "x"}))
	if e := out.waitError(t, "chat"); e.Code != errs.ErrInvalidParams {
		t.Fatalf("code = %d", e.Code)
	}
}

func TestSignOutDrainsListeners(t *testing.T) {
	f := newFixture(t)
	s, out := f.start(t, f.existingUser(t, "u1", "Ana"))

	s.Handle(context.Background(), Inbound{Type: TypeSignOut})
	if n := s.listeners.Len(); n != 0 {
		t.Fatalf("listeners after sign-out = %d", n)
	}
	if closed, code := out.closedWith(); !closed || code != CloseCodeSignedOut {
		t.Fatalf("closed = %v code = %d", closed, code)
	}

	// Frames after sign-out are ignored.
	n := len(out.snapshot())
	s.Handle(context.Background(), frame(t, TypeCreateChat, "late", createChatPayload{Name: "x"}))
	if len(out.snapshot()) != n {
		t.Fatal("signed-out session answered a frame")
	}
}
