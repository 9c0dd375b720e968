/*
Package shell runs the UI and admin shells on the server.

A Session is one connected shell. It owns the AppState (signed-in profile, current view,
current chat) and the Active Listener Set for that view. Every view transition drains
the set, bumps the view sequence, announces the new view and then attaches exactly the
streams the new view needs. Snapshot callbacks carry the sequence they were attached
under and drop themselves once the session has moved on, since a detached stream may
still have a delivery in flight.
*/
package shell

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"dospill/internal/app/listener"
	"dospill/internal/app/storage"
	"dospill/internal/app/store"
	"dospill/internal/app/user"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/randx"
	"dospill/internal/pkg/req"
	"dospill/internal/pkg/sanitize"
)

const (
	maxMessageRunes  = 2000
	maxChatNameRunes = 64
	maxReasonRunes   = 1000

	// bound on a single frame's store or provider work.
	opTimeout = 15 * time.Second
)

// ErrSessionClosed is returned by operations on a signed-out session.
var ErrSessionClosed = errors.New("shell: session closed")

// Deps are the services a session talks to.
type Deps struct {
	Store   *store.Service
	Uploads storage.Provider
}

// Session is one connected shell.
type Session struct {
	id        string
	identity  user.Identity
	deps      Deps
	out       Outbox
	listeners *listener.Set

	mu     sync.Mutex
	state  AppState
	closed bool

	logger zerolog.Logger
}

// NewSession returns a session for identity writing to out. Call Start before Handle.
func NewSession(id string, identity user.Identity, deps Deps, out Outbox) *Session {
	return &Session{
		id:        id,
		identity:  identity,
		deps:      deps,
		out:       out,
		listeners: listener.NewSet(id),
		state:     AppState{View: ViewSignedOut},
		logger: logx.Component("shell").With().
			Str("session_id", id).
			Str("user_id", identity.ID).
			Str("role", identity.Role).
			Logger(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns a copy of the current AppState.
func (s *Session) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the first view. Users land on profile setup the first time they sign in
// and on their chat list afterwards; banned users are refused and signed out.
func (s *Session) Start(ctx context.Context) error {
	if s.identity.IsAdmin() {
		return s.startAdmin()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	u, created, err := s.deps.Store.EnsureUser(ctx, s.identity.Seed())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load profile")
		s.send(errorFrame("", errs.NewError(errs.ErrUnknown)))
		s.signOut(CloseCodeSignedOut, "profile unavailable")
		return err
	}

	if u.Banned {
		s.logger.Info().Msg("Banned user refused")
		s.send(errorFrame("", errs.NewError(errs.ErrAccountBanned)))
		s.signOut(CloseCodeBanned, "account banned")
		return errs.NewError(errs.ErrAccountBanned)
	}

	s.mu.Lock()
	s.state.User = *u
	s.mu.Unlock()

	if created {
		s.logger.Info().Msg("Profile created on first sign-in")
		return s.transition(ViewProfileSetup, "")
	}
	return s.transition(ViewChats, "")
}

// Handle processes one inbound frame. Failures are reported to the shell as error
// frames carrying the frame's request id.
func (s *Session) Handle(ctx context.Context, in Inbound) {
	if s.isClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var err error
	if s.identity.IsAdmin() {
		err = s.handleAdmin(ctx, in)
	} else {
		err = s.handleUser(ctx, in)
	}

	if err != nil {
		if !errs.Is(err, errs.ErrUnknown) {
			s.logger.Debug().Err(err).Str("frame_type", in.Type).Msg("Frame rejected")
		}
		s.send(errorFrame(in.RequestID, err))
	}
}

func (s *Session) handleUser(ctx context.Context, in Inbound) error {
	switch in.Type {
	case TypeNavigate:
		return s.navigate(ctx, in)
	case TypeSetupProfile:
		return s.setupProfile(ctx, in)
	case TypeUpdateProfile:
		return s.updateProfile(ctx, in)
	case TypeCreateChat:
		return s.createChat(ctx, in)
	case TypeJoinChat:
		return s.joinChat(ctx, in)
	case TypeSendMessage:
		return s.sendMessage(ctx, in)
	case TypeRequestUpload:
		return s.requestUpload(ctx, in)
	case TypeSendImage:
		return s.sendImage(ctx, in)
	case TypeReportUser:
		return s.reportUser(ctx, in)
	case TypeSignOut:
		s.signOut(CloseCodeSignedOut, "signed out")
		return nil
	default:
		return errs.NewError(errs.ErrInvalidParams)
	}
}

// Close drains the listener set without notifying the shell. It is called when the
// connection is gone.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state.Seq++
	s.mu.Unlock()

	s.listeners.DetachAll()
}

// transition moves the session to view. The old view's listeners are gone before the
// view frame is sent, and the new view's listeners are attached after it.
func (s *Session) transition(view View, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	s.listeners.DetachAll()

	s.state.Seq++
	s.state.View = view
	s.state.ChatID = chatID
	seq := s.state.Seq

	s.send(Frame{Type: TypeView, Seq: seq, Payload: ViewPayload{View: view, ChatID: chatID}})

	for _, key := range viewListeners[view] {
		if err := s.listeners.Attach(key, s.factory(key, seq)); err != nil {
			s.logger.Error().Err(err).Str("view", string(view)).Msg("Failed to attach listener")
			s.listeners.DetachAll()
			return errs.NewError(errs.ErrUnknown, err)
		}
	}

	s.logger.Debug().Str("view", string(view)).Uint64("seq", seq).Int("listeners", s.listeners.Len()).Msg("View rendered")
	return nil
}

// factory opens the stream for key. Called with s.mu held.
func (s *Session) factory(key string, seq uint64) listener.Factory {
	st := s.deps.Store
	uid := s.state.User.ID
	chatID := s.state.ChatID

	return func() (listener.Unsubscribe, error) {
		switch key {
		case KeySelf:
			return st.WatchUser(uid, s.onSelf(seq))
		case KeyChats:
			return st.WatchChatsForUser(uid, deliver[[]store.Chat](s, KeyChats, seq))
		case KeyMessages:
			return st.WatchMessages(chatID, deliver[[]store.Message](s, KeyMessages, seq))
		case KeyUsers:
			return st.WatchUsers(s.onUsers(seq))
		case KeyReports:
			return st.WatchReports(s.onReports(seq))
		default:
			return nil, errors.New("unknown listener key " + key)
		}
	}
}

// deliver returns a snapshot callback bound to the view sequence seq.
func deliver[T any](s *Session, key string, seq uint64) func(T) {
	return func(snapshot T) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.current(seq) {
			s.logger.Debug().Str("key", key).Uint64("seq", seq).Msg("Dropped stale snapshot")
			return
		}
		s.send(Frame{Type: TypeSnapshot, Key: key, Seq: seq, Payload: snapshot})
	}
}

// onSelf tracks the signed-in profile. A ban observed here ends the session.
func (s *Session) onSelf(seq uint64) func(store.User) {
	return func(u store.User) {
		s.mu.Lock()
		if !s.current(seq) {
			s.mu.Unlock()
			return
		}
		s.state.User = u
		if !u.Banned {
			s.send(Frame{Type: TypeSnapshot, Key: KeySelf, Seq: seq, Payload: u})
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info().Msg("User banned while connected, signing out")
		s.send(errorFrame("", errs.NewError(errs.ErrAccountBanned)))
		s.signOut(CloseCodeBanned, "account banned")
	}
}

// current reports whether seq still names the mounted view. Requires s.mu.
func (s *Session) current(seq uint64) bool {
	return !s.closed && s.state.Seq == seq
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// signOut drains every listener, tells the shell and closes the connection.
func (s *Session) signOut(code int, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.listeners.DetachAll()
	seq := s.state.Seq + 1
	s.state = AppState{View: ViewSignedOut, Seq: seq}
	s.closed = true
	s.mu.Unlock()

	s.send(Frame{Type: TypeSignedOut, Seq: seq, Payload: ViewPayload{View: ViewSignedOut}})
	s.out.Close(code, reason)
	s.logger.Info().Str("reason", reason).Msg("Session signed out")
}

func (s *Session) send(f Frame) {
	if err := s.out.Send(f); err != nil && !errors.Is(err, ErrClientClosed) {
		s.logger.Warn().Err(err).Str("frame_type", f.Type).Msg("Frame not delivered")
	}
}

func (s *Session) ack(requestID string, payload any) {
	s.send(Frame{Type: TypeAck, RequestID: requestID, Payload: payload})
}

// me returns the signed-in profile, or ErrUnauthorized when there is none.
func (s *Session) me() (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.User.ID == "" {
		return AppState{}, errs.NewError(errs.ErrUnauthorized)
	}
	return s.state, nil
}

// ---- user frames ----

func (s *Session) navigate(ctx context.Context, in Inbound) error {
	var p navigatePayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}
	if !navigable(p.View) {
		return errs.NewError(errs.ErrInvalidParams)
	}

	st, err := s.me()
	if err != nil {
		return err
	}

	chatID := ""
	if p.View == ViewChat {
		c, err := s.deps.Store.GetChat(ctx, p.ChatID)
		if err != nil {
			return storeError(err, errs.ErrChatNotFound)
		}
		if !c.HasParticipant(st.User.ID) {
			return errs.NewError(errs.ErrNotChatMember)
		}
		chatID = c.ID
	}

	if err := s.transition(p.View, chatID); err != nil {
		return err
	}
	s.ack(in.RequestID, nil)
	return nil
}

func (s *Session) setupProfile(ctx context.Context, in Inbound) error {
	var p setupProfilePayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}

	name := sanitize.DisplayName(p.DisplayName)
	if name == "" {
		return errs.NewError(errs.ErrDisplayNameEmpty)
	}
	pronouns := sanitize.Text(p.Pronouns)
	if pronouns == "" {
		pronouns = store.DefaultPronouns
	}
	avatar := store.PlaceholderAvatar(name)

	st, err := s.me()
	if err != nil {
		return err
	}

	u, err := s.deps.Store.UpdateProfile(ctx, st.User.ID, store.ProfileUpdate{
		DisplayName: &name,
		Pronouns:    &pronouns,
		AvatarURL:   &avatar,
	})
	if err != nil {
		return storeError(err, errs.ErrUserNotFound)
	}

	s.mu.Lock()
	s.state.User = *u
	s.mu.Unlock()

	if err := s.transition(ViewChats, ""); err != nil {
		return err
	}
	s.ack(in.RequestID, u)
	return nil
}

func (s *Session) updateProfile(ctx context.Context, in Inbound) error {
	var p updateProfilePayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}

	var update store.ProfileUpdate
	if p.DisplayName != nil {
		name := sanitize.DisplayName(*p.DisplayName)
		if name == "" {
			return errs.NewError(errs.ErrDisplayNameEmpty)
		}
		update.DisplayName = &name
	}
	if p.Pronouns != nil {
		pronouns := sanitize.Text(*p.Pronouns)
		if pronouns == "" {
			pronouns = store.DefaultPronouns
		}
		update.Pronouns = &pronouns
	}
	if p.AvatarURL != nil {
		if !isHTTPURL(*p.AvatarURL) {
			return errs.NewError(errs.ErrInvalidParams)
		}
		update.AvatarURL = p.AvatarURL
	}

	st, err := s.me()
	if err != nil {
		return err
	}

	u, err := s.deps.Store.UpdateProfile(ctx, st.User.ID, update)
	if err != nil {
		return storeError(err, errs.ErrUserNotFound)
	}
	s.ack(in.RequestID, u)
	return nil
}

func (s *Session) createChat(ctx context.Context, in Inbound) error {
	var p createChatPayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}

	name := sanitize.Text(p.Name)
	if name == "" {
		return errs.NewError(errs.ErrChatNameEmpty)
	}
	if utf8.RuneCountInString(name) > maxChatNameRunes {
		name = string([]rune(name)[:maxChatNameRunes])
	}

	st, err := s.me()
	if err != nil {
		return err
	}

	c, err := s.deps.Store.CreateChat(ctx, name, st.User.ID)
	if err != nil {
		return storeError(err, errs.ErrUnknown)
	}
	s.logger.Info().Str("chat_id", c.ID).Msg("Chat created")
	s.ack(in.RequestID, c)
	return nil
}

func (s *Session) joinChat(ctx context.Context, in Inbound) error {
	var p joinChatPayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}

	code := randx.NormalizeInviteCode(p.InviteCode)
	if !randx.IsValidInviteCode(code) {
		return errs.NewError(errs.ErrInviteCodeInvalid)
	}

	st, err := s.me()
	if err != nil {
		return err
	}

	c, err := s.deps.Store.JoinChat(ctx, code, st.User.ID)
	if err != nil {
		return storeError(err, errs.ErrInviteCodeUnknown)
	}
	s.ack(in.RequestID, c)
	return nil
}

func (s *Session) sendMessage(ctx context.Context, in Inbound) error {
	var p sendMessagePayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}

	text := sanitize.Text(p.Text)
	if text == "" {
		return errs.NewError(errs.ErrMessageEmpty)
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}

	return s.post(ctx, in.RequestID, text, "")
}

func (s *Session) sendImage(ctx context.Context, in Inbound) error {
	var p sendImagePayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}
	if !isHTTPURL(p.ImageURL) {
		return errs.NewError(errs.ErrInvalidParams)
	}
	return s.post(ctx, in.RequestID, "", p.ImageURL)
}

// post appends a message to the open chat.
func (s *Session) post(ctx context.Context, requestID, text, imageURL string) error {
	st, err := s.me()
	if err != nil {
		return err
	}
	if st.View != ViewChat || st.ChatID == "" {
		return errs.NewError(errs.ErrNotChatMember)
	}

	m, err := s.deps.Store.SendMessage(ctx, st.ChatID, st.User, text, imageURL)
	if err != nil {
		return storeError(err, errs.ErrChatNotFound)
	}
	s.ack(requestID, m)
	return nil
}

func (s *Session) requestUpload(ctx context.Context, in Inbound) error {
	var p requestUploadPayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}
	if cerr := storage.ValidateImage(p.FileName, p.MimeType, p.Size); cerr != nil {
		return cerr
	}
	if _, err := s.me(); err != nil {
		return err
	}

	up, err := s.deps.Uploads.UploadURL(ctx, storage.UploadRequest{MimeType: p.MimeType, Size: p.Size})
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return errs.NewError(errs.ErrServerConfigMissing)
		}
		return errs.NewError(errs.ErrUploadProviderFailed, err)
	}
	s.ack(in.RequestID, up)
	return nil
}

func (s *Session) reportUser(ctx context.Context, in Inbound) error {
	var p reportUserPayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}
	if p.UserID == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}

	reason := sanitize.Text(p.Reason)
	if reason == "" {
		return errs.NewError(errs.ErrReportReasonEmpty)
	}
	if utf8.RuneCountInString(reason) > maxReasonRunes {
		reason = string([]rune(reason)[:maxReasonRunes])
	}

	st, err := s.me()
	if err != nil {
		return err
	}
	if p.UserID == st.User.ID {
		return errs.NewError(errs.ErrSelfReport)
	}

	r, err := s.deps.Store.ReportUser(ctx, store.Report{
		ReportedUserID: p.UserID,
		ReporterID:     st.User.ID,
		Reason:         reason,
		ChatID:         p.ChatID,
	})
	if err != nil {
		return storeError(err, errs.ErrUserNotFound)
	}
	s.logger.Info().Str("report_id", r.ID).Str("reported_user_id", r.ReportedUserID).Msg("User reported")
	s.ack(in.RequestID, r)
	return nil
}

// storeError maps store sentinels to application errors. notFound is the code used
// for store.ErrNotFound, which depends on what was being looked up.
func storeError(err error, notFound int) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.NewError(notFound)
	case errors.Is(err, store.ErrInviteNotFound):
		return errs.NewError(errs.ErrInviteCodeUnknown)
	case errors.Is(err, store.ErrNotMember):
		return errs.NewError(errs.ErrNotChatMember)
	default:
		return errs.NewError(errs.ErrUnknown, err)
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
