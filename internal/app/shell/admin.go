package shell

import (
	"context"

	"dospill/internal/app/store"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/req"
)

// AdminUserID names the pseudo-profile an admin session runs under.
const AdminUserID = "admin"

// UsersSnapshot is the dashboard's user table.
type UsersSnapshot struct {
	Users  []store.User `json:"users"`
	Total  int          `json:"total"`
	Banned int          `json:"banned"`
}

// ReportsSnapshot is the dashboard's open report queue.
type ReportsSnapshot struct {
	Reports []store.Report `json:"reports"`
	Total   int            `json:"total"`
}

func (s *Session) startAdmin() error {
	name := s.identity.DisplayName
	if name == "" {
		name = "Admin"
	}

	s.mu.Lock()
	s.state.User = store.User{ID: AdminUserID, DisplayName: name}
	s.mu.Unlock()

	s.logger.Info().Msg("Admin dashboard opened")
	return s.transition(ViewDashboard, "")
}

func (s *Session) handleAdmin(ctx context.Context, in Inbound) error {
	switch in.Type {
	case TypeBanUser:
		return s.setBanned(ctx, in, true)
	case TypeUnbanUser:
		return s.setBanned(ctx, in, false)
	case TypeDismissReport:
		return s.dismissReport(ctx, in)
	case TypeSignOut:
		s.signOut(CloseCodeSignedOut, "signed out")
		return nil
	default:
		return errs.NewError(errs.ErrInvalidParams)
	}
}

func (s *Session) setBanned(ctx context.Context, in Inbound, banned bool) error {
	var p userTargetPayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}
	if p.UserID == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}

	u, err := s.deps.Store.SetBanned(ctx, p.UserID, banned)
	if err != nil {
		return storeError(err, errs.ErrUserNotFound)
	}
	s.ack(in.RequestID, u)
	return nil
}

func (s *Session) dismissReport(ctx context.Context, in Inbound) error {
	var p reportTargetPayload
	if cerr := req.DecodeFrame(in.Payload, &p); cerr != nil {
		return cerr
	}
	if p.ReportID == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if err := s.deps.Store.DismissReport(ctx, p.ReportID); err != nil {
		return storeError(err, errs.ErrReportNotFound)
	}
	s.ack(in.RequestID, nil)
	return nil
}

func (s *Session) onUsers(seq uint64) func([]store.User) {
	send := deliver[UsersSnapshot](s, KeyUsers, seq)
	return func(users []store.User) {
		snap := UsersSnapshot{Users: users, Total: len(users)}
		for _, u := range users {
			if u.Banned {
				snap.Banned++
			}
		}
		send(snap)
	}
}

func (s *Session) onReports(seq uint64) func([]store.Report) {
	send := deliver[ReportsSnapshot](s, KeyReports, seq)
	return func(reports []store.Report) {
		send(ReportsSnapshot{Reports: reports, Total: len(reports)})
	}
}
