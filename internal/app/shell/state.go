package shell

import "dospill/internal/app/store"

// View names a top-level screen.
type View string

const (
	ViewSignedOut    View = "signed-out"
	ViewProfileSetup View = "profile-setup"
	ViewChats        View = "chats"
	ViewChat         View = "chat"
	ViewProfile      View = "profile"
	ViewDashboard    View = "dashboard"
)

// Listener keys. A view attaches at most one subscription per key.
const (
	KeySelf     = "self"
	KeyChats    = "chats"
	KeyMessages = "messages"
	KeyUsers    = "users"
	KeyReports  = "reports"
)

// viewListeners is the exact set of streams each view keeps open.
var viewListeners = map[View][]string{
	ViewSignedOut:    nil,
	ViewProfileSetup: {KeySelf},
	ViewChats:        {KeySelf, KeyChats},
	ViewChat:         {KeySelf, KeyMessages},
	ViewProfile:      {KeySelf},
	ViewDashboard:    {KeyUsers, KeyReports},
}

// ListenersFor returns the listener keys view keeps open.
func ListenersFor(v View) []string {
	return viewListeners[v]
}

// navigable reports whether a client may request v directly.
func navigable(v View) bool {
	switch v {
	case ViewChats, ViewChat, ViewProfile:
		return true
	}
	return false
}

// AppState is everything a session knows about its user interface.
// Seq increases on every view transition; snapshot callbacks compare against it.
type AppState struct {
	User   store.User
	View   View
	ChatID string
	Seq    uint64
}
