package shell

import (
	"encoding/json"

	"dospill/internal/pkg/errs"
)

// Inbound frame types sent by the UI shell.
const (
	TypeNavigate      = "navigate"
	TypeSetupProfile  = "setup_profile"
	TypeUpdateProfile = "update_profile"
	TypeCreateChat    = "create_chat"
	TypeJoinChat      = "join_chat"
	TypeSendMessage   = "send_message"
	TypeRequestUpload = "request_upload"
	TypeSendImage     = "send_image"
	TypeReportUser    = "report_user"
	TypeSignOut       = "sign_out"
)

// Inbound frame types sent by the admin shell.
const (
	TypeBanUser       = "ban_user"
	TypeUnbanUser     = "unban_user"
	TypeDismissReport = "dismiss_report"
)

// Outbound frame types.
const (
	TypeView      = "view"
	TypeSnapshot  = "snapshot"
	TypeAck       = "ack"
	TypeError     = "error"
	TypeSignedOut = "signed_out"
)

// Inbound is a frame received from a shell.
type Inbound struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Frame is a frame sent to a shell. Seq is the view sequence a view or snapshot
// frame belongs to, so a client can drop anything older than its current view.
type Frame struct {
	Type      string `json:"type"`
	Key       string `json:"key,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ViewPayload is the body of a view frame.
type ViewPayload struct {
	View   View   `json:"view"`
	ChatID string `json:"chatId,omitempty"`
}

// Outbox receives frames for one connection.
type Outbox interface {
	Send(f Frame) error
	Close(code int, reason string)
}

func errorFrame(requestID string, err error) Frame {
	ce := errs.As(err)
	return Frame{
		Type:      TypeError,
		RequestID: requestID,
		Payload:   ErrorPayload{Code: ce.Code, Message: ce.Message},
	}
}

// Inbound payloads.

type navigatePayload struct {
	View   View   `json:"view"`
	ChatID string `json:"chatId,omitempty"`
}

type setupProfilePayload struct {
	DisplayName string `json:"displayName"`
	Pronouns    string `json:"pronouns,omitempty"`
}

type updateProfilePayload struct {
	DisplayName *string `json:"displayName,omitempty"`
	Pronouns    *string `json:"pronouns,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

type createChatPayload struct {
	Name string `json:"name"`
}

type joinChatPayload struct {
	InviteCode string `json:"inviteCode"`
}

type sendMessagePayload struct {
	Text string `json:"text"`
}

type requestUploadPayload struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type sendImagePayload struct {
	ImageURL string `json:"imageUrl"`
}

type reportUserPayload struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
	ChatID string `json:"chatId,omitempty"`
}

type userTargetPayload struct {
	UserID string `json:"userId"`
}

type reportTargetPayload struct {
	ReportID string `json:"reportId"`
}
