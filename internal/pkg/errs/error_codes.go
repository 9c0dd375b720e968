/*
Package errs provides the application error type and its code table.

Codes identify a failure both in logs and on the wire, so clients can react to a
specific condition (for example a banned account) without parsing messages.
*/
package errs

// 1xxx: request handling
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates a Content-Type the endpoint does not accept.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates a syntactically invalid JSON body.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing data after the JSON document.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates the caller exceeded the per-IP request budget.
	ErrRateLimitExceeded = 1007

	// ErrMethodNotAllowed indicates the route exists but not for this HTTP method.
	ErrMethodNotAllowed = 1008
)

// 2xxx: chats and content
const (
	// ErrChatNotFound indicates the referenced chat does not exist.
	ErrChatNotFound = 2103

	// ErrInviteCodeInvalid indicates a malformed invite code (must be 6 alphanumeric characters).
	ErrInviteCodeInvalid = 2104

	// ErrInviteCodeUnknown indicates a well-formed invite code that matches no chat.
	ErrInviteCodeUnknown = 2105

	// ErrChatNameEmpty indicates a chat was created without a usable name.
	ErrChatNameEmpty = 2106

	// ErrNotChatMember indicates the caller tried to act on a chat they do not belong to.
	ErrNotChatMember = 2107

	// ErrMessageContentTooLong indicates the message body exceeded the length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates a message without text or image.
	ErrMessageEmpty = 2202
)

// 3xxx: identity, profile and moderation
const (
	// ErrUnauthorized indicates missing or invalid identity.
	ErrUnauthorized = 3001

	// ErrInvalidCredentials indicates an admin credential mismatch.
	ErrInvalidCredentials = 3002

	// ErrAccountBanned indicates the signed-in account is banned.
	ErrAccountBanned = 3003

	// ErrDisplayNameEmpty indicates an empty display name after trimming.
	ErrDisplayNameEmpty = 3004

	// ErrUserNotFound indicates the referenced user document does not exist.
	ErrUserNotFound = 3005

	// ErrReportNotFound indicates the referenced report does not exist (or was dismissed).
	ErrReportNotFound = 3006

	// ErrReportReasonEmpty indicates a report without a reason.
	ErrReportReasonEmpty = 3007

	// ErrSelfReport indicates a user reporting themselves.
	ErrSelfReport = 3008
)

// 4xxx: uploads and server configuration
const (
	// ErrNotAnImage indicates an upload whose name or MIME type is not an allowed image type.
	ErrNotAnImage = 4001

	// ErrFileSizeTooLarge indicates an upload above the size limit.
	ErrFileSizeTooLarge = 4002

	// ErrUploadProviderFailed indicates the object-storage exchange failed.
	ErrUploadProviderFailed = 4003

	// ErrServerConfigMissing indicates required server-side configuration is unset.
	ErrServerConfigMissing = 4004

	// ErrCacheVersionActive indicates a deploy of the cache version already in charge.
	ErrCacheVersionActive = 4005

	// ErrCacheInstallFailed indicates a cache generation could not be installed.
	ErrCacheInstallFailed = 4006
)

// 5xxx: internal
const (
	// ErrUnknown represents an unclassified internal error.
	ErrUnknown = 5000
)
