package errs

import "net/http"

// errorMap holds the user-facing message and HTTP status for every code.
// A zero Status means the error travels inside a 200 envelope.
var errorMap = map[int]CustomError{
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrMethodNotAllowed:     {Code: ErrMethodNotAllowed, Message: "Method Not Allowed", Status: http.StatusMethodNotAllowed},

	ErrChatNotFound:          {Code: ErrChatNotFound, Message: "Chat not found.", Status: http.StatusNotFound},
	ErrInviteCodeInvalid:     {Code: ErrInviteCodeInvalid, Message: "Enter the 6-character invite code."},
	ErrInviteCodeUnknown:     {Code: ErrInviteCodeUnknown, Message: "Invalid invite code."},
	ErrChatNameEmpty:         {Code: ErrChatNameEmpty, Message: "Give your new group a name."},
	ErrNotChatMember:         {Code: ErrNotChatMember, Message: "You are not a member of this chat.", Status: http.StatusForbidden},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageEmpty:          {Code: ErrMessageEmpty, Message: "Message is empty."},

	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Invalid credentials", Status: http.StatusUnauthorized},
	ErrAccountBanned:      {Code: ErrAccountBanned, Message: "Your account has been banned.", Status: http.StatusForbidden},
	ErrDisplayNameEmpty:   {Code: ErrDisplayNameEmpty, Message: "Please enter a display name."},
	ErrUserNotFound:       {Code: ErrUserNotFound, Message: "User not found.", Status: http.StatusNotFound},
	ErrReportNotFound:     {Code: ErrReportNotFound, Message: "Report not found.", Status: http.StatusNotFound},
	ErrReportReasonEmpty:  {Code: ErrReportReasonEmpty, Message: "Please describe the problem."},
	ErrSelfReport:         {Code: ErrSelfReport, Message: "You cannot report yourself."},

	ErrNotAnImage:           {Code: ErrNotAnImage, Message: "Only image files can be uploaded."},
	ErrFileSizeTooLarge:     {Code: ErrFileSizeTooLarge, Message: "File is too large."},
	ErrUploadProviderFailed: {Code: ErrUploadProviderFailed, Message: "Error getting upload URL", Status: http.StatusInternalServerError},
	ErrServerConfigMissing:  {Code: ErrServerConfigMissing, Message: "Server configuration error.", Status: http.StatusInternalServerError},
	ErrCacheVersionActive:   {Code: ErrCacheVersionActive, Message: "That cache version is already active.", Status: http.StatusConflict},
	ErrCacheInstallFailed:   {Code: ErrCacheInstallFailed, Message: "Cache version could not be installed.", Status: http.StatusInternalServerError},

	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
