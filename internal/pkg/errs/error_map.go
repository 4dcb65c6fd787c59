package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and Content Business Logic Errors
	ErrChatKindInvalid:       {Code: ErrChatKindInvalid, Message: "Invalid chat type."},
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Chat room not found."},
	ErrRoomIsFull:            {Code: ErrRoomIsFull, Message: "This chat room is full."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},

	// 3xxx: User, Session, and Security Errors
	ErrSessionKicked:    {Code: ErrSessionKicked, Message: "You were signed in on another device."},
	ErrUnauthorized:     {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrRoomAccessDenied: {Code: ErrRoomAccessDenied, Message: "Room access token is invalid or expired.", Status: http.StatusForbidden},

	// 4xxx: Chat Authorization Errors
	ErrAuthorizationDenied:   {Code: ErrAuthorizationDenied, Message: "Not allowed to enter this chat: %s"},
	ErrAuthorizationTimeout:  {Code: ErrAuthorizationTimeout, Message: "Chat authorization timed out. Please try again.", Status: http.StatusGatewayTimeout},
	ErrAuthorizationNotFound: {Code: ErrAuthorizationNotFound, Message: "No pending authorization for this id.", Status: http.StatusNotFound},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrServiceUnavailable: {Code: ErrServiceUnavailable, Message: "Chat service is temporarily unavailable. Please try again.", Status: http.StatusServiceUnavailable},
}
