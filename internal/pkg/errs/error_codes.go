/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body exceeded the allowed size.
	ErrRequestEntityTooLarge = 1005

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Content Business Logic Errors
const (
	// ErrChatKindInvalid indicates that the chat kind is neither WATCH nor MATCH.
	ErrChatKindInvalid = 2101

	// ErrRoomNotFound indicates that the room being joined does not exist.
	ErrRoomNotFound = 2103

	// ErrRoomIsFull indicates that the room being joined has reached its maximum user capacity.
	ErrRoomIsFull = 2104

	// ErrMessageContentTooLong indicates that the user's message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrSessionKicked indicates that the current client connection has been terminated.
	ErrSessionKicked = 3004

	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = 3010

	// ErrRoomAccessDenied indicates a missing or invalid room access token.
	ErrRoomAccessDenied = 3011
)

// 4xxx: Chat Authorization Errors
const (
	// ErrAuthorizationDenied indicates the decision engine answered "no". The message carries the reason.
	ErrAuthorizationDenied = 4001

	// ErrAuthorizationTimeout indicates no answer arrived within the poll window. The caller may retry
	// with a new request.
	ErrAuthorizationTimeout = 4002

	// ErrAuthorizationNotFound indicates that no result is pending for the correlation id.
	ErrAuthorizationNotFound = 4003
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrServiceUnavailable indicates a bus or store failure. The request is safe to retry.
	ErrServiceUnavailable = 5003
)
