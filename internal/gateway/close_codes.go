package gateway

import "errors"

// Custom WebSocket close codes used by the gateway. Standard codes (1000, 1001) are defined by RFC 6455; the 4000
// range is reserved for application use.
const (
	CloseUnknownError     = 4000
	CloseNotAuthenticated = 4003
	CloseAuthFailed       = 4004
	CloseRateLimited      = 4008
	CloseSessionTimedOut  = 4009
	CloseServerShutdown   = 4010
)

// Error codes carried in the "code" field of error frames. Clients branch on these; the message is for humans.
const (
	CodeInvalidFrame  = "InvalidFrame"
	CodeAuthFailure   = "AuthFailure"
	CodeForbidden     = "Forbidden"
	CodeNotFound      = "NotFound"
	CodeFullChannel   = "FullChannel"
	CodeAlreadyMember = "AlreadyMember"
	CodeInternalError = "InternalError"
)

// ErrResumeNotFound is returned by the resume store when a token is unknown, expired, already claimed, or bound to
// another username. The cases are deliberately indistinguishable to the client.
var ErrResumeNotFound = errors.New("resume record not found or expired")
