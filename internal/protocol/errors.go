package protocol

// ErrorCode classifies an ERROR reply.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeFull             ErrorCode = "FULL"
	CodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	CodeNotAuthorized    ErrorCode = "NOT_AUTHORIZED"
	CodeNotEnoughPlayers ErrorCode = "NOT_ENOUGH_PLAYERS"
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeInternal         ErrorCode = "INTERNAL"
)

// NewError builds an ERROR reply.
func NewError(code ErrorCode, message string) ErrorMessage {
	return ErrorMessage{Code: code, Message: message}
}
