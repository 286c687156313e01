package netguard

// BlockedError reports that a hostname or IP address was refused by the
// guard, either because it resolves to private/reserved space or because
// it matches a denylisted hostname.
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string { return e.Message }

// NewBlockedError builds a BlockedError with the given message.
func NewBlockedError(message string) *BlockedError {
	return &BlockedError{Message: message}
}
