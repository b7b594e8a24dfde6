package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors for control-channel protocol handling. These enable
// callers to programmatically distinguish failure modes using errors.Is.
var (
	ErrMessageTooLarge = errors.New("wire: declared message length exceeds maximum")
	ErrUnknownType     = errors.New("wire: unknown message type")
)

// ProtocolError indicates the peer violated the control wire protocol.
// A control channel that observes one must close the connection; the
// violation is terminal for that peer only.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: protocol violation: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("wire: protocol violation: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
