package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOpcode      = errors.New("invalid opcode")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidQuestion    = errors.New("invalid question")
)

// ExchangeError wraps a failure returned by the exchanger.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange failed: %s", e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
