// internal/txstate/errors.go
package txstate

import (
	"errors"
	"fmt"
)

var (
	ErrTerminal          = errors.New("transaction is in a terminal state")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Error codes recorded on failed rows.
const (
	CodeUserRejected        = "userRejectedRequest"
	CodeInsufficientFunds   = "insufficientFunds"
	CodeChainMismatch       = "chainMismatch"
	CodeReverted            = "transactionReverted"
	CodeConfirmationTimeout = "confirmationTimeout"
	CodeBroadcastRejected   = "broadcastRejected"
	CodeNonceTooLow         = "nonceTooLow"
	CodeUnderpriced         = "underpriced"
	CodeNetworkError        = "networkError"
	CodeInternal            = "internalError"
)

var defaultMessages = map[string]string{
	CodeUserRejected:        "the signature request was rejected in the wallet",
	CodeInsufficientFunds:   "insufficient funds to cover the payment and gas",
	CodeChainMismatch:       "the wallet is connected to the wrong network",
	CodeReverted:            "the transaction was reverted on chain",
	CodeConfirmationTimeout: "the transaction was not confirmed in time",
	CodeBroadcastRejected:   "the transaction was rejected by the node",
	CodeNonceTooLow:         "nonce too low",
	CodeUnderpriced:         "gas price too low",
	CodeNetworkError:        "the chain node could not be reached",
	CodeInternal:            "the transaction failed",
}

func DefaultMessage(code string) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return defaultMessages[CodeInternal]
}

// ChainError is an error from the external chain carrying the code recorded
// on the ledger and whether a retry may succeed.
type ChainError struct {
	Code      string
	Transient bool
	Err       error
}

func (e *ChainError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// Message is the human readable text stored on the row.
func (e *ChainError) Message() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return DefaultMessage(e.Code)
}

// AsChainError unwraps err into a ChainError. Errors that are not chain
// errors are reported as non-transient internal failures.
func AsChainError(err error) *ChainError {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce
	}
	return &ChainError{Code: CodeInternal, Err: err}
}

// Event converts a chain error into the event that records it.
func (e *ChainError) Event() Event {
	if e.Transient {
		return TransientError{Code: e.Code, Message: e.Message()}
	}
	return Fail{Code: e.Code, Message: e.Message()}
}
