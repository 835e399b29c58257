// internal/txstate/events.go
package txstate

import (
	"fmt"
	"time"

	"github.com/javajoker/datamarket-backend/internal/models"
)

// Event drives a transaction from one state to the next.
type Event interface {
	Name() string
}

type mutator interface {
	apply(tx *models.Transaction, now time.Time)
}

// globalMutator events are accepted in every non-terminal state. applyGlobal
// reports whether the event was handled.
type globalMutator interface {
	applyGlobal(m *Machine, tx *models.Transaction, now time.Time) bool
}

type Proceed struct{}

func (Proceed) Name() string                                 { return "proceed" }
func (Proceed) apply(tx *models.Transaction, now time.Time) {}

type RequestSignature struct{}

func (RequestSignature) Name() string                                 { return "request_signature" }
func (RequestSignature) apply(tx *models.Transaction, now time.Time) {}

type Signed struct{}

func (Signed) Name() string { return "signed" }

func (Signed) apply(tx *models.Transaction, now time.Time) {
	markSubmitted(tx, now)
}

type SignatureRejected struct {
	Message string
}

func (SignatureRejected) Name() string { return "signature_rejected" }

func (evt SignatureRejected) apply(tx *models.Transaction, now time.Time) {
	markFailed(tx, CodeUserRejected, evt.Message, now)
}

type BroadcastAccepted struct {
	Hash string
	// Shared is set when the on-chain call carries more than one row; the
	// hash then lands in call_hash only and tx_hash stays empty.
	Shared bool
}

func (BroadcastAccepted) Name() string { return "broadcast_accepted" }

func (evt BroadcastAccepted) apply(tx *models.Transaction, now time.Time) {
	markSubmitted(tx, now)
	hash := evt.Hash
	tx.CallHash = &hash
	if !evt.Shared {
		own := evt.Hash
		tx.TxHash = &own
	}
}

type BroadcastRejected struct {
	Code    string
	Message string
}

func (BroadcastRejected) Name() string { return "broadcast_rejected" }

func (evt BroadcastRejected) apply(tx *models.Transaction, now time.Time) {
	code := evt.Code
	if code == "" {
		code = CodeBroadcastRejected
	}
	markFailed(tx, code, evt.Message, now)
}

type Included struct {
	BlockNumber uint64
	GasUsed     uint64
	GasPrice    string
	ExplorerURL string
}

func (Included) Name() string { return "included" }

func (evt Included) apply(tx *models.Transaction, now time.Time) {
	block, gas := evt.BlockNumber, evt.GasUsed
	tx.BlockNumber = &block
	tx.GasUsed = &gas
	tx.GasPrice = evt.GasPrice
	tx.ExplorerURL = evt.ExplorerURL
	tx.ConfirmedAt = &now
	tx.ErrorCode = ""
	tx.ErrorMessage = ""
}

type Reverted struct {
	Message string
}

func (Reverted) Name() string { return "reverted" }

func (evt Reverted) apply(tx *models.Transaction, now time.Time) {
	markFailed(tx, CodeReverted, evt.Message, now)
}

type TimedOut struct {
	Message string
}

func (TimedOut) Name() string { return "timed_out" }

func (evt TimedOut) apply(tx *models.Transaction, now time.Time) {
	markFailed(tx, CodeConfirmationTimeout, evt.Message, now)
}

// TransientError records a retryable rejection. The row stays where it is
// until the retry budget is exhausted.
type TransientError struct {
	Code    string
	Message string
}

func (TransientError) Name() string { return "transient_error" }

func (evt TransientError) applyGlobal(m *Machine, tx *models.Transaction, now time.Time) bool {
	tx.RetryCount++
	code := evt.Code
	if code == "" {
		code = CodeNetworkError
	}
	if tx.RetryCount > m.maxRetries {
		msg := fmt.Sprintf("retry budget exhausted after %d attempts", tx.RetryCount)
		if evt.Message != "" {
			msg += ": " + evt.Message
		}
		markFailed(tx, code, msg, now)
		return true
	}
	tx.ErrorCode = code
	tx.ErrorMessage = evt.Message
	return true
}

// Fail moves any non-terminal row to failed.
type Fail struct {
	Code    string
	Message string
}

func (Fail) Name() string { return "fail" }

func (evt Fail) applyGlobal(m *Machine, tx *models.Transaction, now time.Time) bool {
	code := evt.Code
	if code == "" {
		code = CodeInternal
	}
	markFailed(tx, code, evt.Message, now)
	return true
}

// Observed reports whether evt can only come from watching the chain. Such
// events are never accepted from clients.
func Observed(evt Event) bool {
	switch evt.(type) {
	case Included, Reverted, TimedOut:
		return true
	}
	return false
}

func markSubmitted(tx *models.Transaction, now time.Time) {
	if tx.SubmittedAt == nil {
		tx.SubmittedAt = &now
	}
}

func markFailed(tx *models.Transaction, code, message string, now time.Time) {
	if message == "" {
		message = DefaultMessage(code)
	}
	tx.State = models.TransactionStateFailed
	tx.ErrorCode = code
	tx.ErrorMessage = message
	tx.FailedAt = &now
}

// EventSpec is the wire form of an event, as posted by clients that drive the
// wallet side of a transaction. It parses every event; callers gate the
// Observed ones.
type EventSpec struct {
	Type        string `json:"type" validate:"required"`
	Hash        string `json:"hash,omitempty"`
	Shared      bool   `json:"shared,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	GasPrice    string `json:"gas_price,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

func (s EventSpec) Event() (Event, error) {
	switch s.Type {
	case "proceed":
		return Proceed{}, nil
	case "request_signature":
		return RequestSignature{}, nil
	case "signed":
		return Signed{}, nil
	case "signature_rejected":
		return SignatureRejected{Message: s.Message}, nil
	case "broadcast_accepted":
		if s.Hash == "" {
			return nil, fmt.Errorf("broadcast_accepted requires a hash")
		}
		return BroadcastAccepted{Hash: s.Hash, Shared: s.Shared}, nil
	case "broadcast_rejected":
		return BroadcastRejected{Code: s.Code, Message: s.Message}, nil
	case "included":
		return Included{BlockNumber: s.BlockNumber, GasUsed: s.GasUsed, GasPrice: s.GasPrice, ExplorerURL: s.ExplorerURL}, nil
	case "reverted":
		return Reverted{Message: s.Message}, nil
	case "timed_out":
		return TimedOut{Message: s.Message}, nil
	case "transient_error":
		return TransientError{Code: s.Code, Message: s.Message}, nil
	case "fail":
		return Fail{Code: s.Code, Message: s.Message}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", s.Type)
}
