// internal/chain/classify.go
package chain

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/javajoker/datamarket-backend/internal/txstate"
)

type rule struct {
	needle    string
	code      string
	transient bool
}

// Node error strings, matched case-insensitively in order.
var rules = []rule{
	{"insufficient funds", txstate.CodeInsufficientFunds, false},
	{"user rejected", txstate.CodeUserRejected, false},
	{"user denied", txstate.CodeUserRejected, false},
	{"invalid chain id", txstate.CodeChainMismatch, false},
	{"invalid sender", txstate.CodeChainMismatch, false},
	{"execution reverted", txstate.CodeReverted, false},
	{"nonce too low", txstate.CodeNonceTooLow, true},
	{"underpriced", txstate.CodeUnderpriced, true},
	{"fee too low", txstate.CodeUnderpriced, true},
	{"max fee per gas less than block base fee", txstate.CodeUnderpriced, true},
	{"too many requests", txstate.CodeNetworkError, true},
	{"connection refused", txstate.CodeNetworkError, true},
	{"connection reset", txstate.CodeNetworkError, true},
	{"timeout", txstate.CodeNetworkError, true},
	{"eof", txstate.CodeNetworkError, true},
	{"502 bad gateway", txstate.CodeNetworkError, true},
	{"503 service unavailable", txstate.CodeNetworkError, true},
}

// ambiguous marks send failures after which the node may already hold the
// transaction.
var ambiguous = []string{"timeout", "eof", "connection reset", "broken pipe", "502 bad gateway", "503 service unavailable"}

// AlreadyKnown reports whether the node refused a transaction because it
// already has it.
func AlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "already imported")
}

// Ambiguous reports whether a send failed in a way that leaves open whether
// the node accepted the transaction.
func Ambiguous(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range ambiguous {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && !strings.Contains(msg, "connection refused")
}

// Classify maps an RPC error onto a ledger error code.
func Classify(err error) *txstate.ChainError {
	if err == nil {
		return nil
	}

	var ce *txstate.ChainError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &txstate.ChainError{Code: txstate.CodeNetworkError, Transient: true, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if strings.Contains(msg, r.needle) {
			return &txstate.ChainError{Code: r.code, Transient: r.transient, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &txstate.ChainError{Code: txstate.CodeNetworkError, Transient: true, Err: err}
	}

	return &txstate.ChainError{Code: txstate.CodeBroadcastRejected, Err: err}
}
