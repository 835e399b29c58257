// internal/txstate/machine.go

// Package txstate holds the transaction lifecycle. Every state change of a
// ledger row goes through Machine.Apply.
package txstate

import (
	"fmt"
	"reflect"
	"time"

	"github.com/javajoker/datamarket-backend/internal/models"
)

type planner func(m *Machine, evt Event, tx *models.Transaction, now time.Time) error

var planners = map[models.TransactionState]planner{
	models.TransactionStateDraft:   planOne(on(Proceed{}, models.TransactionStatePending)),
	models.TransactionStatePending: planOne(on(RequestSignature{}, models.TransactionStateWaitingForWallet)),
	models.TransactionStateWaitingForWallet: planOne(
		on(Signed{}, models.TransactionStateSubmitting),
		on(SignatureRejected{}, models.TransactionStateFailed),
	),
	models.TransactionStateSubmitting: planOne(
		on(BroadcastAccepted{}, models.TransactionStateConfirming),
		on(BroadcastRejected{}, models.TransactionStateFailed),
	),
	models.TransactionStateConfirming: planOne(
		on(Included{}, models.TransactionStateConfirmed),
		on(Reverted{}, models.TransactionStateFailed),
		on(TimedOut{}, models.TransactionStateFailed),
	),
	models.TransactionStateConfirmed: final,
	models.TransactionStateFailed:    final,
}

type Machine struct {
	maxRetries int
}

// New returns a machine that fails a row once its retry count exceeds
// maxRetries.
func New(maxRetries int) *Machine {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Machine{maxRetries: maxRetries}
}

func (m *Machine) MaxRetries() int {
	return m.maxRetries
}

// Apply moves tx according to evt. The row is left untouched when the event
// is not allowed in its current state.
func (m *Machine) Apply(tx *models.Transaction, evt Event, now time.Time) error {
	state := tx.State
	if state == "" {
		state = models.TransactionStateDraft
		tx.State = state
	}

	p, ok := planners[state]
	if !ok {
		return fmt.Errorf("planner for state %q not found: %w", state, ErrInvalidTransition)
	}
	return p(m, evt, tx, now)
}

// Path returns the events that walk a fresh draft up to confirming.
func Path(hash string, shared bool) []Event {
	return []Event{
		Proceed{},
		RequestSignature{},
		Signed{},
		BroadcastAccepted{Hash: hash, Shared: shared},
	}
}

func final(m *Machine, evt Event, tx *models.Transaction, now time.Time) error {
	return fmt.Errorf("didn't expect %s in state %s: %w", evt.Name(), tx.State, ErrTerminal)
}

func on(mut mutator, next models.TransactionState) func() (mutator, models.TransactionState) {
	return func() (mutator, models.TransactionState) {
		return mut, next
	}
}

func planOne(ts ...func() (mut mutator, next models.TransactionState)) planner {
	return func(m *Machine, evt Event, tx *models.Transaction, now time.Time) error {
		if gm, ok := evt.(globalMutator); ok {
			if gm.applyGlobal(m, tx, now) {
				return nil
			}
		}

		for _, t := range ts {
			mut, next := t()

			if reflect.TypeOf(evt) != reflect.TypeOf(mut) {
				continue
			}

			evt.(mutator).apply(tx, now)
			tx.State = next
			return nil
		}

		return fmt.Errorf("state %s received unexpected event %s: %w", tx.State, evt.Name(), ErrInvalidTransition)
	}
}
