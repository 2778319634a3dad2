// Package budget is the ledger arithmetic over a session's two spending
// budgets. The walker is the single writer of the discovery budget and the
// feedback flow is the single writer of the training budget, so the accountant
// itself needs no locking; the durable counterpart in the session repository
// uses conditional updates for the same guarantee across processes.
package budget

import "errors"

// ErrInsufficientBudget is returned when a debit would push used past total.
var ErrInsufficientBudget = errors.New("insufficient budget")

// Accountant tracks a single total/used pair in cents.
type Accountant struct {
	totalCents int64
	usedCents  int64
}

// NewAccountant starts a ledger at the given position.
func NewAccountant(totalCents, usedCents int64) *Accountant {
	return &Accountant{totalCents: totalCents, usedCents: usedCents}
}

// Remaining returns total - used.
func (a *Accountant) Remaining() int64 {
	return a.totalCents - a.usedCents
}

// CanAfford reports whether cost fits in the remaining capacity.
func (a *Accountant) CanAfford(costCents int64) bool {
	return a.Remaining() >= costCents
}

// Debit spends costCents. Callers must check CanAfford first; Debit refuses
// rather than lets used exceed total.
func (a *Accountant) Debit(costCents int64) error {
	if costCents < 0 {
		return errors.New("negative debit")
	}
	if !a.CanAfford(costCents) {
		return ErrInsufficientBudget
	}
	a.usedCents += costCents
	return nil
}

// TopUp raises total by amountCents.
func (a *Accountant) TopUp(amountCents int64) {
	a.totalCents += amountCents
}

// Used returns the cents spent so far.
func (a *Accountant) Used() int64 {
	return a.usedCents
}

// Total returns the current capacity.
func (a *Accountant) Total() int64 {
	return a.totalCents
}
