// Package ledger tracks the process-wide credit balance that gates
// admission to generation jobs.
package ledger

import (
	"sync"
	"time"
)

// TransactionType records the business reason for a ledger mutation.
type TransactionType string

const (
	TxGrant  TransactionType = "GRANT"
	TxSpend  TransactionType = "SPEND"
	TxRefund TransactionType = "REFUND"
)

// Entry is one row of the append-only credit trail. Balance is the
// balance after the entry was applied.
type Entry struct {
	Seq     int64           `json:"seq"`
	At      time.Time       `json:"at"`
	Type    TransactionType `json:"type"`
	Amount  int64           `json:"amount"`
	JobID   string          `json:"job_id,omitempty"`
	Balance int64           `json:"balance"`
}

// Ledger holds a single non-negative balance. Reserve is the only way
// to spend: it checks and debits under one lock acquisition so no
// concurrent job can interleave between check and debit. The balance
// is never observably negative.
type Ledger struct {
	mu      sync.Mutex
	balance int64
	seq     int64
	entries []Entry
	notify  func(Entry)
}

// New creates a ledger with the given starting balance. Negative
// starting balances clamp to zero.
func New(initial int64) *Ledger {
	if initial < 0 {
		initial = 0
	}
	l := &Ledger{}
	if initial > 0 {
		l.append(TxGrant, initial, "", initial)
		l.balance = initial
	}
	return l
}

// OnEntry registers a hook invoked for every appended entry. The hook
// runs outside the ledger lock; it must not call back into the ledger
// synchronously expecting ordering beyond entry sequence numbers.
func (l *Ledger) OnEntry(fn func(Entry)) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

// Balance returns the current balance.
func (l *Ledger) Balance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Reserve atomically checks balance >= amount and debits when it
// holds. It reports whether the debit happened; on false the balance
// is untouched. Zero-cost jobs reserve nothing and always pass.
func (l *Ledger) Reserve(amount int64, jobID string) bool {
	if amount < 0 {
		return false
	}
	if amount == 0 {
		return true
	}
	l.mu.Lock()
	if l.balance < amount {
		l.mu.Unlock()
		return false
	}
	l.balance -= amount
	e := l.append(TxSpend, amount, jobID, l.balance)
	notify := l.notify
	l.mu.Unlock()
	if notify != nil {
		notify(e)
	}
	return true
}

// Refund credits the amount back unconditionally. It compensates a
// reserved job confirmed failed; callers must pair each refund with
// exactly one prior reservation for the same job.
func (l *Ledger) Refund(amount int64, jobID string) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	l.balance += amount
	e := l.append(TxRefund, amount, jobID, l.balance)
	notify := l.notify
	l.mu.Unlock()
	if notify != nil {
		notify(e)
	}
}

// Grant adds operator-issued credits.
func (l *Ledger) Grant(amount int64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	l.balance += amount
	e := l.append(TxGrant, amount, "", l.balance)
	notify := l.notify
	l.mu.Unlock()
	if notify != nil {
		notify(e)
	}
}

// History returns a copy of the entry trail.
func (l *Ledger) History() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// append assumes the caller holds the lock.
func (l *Ledger) append(tx TransactionType, amount int64, jobID string, balance int64) Entry {
	l.seq++
	e := Entry{
		Seq:     l.seq,
		At:      time.Now().UTC(),
		Type:    tx,
		Amount:  amount,
		JobID:   jobID,
		Balance: balance,
	}
	l.entries = append(l.entries, e)
	return e
}
