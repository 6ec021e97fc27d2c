// Package ledger implements the budget ledger for a production run.
//
// The ledger is the single source of truth for total, spent and reserved
// funds. It is the only resource mutated by many concurrent tasks, so every
// mutation takes one mutex and does no I/O while holding it.
//
// Invariants, checked on every mutation:
//   - spent + sum(reserved) <= total
//   - sum(allocated) + sum(overrun allowance) <= total
//   - for every pilot: spent_p + reserved_p <= allocated_p
//   - no amount is ever negative
//
// An overrun allowance is headroom set aside from the unallocated budget.
// A commit that consumes it turns that headroom into allocation, so an
// overrun is never funded from another pilot's share.
//
// Funds move only through Reserve, Commit, CommitCapped, Release and
// Reallocate. A reservation is held for exactly the window in which a task
// runs, so a pilot with outstanding reservations has RUNNING tasks.
package ledger

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
)

// epsilon absorbs float rounding when comparing money amounts.
const epsilon = 1e-9

// Token identifies one outstanding reservation.
type Token struct {
	ID      uint64
	PilotID string
	Amount  float64
}

type pilotAccount struct {
	allocated float64
	spent     float64
	reserved  float64
	inFlight  int
	overrun   float64 // granted overrun allowance, consumed by commits
	refused   float64 // overrun refused by CommitCapped
}

// Ledger tracks budget for one production run.
// Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	total    float64
	spent    float64
	reserved float64
	refused  float64
	pilots   map[string]*pilotAccount
	tokens   map[uint64]Token
	nextID   uint64
}

// New creates a ledger with the given total budget.
func New(total float64) (*Ledger, error) {
	if !validAmount(total) {
		return nil, fmt.Errorf("new ledger: total %v: %w", total, ErrInvalidAmount)
	}
	return &Ledger{
		total:  total,
		pilots: make(map[string]*pilotAccount),
		tokens: make(map[uint64]Token),
	}, nil
}

// Total returns the run-wide budget ceiling.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Allocate sets the allocation of a pilot. The sum of allocations and
// granted overrun allowances may not exceed total, and a pilot's allocation may not drop below what it has
// already spent and reserved.
func (l *Ledger) Allocate(pilotID string, amount float64) error {
	if !validAmount(amount) {
		return fmt.Errorf("allocate %s: %w", pilotID, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(pilotID)
	others := l.committedLocked() - acct.allocated
	if others+amount > l.total+epsilon {
		return &BudgetExceededError{Scope: ScopeTotal, PilotID: pilotID, Requested: amount, Available: l.total - others}
	}
	if acct.spent+acct.reserved > amount+epsilon {
		return &BudgetExceededError{Scope: ScopePilot, PilotID: pilotID, Requested: acct.spent + acct.reserved, Available: amount}
	}
	acct.allocated = amount
	return nil
}

// Reserve places a provisional hold of amount for a pilot.
//
// Fails with BudgetExceededError when spent + reserved + amount > total, or
// when the pilot's unreserved allocation cannot cover amount.
func (l *Ledger) Reserve(pilotID string, amount float64) (Token, error) {
	if !validAmount(amount) {
		return Token{}, fmt.Errorf("reserve %s: %w", pilotID, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.pilots[pilotID]
	if !ok {
		return Token{}, fmt.Errorf("reserve %s: %w", pilotID, ErrUnknownPilot)
	}
	if avail := l.total - l.spent - l.reserved; amount > avail+epsilon {
		return Token{}, &BudgetExceededError{Scope: ScopeTotal, PilotID: pilotID, Requested: amount, Available: avail}
	}
	if avail := acct.allocated - acct.spent - acct.reserved; amount > avail+epsilon {
		return Token{}, &BudgetExceededError{Scope: ScopePilot, PilotID: pilotID, Requested: amount, Available: avail}
	}

	l.nextID++
	tok := Token{ID: l.nextID, PilotID: pilotID, Amount: amount}
	l.tokens[tok.ID] = tok
	l.reserved += amount
	acct.reserved += amount
	acct.inFlight++
	return tok, nil
}

// Commit settles a reservation at its actual cost.
//
// An under-run releases the difference back to the pilot. An overrun fails
// with BudgetExceededError unless the pilot holds enough overrun allowance
// and the run-wide ceiling still holds. A failed commit changes nothing and
// leaves the reservation outstanding.
func (l *Ledger) Commit(tok Token, actual float64) error {
	if !validAmount(actual) {
		return fmt.Errorf("commit %d: %w", tok.ID, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.tokens[tok.ID]
	if !ok {
		return fmt.Errorf("commit %d: %w", tok.ID, ErrUnknownToken)
	}
	acct := l.pilots[held.PilotID]

	excess := actual - held.Amount
	if excess > epsilon {
		if excess > acct.overrun+epsilon {
			return &BudgetExceededError{Scope: ScopeOverrun, PilotID: held.PilotID, Requested: actual, Available: held.Amount + acct.overrun}
		}
		if avail := l.total - l.spent - l.reserved; excess > avail+epsilon {
			return &BudgetExceededError{Scope: ScopeTotal, PilotID: held.PilotID, Requested: excess, Available: avail}
		}
		acct.overrun = clampZero(acct.overrun - excess)
		acct.allocated += excess
	}

	l.settleLocked(held, acct, actual)
	return nil
}

// CommitCapped settles a reservation at min(actual, reserved amount) and
// records any refused excess in the overrun tally. It is used after Commit
// fails on an overrun so that the ledger still ends consistent.
// Returns the refused excess.
func (l *Ledger) CommitCapped(tok Token, actual float64) (float64, error) {
	if !validAmount(actual) {
		return 0, fmt.Errorf("commit capped %d: %w", tok.ID, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.tokens[tok.ID]
	if !ok {
		return 0, fmt.Errorf("commit capped %d: %w", tok.ID, ErrUnknownToken)
	}
	acct := l.pilots[held.PilotID]

	charged := math.Min(actual, held.Amount)
	refused := actual - charged
	if refused > 0 {
		acct.refused += refused
		l.refused += refused
		slog.Warn("provider overrun refused",
			"pilot", held.PilotID,
			"reserved", held.Amount,
			"actual", actual,
			"refused", refused,
		)
	}
	l.settleLocked(held, acct, charged)
	return refused, nil
}

// Release cancels a reservation without spending.
func (l *Ledger) Release(tok Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.tokens[tok.ID]
	if !ok {
		return fmt.Errorf("release %d: %w", tok.ID, ErrUnknownToken)
	}
	l.settleLocked(held, l.pilots[held.PilotID], 0)
	return nil
}

// settleLocked removes a reservation and books spend. Caller holds l.mu.
func (l *Ledger) settleLocked(held Token, acct *pilotAccount, spend float64) {
	delete(l.tokens, held.ID)
	l.reserved = clampZero(l.reserved - held.Amount)
	acct.reserved = clampZero(acct.reserved - held.Amount)
	acct.inFlight--
	l.spent += spend
	acct.spent += spend
}

// GrantOverrun gives a pilot an explicit allowance for provider overruns.
// The allowance is set aside from the unallocated budget and fails with
// BudgetExceededError when that headroom is too small. Commits whose
// actual cost exceeds the reservation consume it.
func (l *Ledger) GrantOverrun(pilotID string, amount float64) error {
	if !validAmount(amount) {
		return fmt.Errorf("grant overrun %s: %w", pilotID, ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.pilots[pilotID]
	if !ok {
		return fmt.Errorf("grant overrun %s: %w", pilotID, ErrUnknownPilot)
	}
	if headroom := l.total - l.committedLocked(); amount > headroom+epsilon {
		return &BudgetExceededError{Scope: ScopeTotal, PilotID: pilotID, Requested: amount, Available: clampZero(headroom)}
	}
	acct.overrun += amount
	return nil
}

// Reallocate moves unspent, unreserved allocation from one pilot to another.
// Only legal while from has no in-flight reservations (no RUNNING tasks).
func (l *Ledger) Reallocate(from, to string, amount float64) error {
	if !validAmount(amount) {
		return fmt.Errorf("reallocate %s->%s: %w", from, to, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.pilots[from]
	if !ok {
		return fmt.Errorf("reallocate from %s: %w", from, ErrUnknownPilot)
	}
	dst, ok := l.pilots[to]
	if !ok {
		return fmt.Errorf("reallocate to %s: %w", to, ErrUnknownPilot)
	}
	if src.inFlight > 0 {
		return fmt.Errorf("reallocate from %s (%d in flight): %w", from, src.inFlight, ErrPilotBusy)
	}
	if avail := src.allocated - src.spent - src.reserved; amount > avail+epsilon {
		return &BudgetExceededError{Scope: ScopePilot, PilotID: from, Requested: amount, Available: avail}
	}

	src.allocated = clampZero(src.allocated - amount)
	dst.allocated += amount
	return nil
}

// Unspent returns the part of a pilot's allocation that is neither spent
// nor reserved.
func (l *Ledger) Unspent(pilotID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.pilots[pilotID]
	if !ok {
		return 0
	}
	return clampZero(acct.allocated - acct.spent - acct.reserved)
}

// InFlight returns the number of outstanding reservations of a pilot.
func (l *Ledger) InFlight(pilotID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.pilots[pilotID]; ok {
		return acct.inFlight
	}
	return 0
}

// PilotSnapshot is a point-in-time view of one pilot's account.
type PilotSnapshot struct {
	PilotID   string  `json:"pilot_id"`
	Allocated float64 `json:"allocated"`
	Spent     float64 `json:"spent"`
	Reserved  float64 `json:"reserved"`
	Overrun   float64 `json:"overrun_allowance,omitempty"`
	Refused   float64 `json:"refused_overrun,omitempty"`
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	Total     float64         `json:"total"`
	Spent     float64         `json:"spent"`
	Reserved  float64         `json:"reserved"`
	Available float64         `json:"available"`
	Refused   float64         `json:"refused_overrun,omitempty"`
	Pilots    []PilotSnapshot `json:"pilots"`
}

// Snapshot returns a consistent copy of the ledger state.
// Pilots are ordered by id.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		Total:     l.total,
		Spent:     l.spent,
		Reserved:  l.reserved,
		Available: clampZero(l.total - l.spent - l.reserved),
		Refused:   l.refused,
		Pilots:    make([]PilotSnapshot, 0, len(l.pilots)),
	}
	for id, acct := range l.pilots {
		snap.Pilots = append(snap.Pilots, PilotSnapshot{
			PilotID:   id,
			Allocated: acct.allocated,
			Spent:     acct.spent,
			Reserved:  acct.reserved,
			Overrun:   acct.overrun,
			Refused:   acct.refused,
		})
	}
	sort.Slice(snap.Pilots, func(i, j int) bool { return snap.Pilots[i].PilotID < snap.Pilots[j].PilotID })
	return snap
}

// Pilot returns the snapshot of a single pilot.
func (s Snapshot) Pilot(id string) (PilotSnapshot, bool) {
	for _, p := range s.Pilots {
		if p.PilotID == id {
			return p, true
		}
	}
	return PilotSnapshot{}, false
}

// CheckInvariants verifies the ledger invariants on a snapshot.
func (s Snapshot) CheckInvariants() error {
	if s.Spent < 0 || s.Reserved < 0 {
		return fmt.Errorf("negative amount: spent=%v reserved=%v", s.Spent, s.Reserved)
	}
	if s.Spent+s.Reserved > s.Total+epsilon {
		return fmt.Errorf("ceiling breached: spent %v + reserved %v > total %v", s.Spent, s.Reserved, s.Total)
	}
	var committed float64
	for _, p := range s.Pilots {
		committed += p.Allocated + p.Overrun
	}
	if committed > s.Total+epsilon {
		return fmt.Errorf("over-allocated: allocations and overrun allowances %v > total %v", committed, s.Total)
	}
	for _, p := range s.Pilots {
		if p.Spent < 0 || p.Reserved < 0 || p.Allocated < 0 || p.Overrun < 0 {
			return fmt.Errorf("pilot %s: negative amount", p.PilotID)
		}
		if p.Spent+p.Reserved > p.Allocated+epsilon {
			return fmt.Errorf("pilot %s: spent %v + reserved %v > allocated %v", p.PilotID, p.Spent, p.Reserved, p.Allocated)
		}
	}
	return nil
}

func (l *Ledger) account(pilotID string) *pilotAccount {
	acct, ok := l.pilots[pilotID]
	if !ok {
		acct = &pilotAccount{}
		l.pilots[pilotID] = acct
	}
	return acct
}

// committedLocked returns the budget handed out as allocations or held as
// overrun allowances. Caller holds l.mu.
func (l *Ledger) committedLocked() float64 {
	var sum float64
	for _, acct := range l.pilots {
		sum += acct.allocated + acct.overrun
	}
	return sum
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clampZero(v float64) float64 {
	if v < epsilon {
		return 0
	}
	return v
}
