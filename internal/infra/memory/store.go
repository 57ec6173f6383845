// Package memory is an in-process store implementing the membership,
// audit and billing repositories. It backs the engine tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"membership_billing/internal/domain/audit"
	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/membership"
)

type Store struct {
	mu     sync.RWMutex
	nextID int64
	now    func() time.Time

	members  map[int64]*membership.Membership
	entries  []*audit.Entry
	fees     []*billing.Fee
	cycles   map[int64]*billing.Cycle
	bills    map[int64]*billing.Bill
	payments map[int64]*billing.Payment
}

var (
	_ membership.Repository = (*Store)(nil)
	_ audit.Log             = (*Store)(nil)
	_ billing.Repository    = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		now:      time.Now,
		members:  make(map[int64]*membership.Membership),
		cycles:   make(map[int64]*billing.Cycle),
		bills:    make(map[int64]*billing.Bill),
		payments: make(map[int64]*billing.Payment),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Memberships

func (s *Store) Create(_ context.Context, m *membership.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*membership.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, membership.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) Transition(_ context.Context, id int64, from, to membership.Status, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return membership.ErrNotFound
	}
	if m.Status != from {
		return membership.ErrInvalidTransition
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	m.Status = to
	m.UpdatedAt = s.now()
	s.appendLocked(entry)
	return nil
}

func (s *Store) ListByStatus(_ context.Context, status membership.Status) ([]*membership.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*membership.Membership
	for _, m := range s.members {
		if m.Status == status {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Audit log

func (s *Store) Append(_ context.Context, e *audit.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(e)
	return nil
}

func (s *Store) appendLocked(e *audit.Entry) {
	e.ID = s.id()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	cp := *e
	s.entries = append(s.entries, &cp)
}

func (s *Store) Matching(_ context.Context, entityType string, entityID int64, change string) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Entry
	for _, e := range s.entries {
		if e.EntityType == entityType && e.EntityID == entityID && e.Change == change {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Fees

func (s *Store) CreateFee(_ context.Context, f *billing.Fee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.id()
	f.CreatedAt = s.now()
	cp := *f
	s.fees = append(s.fees, &cp)
	return nil
}

func (s *Store) LatestFeeAt(_ context.Context, t membership.Type, at time.Time) (*billing.Fee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *billing.Fee
	for _, f := range s.fees {
		if f.Type != t || f.Start.After(at) {
			continue
		}
		if best == nil || f.Start.After(best.Start) || (f.Start.Equal(best.Start) && f.ID > best.ID) {
			best = f
		}
	}
	if best == nil {
		return nil, billing.ErrNoFeeDefined
	}
	cp := *best
	return &cp, nil
}

// Cycles

func (s *Store) CreateCycle(_ context.Context, c *billing.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.cycles {
		if other.MembershipID == c.MembershipID && other.Start.Equal(c.Start) {
			return billing.ErrDuplicateCycle
		}
		if c.ReferenceNumber != "" && other.ReferenceNumber == c.ReferenceNumber {
			return billing.ErrDuplicateCycle
		}
	}
	c.ID = s.id()
	c.CreatedAt = s.now()
	cp := *c
	s.cycles[c.ID] = &cp
	return nil
}

func (s *Store) GetCycleByReference(_ context.Context, reference string) (*billing.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cycles {
		if c.ReferenceNumber == reference {
			cp := *c
			return &cp, nil
		}
	}
	return nil, billing.ErrCycleNotFound
}

func (s *Store) LatestCycle(_ context.Context, membershipID int64) (*billing.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *billing.Cycle
	for _, c := range s.cycles {
		if c.MembershipID != membershipID {
			continue
		}
		if best == nil || c.End.After(best.End) || (c.End.Equal(best.End) && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, billing.ErrCycleNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) ListCycles(_ context.Context, membershipID int64) ([]*billing.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Cycle
	for _, c := range s.cycles {
		if c.MembershipID == membershipID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) MarkCyclePaid(_ context.Context, cycleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[cycleID]
	if !ok {
		return billing.ErrCycleNotFound
	}
	c.IsPaid = true
	return nil
}

// Bills

func (s *Store) CreateBill(_ context.Context, b *billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cycles[b.CycleID]; !ok {
		return billing.ErrCycleNotFound
	}
	if !b.Reminder {
		for _, other := range s.bills {
			if other.CycleID == b.CycleID && !other.Reminder {
				return billing.ErrDuplicateBill
			}
		}
	}
	b.ID = s.id()
	b.CreatedAt = s.now()
	cp := *b
	s.bills[b.ID] = &cp
	return nil
}

func (s *Store) HasOriginalBill(_ context.Context, cycleID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bills {
		if b.CycleID == cycleID && !b.Reminder {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) LastBill(_ context.Context, cycleID int64) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *billing.Bill
	for _, b := range s.bills {
		if b.CycleID != cycleID {
			continue
		}
		if best == nil || b.DueDate.After(best.DueDate) || (b.DueDate.Equal(best.DueDate) && b.ID > best.ID) {
			best = b
		}
	}
	if best == nil {
		return nil, billing.ErrBillNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) ListBills(_ context.Context, cycleID int64) ([]*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Bill
	for _, b := range s.bills {
		if b.CycleID == cycleID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

// SetBillDueDate moves the due date of a bill. Reminder due dates are the
// only ones that change in normal operation; tests use it to age bills.
func (s *Store) SetBillDueDate(_ context.Context, billID int64, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok {
		return billing.ErrBillNotFound
	}
	b.DueDate = due
	return nil
}

// SetCycleEnd moves the end of a cycle.
func (s *Store) SetCycleEnd(_ context.Context, cycleID int64, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[cycleID]
	if !ok {
		return billing.ErrCycleNotFound
	}
	c.End = end
	return nil
}

// Payments

func (s *Store) CreatePayment(_ context.Context, p *billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[p.BillID]; !ok {
		return billing.ErrBillNotFound
	}
	for _, other := range s.payments {
		if other.TransactionID == p.TransactionID {
			return billing.ErrDuplicatePayment
		}
	}
	p.ID = s.id()
	p.CreatedAt = s.now()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *Store) LatestPayment(_ context.Context) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *billing.Payment
	for _, p := range s.payments {
		if best == nil || p.PaymentDate.After(best.PaymentDate) || (p.PaymentDate.Equal(best.PaymentDate) && p.ID > best.ID) {
			best = p
		}
	}
	if best == nil {
		return nil, billing.ErrPaymentNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) SumPaymentsForCycle(_ context.Context, cycleID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, p := range s.payments {
		if b, ok := s.bills[p.BillID]; ok && b.CycleID == cycleID {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}
