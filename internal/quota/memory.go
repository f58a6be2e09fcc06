package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
)

// MemoryLedger is an in-process Ledger with one mutex per account
type MemoryLedger struct {
	opts Options
	log  *logger.Logger

	accounts     sync.Map // accountID -> *memAccount
	reservations sync.Map // reservationID -> *memReservation
}

type memAccount struct {
	mu   sync.Mutex
	acct model.QuotaAccount
}

// memReservation fields are guarded by the owning account's mutex
type memReservation struct {
	res model.Reservation
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a new MemoryLedger
func NewMemoryLedger(opts Options, log *logger.Logger) *MemoryLedger {
	return &MemoryLedger{
		opts: opts.withDefaults(),
		log:  log.WithComponent("quota_ledger"),
	}
}

func (l *MemoryLedger) account(accountID string) *memAccount {
	if v, ok := l.accounts.Load(accountID); ok {
		return v.(*memAccount)
	}
	fresh := &memAccount{acct: model.QuotaAccount{
		AccountID:  accountID,
		Period:     model.QuotaPeriod(l.opts.Now()),
		PlanLimits: l.opts.DefaultPlan,
	}}
	v, _ := l.accounts.LoadOrStore(accountID, fresh)
	return v.(*memAccount)
}

// rollover zeroes the monthly message count when the period changed.
// Callers hold a.mu.
func (a *memAccount) rollover(now time.Time) {
	if p := model.QuotaPeriod(now); a.acct.Period != p {
		a.acct.Period = p
		a.acct.Used.MonthlyMessages = 0
	}
}

// Reserve holds cost against the account
func (l *MemoryLedger) Reserve(ctx context.Context, accountID string, cost model.Resources) (string, error) {
	if err := checkCost(accountID, cost); err != nil {
		return "", err
	}

	a := l.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	now := l.opts.Now()
	a.rollover(now)

	if dim := a.acct.PlanLimits.Exceeding(a.acct.Used.Add(a.acct.Reserved), cost); dim != "" {
		l.log.Debug().
			Str("account_id", accountID).
			Str("dimension", dim).
			Msg("reservation rejected")
		return "", quotaExceeded(dim)
	}

	a.acct.Reserved = a.acct.Reserved.Add(cost)
	id := uuid.NewString()
	l.reservations.Store(id, &memReservation{res: model.Reservation{
		ID:        id,
		AccountID: accountID,
		Cost:      cost,
		Status:    model.ReservationPending,
		CreatedAt: now,
	}})

	return id, nil
}

// Commit moves a reservation into used
func (l *MemoryLedger) Commit(ctx context.Context, reservationID string) error {
	return l.settle(reservationID, model.ReservationCommitted)
}

// Release drops a reservation
func (l *MemoryLedger) Release(ctx context.Context, reservationID string) error {
	return l.settle(reservationID, model.ReservationReleased)
}

func (l *MemoryLedger) settle(reservationID string, target model.ReservationStatus) error {
	v, ok := l.reservations.Load(reservationID)
	if !ok {
		return logInconsistency(l.log, string(target), reservationID, apperr.ErrReservationNotFound)
	}
	r := v.(*memReservation)

	a := l.account(r.res.AccountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	switch r.res.Status {
	case target:
		return nil
	case model.ReservationPending:
	default:
		return logInconsistency(l.log, string(target), reservationID, apperr.ErrReservationSettled)
	}

	l.apply(a, r, target, l.opts.Now())
	return nil
}

// apply settles a pending reservation. Callers hold a.mu.
func (l *MemoryLedger) apply(a *memAccount, r *memReservation, target model.ReservationStatus, now time.Time) {
	a.rollover(now)
	a.acct.Reserved = a.acct.Reserved.Sub(r.res.Cost)
	if target == model.ReservationCommitted {
		a.acct.Used = a.acct.Used.Add(r.res.Cost)
	}
	r.res.Status = target
	r.res.SettledAt = &now
}

// Sweep releases stale pending reservations and forgets settled ones past
// the retention window.
func (l *MemoryLedger) Sweep(ctx context.Context) ([]model.Reservation, error) {
	now := l.opts.Now()
	var swept []model.Reservation

	l.reservations.Range(func(key, value any) bool {
		if ctx.Err() != nil {
			return false
		}
		r := value.(*memReservation)
		a := l.account(r.res.AccountID)

		a.mu.Lock()
		switch {
		case r.res.Status == model.ReservationPending && now.Sub(r.res.CreatedAt) > l.opts.ReservationTTL:
			l.apply(a, r, model.ReservationReleased, now)
			swept = append(swept, r.res)
		case r.res.SettledAt != nil && now.Sub(*r.res.SettledAt) > l.opts.SettledRetention:
			l.reservations.Delete(key)
		}
		a.mu.Unlock()
		return true
	})

	if len(swept) > 0 {
		l.log.Warn().Int("count", len(swept)).Msg("released stale reservations")
	}
	return swept, ctx.Err()
}

// Account returns a copy of the account's quota position
func (l *MemoryLedger) Account(ctx context.Context, accountID string) (*model.QuotaAccount, error) {
	a := l.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollover(l.opts.Now())
	acct := a.acct
	return &acct, nil
}

// SetPlan replaces the plan limits of an account
func (l *MemoryLedger) SetPlan(ctx context.Context, accountID string, limits model.Resources) error {
	if err := checkCost(accountID, limits); err != nil {
		return err
	}
	a := l.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acct.PlanLimits = limits
	return nil
}

// SetContacts replaces the account's used contacts count
func (l *MemoryLedger) SetContacts(ctx context.Context, accountID string, contacts int64) error {
	if err := checkCost(accountID, model.Resources{Contacts: contacts}); err != nil {
		return err
	}
	a := l.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acct.Used.Contacts = contacts
	return nil
}
