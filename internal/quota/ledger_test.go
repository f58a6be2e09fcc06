package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var defaultPlan = model.Resources{MonthlyMessages: 1000, StorageBytes: 10 << 30, Contacts: 500}

// ledgerFactory builds a fresh, empty ledger driven by clock
type ledgerFactory func(t *testing.T, clock *fakeClock) Ledger

func runLedgerTests(t *testing.T, newLedger ledgerFactory) {
	ctx := context.Background()
	start := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	oneMessage := model.Resources{MonthlyMessages: 1}

	reserveAndCommit := func(t *testing.T, l Ledger, accountID string, n int) {
		for i := 0; i < n; i++ {
			id, err := l.Reserve(ctx, accountID, oneMessage)
			require.NoError(t, err)
			require.NoError(t, l.Commit(ctx, id))
		}
	}

	t.Run("new account uses the default plan", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))

		acct, err := l.Account(ctx, "acct-new")
		require.NoError(t, err)
		assert.Equal(t, "acct-new", acct.AccountID)
		assert.Equal(t, "2025-04", acct.Period)
		assert.Equal(t, defaultPlan, acct.PlanLimits)
		assert.True(t, acct.Used.IsZero())
		assert.True(t, acct.Reserved.IsZero())
	})

	t.Run("reserve commit then exhaust", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))
		require.NoError(t, l.SetPlan(ctx, "acct-1", model.Resources{MonthlyMessages: 5, StorageBytes: 1 << 30, Contacts: 100}))
		reserveAndCommit(t, l, "acct-1", 4)

		id, err := l.Reserve(ctx, "acct-1", oneMessage)
		require.NoError(t, err)

		acct, err := l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), acct.Used.MonthlyMessages)
		assert.Equal(t, int64(1), acct.Reserved.MonthlyMessages)

		require.NoError(t, l.Commit(ctx, id))
		acct, err = l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), acct.Used.MonthlyMessages)
		assert.Equal(t, int64(0), acct.Reserved.MonthlyMessages)

		_, err = l.Reserve(ctx, "acct-1", oneMessage)
		assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)
		assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
	})

	t.Run("release returns capacity without touching used", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))
		require.NoError(t, l.SetPlan(ctx, "acct-1", model.Resources{MonthlyMessages: 1, StorageBytes: 100}))

		id, err := l.Reserve(ctx, "acct-1", model.Resources{MonthlyMessages: 1, StorageBytes: 60})
		require.NoError(t, err)

		_, err = l.Reserve(ctx, "acct-1", oneMessage)
		assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)

		require.NoError(t, l.Release(ctx, id))
		acct, err := l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, acct.Used.IsZero())
		assert.True(t, acct.Reserved.IsZero())

		_, err = l.Reserve(ctx, "acct-1", oneMessage)
		assert.NoError(t, err)
	})

	t.Run("commit and release are idempotent", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))

		committed, err := l.Reserve(ctx, "acct-1", oneMessage)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, committed))
		require.NoError(t, l.Commit(ctx, committed))

		released, err := l.Reserve(ctx, "acct-1", oneMessage)
		require.NoError(t, err)
		require.NoError(t, l.Release(ctx, released))
		require.NoError(t, l.Release(ctx, released))

		acct, err := l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), acct.Used.MonthlyMessages)
		assert.Equal(t, int64(0), acct.Reserved.MonthlyMessages)
	})

	t.Run("settling the other way is an inconsistency", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))

		id, err := l.Reserve(ctx, "acct-1", oneMessage)
		require.NoError(t, err)
		require.NoError(t, l.Release(ctx, id))

		err = l.Commit(ctx, id)
		assert.ErrorIs(t, err, apperr.ErrReservationSettled)
		assert.Equal(t, apperr.KindLedgerInconsistency, apperr.KindOf(err))

		acct, err := l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, acct.Used.IsZero())
		assert.True(t, acct.Reserved.IsZero())
	})

	t.Run("unknown reservation", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))

		assert.ErrorIs(t, l.Commit(ctx, "missing"), apperr.ErrReservationNotFound)
		assert.ErrorIs(t, l.Release(ctx, "missing"), apperr.ErrReservationNotFound)
	})

	t.Run("storage dimension is enforced", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))
		require.NoError(t, l.SetPlan(ctx, "acct-1", model.Resources{MonthlyMessages: 10, StorageBytes: 100}))

		_, err := l.Reserve(ctx, "acct-1", model.Resources{MonthlyMessages: 1, StorageBytes: 150})
		require.ErrorIs(t, err, apperr.ErrQuotaExceeded)
		e, ok := apperr.From(err)
		require.True(t, ok)
		assert.Contains(t, e.Message, model.DimensionStorage)
	})

	t.Run("zero cost dimensions are not checked", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))
		require.NoError(t, l.SetPlan(ctx, "acct-1", model.Resources{MonthlyMessages: 1}))

		_, err := l.Reserve(ctx, "acct-1", oneMessage)
		assert.NoError(t, err)
	})

	t.Run("invalid cost", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))

		_, err := l.Reserve(ctx, "acct-1", model.Resources{MonthlyMessages: -1})
		assert.ErrorIs(t, err, ErrInvalidCost)
		_, err = l.Reserve(ctx, "", oneMessage)
		assert.ErrorIs(t, err, ErrInvalidCost)
	})

	t.Run("accounts are isolated", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))
		require.NoError(t, l.SetPlan(ctx, "acct-a", model.Resources{MonthlyMessages: 1}))
		reserveAndCommit(t, l, "acct-a", 1)

		_, err := l.Reserve(ctx, "acct-a", oneMessage)
		assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)
		_, err = l.Reserve(ctx, "acct-b", oneMessage)
		assert.NoError(t, err)
	})

	t.Run("concurrent reserves never over-admit", func(t *testing.T) {
		l := newLedger(t, newFakeClock(start))
		require.NoError(t, l.SetPlan(ctx, "acct-1", model.Resources{MonthlyMessages: 10}))

		var admitted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Reserve(ctx, "acct-1", oneMessage); err == nil {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), admitted.Load())
		acct, err := l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), acct.Reserved.MonthlyMessages)
	})

	t.Run("sweep releases stale reservations", func(t *testing.T) {
		clock := newFakeClock(start)
		l := newLedger(t, clock)

		id, err := l.Reserve(ctx, "acct-1", model.Resources{MonthlyMessages: 1, StorageBytes: 42})
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		swept, err := l.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, swept)

		clock.Advance(6 * time.Minute)
		swept, err = l.Sweep(ctx)
		require.NoError(t, err)
		require.Len(t, swept, 1)
		assert.Equal(t, id, swept[0].ID)
		assert.Equal(t, "acct-1", swept[0].AccountID)
		assert.Equal(t, int64(42), swept[0].Cost.StorageBytes)
		assert.Equal(t, model.ReservationReleased, swept[0].Status)

		acct, err := l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, acct.Reserved.IsZero())

		// A late acknowledgement cannot resurrect a swept reservation.
		assert.ErrorIs(t, l.Commit(ctx, id), apperr.ErrReservationSettled)
		assert.NoError(t, l.Release(ctx, id))
	})

	t.Run("monthly messages roll over", func(t *testing.T) {
		clock := newFakeClock(time.Date(2025, 4, 30, 23, 0, 0, 0, time.UTC))
		l := newLedger(t, clock)
		require.NoError(t, l.SetPlan(ctx, "acct-1", model.Resources{MonthlyMessages: 1, StorageBytes: 100}))

		id, err := l.Reserve(ctx, "acct-1", model.Resources{MonthlyMessages: 1, StorageBytes: 10})
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, id))
		_, err = l.Reserve(ctx, "acct-1", oneMessage)
		assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)

		clock.Advance(2 * time.Hour)
		acct, err := l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, "2025-05", acct.Period)
		assert.Equal(t, int64(0), acct.Used.MonthlyMessages)
		assert.Equal(t, int64(10), acct.Used.StorageBytes)

		_, err = l.Reserve(ctx, "acct-1", oneMessage)
		assert.NoError(t, err)
	})

	t.Run("contacts usage is reported and enforced", func(t *testing.T) {
		clock := newFakeClock(start)
		l := newLedger(t, clock)

		// A new account keeps the default plan
		require.NoError(t, l.SetContacts(ctx, "acct-new", 42))
		acct, err := l.Account(ctx, "acct-new")
		require.NoError(t, err)
		assert.Equal(t, defaultPlan, acct.PlanLimits)
		assert.Equal(t, int64(42), acct.Used.Contacts)
		_, err = l.Reserve(ctx, "acct-new", oneMessage)
		assert.NoError(t, err)

		require.NoError(t, l.SetPlan(ctx, "acct-1", model.Resources{MonthlyMessages: 10, Contacts: 50}))
		require.NoError(t, l.SetContacts(ctx, "acct-1", 48))

		_, err = l.Reserve(ctx, "acct-1", model.Resources{Contacts: 3})
		assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)
		_, err = l.Reserve(ctx, "acct-1", model.Resources{Contacts: 2})
		assert.NoError(t, err)

		// Messages do not depend on the contacts position
		_, err = l.Reserve(ctx, "acct-1", oneMessage)
		assert.NoError(t, err)

		// Contacts survive the monthly rollover
		clock.Advance(30 * 24 * time.Hour)
		acct, err = l.Account(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(48), acct.Used.Contacts)

		assert.ErrorIs(t, l.SetContacts(ctx, "acct-1", -1), ErrInvalidCost)
		assert.ErrorIs(t, l.SetContacts(ctx, "", 1), ErrInvalidCost)
	})
}
