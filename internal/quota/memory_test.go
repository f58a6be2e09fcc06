package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
)

func newTestMemoryLedger(t *testing.T, clock *fakeClock) Ledger {
	return NewMemoryLedger(Options{
		DefaultPlan:      defaultPlan,
		ReservationTTL:   15 * time.Minute,
		SettledRetention: 24 * time.Hour,
		Now:              clock.Now,
	}, logger.Nop())
}

func TestMemoryLedger(t *testing.T) {
	runLedgerTests(t, newTestMemoryLedger)
}

func TestMemoryLedgerPrunesSettledReservations(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC))
	l := newTestMemoryLedger(t, clock)

	id, err := l.Reserve(ctx, "acct-1", model.Resources{MonthlyMessages: 1})
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, id))

	clock.Advance(23 * time.Hour)
	_, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.NoError(t, l.Commit(ctx, id))

	clock.Advance(2 * time.Hour)
	_, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Commit(ctx, id), apperr.ErrReservationNotFound)
}
