// Package quota tracks per-account resource consumption with provisional
// reservations that are later committed or released.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
)

// Default ledger settings
const (
	DefaultReservationTTL   = 15 * time.Minute
	DefaultSettledRetention = 24 * time.Hour
)

// ErrInvalidCost is returned for empty account IDs and negative costs
var ErrInvalidCost = errors.New("invalid reservation cost")

// Ledger is a per-account quota counter with reserve/commit/release semantics.
// Implementations serialise operations per account; different accounts never
// contend with each other.
type Ledger interface {
	// Reserve holds cost against the account, failing with apperr.ErrQuotaExceeded
	// when used + reserved + cost would exceed the plan in any dimension.
	Reserve(ctx context.Context, accountID string, cost model.Resources) (string, error)
	// Commit moves a reservation into used. Committing twice is a no-op.
	Commit(ctx context.Context, reservationID string) error
	// Release drops a reservation without touching used. Releasing twice is a no-op.
	Release(ctx context.Context, reservationID string) error
	// Sweep releases pending reservations older than the reservation TTL and
	// returns them.
	Sweep(ctx context.Context) ([]model.Reservation, error)
	// Account returns the current quota position of an account
	Account(ctx context.Context, accountID string) (*model.QuotaAccount, error)
	// SetPlan replaces the plan limits of an account
	SetPlan(ctx context.Context, accountID string, limits model.Resources) error
	// SetContacts replaces the used contacts count with the figure reported
	// by the contacts service
	SetContacts(ctx context.Context, accountID string, contacts int64) error
}

// Options configures a ledger
type Options struct {
	// DefaultPlan applies to accounts the ledger has not seen before
	DefaultPlan model.Resources
	// ReservationTTL is the age after which Sweep releases a pending reservation
	ReservationTTL time.Duration
	// SettledRetention is how long settled reservations are remembered
	SettledRetention time.Duration
	// Now is the clock; time.Now when nil
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ReservationTTL <= 0 {
		o.ReservationTTL = DefaultReservationTTL
	}
	if o.SettledRetention <= 0 {
		o.SettledRetention = DefaultSettledRetention
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ReservationCost is the cost of sending one message with the given
// attachment volume.
func ReservationCost(attachmentBytes int64) model.Resources {
	return model.Resources{MonthlyMessages: 1, StorageBytes: attachmentBytes}
}

func checkCost(accountID string, cost model.Resources) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidCost)
	}
	if cost.MonthlyMessages < 0 || cost.StorageBytes < 0 || cost.Contacts < 0 {
		return fmt.Errorf("%w: negative cost %+v", ErrInvalidCost, cost)
	}
	return nil
}

func quotaExceeded(dimension string) error {
	return apperr.New(apperr.KindQuotaExceeded, apperr.ReasonQuotaExceeded,
		fmt.Sprintf("%s quota exceeded for the current plan", dimension))
}

// logInconsistency records a commit/release that could not be applied. The
// counters are left untouched.
func logInconsistency(log *logger.Logger, op, reservationID string, err error) error {
	log.Error().
		Err(err).
		Str("operation", op).
		Str("reservation_id", reservationID).
		Msg("ledger inconsistency, operation ignored")
	return err
}
