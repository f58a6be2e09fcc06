package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/database"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
)

const (
	accountKeyPrefix     = "quota:account:"
	reservationKeyPrefix = "quota:reservation:"
	pendingKey           = "quota:pending"
)

// Account hash fields are limit_<dim>, used_<dim> and reserved_<dim> plus the
// current period. Dimensions are messages, storage and contacts.
//
// KEYS: account, reservation, pending
// ARGV: account id, period, reservation id, now (ms), default limits x3, cost x3
var reserveScript = redis.NewScript(`
local acct = KEYS[1]
if redis.call('EXISTS', acct) == 0 then
  redis.call('HSET', acct, 'limit_messages', ARGV[5], 'limit_storage', ARGV[6], 'limit_contacts', ARGV[7], 'period', ARGV[2])
end
if redis.call('HGET', acct, 'period') ~= ARGV[2] then
  redis.call('HSET', acct, 'used_messages', 0, 'period', ARGV[2])
end
local dims = {'messages', 'storage', 'contacts'}
for i, d in ipairs(dims) do
  local cost = tonumber(ARGV[7 + i])
  if cost > 0 then
    local limit = tonumber(redis.call('HGET', acct, 'limit_' .. d) or '0')
    local used = tonumber(redis.call('HGET', acct, 'used_' .. d) or '0')
    local reserved = tonumber(redis.call('HGET', acct, 'reserved_' .. d) or '0')
    if used + reserved + cost > limit then
      return d
    end
  end
end
for i, d in ipairs(dims) do
  redis.call('HINCRBY', acct, 'reserved_' .. d, ARGV[7 + i])
end
redis.call('HSET', KEYS[2], 'account', ARGV[1], 'messages', ARGV[8], 'storage', ARGV[9], 'contacts', ARGV[10], 'created_at', ARGV[4], 'status', 'pending')
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
return ''
`)

// KEYS: account, reservation, pending
// ARGV: target status, reservation id, retention (s), period, now (ms)
//
// Returns 1 when applied, 0 when already in the target status, -1 when the
// reservation does not exist and -2 when it was settled the other way.
var settleScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[2], 'status')
if not status then
  return -1
end
if status == ARGV[1] then
  return 0
end
if status ~= 'pending' then
  return -2
end
if redis.call('HGET', KEYS[1], 'period') ~= ARGV[4] then
  redis.call('HSET', KEYS[1], 'used_messages', 0, 'period', ARGV[4])
end
local dims = {'messages', 'storage', 'contacts'}
for _, d in ipairs(dims) do
  local n = tonumber(redis.call('HGET', KEYS[2], d) or '0')
  if n ~= 0 then
    redis.call('HINCRBY', KEYS[1], 'reserved_' .. d, -n)
    if ARGV[1] == 'committed' then
      redis.call('HINCRBY', KEYS[1], 'used_' .. d, n)
    end
  end
end
redis.call('HSET', KEYS[2], 'status', ARGV[1], 'settled_at', ARGV[5])
redis.call('EXPIRE', KEYS[2], ARGV[3])
redis.call('ZREM', KEYS[3], ARGV[2])
return 1
`)

// KEYS: account
// ARGV: period, default limits x3, contacts
var contactsScript = redis.NewScript(`
local acct = KEYS[1]
if redis.call('EXISTS', acct) == 0 then
  redis.call('HSET', acct, 'limit_messages', ARGV[2], 'limit_storage', ARGV[3], 'limit_contacts', ARGV[4], 'period', ARGV[1])
end
redis.call('HSET', acct, 'used_contacts', ARGV[5])
return 1
`)

// RedisLedger is a Ledger shared across processes. Every mutation runs as a
// single Lua script so the check and the increment are atomic per account.
// The scripts touch keys of different slots and assume a single-node Redis.
type RedisLedger struct {
	rdb  *database.Redis
	opts Options
	log  *logger.Logger
}

var _ Ledger = (*RedisLedger)(nil)

// NewRedisLedger creates a new RedisLedger
func NewRedisLedger(rdb *database.Redis, opts Options, log *logger.Logger) *RedisLedger {
	return &RedisLedger{
		rdb:  rdb,
		opts: opts.withDefaults(),
		log:  log.WithComponent("quota_ledger"),
	}
}

func accountKey(accountID string) string {
	return accountKeyPrefix + accountID
}

func reservationKey(reservationID string) string {
	return reservationKeyPrefix + reservationID
}

// Reserve holds cost against the account
func (l *RedisLedger) Reserve(ctx context.Context, accountID string, cost model.Resources) (string, error) {
	if err := checkCost(accountID, cost); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := l.opts.Now()
	plan := l.opts.DefaultPlan

	dim, err := reserveScript.Run(ctx, l.rdb.Client,
		[]string{accountKey(accountID), reservationKey(id), pendingKey},
		accountID, model.QuotaPeriod(now), id, now.UnixMilli(),
		plan.MonthlyMessages, plan.StorageBytes, plan.Contacts,
		cost.MonthlyMessages, cost.StorageBytes, cost.Contacts,
	).Text()
	if err != nil {
		return "", fmt.Errorf("failed to reserve quota: %w", err)
	}
	if dim != "" {
		l.log.Debug().
			Str("account_id", accountID).
			Str("dimension", dim).
			Msg("reservation rejected")
		return "", quotaExceeded(dim)
	}

	return id, nil
}

// Commit moves a reservation into used
func (l *RedisLedger) Commit(ctx context.Context, reservationID string) error {
	_, err := l.settle(ctx, reservationID, model.ReservationCommitted)
	return err
}

// Release drops a reservation
func (l *RedisLedger) Release(ctx context.Context, reservationID string) error {
	_, err := l.settle(ctx, reservationID, model.ReservationReleased)
	return err
}

// settle reports whether the script changed the reservation
func (l *RedisLedger) settle(ctx context.Context, reservationID string, target model.ReservationStatus) (bool, error) {
	accountID, err := l.rdb.HGet(ctx, reservationKey(reservationID), "account").Result()
	if errors.Is(err, redis.Nil) {
		return false, logInconsistency(l.log, string(target), reservationID, apperr.ErrReservationNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load reservation: %w", err)
	}

	now := l.opts.Now()
	res, err := settleScript.Run(ctx, l.rdb.Client,
		[]string{accountKey(accountID), reservationKey(reservationID), pendingKey},
		string(target), reservationID, int64(l.opts.SettledRetention/time.Second),
		model.QuotaPeriod(now), now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to settle reservation: %w", err)
	}

	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	case -1:
		return false, logInconsistency(l.log, string(target), reservationID, apperr.ErrReservationNotFound)
	default:
		return false, logInconsistency(l.log, string(target), reservationID, apperr.ErrReservationSettled)
	}
}

// Sweep releases pending reservations older than the reservation TTL.
// Settled reservations expire on their own.
func (l *RedisLedger) Sweep(ctx context.Context) ([]model.Reservation, error) {
	cutoff := l.opts.Now().Add(-l.opts.ReservationTTL).UnixMilli()
	ids, err := l.rdb.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}

	var swept []model.Reservation
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return swept, err
		}

		fields, err := l.rdb.HGetAll(ctx, reservationKey(id)).Result()
		if err != nil {
			return swept, fmt.Errorf("failed to load reservation: %w", err)
		}
		if len(fields) == 0 {
			// Index entry without a reservation hash; drop it.
			l.rdb.ZRem(ctx, pendingKey, id)
			continue
		}

		changed, err := l.settle(ctx, id, model.ReservationReleased)
		if err != nil {
			l.log.Warn().Err(err).Str("reservation_id", id).Msg("failed to release stale reservation")
			continue
		}
		if changed {
			r := parseReservation(id, fields)
			r.Status = model.ReservationReleased
			swept = append(swept, r)
		}
	}

	if len(swept) > 0 {
		l.log.Warn().Int("count", len(swept)).Msg("released stale reservations")
	}
	return swept, nil
}

// Account returns the current quota position of an account
func (l *RedisLedger) Account(ctx context.Context, accountID string) (*model.QuotaAccount, error) {
	fields, err := l.rdb.HGetAll(ctx, accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get quota account: %w", err)
	}

	period := model.QuotaPeriod(l.opts.Now())
	acct := &model.QuotaAccount{
		AccountID:  accountID,
		Period:     period,
		PlanLimits: l.opts.DefaultPlan,
	}
	if len(fields) == 0 {
		return acct, nil
	}

	acct.PlanLimits = resourcesFrom(fields, "limit_")
	acct.Used = resourcesFrom(fields, "used_")
	acct.Reserved = resourcesFrom(fields, "reserved_")
	if fields["period"] != period {
		acct.Used.MonthlyMessages = 0
	}
	return acct, nil
}

// SetPlan replaces the plan limits of an account
func (l *RedisLedger) SetPlan(ctx context.Context, accountID string, limits model.Resources) error {
	if err := checkCost(accountID, limits); err != nil {
		return err
	}
	err := l.rdb.HSet(ctx, accountKey(accountID),
		"limit_messages", limits.MonthlyMessages,
		"limit_storage", limits.StorageBytes,
		"limit_contacts", limits.Contacts,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set plan: %w", err)
	}
	return nil
}

// SetContacts replaces the account's used contacts count. A new account is
// created on the default plan first.
func (l *RedisLedger) SetContacts(ctx context.Context, accountID string, contacts int64) error {
	if err := checkCost(accountID, model.Resources{Contacts: contacts}); err != nil {
		return err
	}
	plan := l.opts.DefaultPlan
	err := contactsScript.Run(ctx, l.rdb.Client,
		[]string{accountKey(accountID)},
		model.QuotaPeriod(l.opts.Now()),
		plan.MonthlyMessages, plan.StorageBytes, plan.Contacts,
		contacts,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set contacts: %w", err)
	}
	return nil
}

func resourcesFrom(fields map[string]string, prefix string) model.Resources {
	return model.Resources{
		MonthlyMessages: parseInt(fields[prefix+model.DimensionMessages]),
		StorageBytes:    parseInt(fields[prefix+model.DimensionStorage]),
		Contacts:        parseInt(fields[prefix+model.DimensionContacts]),
	}
}

func parseReservation(id string, fields map[string]string) model.Reservation {
	return model.Reservation{
		ID:        id,
		AccountID: fields["account"],
		Cost:      resourcesFrom(fields, ""),
		Status:    model.ReservationStatus(fields["status"]),
		CreatedAt: time.UnixMilli(parseInt(fields["created_at"])),
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
