package model

import "time"

// Resources is a set of quota dimensions. It is used for plan limits, usage,
// reservations and reservation costs alike.
type Resources struct {
	MonthlyMessages int64 `json:"monthlyMessages"`
	StorageBytes    int64 `json:"storageBytes"`
	Contacts        int64 `json:"contacts"`
}

// Add returns the dimension-wise sum of r and o
func (r Resources) Add(o Resources) Resources {
	return Resources{
		MonthlyMessages: r.MonthlyMessages + o.MonthlyMessages,
		StorageBytes:    r.StorageBytes + o.StorageBytes,
		Contacts:        r.Contacts + o.Contacts,
	}
}

// Sub returns the dimension-wise difference r - o
func (r Resources) Sub(o Resources) Resources {
	return Resources{
		MonthlyMessages: r.MonthlyMessages - o.MonthlyMessages,
		StorageBytes:    r.StorageBytes - o.StorageBytes,
		Contacts:        r.Contacts - o.Contacts,
	}
}

// IsZero reports whether every dimension is zero
func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Exceeding returns the name of the first dimension where cost is positive and
// held + cost goes past limit, or "" when the cost fits.
func (r Resources) Exceeding(held, cost Resources) string {
	switch {
	case cost.MonthlyMessages > 0 && held.MonthlyMessages+cost.MonthlyMessages > r.MonthlyMessages:
		return DimensionMessages
	case cost.StorageBytes > 0 && held.StorageBytes+cost.StorageBytes > r.StorageBytes:
		return DimensionStorage
	case cost.Contacts > 0 && held.Contacts+cost.Contacts > r.Contacts:
		return DimensionContacts
	}
	return ""
}

// Quota dimension names
const (
	DimensionMessages = "messages"
	DimensionStorage  = "storage"
	DimensionContacts = "contacts"
)

// QuotaAccount represents the quota position of a single account
type QuotaAccount struct {
	AccountID  string    `json:"accountId"`
	Period     string    `json:"period"`
	PlanLimits Resources `json:"planLimits"`
	Used       Resources `json:"used"`
	Reserved   Resources `json:"reserved"`
}

// Remaining returns the capacity left after used and reserved amounts
func (a *QuotaAccount) Remaining() Resources {
	return a.PlanLimits.Sub(a.Used).Sub(a.Reserved)
}

// ReservationStatus represents the settlement status of a reservation
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is a provisional hold against an account's quota
type Reservation struct {
	ID        string            `json:"id"`
	AccountID string            `json:"accountId"`
	Cost      Resources         `json:"cost"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	SettledAt *time.Time        `json:"settledAt,omitempty"`
}

// QuotaPeriod returns the monthly quota period key for t, e.g. "2025-04"
func QuotaPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
