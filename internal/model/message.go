package model

import "time"

// SentMessage is the immutable record of a successfully dispatched message
type SentMessage struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	SessionID  string    `json:"sessionId"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sentAt"`
	SizeBytes  int64     `json:"sizeBytes"`
}

// MonthCount is one point of the monthly sent series
type MonthCount struct {
	Month string `json:"month"` // YYYY-MM
	Count int64  `json:"count"`
}

// RecipientCount is a recipient address with the number of messages sent to it
type RecipientCount struct {
	Address string `json:"address"`
	Count   int64  `json:"count"`
}

// UsageSnapshot holds the derived usage aggregates of one account
type UsageSnapshot struct {
	AccountID           string           `json:"accountId"`
	TotalSent           int64            `json:"totalSent"`
	MonthlySentSeries   []MonthCount     `json:"monthlySentSeries"`
	HourHistogram       map[int]int64    `json:"hourHistogram"`
	RecipientTypeCounts map[string]int64 `json:"recipientTypeCounts"`
	TopRecipients       []RecipientCount `json:"topRecipients"`
}
