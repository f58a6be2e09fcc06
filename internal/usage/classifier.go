// Package usage folds delivered messages into per-account analytics counters.
package usage

import (
	"strings"

	"github.com/ezmail/ezmail/internal/model"
)

// Recipient type buckets
const (
	TypeWork        = "work"
	TypePersonal    = "personal"
	TypeNewsletters = "newsletters"
	TypeSupport     = "support"
)

// RecipientTypes lists every bucket the default classifier produces
var RecipientTypes = []string{TypeWork, TypePersonal, TypeNewsletters, TypeSupport}

// Classifier picks the recipient type bucket of a sent message. It must be
// deterministic: the same message always lands in the same bucket.
type Classifier interface {
	Classify(msg model.SentMessage) string
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(msg model.SentMessage) string

// Classify calls f(msg)
func (f ClassifierFunc) Classify(msg model.SentMessage) string {
	return f(msg)
}

var (
	supportLocals = map[string]bool{
		"support": true, "help": true, "helpdesk": true, "service": true, "care": true,
	}
	newsletterLocals = map[string]bool{
		"newsletter": true, "news": true, "noreply": true, "no-reply": true,
		"digest": true, "updates": true, "marketing": true,
	}
	personalDomains = map[string]bool{
		"gmail.com": true, "googlemail.com": true, "yahoo.com": true, "hotmail.com": true,
		"outlook.com": true, "live.com": true, "icloud.com": true, "me.com": true,
		"aol.com": true, "proton.me": true, "protonmail.com": true, "gmx.com": true,
	}
)

// DefaultClassifier buckets a message by its first recipient: well-known
// support and list mailbox names first, then consumer mail domains, and
// everything else is work.
var DefaultClassifier Classifier = ClassifierFunc(classifyByPrimaryRecipient)

func classifyByPrimaryRecipient(msg model.SentMessage) string {
	if len(msg.Recipients) == 0 {
		return TypeWork
	}
	return ClassifyAddress(msg.Recipients[0])
}

// ClassifyAddress buckets a single address
func ClassifyAddress(addr string) string {
	local, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(addr)), "@")
	if !ok {
		return TypeWork
	}
	// Plus-addressing does not change the mailbox
	local, _, _ = strings.Cut(local, "+")

	switch {
	case supportLocals[local]:
		return TypeSupport
	case newsletterLocals[local]:
		return TypeNewsletters
	case personalDomains[domain]:
		return TypePersonal
	}
	return TypeWork
}
