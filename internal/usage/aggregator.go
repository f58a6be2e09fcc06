package usage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
)

// DefaultTopRecipients is the number of addresses reported in a snapshot
const DefaultTopRecipients = 5

// Source replays the sent message log in creation order
type Source interface {
	Replay(ctx context.Context, fn func(model.SentMessage) error) error
}

// Aggregator keeps running usage counters per account. Records are
// deduplicated by SentMessage ID, so replaying the log over live counters is
// harmless.
type Aggregator struct {
	mu       sync.RWMutex
	accounts map[string]*accountUsage

	classifier Classifier
	loc        *time.Location
	topN       int
	log        *logger.Logger
}

type accountUsage struct {
	seen       map[string]struct{}
	total      int64
	months     map[string]int64
	hours      [24]int64
	types      map[string]int64
	recipients map[string]int64
}

// Options configures an Aggregator. Zero values select the defaults.
type Options struct {
	Classifier    Classifier
	Location      *time.Location
	TopRecipients int
}

// NewAggregator creates a new Aggregator
func NewAggregator(opts Options, log *logger.Logger) *Aggregator {
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TopRecipients <= 0 {
		opts.TopRecipients = DefaultTopRecipients
	}

	return &Aggregator{
		accounts:   make(map[string]*accountUsage),
		classifier: opts.Classifier,
		loc:        opts.Location,
		topN:       opts.TopRecipients,
		log:        log.WithComponent("usage_aggregator"),
	}
}

// Record folds msg into its account's counters. It reports false when the
// message was already recorded.
func (a *Aggregator) Record(msg model.SentMessage) bool {
	bucket := a.classifier.Classify(msg)
	sentAt := msg.SentAt.In(a.loc)

	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.accounts[msg.AccountID]
	if !ok {
		u = &accountUsage{
			seen:       make(map[string]struct{}),
			months:     make(map[string]int64),
			types:      make(map[string]int64),
			recipients: make(map[string]int64),
		}
		a.accounts[msg.AccountID] = u
	}

	if _, dup := u.seen[msg.ID]; dup {
		return false
	}
	u.seen[msg.ID] = struct{}{}

	u.total++
	u.months[sentAt.Format("2006-01")]++
	u.hours[sentAt.Hour()]++
	u.types[bucket]++
	for _, r := range msg.Recipients {
		u.recipients[strings.ToLower(r)]++
	}
	return true
}

// Snapshot returns the usage aggregates of an account. Unknown accounts get
// an empty snapshot.
func (a *Aggregator) Snapshot(accountID string) model.UsageSnapshot {
	snap := model.UsageSnapshot{
		AccountID:           accountID,
		MonthlySentSeries:   []model.MonthCount{},
		HourHistogram:       make(map[int]int64, 24),
		RecipientTypeCounts: make(map[string]int64, len(RecipientTypes)),
		TopRecipients:       []model.RecipientCount{},
	}
	for h := 0; h < 24; h++ {
		snap.HourHistogram[h] = 0
	}
	for _, t := range RecipientTypes {
		snap.RecipientTypeCounts[t] = 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	u, ok := a.accounts[accountID]
	if !ok {
		return snap
	}

	snap.TotalSent = u.total
	for month, n := range u.months {
		snap.MonthlySentSeries = append(snap.MonthlySentSeries, model.MonthCount{Month: month, Count: n})
	}
	sort.Slice(snap.MonthlySentSeries, func(i, j int) bool {
		return snap.MonthlySentSeries[i].Month < snap.MonthlySentSeries[j].Month
	})

	for h, n := range u.hours {
		snap.HourHistogram[h] = n
	}
	for t, n := range u.types {
		snap.RecipientTypeCounts[t] = n
	}

	for addr, n := range u.recipients {
		snap.TopRecipients = append(snap.TopRecipients, model.RecipientCount{Address: addr, Count: n})
	}
	sort.Slice(snap.TopRecipients, func(i, j int) bool {
		x, y := snap.TopRecipients[i], snap.TopRecipients[j]
		if x.Count != y.Count {
			return x.Count > y.Count
		}
		return x.Address < y.Address
	})
	if len(snap.TopRecipients) > a.topN {
		snap.TopRecipients = snap.TopRecipients[:a.topN]
	}

	return snap
}

// Rebuild replays src into the aggregator
func (a *Aggregator) Rebuild(ctx context.Context, src Source) error {
	var replayed, recorded int
	err := src.Replay(ctx, func(msg model.SentMessage) error {
		replayed++
		if a.Record(msg) {
			recorded++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replay sent messages: %w", err)
	}

	a.log.Info().
		Int("replayed", replayed).
		Int("recorded", recorded).
		Msg("usage counters rebuilt")
	return nil
}
