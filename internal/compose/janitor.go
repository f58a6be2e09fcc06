package compose

import (
	"context"
	"time"

	"github.com/ezmail/ezmail/internal/model"
)

// RunJanitor sweeps stale reservations, retries unlogged sent messages,
// discards abandoned drafts and evicts finished sessions every interval
// until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one janitor pass
func (s *Service) Sweep(ctx context.Context) {
	swept, err := s.deps.Ledger.Sweep(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to sweep reservations")
	}
	for _, r := range swept {
		s.writeAudit(ctx, r.AccountID, model.AuditActionReservationSwept, "reservation", r.ID,
			map[string]interface{}{"messages": r.Cost.MonthlyMessages, "storage_bytes": r.Cost.StorageBytes})
	}

	if n := s.flushSent(ctx); n > 0 {
		s.log.Warn().Int("count", n).Msg("sent messages still waiting for the sent log")
	}

	now := s.now()
	if n := s.expireDrafts(ctx, now.Add(-s.cfg.DraftRetention)); n > 0 {
		s.log.Info().Int("count", n).Msg("discarded abandoned drafts")
	}
	if n := s.evict(now.Add(-s.cfg.SessionRetention)); n > 0 {
		s.log.Debug().Int("count", n).Msg("evicted finished sessions")
	}
}

// expireDrafts discards editable sessions last touched before cutoff. They
// go through the normal discard path so content and reservations are freed.
func (s *Service) expireDrafts(ctx context.Context, cutoff time.Time) int {
	var idle []*Session

	s.mu.RLock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if sess.editable() && sess.draft.UpdatedAt.Before(cutoff) {
			idle = append(idle, sess)
		}
		sess.mu.Unlock()
	}
	s.mu.RUnlock()

	expired := 0
	for _, sess := range idle {
		sess.mu.Lock()
		// Recheck: the owner may have edited or submitted it meanwhile
		if sess.editable() && sess.draft.UpdatedAt.Before(cutoff) {
			err := s.discardLocked(ctx, sess, map[string]interface{}{"reason": "expired"})
			if err != nil {
				s.log.Warn().Err(err).Str("session_id", sess.draft.ID).Msg("failed to expire draft")
			} else {
				expired++
			}
		}
		sess.mu.Unlock()
	}
	return expired
}

// evict drops terminal sessions that finished before cutoff, along with
// the attachment content of those that were sent or failed.
func (s *Service) evict(cutoff time.Time) int {
	var expired []string
	var handles []string

	s.mu.RLock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		if sess.terminal() && sess.finishedAt.Before(cutoff) {
			expired = append(expired, id)
			// Discard already dropped its content
			if sess.draft.State != model.StateDiscarded {
				for _, a := range sess.draft.Attachments {
					handles = append(handles, a.ContentHandle)
				}
			}
		}
		sess.mu.Unlock()
	}
	s.mu.RUnlock()

	s.mu.Lock()
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.deleteContent(h)
	}
	return len(expired)
}
