package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/ezmail/ezmail/internal/apperr"
	"github.com/ezmail/ezmail/internal/config"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/storage"
)

// DefaultTimeout bounds a single dispatch attempt
const DefaultTimeout = 30 * time.Second

// Outcome is the result of one dispatch attempt. A zero Err is an ack; any
// other value is a nack whose reason is Timeout, Nack or Canceled.
type Outcome struct {
	Err error
}

// Acked reports whether the transport accepted the message
func (o Outcome) Acked() bool {
	return o.Err == nil
}

// Reason returns the nack reason, or "" for an ack
func (o Outcome) Reason() apperr.Reason {
	if e, ok := apperr.From(o.Err); ok {
		return e.Reason
	}
	return ""
}

// Dispatcher sends drafts through a Transport, at most one outcome per call
type Dispatcher struct {
	transport Transport
	store     storage.Store
	limiter   *rate.Limiter
	timeout   time.Duration
	from      string
	fromName  string
	now       func() time.Time
	log       *logger.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(transport Transport, store storage.Store, cfg config.DeliveryConfig, log *logger.Logger) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Dispatcher{
		transport: transport,
		store:     store,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   timeout,
		from:      cfg.FromAddress,
		fromName:  cfg.FromName,
		now:       time.Now,
		log:       log.WithComponent("dispatcher"),
	}
}

// Dispatch makes one delivery attempt for draft. It returns when the
// transport answers, the timeout elapses or ctx is canceled, whichever comes
// first; a late transport answer is discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, draft model.Draft) Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := d.log.WithSessionID(draft.ID).WithAccountID(draft.AccountID)

	if err := d.limiter.Wait(ctx); err != nil {
		return d.interrupted(ctx, log, err)
	}

	msg, err := d.resolve(ctx, draft)
	if err != nil {
		if ctx.Err() != nil {
			return d.interrupted(ctx, log, err)
		}
		log.Warn().Err(err).Msg("failed to resolve message")
		return Outcome{Err: apperr.Wrap(apperr.KindTransportFailure, apperr.ReasonNack, "message could not be prepared", err)}
	}

	result := make(chan error, 1)
	go func() {
		result <- d.transport.Send(ctx, msg)
	}()

	select {
	case err := <-result:
		if err == nil {
			log.Info().Int("recipients", len(msg.To)).Msg("message acknowledged")
			return Outcome{}
		}
		if ctx.Err() != nil {
			return d.interrupted(ctx, log, err)
		}
		log.Warn().Err(err).Msg("message rejected by transport")
		return Outcome{Err: apperr.Wrap(apperr.KindTransportFailure, apperr.ReasonNack, "delivery was rejected by the transport", err)}
	case <-ctx.Done():
		return d.interrupted(ctx, log, ctx.Err())
	}
}

// interrupted classifies an attempt that ended without a transport answer.
// A limiter refusal to wait past the deadline counts as a timeout.
func (d *Dispatcher) interrupted(ctx context.Context, log *logger.Logger, cause error) Outcome {
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Info().Msg("dispatch canceled")
		return Outcome{Err: apperr.Wrap(apperr.KindTransportFailure, apperr.ReasonCanceled, "delivery was canceled", cause)}
	}
	log.Warn().Dur("timeout", d.timeout).Msg("dispatch timed out")
	return Outcome{Err: apperr.Wrap(apperr.KindTransportFailure, apperr.ReasonTimeout,
		fmt.Sprintf("no delivery outcome within %s", d.timeout), cause)}
}

// resolve builds the outbound message, loading attachment content
func (d *Dispatcher) resolve(ctx context.Context, draft model.Draft) (*Message, error) {
	msg := &Message{
		ID:          draft.ID,
		FromAddress: d.from,
		FromName:    d.fromName,
		To:          append([]string(nil), draft.Recipients...),
		Subject:     draft.Subject,
		HTMLBody:    draft.BodyHTML,
		Date:        d.now(),
	}

	for _, ref := range draft.Attachments {
		data, err := d.load(ctx, ref)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:     ref.Name,
			MimeType: ref.MimeType,
			Data:     data,
		})
	}
	return msg, nil
}

func (d *Dispatcher) load(ctx context.Context, ref model.AttachmentRef) ([]byte, error) {
	rc, err := d.store.Open(ctx, ref.ContentHandle)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment %q: %w", ref.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %q: %w", ref.Name, err)
	}
	return data, nil
}
