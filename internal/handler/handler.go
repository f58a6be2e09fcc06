package handler

import (
	"context"

	"github.com/ezmail/ezmail/internal/compose"
	"github.com/ezmail/ezmail/internal/config"
	"github.com/ezmail/ezmail/internal/database"
	"github.com/ezmail/ezmail/internal/logger"
	"github.com/ezmail/ezmail/internal/model"
	"github.com/ezmail/ezmail/internal/quota"
	"github.com/ezmail/ezmail/internal/repository"
	"github.com/ezmail/ezmail/internal/usage"
)

// SentLister searches the sent message log
type SentLister interface {
	List(ctx context.Context, f repository.SentFilter) ([]model.SentMessage, error)
}

// AuditStore writes and reads audit events
type AuditStore interface {
	Create(ctx context.Context, log *model.AuditLog) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]model.AuditLog, error)
}

// Handler holds all HTTP handlers
type Handler struct {
	db      *database.Postgres
	rdb     *database.Redis
	log     *logger.Logger
	cfg     *config.Config
	compose *compose.Service
	ledger  quota.Ledger
	usage   *usage.Aggregator
	sent    SentLister
	audit   AuditStore
}

// New creates a new Handler instance. db and rdb may be nil, in which case
// health checks skip them.
func New(db *database.Postgres, rdb *database.Redis, log *logger.Logger, cfg *config.Config, composeSvc *compose.Service, ledger quota.Ledger, agg *usage.Aggregator, sent SentLister, audit AuditStore) *Handler {
	return &Handler{
		db:      db,
		rdb:     rdb,
		log:     log.WithComponent("http"),
		cfg:     cfg,
		compose: composeSvc,
		ledger:  ledger,
		usage:   agg,
		sent:    sent,
		audit:   audit,
	}
}
