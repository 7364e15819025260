package service

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"cabangpos/backend/internal/cache"
	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
	"cabangpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service hosts the sync coordinator (sync.go) and the table-order
// coordinator (floor.go) behind one type. The credential store is the
// authority for users; the mirror is written second and repaired by
// reconciliation; the repository owns the dining floor and the sale ledger.
type Service struct {
	creds  store.CredentialStore
	mirror store.MirrorStore
	repo   store.Repository
	floor  cache.FloorCache
	log    *logrus.Logger
}

func New(creds store.CredentialStore, mirror store.MirrorStore, repo store.Repository, floor cache.FloorCache, logger *logrus.Logger) *Service {
	if floor == nil {
		floor = cache.NoopFloorCache{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Service{
		creds:  creds,
		mirror: mirror,
		repo:   repo,
		floor:  floor,
		log:    logger,
	}
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.log.WithFields(logrus.Fields{
			"module": "service",
			"action": action,
			"entity": entityID,
		}).Warnf("failed to write audit log: %v", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, branchID, limit)
}
