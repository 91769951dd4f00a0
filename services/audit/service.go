package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/services/license"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("licensing-controlplane/services/audit")

const defaultNoticeDays = 30

// ExpiringSource lists active licenses whose end falls inside a horizon.
type ExpiringSource interface {
	ListExpiring(ctx context.Context, now time.Time, horizon time.Duration) ([]*license.License, error)
}

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	repo       repository.Repository[Log]
	jobs       repository.Repository[Job]
	licenses   ExpiringSource
	noticeDays int
	now        func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Licenses ExpiringSource
}

func NewService(p ServiceParams) *Service {
	days := p.Config.License.ExpiryNoticeDays
	if days <= 0 {
		days = defaultNoticeDays
	}
	return &Service{
		db:         p.DB,
		node:       p.Node,
		repo:       repository.ProvideStore[Log](p.DB),
		jobs:       repository.ProvideStore[Job](p.DB),
		licenses:   p.Licenses,
		noticeDays: days,
		now:        time.Now,
	}
}

// Record stores ev once. Replaying an event with the same id is a no-op.
func (s *Service) Record(ctx context.Context, ev task.AuditEvent) error {
	ctx, span := tracer.Start(ctx, "audit.Record")
	defer span.End()

	if ev.ID == "" || ev.Action == "" {
		return errutil.ValidationFailed("audit event requires id and action", nil)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}

	row := &Log{
		ID:         ev.ID,
		Action:     ev.Action,
		TenantID:   ev.TenantID,
		LicenseID:  ev.LicenseID,
		ResourceID: ev.ResourceID,
		Actor:      ev.Actor,
		Metadata:   datatypes.JSONMap(ev.Metadata),
		OccurredAt: ev.OccurredAt.UTC(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(row).Error
	if err != nil {
		return errutil.Internal("failed to record audit event", err)
	}
	return nil
}

// HandleAuditTask persists an audit event delivered by the queue.
func (s *Service) HandleAuditTask(ctx context.Context, t *asynq.Task) error {
	ev, err := task.DecodeAuditEvent(t)
	if err != nil {
		logger.FromContext(ctx).Error("malformed audit payload", zap.Error(err))
		return fmt.Errorf("decode audit event: %v: %w", err, asynq.SkipRetry)
	}
	return s.Record(ctx, *ev)
}

type ListRequest struct {
	TenantID  string `form:"tenant_id"`
	LicenseID string `form:"license_id"`
	Action    string `form:"action"`
	pagination.Pagination
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]*Log, *pagination.PageInfo, error) {
	ctx, span := tracer.Start(ctx, "audit.List")
	defer span.End()

	rows, err := s.repo.Find(ctx, &Log{
		TenantID:  req.TenantID,
		LicenseID: req.LicenseID,
		Action:    req.Action,
	}, option.ApplyPagination(req.Pagination))
	if err != nil {
		return nil, nil, errutil.Internal("failed to list audit events", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, info := pagination.BuildCursorPageInfo(rows, min(limit, 250), func(l *Log) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{ID: l.ID})
		return cursor
	})
	return rows, info, nil
}

// expiringEventID is stable per license and day so repeated scans do not
// duplicate notices.
func expiringEventID(licenseID string, day time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskname.LicenseExpiring+":"+licenseID+":"+day.Format(time.DateOnly))).String()
}

// ScanExpiring writes a license.expiring event for every active license
// ending within the notice window. License status is never changed here.
func (s *Service) ScanExpiring(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "audit.ScanExpiring")
	defer span.End()

	now := s.now().UTC()
	horizon := time.Duration(s.noticeDays) * 24 * time.Hour

	lics, err := s.licenses.ListExpiring(ctx, now, horizon)
	if err != nil {
		return 0, errutil.Internal("failed to list expiring licenses", err)
	}

	for _, lic := range lics {
		ev := task.AuditEvent{
			ID:         expiringEventID(lic.ID, now),
			Action:     taskname.LicenseExpiring,
			TenantID:   lic.TenantID,
			LicenseID:  lic.ID,
			ResourceID: lic.ID,
			Actor:      "scheduler",
			Metadata: map[string]any{
				"end_at":            lic.EndAt,
				"days_until_expiry": lic.Evaluate(now).DaysUntilExpiry,
			},
			OccurredAt: now,
		}
		if err := s.Record(ctx, ev); err != nil {
			return 0, err
		}
	}

	return len(lics), nil
}

// HandleExpiryScan runs ScanExpiring and keeps a Job record of the run.
func (s *Service) HandleExpiryScan(ctx context.Context, _ *asynq.Task) error {
	zapLog := logger.FromContext(ctx)

	job := &Job{
		ID:        s.node.Generate().String(),
		Task:      taskname.LicenseExpiryScan,
		Status:    JobRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		zapLog.Error("failed to create job record", zap.Error(err))
		return err
	}

	count, scanErr := s.ScanExpiring(ctx)

	done := s.now().UTC()
	update := map[string]any{"completed_at": done, "status": JobSuccess}
	if scanErr != nil {
		update["status"] = JobFailed
		update["error_msg"] = scanErr.Error()
	} else {
		meta, _ := json.Marshal(map[string]any{"expiring": count, "notice_days": s.noticeDays})
		update["metadata"] = datatypes.JSON(meta)
	}
	if err := s.jobs.Update(ctx, job.ID, update); err != nil {
		zapLog.Warn("failed to update job record", zap.String("job_id", job.ID), zap.Error(err))
	}

	if scanErr != nil {
		zapLog.Error("expiry scan failed", zap.Error(scanErr))
		return scanErr
	}

	zapLog.Info("expiry scan finished", zap.Int("expiring", count))
	return nil
}
