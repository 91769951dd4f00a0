package task

import (
	"context"
	"encoding/json"
	"time"

	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/taskname"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const QueueAudit = "audit"

// AuditEvent is an append-only record of a licensing action.
type AuditEvent struct {
	// ID makes redelivered events idempotent.
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	TenantID   string         `json:"tenant_id"`
	LicenseID  string         `json:"license_id,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func NewAuditTask(ev AuditEvent) (*asynq.Task, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.AuditRecord, payload,
		asynq.MaxRetry(5),
		asynq.Queue(QueueAudit)), nil
}

func DecodeAuditEvent(t *asynq.Task) (*AuditEvent, error) {
	var ev AuditEvent
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// PublishAudit enqueues ev. Failures are logged and never returned: audit
// publishing runs after commit and must not fail the operation.
func PublishAudit(ctx context.Context, enq Enqueuer, ev AuditEvent) {
	if enq == nil {
		return
	}

	zapLog := logger.FromContext(ctx)

	t, err := NewAuditTask(ev)
	if err != nil {
		zapLog.Error("failed to build audit task", zap.String("action", ev.Action), zap.Error(err))
		return
	}

	if _, err := enq.Enqueue(t); err != nil {
		zapLog.Warn("failed to enqueue audit event",
			zap.String("action", ev.Action),
			zap.String("tenant_id", ev.TenantID),
			zap.Error(err),
		)
	}
}
