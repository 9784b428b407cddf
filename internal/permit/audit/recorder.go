// internal/permit/audit/recorder.go
package audit

import (
	"context"
	"database/sql"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/metrics"
	"permit-workers/internal/models"

	"github.com/google/uuid"
)

// Action codes written to the audit trail.
const (
	ActionApplicationCreated  = "APPLICATION_CREATED"
	ActionFeeAdded            = "ASSESSED_FEE_ADDED"
	ActionFeeEdited           = "ASSESSED_FEE_EDITED"
	ActionFeeRemoved          = "ASSESSED_FEE_REMOVED"
	ActionAssessmentSubmitted = "ASSESSMENT_SUBMITTED"
	ActionApplicationApproved = "APPLICATION_APPROVED"
	ActionApplicationRejected = "APPLICATION_REJECTED"
	ActionPaymentRecorded     = "PAYMENT_RECORDED"
	ActionPermitIssued        = "PERMIT_ISSUED"
	ActionPermitReleased      = "PERMIT_RELEASED"
	ActionApplicationRenewed  = "APPLICATION_RENEWED"
	ActionApplicationDeleted  = "APPLICATION_DELETED"
)

// Indexer is the search-side sink; *database.ElasticsearchClient satisfies it.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

// Recorder writes audit entries. Record never fails its caller: errors are
// logged and counted.
type Recorder struct {
	db      *sql.DB
	indexer Indexer
	index   string
	logger  logger.Logger
	now     func() time.Time
}

func NewRecorder(db *sql.DB, indexer Indexer, index string, log logger.Logger) *Recorder {
	return &Recorder{
		db:      db,
		indexer: indexer,
		index:   index,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Record(ctx context.Context, actorID, actionCode, details string, applicationID *string) {
	entry := models.AuditEntry{
		ID:            uuid.NewString(),
		ActorID:       actorID,
		ActionCode:    actionCode,
		Details:       details,
		ApplicationID: applicationID,
		CreatedAt:     r.now(),
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, action_code, details, application_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActorID, entry.ActionCode, entry.Details, entry.ApplicationID, entry.CreatedAt)
	if err != nil {
		r.fail("postgres", entry, err)
		return
	}

	if r.indexer == nil {
		return
	}
	if err := r.indexer.IndexDocument(ctx, r.index, entry.ID, entry); err != nil {
		r.fail("elasticsearch", entry, err)
	}
}

func (r *Recorder) fail(sink string, entry models.AuditEntry, err error) {
	auditErr := apperrors.NewAuditFailure(entry.ActionCode, err)
	metrics.SideEffectFailures.WithLabelValues("audit_" + sink).Inc()
	r.logger.WithError(auditErr).Warn("audit entry not recorded", map[string]interface{}{
		"sink":       sink,
		"actionCode": entry.ActionCode,
		"actorId":    entry.ActorID,
	})
}
