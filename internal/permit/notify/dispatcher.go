// internal/permit/notify/dispatcher.go
package notify

import (
	"context"
	"database/sql"
	"time"

	awsclient "permit-workers/internal/common/aws"
	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/metrics"
	"permit-workers/internal/models"

	"github.com/google/uuid"
)

// Directory resolves who a notification goes to.
type Directory interface {
	Recipient(ctx context.Context, userID string) (*models.Recipient, error)
	RecipientsByRole(ctx context.Context, role string) ([]models.Recipient, error)
}

type Config struct {
	EmailEnabled bool
	FromEmail    string
	SMSEnabled   bool
	RoleTopics   map[string]string
	LinkBaseURL  string
}

// Dispatcher delivers in-app notifications and, when enabled, e-mail and
// role-topic SMS. It is called after commit and never reports failure.
type Dispatcher struct {
	config    Config
	db        *sql.DB
	directory Directory
	ses       awsclient.SESService
	sns       awsclient.SNSService
	logger    logger.Logger
	now       func() time.Time
}

func NewDispatcher(cfg Config, db *sql.DB, dir Directory, ses awsclient.SESService, sns awsclient.SNSService, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		config:    cfg,
		db:        db,
		directory: dir,
		ses:       ses,
		sns:       sns,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) NotifyUser(ctx context.Context, userID, message string, link *string) {
	if userID == "" {
		return
	}
	d.store(ctx, userID, message, link)

	if !d.config.EmailEnabled || d.ses == nil {
		return
	}
	r, err := d.directory.Recipient(ctx, userID)
	if err != nil {
		d.fail("directory", err, map[string]interface{}{"userId": userID})
		return
	}
	d.email(ctx, r, message, link)
}

func (d *Dispatcher) NotifyRole(ctx context.Context, role, message string, link *string) {
	recipients, err := d.directory.RecipientsByRole(ctx, role)
	if err != nil {
		d.fail("directory", err, map[string]interface{}{"role": role})
		return
	}

	for i := range recipients {
		d.store(ctx, recipients[i].UserID, message, link)
		if d.config.EmailEnabled && d.ses != nil {
			d.email(ctx, &recipients[i], message, link)
		}
	}

	topic, ok := d.config.RoleTopics[role]
	if !d.config.SMSEnabled || d.sns == nil || !ok || topic == "" {
		return
	}
	if _, err := d.sns.Publish(ctx, awsclient.TopicMessage(topic, "Permit update", d.text(message, link))); err != nil {
		d.fail("sns", err, map[string]interface{}{"role": role})
	}
}

func (d *Dispatcher) store(ctx context.Context, userID, message string, link *string) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, link, is_read, created_at) VALUES ($1, $2, $3, $4, FALSE, $5)`,
		uuid.NewString(), userID, message, link, d.now())
	if err != nil {
		d.fail("postgres", err, map[string]interface{}{"userId": userID})
	}
}

func (d *Dispatcher) email(ctx context.Context, r *models.Recipient, message string, link *string) {
	if r.Email == "" {
		return
	}
	input := awsclient.PlainTextEmail(d.config.FromEmail, r.Email, "Permit application update", d.text(message, link))
	if _, err := d.ses.SendEmail(ctx, input); err != nil {
		d.fail("ses", err, map[string]interface{}{"userId": r.UserID})
	}
}

func (d *Dispatcher) text(message string, link *string) string {
	if link == nil || *link == "" {
		return message
	}
	return message + "\n\n" + d.config.LinkBaseURL + *link
}

func (d *Dispatcher) fail(channel string, err error, fields map[string]interface{}) {
	metrics.SideEffectFailures.WithLabelValues("notify_" + channel).Inc()
	fields["channel"] = channel
	d.logger.WithError(apperrors.NewNotificationFailure(channel, err)).Warn("notification not delivered", fields)
}
