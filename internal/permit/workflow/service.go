// internal/permit/workflow/service.go
package workflow

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"permit-workers/internal/common/database"
	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/metrics"
	"permit-workers/internal/common/observability"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/assessment"
	"permit-workers/internal/permit/audit"
	"permit-workers/internal/permit/sequence"
	"permit-workers/internal/permit/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog is the read-only reference data the workflow consults.
type Catalog interface {
	Fee(ctx context.Context, id string) (*models.Fee, error)
	PermitType(ctx context.Context, id string) (*models.PermitType, error)
	Business(ctx context.Context, id string) (*models.Business, error)
}

// AuditRecorder must not fail the caller; implementations swallow errors.
type AuditRecorder interface {
	Record(ctx context.Context, actorID, actionCode, details string, applicationID *string)
}

// Notifier is invoked after commit, at most once per effect.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, message string, link *string)
	NotifyRole(ctx context.Context, role, message string, link *string)
}

type Deps struct {
	DB                 *sql.DB
	Store              *store.Store
	Allocator          *sequence.Allocator
	Calculator         *assessment.Calculator
	Catalog            Catalog
	Audit              AuditRecorder
	Notifier           Notifier
	Observability      *observability.Observability
	Logger             logger.Logger
	TransactionTimeout time.Duration
	Now                func() time.Time
}

// Service runs every workflow action in its own transaction. It keeps no
// mutable state between calls.
type Service struct {
	db         *sql.DB
	store      *store.Store
	allocator  *sequence.Allocator
	calculator *assessment.Calculator
	catalog    Catalog
	audit      AuditRecorder
	notifier   Notifier
	obs        *observability.Observability
	logger     logger.Logger
	txTimeout  time.Duration
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.TransactionTimeout <= 0 {
		d.TransactionTimeout = 10 * time.Second
	}
	return &Service{
		db:         d.DB,
		store:      d.Store,
		allocator:  d.Allocator,
		calculator: d.Calculator,
		catalog:    d.Catalog,
		audit:      d.Audit,
		notifier:   d.Notifier,
		obs:        d.Observability,
		logger:     d.Logger,
		txTimeout:  d.TransactionTimeout,
		now:        d.Now,
	}
}

// CreateRequest carries the intake data for a new application.
type CreateRequest struct {
	BusinessID   string
	PermitTypeID string
	Parameters   []models.ApplicationParameter
}

func (s *Service) Create(ctx context.Context, actor Actor, req CreateRequest) (*models.Application, error) {
	if err := authorize(actor, ActionCreate); err != nil {
		return nil, s.observe(ctx, ActionCreate, time.Now(), err)
	}
	if req.BusinessID == "" || req.PermitTypeID == "" {
		return nil, s.observe(ctx, ActionCreate, time.Now(), apperrors.NewValidationError("businessId and permitTypeId are required"))
	}
	if err := validateParameters(req.Parameters); err != nil {
		return nil, s.observe(ctx, ActionCreate, time.Now(), err)
	}
	if _, err := s.catalog.Business(ctx, req.BusinessID); err != nil {
		return nil, s.observe(ctx, ActionCreate, time.Now(), err)
	}
	if _, err := s.catalog.PermitType(ctx, req.PermitTypeID); err != nil {
		return nil, s.observe(ctx, ActionCreate, time.Now(), err)
	}

	var app *models.Application
	err := s.run(ctx, ActionCreate, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		app, err = s.insertApplication(ctx, tx, actor, req.BusinessID, req.PermitTypeID, req.Parameters, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionApplicationCreated,
		fmt.Sprintf("Created application %s", app.Number()), &app.ID)
	s.notifier.NotifyRole(ctx, string(RoleAssessor),
		fmt.Sprintf("New application %s is ready for assessment", app.Number()), link(app.ID))
	return app, nil
}

// insertApplication allocates a number and writes the application and its
// parameters inside tx.
func (s *Service) insertApplication(ctx context.Context, tx *sql.Tx, actor Actor, businessID, permitTypeID string, params []models.ApplicationParameter, renewedFrom *string) (*models.Application, error) {
	now := s.now()
	number, err := s.allocator.NextNumber(ctx, tx, now)
	if err != nil {
		metrics.SequenceAllocations.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.SequenceAllocations.WithLabelValues("ok").Inc()

	app := &models.Application{
		ID:                uuid.NewString(),
		ApplicationNumber: &number,
		BusinessID:        businessID,
		PermitTypeID:      permitTypeID,
		Status:            models.StatusPending,
		CreatedBy:         actor.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if renewedFrom != nil && s.store.RenewalLinked() {
		app.RenewedFromID = renewedFrom
	}

	if err := s.store.InsertApplication(ctx, tx, app); err != nil {
		return nil, err
	}
	if err := s.store.InsertParameters(ctx, tx, app.ID, params); err != nil {
		return nil, err
	}
	return app, nil
}

// Renew clones an issued or released application into a new Pending one
// with a fresh number. The source is left untouched.
func (s *Service) Renew(ctx context.Context, actor Actor, applicationID string) (*models.Application, error) {
	if err := authorize(actor, ActionRenew); err != nil {
		return nil, s.observe(ctx, ActionRenew, time.Now(), err)
	}

	var source, renewed *models.Application
	err := s.run(ctx, ActionRenew, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		source, err = s.loadFor(ctx, tx, ActionRenew, applicationID)
		if err != nil {
			return err
		}
		params, err := s.store.ListParameters(ctx, tx, source.ID)
		if err != nil {
			return err
		}
		renewed, err = s.insertApplication(ctx, tx, actor, source.BusinessID, source.PermitTypeID, params, &source.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionApplicationRenewed,
		fmt.Sprintf("Renewed application %s as %s", source.Number(), renewed.Number()), &renewed.ID)
	s.notifier.NotifyRole(ctx, string(RoleAssessor),
		fmt.Sprintf("Renewal %s is ready for assessment", renewed.Number()), link(renewed.ID))
	return renewed, nil
}

// Delete removes a Pending application; SuperAdmin may delete from any
// status. Audit entries survive with no application reference.
func (s *Service) Delete(ctx context.Context, actor Actor, applicationID string) error {
	if err := authorize(actor, ActionDelete); err != nil {
		return s.observe(ctx, ActionDelete, time.Now(), err)
	}

	var app *models.Application
	err := s.run(ctx, ActionDelete, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		app, err = s.store.GetApplication(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if actor.Role != RoleSuperAdmin && !AllowedFrom(ActionDelete, app.Status) {
			return apperrors.NewInvalidTransitionError(string(ActionDelete), string(app.Status))
		}
		return s.store.DeleteApplication(ctx, tx, app.ID, app.Status)
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionApplicationDeleted,
		fmt.Sprintf("Deleted application %s (status %s)", app.Number(), app.Status), nil)
	return nil
}

// Snapshot is one consistent read of an application and its dependents.
type Snapshot struct {
	Application *models.Application           `json:"application"`
	Parameters  []models.ApplicationParameter `json:"parameters"`
	Fees        []models.AssessedFee          `json:"fees"`
	Record      *models.AssessmentRecord      `json:"record,omitempty"`
	Payments    []models.Payment              `json:"payments"`
	TotalPaid   decimal.Decimal               `json:"totalPaid"`
}

func (s *Service) GetApplication(ctx context.Context, applicationID string) (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.run(ctx, ActionView, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if snap.Application, err = s.store.GetApplication(ctx, tx, applicationID); err != nil {
			return err
		}
		if snap.Parameters, err = s.store.ListParameters(ctx, tx, applicationID); err != nil {
			return err
		}
		if snap.Fees, err = s.store.ListAssessedFees(ctx, tx, applicationID); err != nil {
			return err
		}
		snap.Record, err = s.store.GetAssessmentRecord(ctx, tx, applicationID)
		if err != nil && !stderrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if snap.Payments, err = s.store.ListPayments(ctx, tx, applicationID); err != nil {
			return err
		}
		snap.TotalPaid = decimal.Zero
		for _, p := range snap.Payments {
			snap.TotalPaid = snap.TotalPaid.Add(p.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Service) ListAssessedFees(ctx context.Context, applicationID string) ([]models.AssessedFee, error) {
	var fees []models.AssessedFee
	err := s.run(ctx, ActionView, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.store.GetApplication(ctx, tx, applicationID); err != nil {
			return err
		}
		var err error
		fees, err = s.store.ListAssessedFees(ctx, tx, applicationID)
		return err
	})
	return fees, err
}

// run executes fn in one transaction bounded by the configured deadline and
// records the outcome.
func (s *Service) run(ctx context.Context, action Action, fn func(ctx context.Context, tx *sql.Tx) error) error {
	start := time.Now()
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := database.WithTx(txCtx, s.db, func(tx *sql.Tx) error {
		return fn(txCtx, tx)
	})
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(txCtx.Err(), context.DeadlineExceeded) {
			err = apperrors.NewTimeoutError("permit transaction", err)
		}
		err = apperrors.Normalize(err)
	}
	return s.observe(ctx, action, start, err)
}

func (s *Service) observe(ctx context.Context, action Action, start time.Time, err error) error {
	outcome := "ok"
	if err != nil {
		var stdErr *apperrors.StandardError
		if stderrors.As(err, &stdErr) {
			outcome = string(stdErr.Code)
		} else {
			outcome = string(apperrors.ErrCodeInternal)
		}
		if outcome == string(apperrors.ErrCodeInternal) || outcome == string(apperrors.ErrCodeDatabaseFailed) {
			s.logger.WithError(err).Error("workflow action failed", map[string]interface{}{"action": string(action)})
		}
	}
	metrics.WorkflowTransitions.WithLabelValues(string(action), outcome).Inc()
	s.obs.RecordTransition(ctx, string(action), outcome, time.Since(start))
	return err
}

// loadFor reads the application and checks action may start from its
// current status. The conditional write that follows re-checks it.
func (s *Service) loadFor(ctx context.Context, tx *sql.Tx, action Action, applicationID string) (*models.Application, error) {
	app, err := s.store.GetApplication(ctx, tx, applicationID)
	if err != nil {
		return nil, err
	}
	if !AllowedFrom(action, app.Status) {
		return nil, apperrors.NewInvalidTransitionError(string(action), string(app.Status))
	}
	return app, nil
}

// lockFor is loadFor holding the application's row lock until commit.
func (s *Service) lockFor(ctx context.Context, tx *sql.Tx, action Action, applicationID string) (*models.Application, error) {
	app, err := s.store.LockApplication(ctx, tx, applicationID)
	if err != nil {
		return nil, err
	}
	if !AllowedFrom(action, app.Status) {
		return nil, apperrors.NewInvalidTransitionError(string(action), string(app.Status))
	}
	return app, nil
}

func authorize(actor Actor, action Action) error {
	if actor.ID == "" {
		return apperrors.NewAuthorizationError(string(actor.Role), string(action))
	}
	if !Permitted(actor.Role, action) {
		return apperrors.NewAuthorizationError(string(actor.Role), string(action))
	}
	return nil
}

func validateParameters(params []models.ApplicationParameter) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return apperrors.NewValidationError("parameter name is required")
		}
		if seen[p.Name] {
			return apperrors.NewValidationError(fmt.Sprintf("parameter %q given twice", p.Name))
		}
		seen[p.Name] = true
	}
	return nil
}

func link(applicationID string) *string {
	l := "/applications/" + applicationID
	return &l
}
