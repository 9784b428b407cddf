// internal/permit/workflow/lifecycle.go
package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/audit"
	"permit-workers/internal/permit/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *Service) Approve(ctx context.Context, actor Actor, applicationID string) (*models.Application, error) {
	if err := authorize(actor, ActionApprove); err != nil {
		return nil, s.observe(ctx, ActionApprove, time.Now(), err)
	}

	var app *models.Application
	err := s.run(ctx, ActionApprove, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if app, err = s.loadFor(ctx, tx, ActionApprove, applicationID); err != nil {
			return err
		}
		if err := s.store.Transition(ctx, tx, app.ID, sourceStatuses[ActionApprove], models.StatusApproved,
			store.Set("approver_id", actor.ID)); err != nil {
			return err
		}
		return s.store.SetRecordApprover(ctx, tx, app.ID, actor.ID)
	})
	if err != nil {
		return nil, err
	}

	app.Status = models.StatusApproved
	app.ApproverID = &actor.ID
	s.audit.Record(ctx, actor.ID, audit.ActionApplicationApproved,
		fmt.Sprintf("Approved assessment for %s", app.Number()), &app.ID)
	s.notifier.NotifyUser(ctx, app.CreatedBy,
		fmt.Sprintf("Application %s was approved and is ready for payment", app.Number()), link(app.ID))
	s.notifier.NotifyRole(ctx, string(RoleCashier),
		fmt.Sprintf("Application %s is awaiting payment", app.Number()), link(app.ID))
	return app, nil
}

func (s *Service) Reject(ctx context.Context, actor Actor, applicationID, reason string) (*models.Application, error) {
	if err := authorize(actor, ActionReject); err != nil {
		return nil, s.observe(ctx, ActionReject, time.Now(), err)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, s.observe(ctx, ActionReject, time.Now(), apperrors.NewValidationError("a rejection reason is required"))
	}

	var app *models.Application
	err := s.run(ctx, ActionReject, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if app, err = s.loadFor(ctx, tx, ActionReject, applicationID); err != nil {
			return err
		}
		return s.store.Transition(ctx, tx, app.ID, sourceStatuses[ActionReject], models.StatusRejected,
			store.Set("approver_id", actor.ID),
			store.Set("rejection_reason", reason))
	})
	if err != nil {
		return nil, err
	}

	app.Status = models.StatusRejected
	app.ApproverID = &actor.ID
	app.RejectionReason = &reason
	s.audit.Record(ctx, actor.ID, audit.ActionApplicationRejected,
		fmt.Sprintf("Rejected %s: %s", app.Number(), reason), &app.ID)
	s.notifier.NotifyUser(ctx, app.CreatedBy,
		fmt.Sprintf("Application %s was rejected: %s", app.Number(), reason), link(app.ID))
	return app, nil
}

type PaymentInput struct {
	Amount    decimal.Decimal
	Reference string
}

type PaymentResult struct {
	Application *models.Application `json:"application"`
	Payment     *models.Payment     `json:"payment"`
	TotalPaid   decimal.Decimal     `json:"totalPaid"`
	AmountDue   decimal.Decimal     `json:"amountDue"`
	Paid        bool                `json:"paid"`
}

// RecordPayment stores a payment against an Approved application and moves
// it to Paid once the payments cover the assessment total.
func (s *Service) RecordPayment(ctx context.Context, actor Actor, applicationID string, in PaymentInput) (*PaymentResult, error) {
	if err := authorize(actor, ActionRecordPayment); err != nil {
		return nil, s.observe(ctx, ActionRecordPayment, time.Now(), err)
	}
	if !in.Amount.IsPositive() {
		return nil, s.observe(ctx, ActionRecordPayment, time.Now(), apperrors.NewValidationError("payment amount must be positive"))
	}
	if !models.HasMoneyScale(in.Amount) {
		return nil, s.observe(ctx, ActionRecordPayment, time.Now(),
			apperrors.NewValidationError(fmt.Sprintf("payment amount must have at most %d decimal places", models.MoneyPlaces)))
	}

	res := &PaymentResult{}
	err := s.run(ctx, ActionRecordPayment, func(ctx context.Context, tx *sql.Tx) error {
		app, err := s.loadFor(ctx, tx, ActionRecordPayment, applicationID)
		if err != nil {
			return err
		}
		// Re-assert Approved with a write so concurrent payments on the same
		// application queue behind this row lock and see each other's sums.
		approved := sourceStatuses[ActionRecordPayment]
		if err := s.store.Transition(ctx, tx, app.ID, approved, models.StatusApproved); err != nil {
			return err
		}
		record, err := s.store.GetAssessmentRecord(ctx, tx, app.ID)
		if err != nil {
			return err
		}

		payment := &models.Payment{
			ID:            uuid.NewString(),
			ApplicationID: app.ID,
			Amount:        in.Amount,
			Reference:     in.Reference,
			RecordedBy:    actor.ID,
			PaidAt:        s.now(),
		}
		if err := s.store.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}
		total, err := s.store.TotalPaid(ctx, tx, app.ID)
		if err != nil {
			return err
		}

		res.Application, res.Payment, res.TotalPaid, res.AmountDue = app, payment, total, record.TotalAmountDue
		if total.GreaterThanOrEqual(record.TotalAmountDue) {
			if err := s.store.Transition(ctx, tx, app.ID, approved, models.StatusPaid); err != nil {
				return err
			}
			app.Status = models.StatusPaid
			res.Paid = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	app := res.Application
	s.audit.Record(ctx, actor.ID, audit.ActionPaymentRecorded,
		fmt.Sprintf("Recorded payment %s (ref %s) on %s; total paid %s of %s",
			in.Amount, in.Reference, app.Number(), res.TotalPaid, res.AmountDue), &app.ID)
	if res.Paid {
		s.notifier.NotifyRole(ctx, string(RoleApprover),
			fmt.Sprintf("Application %s is fully paid and ready for issuance", app.Number()), link(app.ID))
	}
	return res, nil
}

// Issue stamps the permit validity and moves a Paid application to Issued.
// Fixed permit types use the type's default date; custom ones copy the
// application's Date parameter verbatim.
func (s *Service) Issue(ctx context.Context, actor Actor, applicationID string) (*models.Application, error) {
	if err := authorize(actor, ActionIssue); err != nil {
		return nil, s.observe(ctx, ActionIssue, time.Now(), err)
	}

	var app *models.Application
	err := s.run(ctx, ActionIssue, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if app, err = s.loadFor(ctx, tx, ActionIssue, applicationID); err != nil {
			return err
		}
		permitType, err := s.catalog.PermitType(ctx, app.PermitTypeID)
		if err != nil {
			return err
		}
		validity, err := s.validityFor(ctx, tx, app, permitType)
		if err != nil {
			return err
		}

		now := s.now()
		issuedBy := actor.DisplayName()
		if err := s.store.Transition(ctx, tx, app.ID, sourceStatuses[ActionIssue], models.StatusIssued,
			store.Set("validity_date", validity),
			store.Set("issued_by", issuedBy),
			store.Set("issued_at", now)); err != nil {
			return err
		}
		app.Status = models.StatusIssued
		app.ValidityDate = &validity
		app.IssuedBy = &issuedBy
		app.IssuedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionPermitIssued,
		fmt.Sprintf("Issued permit %s valid until %s", app.Number(), *app.ValidityDate), &app.ID)
	s.notifier.NotifyUser(ctx, app.CreatedBy,
		fmt.Sprintf("Permit %s has been issued", app.Number()), link(app.ID))
	return app, nil
}

func (s *Service) validityFor(ctx context.Context, tx *sql.Tx, app *models.Application, pt *models.PermitType) (string, error) {
	if pt.ValidityPolicy == models.ValidityCustom {
		params, err := s.store.ListParameters(ctx, tx, app.ID)
		if err != nil {
			return "", err
		}
		for _, p := range params {
			if p.Name == models.ParameterDate && strings.TrimSpace(p.Value) != "" {
				return p.Value, nil
			}
		}
		return "", apperrors.NewValidationError(fmt.Sprintf("permit type %s needs a %q parameter", pt.Name, models.ParameterDate))
	}
	if pt.DefaultValidity == nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("permit type %s has no default validity date", pt.Name))
	}
	return pt.DefaultValidity.Format("2006-01-02"), nil
}

type ReleaseInput struct {
	ReleasedBy string
	ReceivedBy string
}

func (s *Service) Release(ctx context.Context, actor Actor, applicationID string, in ReleaseInput) (*models.Application, error) {
	if err := authorize(actor, ActionRelease); err != nil {
		return nil, s.observe(ctx, ActionRelease, time.Now(), err)
	}
	in.ReleasedBy = strings.TrimSpace(in.ReleasedBy)
	in.ReceivedBy = strings.TrimSpace(in.ReceivedBy)
	if in.ReleasedBy == "" || in.ReceivedBy == "" {
		return nil, s.observe(ctx, ActionRelease, time.Now(),
			apperrors.NewValidationError("both the releasing and the receiving party names are required"))
	}

	var app *models.Application
	err := s.run(ctx, ActionRelease, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if app, err = s.loadFor(ctx, tx, ActionRelease, applicationID); err != nil {
			return err
		}
		now := s.now()
		if err := s.store.Transition(ctx, tx, app.ID, sourceStatuses[ActionRelease], models.StatusReleased,
			store.Set("released_by", in.ReleasedBy),
			store.Set("received_by", in.ReceivedBy),
			store.Set("released_at", now)); err != nil {
			return err
		}
		app.Status = models.StatusReleased
		app.ReleasedBy = &in.ReleasedBy
		app.ReceivedBy = &in.ReceivedBy
		app.ReleasedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionPermitReleased,
		fmt.Sprintf("Released permit %s by %s to %s", app.Number(), in.ReleasedBy, in.ReceivedBy), &app.ID)
	return app, nil
}
