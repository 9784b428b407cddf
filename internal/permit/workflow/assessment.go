// internal/permit/workflow/assessment.go
package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/assessment"
	"permit-workers/internal/permit/audit"
	"permit-workers/internal/permit/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeLineInput adds one fee line. UnitAmount defaults to the catalog amount
// and Quantity to 1.
type FeeLineInput struct {
	FeeID       string
	Description string
	UnitAmount  *decimal.Decimal
	Quantity    int
}

// FeeLineEdit changes an existing line. Nil fields keep their value.
// Approvers may only set UnitAmount.
type FeeLineEdit struct {
	FeeID       *string
	Description *string
	UnitAmount  *decimal.Decimal
	Quantity    *int
}

func (e FeeLineEdit) amountOnly() bool {
	return e.FeeID == nil && e.Description == nil && e.Quantity == nil
}

func checkUnitAmount(unit decimal.Decimal) error {
	if unit.IsNegative() {
		return apperrors.NewValidationError("unit amount must not be negative")
	}
	if !models.HasMoneyScale(unit) {
		return apperrors.NewValidationError(fmt.Sprintf("unit amount must have at most %d decimal places", models.MoneyPlaces))
	}
	return nil
}

func (s *Service) AddFee(ctx context.Context, actor Actor, applicationID string, in FeeLineInput) (*models.AssessedFee, error) {
	if err := authorize(actor, ActionAddFee); err != nil {
		return nil, s.observe(ctx, ActionAddFee, time.Now(), err)
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return nil, s.observe(ctx, ActionAddFee, time.Now(), apperrors.NewValidationError("quantity must be positive"))
	}

	fee, err := s.catalog.Fee(ctx, in.FeeID)
	if err != nil {
		return nil, s.observe(ctx, ActionAddFee, time.Now(), err)
	}
	unit := fee.DefaultAmount
	if in.UnitAmount != nil {
		unit = *in.UnitAmount
	}
	if err := checkUnitAmount(unit); err != nil {
		return nil, s.observe(ctx, ActionAddFee, time.Now(), err)
	}
	description := in.Description
	if description == "" {
		description = fee.Name
	}

	now := s.now()
	line := &models.AssessedFee{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		FeeID:         fee.ID,
		Description:   description,
		UnitAmount:    unit,
		Quantity:      in.Quantity,
		Amount:        unit.Mul(decimal.NewFromInt(int64(in.Quantity))),
		AssessedBy:    actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var app *models.Application
	err = s.run(ctx, ActionAddFee, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if app, err = s.loadFor(ctx, tx, ActionAddFee, applicationID); err != nil {
			return err
		}
		return s.store.InsertAssessedFee(ctx, tx, line, feeStatuses)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionFeeAdded,
		fmt.Sprintf("Added %s (%s × %d) to %s", line.Description, line.UnitAmount, line.Quantity, app.Number()), &app.ID)
	return line, nil
}

func (s *Service) EditFee(ctx context.Context, actor Actor, applicationID, feeLineID string, edit FeeLineEdit) (*models.AssessedFee, error) {
	if err := authorize(actor, ActionEditFee); err != nil {
		return nil, s.observe(ctx, ActionEditFee, time.Now(), err)
	}
	if actor.Role == RoleApprover && !edit.amountOnly() {
		return nil, s.observe(ctx, ActionEditFee, time.Now(),
			apperrors.NewAuthorizationError(string(actor.Role), "edit fee line fields other than the amount"))
	}
	if edit.UnitAmount != nil {
		if err := checkUnitAmount(*edit.UnitAmount); err != nil {
			return nil, s.observe(ctx, ActionEditFee, time.Now(), err)
		}
	}
	if edit.Quantity != nil && *edit.Quantity <= 0 {
		return nil, s.observe(ctx, ActionEditFee, time.Now(), apperrors.NewValidationError("quantity must be positive"))
	}

	var app *models.Application
	var line *models.AssessedFee
	err := s.run(ctx, ActionEditFee, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if app, err = s.loadFor(ctx, tx, ActionEditFee, applicationID); err != nil {
			return err
		}
		if line, err = s.store.GetAssessedFee(ctx, tx, applicationID, feeLineID); err != nil {
			return err
		}
		if edit.FeeID != nil && *edit.FeeID != line.FeeID {
			fee, err := s.catalog.Fee(ctx, *edit.FeeID)
			if err != nil {
				return err
			}
			line.FeeID = fee.ID
			if edit.Description == nil {
				line.Description = fee.Name
			}
		}
		if edit.Description != nil {
			line.Description = *edit.Description
		}
		if edit.UnitAmount != nil {
			line.UnitAmount = *edit.UnitAmount
		}
		if edit.Quantity != nil {
			line.Quantity = *edit.Quantity
		}
		line.Amount = line.UnitAmount.Mul(decimal.NewFromInt(int64(line.Quantity)))
		line.AssessedBy = actor.ID
		line.UpdatedAt = s.now()
		return s.store.UpdateAssessedFee(ctx, tx, line, feeStatuses)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionFeeEdited,
		fmt.Sprintf("Edited %s on %s: amount %s", line.Description, app.Number(), line.Amount), &app.ID)
	return line, nil
}

func (s *Service) RemoveFee(ctx context.Context, actor Actor, applicationID, feeLineID string) error {
	if err := authorize(actor, ActionRemoveFee); err != nil {
		return s.observe(ctx, ActionRemoveFee, time.Now(), err)
	}

	var app *models.Application
	var line *models.AssessedFee
	err := s.run(ctx, ActionRemoveFee, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if app, err = s.loadFor(ctx, tx, ActionRemoveFee, applicationID); err != nil {
			return err
		}
		if line, err = s.store.GetAssessedFee(ctx, tx, applicationID, feeLineID); err != nil {
			return err
		}
		return s.store.DeleteAssessedFee(ctx, tx, applicationID, feeLineID, feeStatuses)
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionFeeRemoved,
		fmt.Sprintf("Removed %s from %s", line.Description, app.Number()), &app.ID)
	return nil
}

// SubmitAssessment freezes the current fee lines into the application's
// assessment record and hands it to the approvers. A repeated submission
// replaces the record's totals and lines.
func (s *Service) SubmitAssessment(ctx context.Context, actor Actor, applicationID string) (*models.AssessmentRecord, error) {
	if err := authorize(actor, ActionSubmitAssessment); err != nil {
		return nil, s.observe(ctx, ActionSubmitAssessment, time.Now(), err)
	}

	var app *models.Application
	var record *models.AssessmentRecord
	err := s.run(ctx, ActionSubmitAssessment, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		// Fee line writes share-lock the application, so once this lock is
		// held the list below is the complete set.
		if app, err = s.lockFor(ctx, tx, ActionSubmitAssessment, applicationID); err != nil {
			return err
		}
		fees, err := s.store.ListAssessedFees(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		if len(fees) == 0 {
			return apperrors.NewValidationError("at least one assessed fee is required before submission")
		}
		business, err := s.catalog.Business(ctx, app.BusinessID)
		if err != nil {
			return err
		}

		lines := make([]assessment.Line, len(fees))
		for i, f := range fees {
			lines[i] = assessment.Line{FeeID: f.FeeID, Description: f.Description, Amount: f.Amount, Quantity: f.Quantity}
		}
		// Validity follows the same month the application number was taken in.
		result, err := s.calculator.Compute(lines, app.CreatedAt.In(s.allocator.Location()))
		if err != nil {
			return err
		}

		record = buildRecord(app, business, actor, result, s.now())
		if record.ID, err = s.store.UpsertAssessmentRecord(ctx, tx, record); err != nil {
			return err
		}
		for i := range record.Fees {
			record.Fees[i].AssessmentRecordID = record.ID
		}
		if err := s.store.ReplaceAssessmentRecordFees(ctx, tx, record.ID, record.Fees); err != nil {
			return err
		}

		return s.store.Transition(ctx, tx, app.ID, feeStatuses, models.StatusPendingApproval,
			store.Set("assessor_id", actor.ID))
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, audit.ActionAssessmentSubmitted,
		fmt.Sprintf("Submitted assessment for %s: total %s", app.Number(), record.TotalAmountDue), &app.ID)
	s.notifier.NotifyRole(ctx, string(RoleApprover),
		fmt.Sprintf("Assessment for %s awaits approval", app.Number()), link(app.ID))
	return record, nil
}

func buildRecord(app *models.Application, b *models.Business, actor Actor, res *assessment.Result, now time.Time) *models.AssessmentRecord {
	rec := &models.AssessmentRecord{
		ID:              uuid.NewString(),
		ApplicationID:   app.ID,
		BusinessName:    b.BusinessName,
		OwnerName:       b.OwnerName,
		Address:         b.Address,
		TotalBalanceDue: res.TotalBalanceDue,
		TotalSurcharge:  res.TotalSurcharge,
		TotalInterest:   res.TotalInterest,
		TotalAmountDue:  res.TotalAmountDue,
		Q1:              res.Q1,
		Q2:              res.Q2,
		Q3:              res.Q3,
		Q4:              res.Q4,
		ValidUntil:      res.ValidUntil,
		PreparedBy:      actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Fees:            make([]models.AssessmentRecordFee, len(res.Lines)),
	}
	for i, l := range res.Lines {
		rec.Fees[i] = models.AssessmentRecordFee{
			ID:          uuid.NewString(),
			FeeID:       l.FeeID,
			Description: l.Description,
			BalanceDue:  l.BalanceDue,
			Surcharge:   l.Surcharge,
			Interest:    l.Interest,
			Total:       l.Total,
		}
	}
	return rec
}
