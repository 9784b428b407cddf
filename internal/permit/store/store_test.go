package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"permit-workers/internal/common/database"
	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var createdAt = time.Date(2025, time.November, 3, 9, 0, 0, 0, time.UTC)

func newTx(t *testing.T) (*sql.DB, *sql.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return db, tx, mock
}

func applicationRow(id, number string, status models.Status) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "application_number", "business_id", "permit_type_id", "status", "created_by",
		"assessor_id", "approver_id", "rejection_reason", "validity_date",
		"issued_by", "issued_at", "released_by", "received_by", "released_at", "renewed_from_id",
		"created_at", "updated_at",
	}).AddRow(id, number, "biz-1", "pt-mayors", string(status), "user-creator",
		nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil,
		createdAt, createdAt)
}

func TestGetApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* renewed_from_id, .* FROM applications WHERE id = \$1`).
		WithArgs("app-1").
		WillReturnRows(applicationRow("app-1", "2025-11-001", models.StatusPending))

	app, err := New(database.Capabilities{RenewalLink: true}).GetApplication(context.Background(), db, "app-1")

	require.NoError(t, err)
	assert.Equal(t, "2025-11-001", app.Number())
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Nil(t, app.AssessorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockApplication_TakesRowLock(t *testing.T) {
	_, tx, mock := newTx(t)

	mock.ExpectQuery(`SELECT .* FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs("app-1").
		WillReturnRows(applicationRow("app-1", "2025-11-001", models.StatusPending))

	app, err := New(database.Capabilities{RenewalLink: true}).LockApplication(context.Background(), tx, "app-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, app.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeeLineWrites_ShareLockApplication(t *testing.T) {
	_, tx, mock := newTx(t)
	s := New(database.Capabilities{})
	allowed := []models.Status{models.StatusPending, models.StatusAssessed}

	mock.ExpectExec(`UPDATE assessed_fees .* AND EXISTS \(SELECT 1 FROM applications WHERE id = \$2 AND status = ANY\(\$9\) FOR SHARE\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM assessed_fees .* AND EXISTS \(SELECT 1 FROM applications WHERE id = \$2 AND status = ANY\(\$3\) FOR SHARE\)`).
		WithArgs("fee-line-1", "app-1", pq.Array([]string{"Pending", "Assessed"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateAssessedFee(context.Background(), tx, &models.AssessedFee{
		ID: "fee-line-1", ApplicationID: "app-1", FeeID: "fee-mayors", Description: "Mayor's Permit Fee",
		UnitAmount: decimal.RequireFromString("600"), Quantity: 1, Amount: decimal.RequireFromString("600"),
		AssessedBy: "user-assessor",
	}, allowed))
	require.NoError(t, s.DeleteAssessedFee(context.Background(), tx, "app-1", "fee-line-1", allowed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetApplication_WithoutRenewalColumn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`NULL AS renewed_from_id`).
		WithArgs("app-1").
		WillReturnRows(applicationRow("app-1", "2025-11-001", models.StatusIssued))

	app, err := New(database.Capabilities{}).GetApplication(context.Background(), db, "app-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusIssued, app.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetApplication_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM applications`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err = New(database.Capabilities{}).GetApplication(context.Background(), db, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransition_ConditionalOnExpectedStatus(t *testing.T) {
	_, tx, mock := newTx(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE applications SET status = $1, updated_at = NOW(), approver_id = $2 WHERE id = $3 AND status = ANY($4)`)).
		WithArgs("Approved", "user-approver", "app-1", pq.Array([]string{"Pending Approval"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := New(database.Capabilities{}).Transition(context.Background(), tx, "app-1",
		[]models.Status{models.StatusPendingApproval}, models.StatusApproved,
		Set("approver_id", "user-approver"))

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ZeroRowsIsConflict(t *testing.T) {
	_, tx, mock := newTx(t)

	mock.ExpectExec(`UPDATE applications SET status`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := New(database.Capabilities{}).Transition(context.Background(), tx, "app-1",
		[]models.Status{models.StatusPendingApproval}, models.StatusApproved)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestTransition_DatabaseError(t *testing.T) {
	_, tx, mock := newTx(t)

	mock.ExpectExec(`UPDATE applications SET status`).WillReturnError(errors.New("connection reset"))

	err := New(database.Capabilities{}).Transition(context.Background(), tx, "app-1",
		[]models.Status{models.StatusPaid}, models.StatusIssued)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeDatabaseFailed, stdErr.Code)
}

func TestInsertApplication_RenewalLinkOnlyWhenSupported(t *testing.T) {
	number := "2025-11-002"
	source := "app-1"
	app := &models.Application{
		ID: "app-2", ApplicationNumber: &number, BusinessID: "biz-1", PermitTypeID: "pt-mayors",
		Status: models.StatusPending, CreatedBy: "user-creator", RenewedFromID: &source,
		CreatedAt: createdAt, UpdatedAt: createdAt,
	}

	_, tx, mock := newTx(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO applications (id, application_number, business_id, permit_type_id, status, created_by, created_at, updated_at, renewed_from_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, New(database.Capabilities{RenewalLink: true}).InsertApplication(context.Background(), tx, app))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, tx, mock = newTx(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO applications (id, application_number, business_id, permit_type_id, status, created_by, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, New(database.Capabilities{}).InsertApplication(context.Background(), tx, app))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertApplication_DuplicateNumber(t *testing.T) {
	number := "2025-11-001"
	_, tx, mock := newTx(t)
	mock.ExpectExec(`INSERT INTO applications`).WillReturnError(&pq.Error{Code: "23505"})

	err := New(database.Capabilities{}).InsertApplication(context.Background(), tx, &models.Application{
		ID: "app-1", ApplicationNumber: &number, Status: models.StatusPending,
	})
	assert.ErrorIs(t, err, apperrors.ErrAllocationFailure)
}

func TestDeleteApplication_DetachesAuditThenDeletes(t *testing.T) {
	_, tx, mock := newTx(t)

	mock.ExpectExec(`UPDATE audit_log SET application_id = NULL WHERE application_id = \$1`).
		WithArgs("app-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM applications WHERE id = \$1 AND status = ANY\(\$2\)`).
		WithArgs("app-1", pq.Array([]string{"Pending"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := New(database.Capabilities{}).DeleteApplication(context.Background(), tx, "app-1", models.StatusPending)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAssessedFee_StatusMovedIsConflict(t *testing.T) {
	_, tx, mock := newTx(t)

	mock.ExpectExec(`INSERT INTO assessed_fees .* WHERE EXISTS \(SELECT 1 FROM applications WHERE id = \$2 AND status = ANY\(\$10\) FOR SHARE\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := New(database.Capabilities{}).InsertAssessedFee(context.Background(), tx, &models.AssessedFee{
		ID: "fee-line-1", ApplicationID: "app-1", FeeID: "fee-mayors", Description: "Mayor's Permit Fee",
		UnitAmount: decimal.RequireFromString("500"), Quantity: 1, Amount: decimal.RequireFromString("500"),
		AssessedBy: "user-assessor", CreatedAt: createdAt,
	}, []models.Status{models.StatusPending, models.StatusAssessed})

	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUpsertRecordAndReplaceLines(t *testing.T) {
	_, tx, mock := newTx(t)
	s := New(database.Capabilities{})

	mock.ExpectQuery(`INSERT INTO assessment_records .* ON CONFLICT \(application_id\) DO UPDATE .* RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-existing"))
	mock.ExpectExec(`DELETE FROM assessment_record_fees WHERE assessment_record_id = \$1`).
		WithArgs("rec-existing").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO assessment_record_fees`).
		WithArgs("line-1", "rec-existing", "fee-mayors", "Mayor's Permit Fee",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.UpsertAssessmentRecord(context.Background(), tx, &models.AssessmentRecord{
		ID: "rec-new", ApplicationID: "app-1", ValidUntil: createdAt, UpdatedAt: createdAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-existing", id)

	err = s.ReplaceAssessmentRecordFees(context.Background(), tx, id, []models.AssessmentRecordFee{
		{ID: "line-1", FeeID: "fee-mayors", Description: "Mayor's Permit Fee", Total: decimal.RequireFromString("500")},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTotalPaid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM payments`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("1775.750"))

	total, err := New(database.Capabilities{}).TotalPaid(context.Background(), db, "app-1")

	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("1775.75")))
}

func TestGetAssessmentRecord_LoadsLines(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM assessment_records WHERE application_id = \$1`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "application_id", "business_name", "owner_name", "address",
			"total_balance_due", "total_surcharge", "total_interest", "total_amount_due",
			"q1", "q2", "q3", "q4", "valid_until", "prepared_by", "approved_by", "created_at", "updated_at",
		}).AddRow("rec-1", "app-1", "Sari-Sari Store", "Juan Dela Cruz", "Poblacion",
			"1775.75", "0", "0", "1775.75", "0", "674.785", "639.27", "461.695",
			createdAt, "user-assessor", nil, createdAt, createdAt))
	mock.ExpectQuery(`FROM assessment_record_fees WHERE assessment_record_id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "assessment_record_id", "fee_id", "description", "balance_due", "surcharge", "interest", "total",
		}).AddRow("line-1", "rec-1", "fee-mayors", "Mayor's Permit Fee", "500", "0", "0", "500"))

	rec, err := New(database.Capabilities{}).GetAssessmentRecord(context.Background(), db, "app-1")

	require.NoError(t, err)
	assert.True(t, rec.Q2.Equal(decimal.RequireFromString("674.785")))
	assert.Nil(t, rec.ApprovedBy)
	require.Len(t, rec.Fees, 1)
	assert.Equal(t, "fee-mayors", rec.Fees[0].FeeID)
}
