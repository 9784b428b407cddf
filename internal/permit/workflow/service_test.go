package workflow

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"permit-workers/internal/common/database"
	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/assessment"
	"permit-workers/internal/permit/audit"
	"permit-workers/internal/permit/sequence"
	"permit-workers/internal/permit/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Fee(ctx context.Context, id string) (*models.Fee, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fee), args.Error(1)
}

func (m *MockCatalog) PermitType(ctx context.Context, id string) (*models.PermitType, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PermitType), args.Error(1)
}

func (m *MockCatalog) Business(ctx context.Context, id string) (*models.Business, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Business), args.Error(1)
}

type MockAudit struct {
	mock.Mock
}

func (m *MockAudit) Record(ctx context.Context, actorID, actionCode, details string, applicationID *string) {
	m.Called(ctx, actorID, actionCode, details, applicationID)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyUser(ctx context.Context, userID, message string, link *string) {
	m.Called(ctx, userID, message, link)
}

func (m *MockNotifier) NotifyRole(ctx context.Context, role, message string, link *string) {
	m.Called(ctx, role, message, link)
}

var (
	fixedNow   = time.Date(2025, time.November, 20, 9, 0, 0, 0, time.UTC)
	appCreated = time.Date(2025, time.November, 3, 8, 30, 0, 0, time.UTC)

	creator  = Actor{ID: "user-creator", Name: "Ana Cruz", Role: RoleCreator}
	assessor = Actor{ID: "user-assessor", Name: "Ben Reyes", Role: RoleAssessor}
	approver = Actor{ID: "user-approver", Name: "Maria Santos", Role: RoleApprover}
	cashier  = Actor{ID: "user-cashier", Name: "Carlo Lim", Role: RoleCashier}
	admin    = Actor{ID: "user-admin", Role: RoleAdmin}
	super    = Actor{ID: "user-super", Role: RoleSuperAdmin}
)

type harness struct {
	svc      *Service
	sql      sqlmock.Sqlmock
	catalog  *MockCatalog
	audit    *MockAudit
	notifier *MockNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessIn(t, time.UTC)
}

// newHarnessIn numbers applications by months in loc.
func newHarnessIn(t *testing.T, loc *time.Location) *harness {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	calc, err := assessment.NewCalculator(assessment.DefaultWeights())
	require.NoError(t, err)

	h := &harness{
		sql:      sqlMock,
		catalog:  new(MockCatalog),
		audit:    new(MockAudit),
		notifier: new(MockNotifier),
	}
	h.svc = NewService(Deps{
		DB:                 db,
		Store:              store.New(database.Capabilities{RenewalLink: true}),
		Allocator:          sequence.NewAllocator(loc),
		Calculator:         calc,
		Catalog:            h.catalog,
		Audit:              h.audit,
		Notifier:           h.notifier,
		Logger:             logger.NewTestLogger(t),
		TransactionTimeout: 2 * time.Second,
		Now:                func() time.Time { return fixedNow },
	})
	return h
}

func (h *harness) verify(t *testing.T) {
	t.Helper()
	assert.NoError(t, h.sql.ExpectationsWereMet())
	h.catalog.AssertExpectations(t)
	h.audit.AssertExpectations(t)
	h.notifier.AssertExpectations(t)
}

var applicationColumns = []string{
	"id", "application_number", "business_id", "permit_type_id", "status", "created_by",
	"assessor_id", "approver_id", "rejection_reason", "validity_date",
	"issued_by", "issued_at", "released_by", "received_by", "released_at", "renewed_from_id",
	"created_at", "updated_at",
}

func applicationRow(id string, status models.Status, created time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(applicationColumns).AddRow(
		id, "2025-11-001", "biz-1", "pt-1", string(status), creator.ID,
		nil, nil, nil, nil,
		nil, nil, nil, nil, nil, nil,
		created, created,
	)
}

func (h *harness) expectApplication(id string, status models.Status) {
	h.sql.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(applicationRow(id, status, appCreated))
}

func (h *harness) expectLockedApplication(id string, status models.Status, created time.Time) {
	h.sql.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(applicationRow(id, status, created))
}

func (h *harness) expectMissingApplication(id string) {
	h.sql.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
}

func statuses(s ...models.Status) interface{} {
	out := make([]string, len(s))
	for i := range s {
		out[i] = string(s[i])
	}
	return pq.Array(out)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreate_AllocatesFirstNumberOfPeriod(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Business", mock.Anything, "biz-1").Return(&models.Business{ID: "biz-1", BusinessName: "Sari-Sari Store"}, nil)
	h.catalog.On("PermitType", mock.Anything, "pt-1").Return(&models.PermitType{ID: "pt-1", ValidityPolicy: models.ValidityFixed}, nil)

	h.sql.ExpectBegin()
	h.sql.ExpectQuery(`SELECT last_value FROM sequence_counters`).WithArgs("2025-11").WillReturnError(sql.ErrNoRows)
	h.sql.ExpectExec(`INSERT INTO sequence_counters`).WithArgs("2025-11").WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectQuery(`SELECT last_value FROM sequence_counters`).WithArgs("2025-11").
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(1))
	h.sql.ExpectExec(`INSERT INTO applications \(id, application_number, business_id, permit_type_id, status, created_by, created_at, updated_at\)`).
		WithArgs(sqlmock.AnyArg(), "2025-11-001", "biz-1", "pt-1", "Pending", creator.ID, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectExec(`INSERT INTO application_parameters`).
		WithArgs(sqlmock.AnyArg(), "Floor Area", "24 sqm").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()

	h.audit.On("Record", mock.Anything, creator.ID, audit.ActionApplicationCreated, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyRole", mock.Anything, "Assessor", mock.Anything, mock.Anything).Once()

	app, err := h.svc.Create(context.Background(), creator, CreateRequest{
		BusinessID:   "biz-1",
		PermitTypeID: "pt-1",
		Parameters:   []models.ApplicationParameter{{Name: "Floor Area", Value: "24 sqm"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "2025-11-001", app.Number())
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Equal(t, creator.ID, app.CreatedBy)
	assert.Nil(t, app.RenewedFromID)
	h.verify(t)
}

func TestCreate_RejectedBeforeTouchingTheDatabase(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		req   CreateRequest
		want  error
	}{
		{"wrong role", assessor, CreateRequest{BusinessID: "biz-1", PermitTypeID: "pt-1"}, apperrors.ErrAuthorization},
		{"anonymous", Actor{Role: RoleCreator}, CreateRequest{BusinessID: "biz-1", PermitTypeID: "pt-1"}, apperrors.ErrAuthorization},
		{"missing business", creator, CreateRequest{PermitTypeID: "pt-1"}, apperrors.ErrValidation},
		{"duplicate parameter", creator, CreateRequest{
			BusinessID: "biz-1", PermitTypeID: "pt-1",
			Parameters: []models.ApplicationParameter{{Name: "Date", Value: "a"}, {Name: "Date", Value: "b"}},
		}, apperrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Create(context.Background(), tt.actor, tt.req)
			assert.ErrorIs(t, err, tt.want)
			h.verify(t)
		})
	}
}

func TestCreate_UnknownBusiness(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Business", mock.Anything, "biz-x").Return(nil, apperrors.NewNotFoundError("business", "biz-x"))

	_, err := h.svc.Create(context.Background(), creator, CreateRequest{BusinessID: "biz-x", PermitTypeID: "pt-1"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	h.verify(t)
}

func TestCreate_AllocationFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Business", mock.Anything, "biz-1").Return(&models.Business{ID: "biz-1"}, nil)
	h.catalog.On("PermitType", mock.Anything, "pt-1").Return(&models.PermitType{ID: "pt-1"}, nil)

	h.sql.ExpectBegin()
	h.sql.ExpectQuery(`SELECT last_value FROM sequence_counters`).WillReturnError(errors.New("deadlock detected"))
	h.sql.ExpectRollback()

	_, err := h.svc.Create(context.Background(), creator, CreateRequest{BusinessID: "biz-1", PermitTypeID: "pt-1"})
	assert.ErrorIs(t, err, apperrors.ErrAllocationFailure)
	h.audit.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.verify(t)
}

func TestAddFee_DefaultsToCatalogAmount(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Fee", mock.Anything, "fee-mayors").
		Return(&models.Fee{ID: "fee-mayors", Name: "Mayor's Permit Fee", DefaultAmount: dec("500.00")}, nil)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPending)
	h.sql.ExpectExec(`INSERT INTO assessed_fees`).
		WithArgs(sqlmock.AnyArg(), "app-1", "fee-mayors", "Mayor's Permit Fee", sqlmock.AnyArg(), 2, sqlmock.AnyArg(),
			assessor.ID, fixedNow, statuses(models.StatusPending, models.StatusAssessed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, assessor.ID, audit.ActionFeeAdded, mock.Anything, mock.Anything).Once()

	line, err := h.svc.AddFee(context.Background(), assessor, "app-1", FeeLineInput{FeeID: "fee-mayors", Quantity: 2})
	require.NoError(t, err)

	assert.True(t, line.UnitAmount.Equal(dec("500")))
	assert.True(t, line.Amount.Equal(dec("1000")), "amount %s", line.Amount)
	assert.Equal(t, "Mayor's Permit Fee", line.Description)
	h.verify(t)
}

func TestAddFee_StatusMovedUnderneath(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Fee", mock.Anything, "fee-mayors").Return(&models.Fee{ID: "fee-mayors", DefaultAmount: dec("500")}, nil)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPending)
	h.sql.ExpectExec(`INSERT INTO assessed_fees`).WillReturnResult(sqlmock.NewResult(0, 0))
	h.sql.ExpectRollback()

	_, err := h.svc.AddFee(context.Background(), assessor, "app-1", FeeLineInput{FeeID: "fee-mayors"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	h.verify(t)
}

func TestAddFee_AfterSubmission(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Fee", mock.Anything, "fee-mayors").Return(&models.Fee{ID: "fee-mayors", DefaultAmount: dec("500")}, nil)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPendingApproval)
	h.sql.ExpectRollback()

	_, err := h.svc.AddFee(context.Background(), assessor, "app-1", FeeLineInput{FeeID: "fee-mayors"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	h.verify(t)
}

func TestAddFee_NegativeAmount(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Fee", mock.Anything, "fee-mayors").Return(&models.Fee{ID: "fee-mayors", DefaultAmount: dec("500")}, nil)

	neg := dec("-1")
	_, err := h.svc.AddFee(context.Background(), assessor, "app-1", FeeLineInput{FeeID: "fee-mayors", UnitAmount: &neg})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	h.verify(t)
}

func TestAddFee_UnitAmountBeyondCents(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Fee", mock.Anything, "fee-mayors").Return(&models.Fee{ID: "fee-mayors", DefaultAmount: dec("500")}, nil)

	unit := dec("10.005")
	_, err := h.svc.AddFee(context.Background(), assessor, "app-1", FeeLineInput{FeeID: "fee-mayors", UnitAmount: &unit})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "decimal places")

	_, err = h.svc.EditFee(context.Background(), assessor, "app-1", "line-1", FeeLineEdit{UnitAmount: &unit})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	h.verify(t)
}

var feeColumns = []string{"id", "application_id", "fee_id", "description", "unit_amount", "quantity", "amount", "assessed_by", "created_at", "updated_at"}

func TestEditFee_ApproverMayOnlyChangeAmount(t *testing.T) {
	h := newHarness(t)
	qty := 3
	_, err := h.svc.EditFee(context.Background(), approver, "app-1", "line-1", FeeLineEdit{Quantity: &qty})
	assert.ErrorIs(t, err, apperrors.ErrAuthorization)

	unit := dec("750.00")
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusAssessed)
	h.sql.ExpectQuery(`SELECT .+ FROM assessed_fees WHERE id = \$1 AND application_id = \$2`).
		WithArgs("line-1", "app-1").
		WillReturnRows(sqlmock.NewRows(feeColumns).AddRow(
			"line-1", "app-1", "fee-mayors", "Mayor's Permit Fee", "500.00", 2, "1000.00", assessor.ID, appCreated, appCreated))
	h.sql.ExpectExec(`UPDATE assessed_fees`).
		WithArgs("line-1", "app-1", "fee-mayors", "Mayor's Permit Fee", sqlmock.AnyArg(), 2, sqlmock.AnyArg(), approver.ID,
			statuses(models.StatusPending, models.StatusAssessed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, approver.ID, audit.ActionFeeEdited, mock.Anything, mock.Anything).Once()

	line, err := h.svc.EditFee(context.Background(), approver, "app-1", "line-1", FeeLineEdit{UnitAmount: &unit})
	require.NoError(t, err)
	assert.True(t, line.Amount.Equal(dec("1500")), "amount %s", line.Amount)
	h.verify(t)
}

func TestRemoveFee_UnknownLine(t *testing.T) {
	h := newHarness(t)
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPending)
	h.sql.ExpectQuery(`SELECT .+ FROM assessed_fees WHERE id = \$1`).WithArgs("line-x", "app-1").WillReturnError(sql.ErrNoRows)
	h.sql.ExpectRollback()

	err := h.svc.RemoveFee(context.Background(), assessor, "app-1", "line-x")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	h.verify(t)
}

func TestSubmitAssessment_RequiresFees(t *testing.T) {
	h := newHarness(t)
	h.sql.ExpectBegin()
	h.expectLockedApplication("app-1", models.StatusPending, appCreated)
	h.sql.ExpectQuery(`SELECT .+ FROM assessed_fees WHERE application_id = \$1`).WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(feeColumns))
	h.sql.ExpectRollback()

	_, err := h.svc.SubmitAssessment(context.Background(), assessor, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	h.verify(t)
}

func (h *harness) expectSubmission(recordID string, from models.Status) {
	h.expectSubmissionCreated(recordID, from, appCreated)
}

func (h *harness) expectSubmissionCreated(recordID string, from models.Status, created time.Time) {
	h.sql.ExpectBegin()
	h.expectLockedApplication("app-1", from, created)
	h.sql.ExpectQuery(`SELECT .+ FROM assessed_fees WHERE application_id = \$1`).WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(feeColumns).
			AddRow("line-1", "app-1", "fee-mayors", "Mayor's Permit Fee", "500.00", 1, "500.00", assessor.ID, appCreated, appCreated).
			AddRow("line-2", "app-1", "fee-sanitary", "Sanitary Inspection", "1200.50", 1, "1200.50", assessor.ID, appCreated, appCreated).
			AddRow("line-3", "app-1", "fee-garbage", "Garbage Fee", "75.25", 1, "75.25", assessor.ID, appCreated, appCreated))
	h.sql.ExpectQuery(`INSERT INTO assessment_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(recordID))
	h.sql.ExpectExec(`DELETE FROM assessment_record_fees WHERE assessment_record_id = \$1`).WithArgs(recordID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	for i := 0; i < 3; i++ {
		h.sql.ExpectExec(`INSERT INTO assessment_record_fees`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	h.sql.ExpectExec(`UPDATE applications SET status = \$1, updated_at = NOW\(\), assessor_id = \$2 WHERE id = \$3 AND status = ANY\(\$4\)`).
		WithArgs("Pending Approval", assessor.ID, "app-1", statuses(models.StatusPending, models.StatusAssessed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
}

func TestSubmitAssessment_QuarterlyBreakdown(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Business", mock.Anything, "biz-1").
		Return(&models.Business{ID: "biz-1", BusinessName: "Sari-Sari Store", OwnerName: "Ana Cruz", Address: "Poblacion"}, nil)
	h.expectSubmission("rec-1", models.StatusPending)
	h.audit.On("Record", mock.Anything, assessor.ID, audit.ActionAssessmentSubmitted, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyRole", mock.Anything, "Approver", mock.Anything, mock.Anything).Once()

	rec, err := h.svc.SubmitAssessment(context.Background(), assessor, "app-1")
	require.NoError(t, err)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "Sari-Sari Store", rec.BusinessName)
	assert.True(t, rec.TotalAmountDue.Equal(dec("1775.75")))
	assert.True(t, rec.Q1.IsZero())
	assert.True(t, rec.Q2.Equal(dec("674.785")), "q2 %s", rec.Q2)
	assert.True(t, rec.Q3.Equal(dec("639.27")), "q3 %s", rec.Q3)
	assert.True(t, rec.Q4.Equal(dec("461.695")), "q4 %s", rec.Q4)
	assert.Equal(t, time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), rec.ValidUntil)
	require.Len(t, rec.Fees, 3)
	for _, f := range rec.Fees {
		assert.Equal(t, "rec-1", f.AssessmentRecordID)
	}
	h.verify(t)
}

// An application created just after midnight local time on Dec 1 is still
// Nov 30 in UTC. Its number and its validity both use December.
func TestSubmitAssessment_ValidityUsesNumberingMonth(t *testing.T) {
	manila := time.FixedZone("PHT", 8*60*60)

	h := newHarnessIn(t, manila)
	created := time.Date(2025, time.November, 30, 17, 0, 0, 0, time.UTC)
	require.Equal(t, "2025-12", h.svc.allocator.PeriodKey(created))

	h.catalog.On("Business", mock.Anything, "biz-1").Return(&models.Business{ID: "biz-1"}, nil)
	h.expectSubmissionCreated("rec-1", models.StatusPending, created)
	h.audit.On("Record", mock.Anything, assessor.ID, audit.ActionAssessmentSubmitted, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyRole", mock.Anything, "Approver", mock.Anything, mock.Anything).Once()

	rec, err := h.svc.SubmitAssessment(context.Background(), assessor, "app-1")
	require.NoError(t, err)

	// Jan 31 2026 is a Saturday.
	assert.Equal(t, time.Date(2026, time.January, 30, 0, 0, 0, 0, time.UTC), rec.ValidUntil)
	h.verify(t)
}

// A legacy Assessed application that already has a record is overwritten
// in place rather than gaining a second record.
func TestSubmitAssessment_ResubmissionReusesRecord(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("Business", mock.Anything, "biz-1").Return(&models.Business{ID: "biz-1"}, nil)
	h.expectSubmission("rec-existing", models.StatusAssessed)
	h.audit.On("Record", mock.Anything, assessor.ID, audit.ActionAssessmentSubmitted, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyRole", mock.Anything, "Approver", mock.Anything, mock.Anything).Once()

	rec, err := h.svc.SubmitAssessment(context.Background(), assessor, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-existing", rec.ID)
	h.verify(t)
}

func TestApprove(t *testing.T) {
	h := newHarness(t)
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPendingApproval)
	h.sql.ExpectExec(`UPDATE applications SET status = \$1, updated_at = NOW\(\), approver_id = \$2 WHERE id = \$3 AND status = ANY\(\$4\)`).
		WithArgs("Approved", approver.ID, "app-1", statuses(models.StatusPendingApproval)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectExec(`UPDATE assessment_records SET approved_by = \$2`).WithArgs("app-1", approver.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, approver.ID, audit.ActionApplicationApproved, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyUser", mock.Anything, creator.ID, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyRole", mock.Anything, "Cashier", mock.Anything, mock.Anything).Once()

	app, err := h.svc.Approve(context.Background(), approver, "app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, app.Status)
	require.NotNil(t, app.ApproverID)
	assert.Equal(t, approver.ID, *app.ApproverID)
	h.verify(t)
}

// Two approvers race; the second conditional update matches no row.
func TestApprove_LosesRace(t *testing.T) {
	h := newHarness(t)
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPendingApproval)
	h.sql.ExpectExec(`UPDATE applications SET status`).WillReturnResult(sqlmock.NewResult(0, 0))
	h.sql.ExpectRollback()

	_, err := h.svc.Approve(context.Background(), approver, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	h.audit.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.verify(t)
}

// Role is checked before existence, existence before status.
func TestApprove_CheckOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Approve(context.Background(), cashier, "app-missing")
	assert.ErrorIs(t, err, apperrors.ErrAuthorization)

	h.sql.ExpectBegin()
	h.expectMissingApplication("app-missing")
	h.sql.ExpectRollback()
	_, err = h.svc.Approve(context.Background(), approver, "app-missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPending)
	h.sql.ExpectRollback()
	_, err = h.svc.Approve(context.Background(), approver, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	h.verify(t)
}

func TestReject(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Reject(context.Background(), approver, "app-1", "   ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPendingApproval)
	h.sql.ExpectExec(`UPDATE applications SET status = \$1, updated_at = NOW\(\), approver_id = \$2, rejection_reason = \$3`).
		WithArgs("Rejected", approver.ID, "Incomplete requirements", "app-1", statuses(models.StatusPendingApproval)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, approver.ID, audit.ActionApplicationRejected, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyUser", mock.Anything, creator.ID, mock.Anything, mock.Anything).Once()

	app, err := h.svc.Reject(context.Background(), approver, "app-1", "Incomplete requirements")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, app.Status)
	assert.Equal(t, "Incomplete requirements", *app.RejectionReason)
	h.verify(t)
}

var recordColumns = []string{
	"id", "application_id", "business_name", "owner_name", "address",
	"total_balance_due", "total_surcharge", "total_interest", "total_amount_due",
	"q1", "q2", "q3", "q4", "valid_until", "prepared_by", "approved_by", "created_at", "updated_at",
}

func (h *harness) expectPayment(sumAfter string) {
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusApproved)
	h.sql.ExpectExec(`UPDATE applications SET status = \$1, updated_at = NOW\(\) WHERE id = \$2 AND status = ANY\(\$3\)`).
		WithArgs("Approved", "app-1", statuses(models.StatusApproved)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectQuery(`SELECT .+ FROM assessment_records WHERE application_id = \$1`).WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(
			"rec-1", "app-1", "Sari-Sari Store", "Ana Cruz", "Poblacion",
			"1775.75", "0", "0", "1775.75",
			"0", "674.785", "639.27", "461.695",
			time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), assessor.ID, approver.ID, appCreated, appCreated))
	h.sql.ExpectQuery(`SELECT .+ FROM assessment_record_fees`).WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "assessment_record_id", "fee_id", "description", "balance_due", "surcharge", "interest", "total"}))
	h.sql.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM payments`).WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(sumAfter))
}

func TestRecordPayment_PartialThenFull(t *testing.T) {
	h := newHarness(t)

	h.expectPayment("1000.00")
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, cashier.ID, audit.ActionPaymentRecorded, mock.Anything, mock.Anything).Twice()

	res, err := h.svc.RecordPayment(context.Background(), cashier, "app-1", PaymentInput{Amount: dec("1000.00"), Reference: "OR-1001"})
	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Equal(t, models.StatusApproved, res.Application.Status)
	assert.True(t, res.TotalPaid.Equal(dec("1000")))

	h.expectPayment("1775.75")
	h.sql.ExpectExec(`UPDATE applications SET status`).
		WithArgs("Paid", "app-1", statuses(models.StatusApproved)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.notifier.On("NotifyRole", mock.Anything, "Approver", mock.Anything, mock.Anything).Once()

	res, err = h.svc.RecordPayment(context.Background(), cashier, "app-1", PaymentInput{Amount: dec("775.75"), Reference: "OR-1002"})
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, models.StatusPaid, res.Application.Status)
	assert.True(t, res.AmountDue.Equal(dec("1775.75")))
	h.verify(t)
}

func TestRecordPayment_Validation(t *testing.T) {
	h := newHarness(t)
	for _, amount := range []string{"0", "-10", "0.0004", "10.005"} {
		_, err := h.svc.RecordPayment(context.Background(), cashier, "app-1", PaymentInput{Amount: dec(amount)})
		assert.ErrorIs(t, err, apperrors.ErrValidation, amount)
	}

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPendingApproval)
	h.sql.ExpectRollback()
	_, err := h.svc.RecordPayment(context.Background(), cashier, "app-1", PaymentInput{Amount: dec("10")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	h.verify(t)
}

func TestIssue_FixedValidity(t *testing.T) {
	h := newHarness(t)
	validity := time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC)
	h.catalog.On("PermitType", mock.Anything, "pt-1").
		Return(&models.PermitType{ID: "pt-1", Name: "Mayor's Permit", ValidityPolicy: models.ValidityFixed, DefaultValidity: &validity}, nil)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPaid)
	h.sql.ExpectExec(`UPDATE applications SET status = \$1, updated_at = NOW\(\), validity_date = \$2, issued_by = \$3, issued_at = \$4 WHERE id = \$5`).
		WithArgs("Issued", "2025-12-31", "Maria Santos", fixedNow, "app-1", statuses(models.StatusPaid)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, approver.ID, audit.ActionPermitIssued, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyUser", mock.Anything, creator.ID, mock.Anything, mock.Anything).Once()

	app, err := h.svc.Issue(context.Background(), approver, "app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIssued, app.Status)
	assert.Equal(t, "2025-12-31", *app.ValidityDate)
	assert.Equal(t, "Maria Santos", *app.IssuedBy)
	h.verify(t)
}

func TestIssue_CustomValidityCopiesDateParameter(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("PermitType", mock.Anything, "pt-1").
		Return(&models.PermitType{ID: "pt-1", Name: "Special Event", ValidityPolicy: models.ValidityCustom}, nil)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPaid)
	h.sql.ExpectQuery(`SELECT name, value FROM application_parameters`).WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow("Date", "March 3, 2026").AddRow("Venue", "Plaza"))
	h.sql.ExpectExec(`UPDATE applications SET status`).
		WithArgs("Issued", "March 3, 2026", "Maria Santos", fixedNow, "app-1", statuses(models.StatusPaid)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, approver.ID, audit.ActionPermitIssued, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyUser", mock.Anything, creator.ID, mock.Anything, mock.Anything).Once()

	app, err := h.svc.Issue(context.Background(), approver, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "March 3, 2026", *app.ValidityDate)
	h.verify(t)
}

func TestIssue_CustomValidityWithoutDate(t *testing.T) {
	h := newHarness(t)
	h.catalog.On("PermitType", mock.Anything, "pt-1").
		Return(&models.PermitType{ID: "pt-1", ValidityPolicy: models.ValidityCustom}, nil)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPaid)
	h.sql.ExpectQuery(`SELECT name, value FROM application_parameters`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}))
	h.sql.ExpectRollback()

	_, err := h.svc.Issue(context.Background(), approver, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	h.verify(t)
}

func TestRelease(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Release(context.Background(), approver, "app-1", ReleaseInput{ReleasedBy: "Maria Santos"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusIssued)
	h.sql.ExpectExec(`UPDATE applications SET status = \$1, updated_at = NOW\(\), released_by = \$2, received_by = \$3, released_at = \$4`).
		WithArgs("Released", "Maria Santos", "Ana Cruz", fixedNow, "app-1", statuses(models.StatusIssued)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, approver.ID, audit.ActionPermitReleased, mock.Anything, mock.Anything).Once()

	app, err := h.svc.Release(context.Background(), approver, "app-1", ReleaseInput{ReleasedBy: "Maria Santos", ReceivedBy: " Ana Cruz "})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, app.Status)
	assert.Equal(t, "Ana Cruz", *app.ReceivedBy)
	h.verify(t)
}

func TestRenew_ClonesIntoNewPendingApplication(t *testing.T) {
	h := newHarness(t)
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusReleased)
	h.sql.ExpectQuery(`SELECT name, value FROM application_parameters`).WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow("Floor Area", "24 sqm"))
	h.sql.ExpectQuery(`SELECT last_value FROM sequence_counters`).WithArgs("2025-11").
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(3))
	h.sql.ExpectExec(`UPDATE sequence_counters SET last_value = \$2`).WithArgs("2025-11", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectExec(`INSERT INTO applications \(.+, renewed_from_id\)`).
		WithArgs(sqlmock.AnyArg(), "2025-11-004", "biz-1", "pt-1", "Pending", creator.ID, fixedNow, fixedNow, "app-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectExec(`INSERT INTO application_parameters`).WithArgs(sqlmock.AnyArg(), "Floor Area", "24 sqm").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.sql.ExpectCommit()
	h.audit.On("Record", mock.Anything, creator.ID, audit.ActionApplicationRenewed, mock.Anything, mock.Anything).Once()
	h.notifier.On("NotifyRole", mock.Anything, "Assessor", mock.Anything, mock.Anything).Once()

	app, err := h.svc.Renew(context.Background(), creator, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "2025-11-004", app.Number())
	assert.Equal(t, models.StatusPending, app.Status)
	require.NotNil(t, app.RenewedFromID)
	assert.Equal(t, "app-1", *app.RenewedFromID)
	h.verify(t)
}

func TestRenew_OnlyFromIssuedOrReleased(t *testing.T) {
	h := newHarness(t)
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPaid)
	h.sql.ExpectRollback()

	_, err := h.svc.Renew(context.Background(), creator, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	h.verify(t)
}

func TestDelete(t *testing.T) {
	t.Run("admin cannot delete past Pending", func(t *testing.T) {
		h := newHarness(t)
		h.sql.ExpectBegin()
		h.expectApplication("app-1", models.StatusApproved)
		h.sql.ExpectRollback()

		err := h.svc.Delete(context.Background(), admin, "app-1")
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
		h.verify(t)
	})

	t.Run("superadmin deletes from any status", func(t *testing.T) {
		h := newHarness(t)
		h.sql.ExpectBegin()
		h.expectApplication("app-1", models.StatusApproved)
		h.sql.ExpectExec(`UPDATE audit_log SET application_id = NULL WHERE application_id = \$1`).WithArgs("app-1").
			WillReturnResult(sqlmock.NewResult(0, 4))
		h.sql.ExpectExec(`DELETE FROM applications WHERE id = \$1 AND status = ANY\(\$2\)`).
			WithArgs("app-1", statuses(models.StatusApproved)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		h.sql.ExpectCommit()
		h.audit.On("Record", mock.Anything, super.ID, audit.ActionApplicationDeleted, mock.Anything, (*string)(nil)).Once()

		require.NoError(t, h.svc.Delete(context.Background(), super, "app-1"))
		h.verify(t)
	})

	t.Run("creator deletes pending", func(t *testing.T) {
		h := newHarness(t)
		h.sql.ExpectBegin()
		h.expectApplication("app-1", models.StatusPending)
		h.sql.ExpectExec(`UPDATE audit_log`).WillReturnResult(sqlmock.NewResult(0, 1))
		h.sql.ExpectExec(`DELETE FROM applications`).
			WithArgs("app-1", statuses(models.StatusPending)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		h.sql.ExpectCommit()
		h.audit.On("Record", mock.Anything, creator.ID, audit.ActionApplicationDeleted, mock.Anything, (*string)(nil)).Once()

		require.NoError(t, h.svc.Delete(context.Background(), creator, "app-1"))
		h.verify(t)
	})
}

func TestGetApplication_WithoutRecord(t *testing.T) {
	h := newHarness(t)
	h.sql.ExpectBegin()
	h.expectApplication("app-1", models.StatusPending)
	h.sql.ExpectQuery(`SELECT name, value FROM application_parameters`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}))
	h.sql.ExpectQuery(`SELECT .+ FROM assessed_fees WHERE application_id = \$1`).
		WillReturnRows(sqlmock.NewRows(feeColumns).
			AddRow("line-1", "app-1", "fee-mayors", "Mayor's Permit Fee", "500.00", 1, "500.00", assessor.ID, appCreated, appCreated))
	h.sql.ExpectQuery(`SELECT .+ FROM assessment_records WHERE application_id = \$1`).WillReturnError(sql.ErrNoRows)
	h.sql.ExpectQuery(`SELECT .+ FROM payments WHERE application_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "amount", "reference", "recorded_by", "paid_at"}))
	h.sql.ExpectCommit()

	snap, err := h.svc.GetApplication(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Nil(t, snap.Record)
	assert.Len(t, snap.Fees, 1)
	assert.True(t, snap.TotalPaid.IsZero())
	h.verify(t)
}

func TestRun_DeadlineBecomesTimeout(t *testing.T) {
	h := newHarness(t)
	h.svc.txTimeout = 20 * time.Millisecond

	h.sql.ExpectBegin()
	h.sql.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1`).
		WillDelayFor(500 * time.Millisecond).
		WillReturnError(sql.ErrNoRows)
	h.sql.ExpectRollback()

	_, err := h.svc.Approve(context.Background(), approver, "app-1")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeTimeout, stdErr.Code)
}
