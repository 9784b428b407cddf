// internal/permit/store/store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"permit-workers/internal/common/database"
	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store holds the SQL for applications and their dependents. It never
// begins or commits; callers own the transaction.
type Store struct {
	renewalLink bool
}

func New(caps database.Capabilities) *Store {
	return &Store{renewalLink: caps.RenewalLink}
}

func (s *Store) applicationColumns() string {
	renewed := "renewed_from_id"
	if !s.renewalLink {
		renewed = "NULL AS renewed_from_id"
	}
	return `id, application_number, business_id, permit_type_id, status, created_by,
		assessor_id, approver_id, rejection_reason, validity_date,
		issued_by, issued_at, released_by, received_by, released_at, ` + renewed + `,
		created_at, updated_at`
}

func (s *Store) GetApplication(ctx context.Context, q Querier, id string) (*models.Application, error) {
	return s.getApplication(ctx, q, id, "")
}

// LockApplication loads the application and holds its row lock until tx
// ends. Fee line writes take a share lock on the same row, so they wait for
// the holder and then see its status change.
func (s *Store) LockApplication(ctx context.Context, tx *sql.Tx, id string) (*models.Application, error) {
	return s.getApplication(ctx, tx, id, " FOR UPDATE")
}

func (s *Store) getApplication(ctx context.Context, q Querier, id, lock string) (*models.Application, error) {
	query := `SELECT ` + s.applicationColumns() + ` FROM applications WHERE id = $1` + lock

	var app models.Application
	var status string
	err := q.QueryRowContext(ctx, query, id).Scan(
		&app.ID, &app.ApplicationNumber, &app.BusinessID, &app.PermitTypeID, &status, &app.CreatedBy,
		&app.AssessorID, &app.ApproverID, &app.RejectionReason, &app.ValidityDate,
		&app.IssuedBy, &app.IssuedAt, &app.ReleasedBy, &app.ReceivedBy, &app.ReleasedAt, &app.RenewedFromID,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("application", id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load application", err)
	}
	app.Status = models.Status(status)
	return &app, nil
}

func (s *Store) InsertApplication(ctx context.Context, tx *sql.Tx, app *models.Application) error {
	cols := []string{"id", "application_number", "business_id", "permit_type_id", "status", "created_by", "created_at", "updated_at"}
	args := []interface{}{app.ID, app.ApplicationNumber, app.BusinessID, app.PermitTypeID, string(app.Status), app.CreatedBy, app.CreatedAt, app.UpdatedAt}
	if s.renewalLink && app.RenewedFromID != nil {
		cols = append(cols, "renewed_from_id")
		args = append(args, *app.RenewedFromID)
	}

	query := fmt.Sprintf(`INSERT INTO applications (%s) VALUES (%s)`, strings.Join(cols, ", "), placeholders(1, len(cols)))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.NewAllocationFailure(app.Number(), fmt.Errorf("application number already taken: %w", err))
		}
		return apperrors.NewDatabaseError("insert application", err)
	}
	return nil
}

// RenewalLinked reports whether renewals record their source application.
func (s *Store) RenewalLinked() bool {
	return s.renewalLink
}

// Assignment is one extra column written alongside a status change.
type Assignment struct {
	Column string
	Value  interface{}
}

func Set(column string, value interface{}) Assignment {
	return Assignment{Column: column, Value: value}
}

// Transition moves the application to `to` only if its status is still one
// of `from`. Zero rows updated means someone else moved it first.
func (s *Store) Transition(ctx context.Context, tx *sql.Tx, id string, from []models.Status, to models.Status, sets ...Assignment) error {
	var b strings.Builder
	args := []interface{}{string(to)}
	b.WriteString(`UPDATE applications SET status = $1, updated_at = NOW()`)
	for _, a := range sets {
		args = append(args, a.Value)
		fmt.Fprintf(&b, ", %s = $%d", a.Column, len(args))
	}
	args = append(args, id, statusArray(from))
	fmt.Fprintf(&b, " WHERE id = $%d AND status = ANY($%d)", len(args)-1, len(args))

	res, err := tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return apperrors.NewDatabaseError("update application status", err)
	}
	return requireRow(res, id, from)
}

// DeleteApplication removes the application and, through cascades, its
// parameters, fee lines, assessment record and payments. Audit rows are kept
// and lose their application reference.
func (s *Store) DeleteApplication(ctx context.Context, tx *sql.Tx, id string, expected models.Status) error {
	if _, err := tx.ExecContext(ctx, `UPDATE audit_log SET application_id = NULL WHERE application_id = $1`, id); err != nil {
		return apperrors.NewDatabaseError("detach audit entries", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE id = $1 AND status = ANY($2)`, id, statusArray([]models.Status{expected}))
	if err != nil {
		return apperrors.NewDatabaseError("delete application", err)
	}
	return requireRow(res, id, []models.Status{expected})
}

func (s *Store) InsertParameters(ctx context.Context, tx *sql.Tx, applicationID string, params []models.ApplicationParameter) error {
	for _, p := range params {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO application_parameters (application_id, name, value) VALUES ($1, $2, $3)
			 ON CONFLICT (application_id, name) DO UPDATE SET value = EXCLUDED.value`,
			applicationID, p.Name, p.Value)
		if err != nil {
			return apperrors.NewDatabaseError("insert application parameter", err)
		}
	}
	return nil
}

func (s *Store) ListParameters(ctx context.Context, q Querier, applicationID string) ([]models.ApplicationParameter, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, value FROM application_parameters WHERE application_id = $1 ORDER BY name`, applicationID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list application parameters", err)
	}
	defer rows.Close()

	params := []models.ApplicationParameter{}
	for rows.Next() {
		var p models.ApplicationParameter
		if err := rows.Scan(&p.Name, &p.Value); err != nil {
			return nil, apperrors.NewDatabaseError("scan application parameter", err)
		}
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list application parameters", err)
	}
	return params, nil
}

const feeColumns = `id, application_id, fee_id, description, unit_amount, quantity, amount, assessed_by, created_at, updated_at`

func scanFee(sc interface{ Scan(...interface{}) error }) (models.AssessedFee, error) {
	var f models.AssessedFee
	err := sc.Scan(&f.ID, &f.ApplicationID, &f.FeeID, &f.Description, &f.UnitAmount, &f.Quantity,
		&f.Amount, &f.AssessedBy, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func (s *Store) ListAssessedFees(ctx context.Context, q Querier, applicationID string) ([]models.AssessedFee, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+feeColumns+` FROM assessed_fees WHERE application_id = $1 ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list assessed fees", err)
	}
	defer rows.Close()

	fees := []models.AssessedFee{}
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan assessed fee", err)
		}
		fees = append(fees, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list assessed fees", err)
	}
	return fees, nil
}

func (s *Store) GetAssessedFee(ctx context.Context, q Querier, applicationID, id string) (*models.AssessedFee, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+feeColumns+` FROM assessed_fees WHERE id = $1 AND application_id = $2`, id, applicationID)
	f, err := scanFee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("assessed fee", id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load assessed fee", err)
	}
	return &f, nil
}

// InsertAssessedFee adds a fee line only while the application is still in
// one of the allowed statuses. The guard share-locks the application row.
func (s *Store) InsertAssessedFee(ctx context.Context, tx *sql.Tx, f *models.AssessedFee, allowed []models.Status) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO assessed_fees (`+feeColumns+`)
		SELECT $1, $2, $3, $4, $5::numeric, $6::integer, $7::numeric, $8, $9::timestamptz, $9::timestamptz
		WHERE EXISTS (SELECT 1 FROM applications WHERE id = $2 AND status = ANY($10) FOR SHARE)`,
		f.ID, f.ApplicationID, f.FeeID, f.Description, f.UnitAmount, f.Quantity, f.Amount, f.AssessedBy, f.CreatedAt,
		statusArray(allowed))
	if err != nil {
		return apperrors.NewDatabaseError("insert assessed fee", err)
	}
	return requireRow(res, f.ApplicationID, allowed)
}

func (s *Store) UpdateAssessedFee(ctx context.Context, tx *sql.Tx, f *models.AssessedFee, allowed []models.Status) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE assessed_fees
		SET fee_id = $3, description = $4, unit_amount = $5, quantity = $6, amount = $7, assessed_by = $8, updated_at = NOW()
		WHERE id = $1 AND application_id = $2
		  AND EXISTS (SELECT 1 FROM applications WHERE id = $2 AND status = ANY($9) FOR SHARE)`,
		f.ID, f.ApplicationID, f.FeeID, f.Description, f.UnitAmount, f.Quantity, f.Amount, f.AssessedBy,
		statusArray(allowed))
	if err != nil {
		return apperrors.NewDatabaseError("update assessed fee", err)
	}
	return requireRow(res, f.ApplicationID, allowed)
}

func (s *Store) DeleteAssessedFee(ctx context.Context, tx *sql.Tx, applicationID, id string, allowed []models.Status) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM assessed_fees
		WHERE id = $1 AND application_id = $2
		  AND EXISTS (SELECT 1 FROM applications WHERE id = $2 AND status = ANY($3) FOR SHARE)`,
		id, applicationID, statusArray(allowed))
	if err != nil {
		return apperrors.NewDatabaseError("delete assessed fee", err)
	}
	return requireRow(res, applicationID, allowed)
}

// UpsertAssessmentRecord writes the one record an application may have and
// returns its id. A second submission overwrites the totals in place.
func (s *Store) UpsertAssessmentRecord(ctx context.Context, tx *sql.Tx, r *models.AssessmentRecord) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO assessment_records (
			id, application_id, business_name, owner_name, address,
			total_balance_due, total_surcharge, total_interest, total_amount_due,
			q1, q2, q3, q4, valid_until, prepared_by, approved_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULL, $16, $16)
		ON CONFLICT (application_id) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			owner_name = EXCLUDED.owner_name,
			address = EXCLUDED.address,
			total_balance_due = EXCLUDED.total_balance_due,
			total_surcharge = EXCLUDED.total_surcharge,
			total_interest = EXCLUDED.total_interest,
			total_amount_due = EXCLUDED.total_amount_due,
			q1 = EXCLUDED.q1, q2 = EXCLUDED.q2, q3 = EXCLUDED.q3, q4 = EXCLUDED.q4,
			valid_until = EXCLUDED.valid_until,
			prepared_by = EXCLUDED.prepared_by,
			approved_by = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		r.ID, r.ApplicationID, r.BusinessName, r.OwnerName, r.Address,
		r.TotalBalanceDue, r.TotalSurcharge, r.TotalInterest, r.TotalAmountDue,
		r.Q1, r.Q2, r.Q3, r.Q4, r.ValidUntil, r.PreparedBy, r.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return "", apperrors.NewDatabaseError("upsert assessment record", err)
	}
	return id, nil
}

// ReplaceAssessmentRecordFees discards every line of the record and writes
// fees in their place.
func (s *Store) ReplaceAssessmentRecordFees(ctx context.Context, tx *sql.Tx, recordID string, fees []models.AssessmentRecordFee) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM assessment_record_fees WHERE assessment_record_id = $1`, recordID); err != nil {
		return apperrors.NewDatabaseError("clear assessment record fees", err)
	}
	for _, f := range fees {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assessment_record_fees (id, assessment_record_id, fee_id, description, balance_due, surcharge, interest, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			f.ID, recordID, f.FeeID, f.Description, f.BalanceDue, f.Surcharge, f.Interest, f.Total)
		if err != nil {
			return apperrors.NewDatabaseError("insert assessment record fee", err)
		}
	}
	return nil
}

func (s *Store) GetAssessmentRecord(ctx context.Context, q Querier, applicationID string) (*models.AssessmentRecord, error) {
	var r models.AssessmentRecord
	err := q.QueryRowContext(ctx, `
		SELECT id, application_id, business_name, owner_name, address,
			total_balance_due, total_surcharge, total_interest, total_amount_due,
			q1, q2, q3, q4, valid_until, prepared_by, approved_by, created_at, updated_at
		FROM assessment_records WHERE application_id = $1`, applicationID,
	).Scan(&r.ID, &r.ApplicationID, &r.BusinessName, &r.OwnerName, &r.Address,
		&r.TotalBalanceDue, &r.TotalSurcharge, &r.TotalInterest, &r.TotalAmountDue,
		&r.Q1, &r.Q2, &r.Q3, &r.Q4, &r.ValidUntil, &r.PreparedBy, &r.ApprovedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("assessment record", applicationID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load assessment record", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, assessment_record_id, fee_id, description, balance_due, surcharge, interest, total
		FROM assessment_record_fees WHERE assessment_record_id = $1 ORDER BY id`, r.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list assessment record fees", err)
	}
	defer rows.Close()

	r.Fees = []models.AssessmentRecordFee{}
	for rows.Next() {
		var f models.AssessmentRecordFee
		if err := rows.Scan(&f.ID, &f.AssessmentRecordID, &f.FeeID, &f.Description,
			&f.BalanceDue, &f.Surcharge, &f.Interest, &f.Total); err != nil {
			return nil, apperrors.NewDatabaseError("scan assessment record fee", err)
		}
		r.Fees = append(r.Fees, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list assessment record fees", err)
	}
	return &r, nil
}

func (s *Store) SetRecordApprover(ctx context.Context, tx *sql.Tx, applicationID, approverID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE assessment_records SET approved_by = $2, updated_at = NOW() WHERE application_id = $1`,
		applicationID, approverID)
	if err != nil {
		return apperrors.NewDatabaseError("record assessment approver", err)
	}
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, tx *sql.Tx, p *models.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (id, application_id, amount, reference, recorded_by, paid_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.ApplicationID, p.Amount, p.Reference, p.RecordedBy, p.PaidAt)
	if err != nil {
		return apperrors.NewDatabaseError("insert payment", err)
	}
	return nil
}

// TotalPaid sums every payment recorded against the application.
func (s *Store) TotalPaid(ctx context.Context, q Querier, applicationID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE application_id = $1`, applicationID).Scan(&total)
	if err != nil {
		return decimal.Zero, apperrors.NewDatabaseError("sum payments", err)
	}
	return total, nil
}

func (s *Store) ListPayments(ctx context.Context, q Querier, applicationID string) ([]models.Payment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, application_id, amount, reference, recorded_by, paid_at FROM payments WHERE application_id = $1 ORDER BY paid_at, id`,
		applicationID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list payments", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.ApplicationID, &p.Amount, &p.Reference, &p.RecordedBy, &p.PaidAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan payment", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list payments", err)
	}
	return payments, nil
}

func requireRow(res sql.Result, id string, expected []models.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("rows affected", err)
	}
	if n == 0 {
		return apperrors.NewConflictError(id, joinStatuses(expected))
	}
	return nil
}

func statusArray(statuses []models.Status) interface{} {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func joinStatuses(statuses []models.Status) string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return strings.Join(out, "|")
}

func placeholders(start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}
