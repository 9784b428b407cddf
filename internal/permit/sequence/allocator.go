// internal/permit/sequence/allocator.go
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	apperrors "permit-workers/internal/common/errors"
)

const (
	selectForUpdateQuery = `SELECT last_value FROM sequence_counters WHERE period_key = $1 FOR UPDATE`
	seedQuery            = `
		INSERT INTO sequence_counters (period_key, last_value, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (period_key) DO UPDATE
		SET last_value = sequence_counters.last_value + 1, updated_at = NOW()`
	advanceQuery = `UPDATE sequence_counters SET last_value = $2, updated_at = NOW() WHERE period_key = $1`
)

var numberPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{3,}$`)

// Allocator hands out period-scoped ordinals. It holds no state; every
// lock it takes lives in the caller's transaction.
type Allocator struct {
	location *time.Location
}

// NewAllocator returns an allocator that derives period keys in loc.
// A nil loc means UTC.
func NewAllocator(loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{location: loc}
}

// Allocate returns the next ordinal for periodKey. The counter row stays
// locked until tx ends, so a second allocator for the same period blocks
// here. A rolled back tx gives its ordinal back.
func (a *Allocator) Allocate(ctx context.Context, tx *sql.Tx, periodKey string) (int64, error) {
	if tx == nil {
		return 0, apperrors.NewAllocationFailure(periodKey, errors.New("allocation requires an open transaction"))
	}

	var current int64
	err := tx.QueryRowContext(ctx, selectForUpdateQuery, periodKey).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Two callers can both miss the row; the upsert serialises them and
		// the loser increments the winner's row instead of failing.
		if _, err := tx.ExecContext(ctx, seedQuery, periodKey); err != nil {
			return 0, apperrors.NewAllocationFailure(periodKey, fmt.Errorf("seed counter: %w", err))
		}
		var ordinal int64
		if err := tx.QueryRowContext(ctx, selectForUpdateQuery, periodKey).Scan(&ordinal); err != nil {
			return 0, apperrors.NewAllocationFailure(periodKey, fmt.Errorf("re-read counter: %w", err))
		}
		return ordinal, nil
	case err != nil:
		return 0, apperrors.NewAllocationFailure(periodKey, fmt.Errorf("lock counter: %w", err))
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx, advanceQuery, periodKey, next); err != nil {
		return 0, apperrors.NewAllocationFailure(periodKey, fmt.Errorf("advance counter: %w", err))
	}
	return next, nil
}

// NextNumber derives the period from now, allocates, and formats.
func (a *Allocator) NextNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	key := a.PeriodKey(now)
	ordinal, err := a.Allocate(ctx, tx, key)
	if err != nil {
		return "", err
	}
	return FormatNumber(key, ordinal), nil
}

// Location is the zone periods are derived in.
func (a *Allocator) Location() *time.Location {
	return a.location
}

// PeriodKey is the YYYY-MM of t in the allocator's location.
func (a *Allocator) PeriodKey(t time.Time) string {
	return PeriodKey(t.In(a.location))
}

func PeriodKey(t time.Time) string {
	return t.Format("2006-01")
}

// FormatNumber renders an application number such as 2025-11-007.
func FormatNumber(periodKey string, ordinal int64) string {
	return fmt.Sprintf("%s-%03d", periodKey, ordinal)
}

// ValidNumber reports whether s is a well formed application number.
func ValidNumber(s string) bool {
	return numberPattern.MatchString(s)
}
