package issuepermit

import (
	"context"
	"testing"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/models"
	"permit-workers/internal/permit/workflow"
	"permit-workers/internal/workers/permit/permitjob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Issue(ctx context.Context, actor workflow.Actor, applicationID string) (*models.Application, error) {
	args := m.Called(ctx, actor, applicationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func strPtr(s string) *string { return &s }

func TestHandler_Execute_Success(t *testing.T) {
	issuedAt := time.Date(2025, 11, 21, 1, 30, 0, 0, time.FixedZone("PHT", 8*3600))
	svc := new(MockService)
	svc.On("Issue", mock.Anything, workflow.Actor{ID: "user-approver", Name: "Maria Santos", Role: workflow.RoleApprover}, "app-1").
		Return(&models.Application{
			ID:                "app-1",
			ApplicationNumber: strPtr("2025-11-001"),
			Status:            models.StatusIssued,
			ValidityDate:      strPtr("2025-12-31"),
			IssuedBy:          strPtr("Maria Santos"),
			IssuedAt:          &issuedAt,
		}, nil)

	h := NewHandler(LoadConfig(nil), svc, nil, nil, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), &Input{
		Actor:         permitjob.ActorInput{ID: "user-approver", Name: "Maria Santos", Role: "Approver"},
		ApplicationID: "app-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Issued", out.Status)
	assert.Equal(t, "2025-12-31", out.ValidityDate)
	assert.Equal(t, "Maria Santos", out.IssuedBy)
	assert.Equal(t, "2025-11-20T17:30:00Z", out.IssuedAt)
	svc.AssertExpectations(t)
}

func TestHandler_Execute_ServiceError(t *testing.T) {
	svc := new(MockService)
	svc.On("Issue", mock.Anything, mock.Anything, "app-1").
		Return(nil, apperrors.NewValidationError("permit type Special Event needs a \"Date\" parameter"))

	h := NewHandler(LoadConfig(nil), svc, nil, nil, logger.NewNoOpLogger())
	_, err := h.Execute(context.Background(), &Input{
		Actor:         permitjob.ActorInput{ID: "user-approver", Role: "Approver"},
		ApplicationID: "app-1",
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
