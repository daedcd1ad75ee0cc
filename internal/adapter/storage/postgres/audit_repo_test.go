package postgres

import (
	"context"
	"testing"

	"ledger-settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepository(mock)
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		PrincipalID:  "ops-1",
		Action:       domain.AuditActionCloseAccount,
		ResourceType: "account",
		ResourceID:   uuid.NewString(),
		Details:      `{"status":200}`,
		IPAddress:    "10.0.0.1",
		CreatedAt:    testNow,
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, "ops-1", "ACCOUNT_CLOSE", "account", entry.ResourceID,
			`{"status":200}`, "10.0.0.1", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Create_EmptyDetails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepository(mock)
	entry := &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionReleaseHold, ResourceType: "hold", CreatedAt: testNow}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, "", "HOLD_RELEASE", "hold", "", nil, "", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}
