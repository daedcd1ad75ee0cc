package postgres

import (
	"context"
	"testing"

	"ledger-settlement-engine/internal/core/domain"
	"ledger-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)
	alert := &domain.RiskAlert{
		ID:          uuid.New(),
		ClientRef:   "tx-9",
		AccountID:   uuid.New(),
		PrincipalID: "watched",
		Decision:    domain.DecisionReview,
		Score:       50,
		CreatedAt:   testNow,
	}

	mock.ExpectExec("INSERT INTO risk_alerts").
		WithArgs(alert.ID, "tx-9", alert.AccountID, "watched", "review", 50, pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), alert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_Create_DriverError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)
	mock.ExpectExec("INSERT INTO risk_alerts").WillReturnError(assert.AnError)

	err = repo.Create(context.Background(), &domain.RiskAlert{ID: uuid.New()})
	assert.Equal(t, apperror.KindStorageUnavailable, apperror.KindOf(err))
}

func TestAlertRepo_ListByAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)
	account := uuid.New()
	cols := []string{"id", "client_ref", "account_id", "principal_id", "decision", "score", "factors", "created_at"}

	mock.ExpectQuery("SELECT .+ FROM risk_alerts WHERE account_id .+ ORDER BY created_at DESC LIMIT").
		WithArgs(account, defaultAlertLimit).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), "tx-2", account, "p", "block", 90,
				[]byte(`[{"name":"kyc_tier","score":100,"weight":1,"contribution":100}]`), testNow).
			AddRow(uuid.New(), "tx-1", account, "p", "review", 40, []byte(`[]`), testNow.Add(-1)))

	alerts, err := repo.ListByAccount(context.Background(), account, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.DecisionBlock, alerts[0].Decision)
	require.Len(t, alerts[0].Factors, 1)
	assert.Equal(t, "kyc_tier", alerts[0].Factors[0].Name)
	assert.Equal(t, "tx-1", alerts[1].ClientRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}
