package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertEventRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAlertEventRepository(db, logger)

	return db, mock, repo
}

func TestCreateAlertEvent_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	lat, lng, nearest := 30.25, 76.78, 42.0
	triggeredAt := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	event := &models.AlertEvent{
		AlertLevel:    models.AlertCritical,
		PreviousLevel: models.AlertNone,
		Message:       "Human detected in the water",
		Detection:     models.DetectionPresent,
		Latitude:      &lat,
		Longitude:     &lng,
		NearestCM:     &nearest,
		Revision:      7,
		TriggerData:   `{"revision":7}`,
		TriggeredAt:   triggeredAt,
	}

	mock.ExpectExec(`INSERT INTO alert_events`).
		WithArgs(sqlmock.AnyArg(), "critical", "none", "Human detected in the water", "present",
			&lat, &lng, &nearest, int64(7), `{"revision":7}`, triggeredAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateAlertEvent(context.Background(), event)

	require.NoError(t, err)
	assert.Len(t, event.EventID, 36)
	assert.False(t, event.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlertEvent_InvalidLevel(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	err := repo.CreateAlertEvent(context.Background(), &models.AlertEvent{AlertLevel: "panic"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid alert_level")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlertEvent_DBError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO alert_events`).
		WillReturnError(errors.New("connection reset"))

	err := repo.CreateAlertEvent(context.Background(), &models.AlertEvent{AlertLevel: models.AlertWarning})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create alert event")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentAlertEvents_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	triggeredAt := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"event_id", "alert_level", "previous_level", "message", "detection",
		"latitude", "longitude", "nearest_cm", "revision", "trigger_data", "triggered_at", "created_at",
	}).AddRow(
		"6f1c2b9e-0000-4000-8000-000000000001", "critical", "none", "Human detected in the water", "present",
		30.25, 76.78, 42.0, int64(7), `{}`, triggeredAt, triggeredAt,
	).AddRow(
		"6f1c2b9e-0000-4000-8000-000000000002", "warning", "none", "Live feed degraded (sensor), human presence unknown", "unknown",
		nil, nil, nil, int64(3), `{}`, triggeredAt.Add(-time.Minute), triggeredAt.Add(-time.Minute),
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("", 50).
		WillReturnRows(rows)

	events, err := repo.ListRecentAlertEvents(context.Background(), "", 0)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AlertCritical, events[0].AlertLevel)
	assert.Equal(t, models.DetectionPresent, events[0].Detection)
	require.NotNil(t, events[0].NearestCM)
	assert.Equal(t, 42.0, *events[0].NearestCM)
	assert.Equal(t, uint64(7), events[0].Revision)
	assert.Equal(t, models.AlertWarning, events[1].AlertLevel)
	assert.Nil(t, events[1].Latitude)
	assert.Equal(t, models.DetectionUnknown, events[1].Detection)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentAlertEvents_FilterByLevel(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("critical", 10).
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))

	events, err := repo.ListRecentAlertEvents(context.Background(), models.AlertCritical, 10)

	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS alert_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
