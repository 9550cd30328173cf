package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/shared"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLiteStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	s := New(db)
	s.retry = shared.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return db, mock, s
}

func TestApplyDailyResetRollsBackOnClearFailure(t *testing.T) {
	db, mock, s := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bot_state SET last_reset_date`).
		WithArgs("2025-03-10", "2025-03-10").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_rooms SET last_selection_date = NULL`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	applied, err := s.ApplyDailyReset(context.Background(), "2025-03-10")

	require.Error(t, err)
	assert.False(t, applied)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDailyResetSkipsClearWhenWatermarkCurrent(t *testing.T) {
	db, mock, s := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bot_state SET last_reset_date`).
		WithArgs("2025-03-10", "2025-03-10").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err := s.ApplyDailyReset(context.Background(), "2025-03-10")

	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRelayMappingsRetriesBusy(t *testing.T) {
	db, mock, s := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO relay_mappings`).
		WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO relay_mappings`).
		WithArgs(10, int64(500), int64(50), int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectCommit()

	err := s.SaveRelayMappings(context.Background(), &domain.RelayMapping{
		RelayMessageID: 10, OriginChatID: 500, OriginUserID: 50, CreatedAt: time.Unix(1_700_000_000, 0),
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRelayMappingQueryError(t *testing.T) {
	db, mock, s := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT relay_message_id, origin_chat_id, origin_user_id, created_at`).
		WithArgs(10).
		WillReturnError(errors.New("no such table: relay_mappings"))

	m, err := s.GetRelayMapping(context.Background(), 10)

	require.Error(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUserIDsScansRows(t *testing.T) {
	db, mock, s := setupMockStore(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"user_id"}).AddRow(int64(4)).AddRow(int64(9))
	mock.ExpectQuery(`SELECT user_id FROM user_rooms WHERE selected_room = \?`).
		WithArgs("room1").
		WillReturnRows(rows)

	ids, err := s.ListUserIDs(context.Background(), "room1")

	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
