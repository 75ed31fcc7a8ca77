package repository

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

var userRowColumns = []string{"id", "telegram_id", "username", "first_name", "last_name", "language", "credits", "referred_by", "is_blocked", "created_at", "updated_at", "last_active_at"}

func TestUserRepository_FindByTelegramID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db, testLogger())
	now := time.Now()

	mock.ExpectQuery("FROM users WHERE telegram_id = \\$1").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(1, 100, "anna", "Anna", "", "ru", 5, 7, false, now, now, now))

	user, err := repo.FindByTelegramID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, 5, user.Credits)
	require.NotNil(t, user.ReferredBy)
	assert.Equal(t, int64(7), *user.ReferredBy)

	mock.ExpectQuery("FROM users WHERE telegram_id = \\$1").
		WithArgs(int64(200)).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByTelegramID(context.Background(), 200)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db, testLogger())

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Create(context.Background(), &domain.User{TelegramID: 100, Language: "ru"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUserRepository_DebitCredits(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db, testLogger())

	mock.ExpectExec("UPDATE users SET credits = credits - \\$2").
		WithArgs(int64(1), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET credits = credits - \\$2").
		WithArgs(int64(1), 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DebitCredits(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DebitCredits(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserRepository_SetReferrerRefusesCycle(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db, testLogger())

	// user 7 was already referred by user 1
	mock.ExpectExec("UPDATE users SET referred_by = \\$2.*NOT EXISTS \\(SELECT 1 FROM users r WHERE r.id = \\$2 AND r.referred_by = \\$1\\)").
		WithArgs(int64(1), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetReferrer(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactorCommitsAndRollsBack(t *testing.T) {
	db, mock := newMock(t)
	tx := NewTransactor(db, testLogger())
	users := NewUserRepository(db, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE users SET credits = GREATEST").
		WithArgs(int64(1), 10).
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(15))
	mock.ExpectCommit()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		credits, err := users.AddCredits(ctx, 1, 10)
		assert.Equal(t, 15, credits)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = tx.WithinTx(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestTaskRepository_CompleteIsConditional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTaskRepository(db, testLogger())

	mock.ExpectExec("UPDATE kie_tasks SET status = 'completed'").
		WithArgs(int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE kie_tasks SET status = 'completed'").
		WithArgs(int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Complete(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskRepository_AddPhotosSkipsKnownURLs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTaskRepository(db, testLogger())
	now := time.Now()
	task := &domain.GenerationTask{ID: 3, AvatarID: 2, UserID: 1}

	mock.ExpectQuery("INSERT INTO generated_photos").
		WithArgs(int64(3), int64(2), int64(1), "https://cdn/a.png").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(10, now))
	mock.ExpectQuery("INSERT INTO generated_photos").
		WithArgs(int64(3), int64(2), int64(1), "https://cdn/b.png").
		WillReturnError(sql.ErrNoRows)

	photos, err := repo.AddPhotos(context.Background(), task, []string{"https://cdn/a.png", "https://cdn/b.png"})
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, int64(10), photos[0].ID)
}

func TestReferralRepository_InsertEarningOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReferralRepository(db, testLogger())
	now := time.Now()

	mock.ExpectQuery("INSERT INTO referral_earnings").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))
	mock.ExpectQuery("INSERT INTO referral_earnings").
		WillReturnError(sql.ErrNoRows)

	earning := &domain.ReferralEarning{ReferrerID: 1, ReferredID: 2, PaymentID: 9, Amount: 2990, Percent: 10}

	inserted, err := repo.InsertEarning(context.Background(), earning)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertEarning(context.Background(), earning)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestReferralRepository_BalanceDefaultsToZero(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReferralRepository(db, testLogger())

	mock.ExpectQuery("FROM referral_balances").WithArgs(int64(4)).WillReturnError(sql.ErrNoRows)

	b, err := repo.Balance(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), b.UserID)
	assert.Zero(t, b.Balance)
}

func TestSessionRepository_RoundTrip(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db, testLogger())
	now := time.Now()

	mock.ExpectQuery("INSERT INTO telegram_sessions").
		WithArgs(int64(55), state.StateEnteringPrompt, []byte(`{"avatar_id":3}`)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	st := &state.UserState{UserID: 55, CurrentState: state.StateEnteringPrompt, Context: map[string]any{state.KeyAvatarID: 3}}
	require.NoError(t, repo.SetState(context.Background(), 55, st))
	assert.Equal(t, now, st.UpdatedAt)

	mock.ExpectQuery("FROM telegram_sessions WHERE telegram_id = \\$1").
		WithArgs(int64(55)).
		WillReturnRows(sqlmock.NewRows([]string{"telegram_id", "state", "data", "updated_at"}).
			AddRow(55, "entering_prompt", []byte(`{"avatar_id":3}`), now))

	got, err := repo.GetState(context.Background(), 55)
	require.NoError(t, err)
	id, ok := got.Int64(state.KeyAvatarID)
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	mock.ExpectQuery("FROM telegram_sessions WHERE telegram_id = \\$1").
		WithArgs(int64(56)).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetState(context.Background(), 56)
	assert.ErrorIs(t, err, state.ErrStateNotFound)
}
