package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (MessageStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresMessageStore(db, nil), mock
}

func TestClaimFirstDelivery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO qstash_processed_messages").
		WithArgs("msg_1", "qstash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := store.Claim(context.Background(), "msg_1", "qstash")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDuplicateDelivery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO qstash_processed_messages").
		WithArgs("msg_1", "qstash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := store.Claim(context.Background(), "msg_1", "qstash")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimRejectsEmptyID(t *testing.T) {
	store, mock := newMockStore(t)

	_, err := store.Claim(context.Background(), "  ", "qstash")
	assert.ErrorIs(t, err, ErrEmptyMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurge(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM qstash_processed_messages WHERE processed_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRecent(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT message_id, source, processed_at FROM qstash_processed_messages").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "source", "processed_at"}).
			AddRow("msg_2", "qstash", now).
			AddRow("msg_1", "qstash", now.Add(-time.Minute)))

	msgs, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg_2", msgs[0].MessageID)
}

func TestOnce(t *testing.T) {
	t.Run("first delivery runs handler", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO qstash_processed_messages").WillReturnResult(sqlmock.NewResult(0, 1))

		calls := 0
		dup, err := Once(context.Background(), store, "m", "qstash", nil, func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.False(t, dup)
		assert.Equal(t, 1, calls)
	})

	t.Run("duplicate skips handler", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO qstash_processed_messages").WillReturnResult(sqlmock.NewResult(0, 0))

		dup, err := Once(context.Background(), store, "m", "qstash", nil, func(context.Context) error {
			t.Fatal("handler must not run for a duplicate")
			return nil
		})
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("handler failure releases claim", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO qstash_processed_messages").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM qstash_processed_messages WHERE message_id").
			WithArgs("m").
			WillReturnResult(sqlmock.NewResult(0, 1))

		boom := errors.New("boom")
		dup, err := Once(context.Background(), store, "m", "qstash", nil, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, dup)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
