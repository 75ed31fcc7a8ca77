package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/internal/jobs"
)

type purgerMock struct {
	mock.Mock
}

func (m *purgerMock) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type sweeperMock struct {
	mock.Mock
}

func (m *sweeperMock) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

func TestPurgeMessagesHandler(t *testing.T) {
	store := &purgerMock{}
	store.On("Purge", mock.Anything, 72*time.Hour).Return(int64(12), nil)

	task, err := jobs.NewPurgeMessagesTask(72 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, NewPurgeMessagesHandler(store, nil).ProcessTask(context.Background(), task))
	store.AssertExpectations(t)
}

func TestPurgeMessagesHandlerPropagatesFailure(t *testing.T) {
	store := &purgerMock{}
	store.On("Purge", mock.Anything, time.Hour).Return(int64(0), errors.New("db down"))

	task, err := jobs.NewPurgeMessagesTask(time.Hour)
	require.NoError(t, err)

	err = NewPurgeMessagesHandler(store, nil).ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSweepStaleHandler(t *testing.T) {
	gen := &sweeperMock{}
	gen.On("SweepStale", mock.Anything, 30*time.Minute).Return(2, nil)

	task, err := jobs.NewSweepStaleTask(30 * time.Minute)
	require.NoError(t, err)

	require.NoError(t, NewSweepStaleHandler(gen, nil).ProcessTask(context.Background(), task))
	gen.AssertExpectations(t)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(jobs.TaskTypeSweepStale, []byte("{"))

	err := NewSweepStaleHandler(&sweeperMock{}, nil).ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskConstructorsRejectNonPositive(t *testing.T) {
	_, err := jobs.NewPurgeMessagesTask(0)
	assert.Error(t, err)
	_, err = jobs.NewSweepStaleTask(-time.Minute)
	assert.Error(t, err)
}
