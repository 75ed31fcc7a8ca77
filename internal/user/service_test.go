package user

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/internal/usercache"
	"github.com/Proton-105/photostudio/pkg/redis"
)

type userRepoMock struct {
	mock.Mock
	repository.UserRepository
}

func (m *userRepoMock) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *userRepoMock) FindByTelegramID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *userRepoMock) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	if args.Error(0) == nil {
		u.ID = 1
	}
	return args.Error(0)
}

func (m *userRepoMock) UpdateProfile(ctx context.Context, id int64, p domain.TelegramProfile) error {
	return m.Called(ctx, id, p).Error(0)
}

func (m *userRepoMock) AddCredits(ctx context.Context, id int64, delta int) (int, error) {
	args := m.Called(ctx, id, delta)
	return args.Int(0), args.Error(1)
}

func newService(t *testing.T, repo *userRepoMock) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := usercache.NewCache(redis.NewMetricsClient(redis.Wrap(rdb)), time.Minute)
	return NewService(repo, cache, 3, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestEnsureRegistersNewUser(t *testing.T) {
	repo := &userRepoMock{}
	svc, _ := newService(t, repo)
	ctx := context.Background()

	repo.On("FindByTelegramID", ctx, int64(100)).Return(nil, fmt.Errorf("select: %w", repository.ErrNotFound))
	repo.On("Create", ctx, mock.MatchedBy(func(u *domain.User) bool {
		return u.TelegramID == 100 && u.Credits == 3 && u.Language == "en"
	})).Return(nil)

	u, created, err := svc.Ensure(ctx, domain.TelegramProfile{TelegramID: 100, FirstName: "Ann", Language: "en-US"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), u.ID)
	repo.AssertExpectations(t)
}

func TestEnsureReturnsExistingUser(t *testing.T) {
	repo := &userRepoMock{}
	svc, _ := newService(t, repo)
	ctx := context.Background()

	existing := &domain.User{ID: 5, TelegramID: 100, FirstName: "Ann"}
	repo.On("FindByTelegramID", ctx, int64(100)).Return(existing, nil)

	u, created, err := svc.Ensure(ctx, domain.TelegramProfile{TelegramID: 100, FirstName: "Ann"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(5), u.ID)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestEnsureHandlesConcurrentRegistration(t *testing.T) {
	repo := &userRepoMock{}
	svc, _ := newService(t, repo)
	ctx := context.Background()

	repo.On("FindByTelegramID", ctx, int64(100)).Return(nil, repository.ErrNotFound).Once()
	repo.On("Create", ctx, mock.Anything).Return(repository.ErrDuplicate)
	repo.On("FindByTelegramID", ctx, int64(100)).Return(&domain.User{ID: 9, TelegramID: 100}, nil).Once()

	u, created, err := svc.Ensure(ctx, domain.TelegramProfile{TelegramID: 100})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(9), u.ID)
}

func TestGetUsesCache(t *testing.T) {
	repo := &userRepoMock{}
	svc, mr := newService(t, repo)
	ctx := context.Background()

	repo.On("FindByID", ctx, int64(5)).Return(&domain.User{ID: 5, Credits: 2}, nil).Once()

	for i := 0; i < 2; i++ {
		u, err := svc.Get(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, 2, u.Credits)
	}
	assert.True(t, mr.Exists("photostudio:user:v1:5"))
	repo.AssertNumberOfCalls(t, "FindByID", 1)
}

func TestGetNotFound(t *testing.T) {
	repo := &userRepoMock{}
	svc, _ := newService(t, repo)
	ctx := context.Background()

	repo.On("FindByID", ctx, int64(5)).Return(nil, repository.ErrNotFound)

	_, err := svc.Get(ctx, 5)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestAdjustCreditsInvalidatesCache(t *testing.T) {
	repo := &userRepoMock{}
	svc, mr := newService(t, repo)
	ctx := context.Background()

	require.NoError(t, mr.Set("photostudio:user:v1:5", `{"id":5,"credits":1}`))
	repo.On("AddCredits", ctx, int64(5), 10).Return(11, nil)

	balance, err := svc.AdjustCredits(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 11, balance)
	assert.False(t, mr.Exists("photostudio:user:v1:5"))

	_, err = svc.AdjustCredits(ctx, 5, 0)
	assert.Error(t, err)
}

func TestNormalizeLang(t *testing.T) {
	assert.Equal(t, "en", normalizeLang("en-GB"))
	assert.Equal(t, "ru", normalizeLang("RU"))
	assert.Equal(t, "ru", normalizeLang("de"))
}
