package generation

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/kie"
	"github.com/Proton-105/photostudio/internal/repository"
)

type usersMock struct {
	mock.Mock
	repository.UserRepository
}

func (m *usersMock) FindByID(_ context.Context, id int64) (*domain.User, error) {
	args := m.Called(id)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *usersMock) DebitCredits(_ context.Context, id int64, amount int) (bool, error) {
	args := m.Called(id, amount)
	return args.Bool(0), args.Error(1)
}

func (m *usersMock) AddCredits(_ context.Context, id int64, delta int) (int, error) {
	args := m.Called(id, delta)
	return args.Int(0), args.Error(1)
}

type avatarsMock struct {
	mock.Mock
	repository.AvatarRepository
}

func (m *avatarsMock) Create(_ context.Context, a *domain.Avatar) error {
	args := m.Called(a)
	a.ID = 10
	return args.Error(0)
}

func (m *avatarsMock) Get(_ context.Context, id int64) (*domain.Avatar, error) {
	args := m.Called(id)
	a, _ := args.Get(0).(*domain.Avatar)
	return a, args.Error(1)
}

func (m *avatarsMock) ListPhotos(_ context.Context, avatarID int64) ([]domain.ReferencePhoto, error) {
	args := m.Called(avatarID)
	p, _ := args.Get(0).([]domain.ReferencePhoto)
	return p, args.Error(1)
}

func (m *avatarsMock) CountPhotos(_ context.Context, avatarID int64) (int, error) {
	args := m.Called(avatarID)
	return args.Int(0), args.Error(1)
}

func (m *avatarsMock) AddPhoto(_ context.Context, p *domain.ReferencePhoto) error {
	return m.Called(p).Error(0)
}

func (m *avatarsMock) UpdateStatus(_ context.Context, id int64, status domain.AvatarStatus, cover string) error {
	return m.Called(id, status, cover).Error(0)
}

func (m *avatarsMock) Delete(_ context.Context, id int64) error {
	return m.Called(id).Error(0)
}

type tasksMock struct {
	mock.Mock
	repository.TaskRepository
}

func (m *tasksMock) Create(_ context.Context, t *domain.GenerationTask) error {
	args := m.Called(t)
	t.ID = 42
	return args.Error(0)
}

func (m *tasksMock) Get(_ context.Context, id int64) (*domain.GenerationTask, error) {
	args := m.Called(id)
	t, _ := args.Get(0).(*domain.GenerationTask)
	return t, args.Error(1)
}

func (m *tasksMock) GetByExternalID(_ context.Context, id string) (*domain.GenerationTask, error) {
	args := m.Called(id)
	t, _ := args.Get(0).(*domain.GenerationTask)
	return t, args.Error(1)
}

func (m *tasksMock) MarkProcessing(_ context.Context, id int64, ext string) (bool, error) {
	args := m.Called(id, ext)
	return args.Bool(0), args.Error(1)
}

func (m *tasksMock) Complete(_ context.Context, id int64) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}

func (m *tasksMock) Fail(_ context.Context, id int64, reason string) (bool, error) {
	args := m.Called(id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *tasksMock) IncrementAttempts(_ context.Context, id int64) (int, error) {
	args := m.Called(id)
	return args.Int(0), args.Error(1)
}

func (m *tasksMock) AddPhotos(_ context.Context, t *domain.GenerationTask, urls []string) ([]domain.GeneratedPhoto, error) {
	args := m.Called(t.ID, urls)
	p, _ := args.Get(0).([]domain.GeneratedPhoto)
	return p, args.Error(1)
}

func (m *tasksMock) ListStale(_ context.Context, before time.Time, limit int) ([]domain.GenerationTask, error) {
	args := m.Called(limit)
	t, _ := args.Get(0).([]domain.GenerationTask)
	return t, args.Error(1)
}

func (m *tasksMock) ListPhotosByTask(_ context.Context, id int64) ([]domain.GeneratedPhoto, error) {
	args := m.Called(id)
	p, _ := args.Get(0).([]domain.GeneratedPhoto)
	return p, args.Error(1)
}

// inlineTx runs fn without a database; repository mocks see the same calls.
type inlineTx struct{}

func (inlineTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type generatorMock struct{ mock.Mock }

func (m *generatorMock) CreateTask(_ context.Context, in kie.TaskInput) (string, error) {
	args := m.Called(in)
	return args.String(0), args.Error(1)
}

func (m *generatorMock) GetTask(_ context.Context, id string) (*kie.TaskInfo, error) {
	args := m.Called(id)
	info, _ := args.Get(0).(*kie.TaskInfo)
	return info, args.Error(1)
}

func (m *generatorMock) Model() string { return "google/nano-banana-edit" }

type schedulerMock struct{ mock.Mock }

func (m *schedulerMock) Publish(_ context.Context, dest string, payload any, delay time.Duration) (string, error) {
	args := m.Called(dest, payload, delay)
	return args.String(0), args.Error(1)
}

type uploaderMock struct{ mock.Mock }

func (m *uploaderMock) Upload(_ context.Context, data []byte, contentType, prefix string) (string, error) {
	args := m.Called(len(data), contentType, prefix)
	return args.String(0), args.Error(1)
}

func (m *uploaderMock) Mirror(_ context.Context, src, _ string) (string, error) {
	args := m.Called(src)
	return args.String(0), args.Error(1)
}

func (m *uploaderMock) Delete(_ context.Context, url string) error {
	return m.Called(url).Error(0)
}

type notifierMock struct{ mock.Mock }

func (m *notifierMock) GenerationCompleted(_ context.Context, t *domain.GenerationTask, photos []domain.GeneratedPhoto) {
	m.Called(t.ID, len(photos))
}

func (m *notifierMock) GenerationFailed(_ context.Context, t *domain.GenerationTask) {
	m.Called(t.ID)
}

func (m *notifierMock) Admin(_ context.Context, kind domain.NotificationKind, msg string, payload any) error {
	return m.Called(kind).Error(0)
}

type limiterMock struct{ mock.Mock }

func (m *limiterMock) AllowGeneration(_ context.Context, userID int64) error {
	return m.Called(userID).Error(0)
}
