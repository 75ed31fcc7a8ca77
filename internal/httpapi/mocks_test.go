package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/repository"
)

type usersMock struct {
	mock.Mock
}

func (m *usersMock) Get(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *usersMock) List(ctx context.Context, page repository.Page) ([]domain.User, int, error) {
	args := m.Called(ctx, page)
	users, _ := args.Get(0).([]domain.User)
	return users, args.Int(1), args.Error(2)
}

func (m *usersMock) AdjustCredits(ctx context.Context, id int64, delta int) (int, error) {
	args := m.Called(ctx, id, delta)
	return args.Int(0), args.Error(1)
}

// generationMock embeds the interface so tests only stub what they call.
type generationMock struct {
	mock.Mock
	Generation
}

func (m *generationMock) Start(ctx context.Context, req generation.Request) (*domain.GenerationTask, error) {
	args := m.Called(ctx, req)
	t, _ := args.Get(0).(*domain.GenerationTask)
	return t, args.Error(1)
}

func (m *generationMock) Poll(ctx context.Context, taskID int64) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *generationMock) HandleCallback(ctx context.Context, body []byte) error {
	return m.Called(ctx, body).Error(0)
}

func (m *generationMock) GetAvatar(ctx context.Context, id int64) (*domain.Avatar, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*domain.Avatar)
	return a, args.Error(1)
}

func (m *generationMock) DeleteAvatar(ctx context.Context, userID, avatarID int64) error {
	return m.Called(ctx, userID, avatarID).Error(0)
}

func (m *generationMock) AddReferenceUpload(ctx context.Context, userID, avatarID int64, data []byte, contentType string) (*domain.ReferencePhoto, error) {
	args := m.Called(ctx, userID, avatarID, data, contentType)
	p, _ := args.Get(0).(*domain.ReferencePhoto)
	return p, args.Error(1)
}

func (m *generationMock) AddReferenceURL(ctx context.Context, userID, avatarID int64, rawURL string) (*domain.ReferencePhoto, error) {
	args := m.Called(ctx, userID, avatarID, rawURL)
	p, _ := args.Get(0).(*domain.ReferencePhoto)
	return p, args.Error(1)
}

type paymentsMock struct {
	mock.Mock
	Payments
}

func (m *paymentsMock) HandleWebhook(ctx context.Context, body []byte) error {
	return m.Called(ctx, body).Error(0)
}

func (m *paymentsMock) Packages() []domain.CreditPackage {
	return []domain.CreditPackage{{ID: "starter", Title: "10 photos", Credits: 10, Price: 29900}}
}

func (m *paymentsMock) Currency() string { return "RUB" }

type verifierMock struct {
	err error
}

func (v verifierMock) Verify(string, []byte) error { return v.err }

// memoryMessages mimics INSERT ... ON CONFLICT DO NOTHING on a map.
type memoryMessages struct {
	mu   sync.Mutex
	seen map[string]string
}

func newMemoryMessages() *memoryMessages {
	return &memoryMessages{seen: map[string]string{}}
}

func (m *memoryMessages) Claim(_ context.Context, messageID, source string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[messageID]; ok {
		return false, nil
	}
	m.seen[messageID] = source
	return true, nil
}

func (m *memoryMessages) Release(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, messageID)
	return nil
}

func (m *memoryMessages) Purge(context.Context, time.Duration) (int64, error) { return 0, nil }

func (m *memoryMessages) Recent(context.Context, int) ([]domain.ProcessedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProcessedMessage, 0, len(m.seen))
	for id, source := range m.seen {
		out = append(out, domain.ProcessedMessage{MessageID: id, Source: source})
	}
	return out, nil
}

type webhookLogsMock struct {
	mu   sync.Mutex
	logs []domain.WebhookLog
}

func (m *webhookLogsMock) Insert(_ context.Context, l *domain.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *webhookLogsMock) List(_ context.Context, source string, _ repository.Page) ([]domain.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WebhookLog
	for _, l := range m.logs {
		if source == "" || l.Source == source {
			out = append(out, l)
		}
	}
	return out, nil
}
