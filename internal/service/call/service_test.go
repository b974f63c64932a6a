package call

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/internal/signaling"
	"campuslink-backend/pkg/errors"
)

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, session *domain.CallSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockCallRepository) Accept(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) End(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockCallRepository) ActiveBetween(ctx context.Context, a, b uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockCallRepository) GetUserSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallSession), args.Error(1)
}

func newTestService(repo CallRepository, bus signaling.Bus) *Service {
	return NewService(repo, bus, nil, zap.NewNop())
}

// TestInitiate tests starting a direct call
func TestInitiate(t *testing.T) {
	mockRepo := new(MockCallRepository)
	bus := signaling.NewMemoryBus()
	service := newTestService(mockRepo, bus)

	callerID := uuid.New()
	receiverID := uuid.New()

	// callee listens on their identity topic
	sub, err := bus.Subscribe(context.Background(), signaling.UserTopic(receiverID))
	assert.NoError(t, err)
	defer sub.Close()

	mockRepo.On("ActiveBetween", mock.Anything, callerID, receiverID).Return(nil, nil)
	mockRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.CallSession")).Return(nil)

	session, err := service.Initiate(context.Background(), callerID, receiverID)

	assert.NoError(t, err)
	assert.Equal(t, callerID, session.CallerID)
	assert.Equal(t, receiverID, session.ReceiverID)
	assert.Equal(t, domain.CallStatusRinging, session.Status)
	mockRepo.AssertExpectations(t)

	payload := <-sub.Messages()
	msg, err := domain.ParseSignal(payload)
	assert.NoError(t, err)
	assert.Equal(t, domain.SignalIncomingCall, msg.Type)
	assert.Equal(t, session.ID, msg.SessionID)
	assert.Equal(t, callerID, msg.PeerID)
}

// TestInitiateSelfCall tests that calling yourself is rejected
func TestInitiateSelfCall(t *testing.T) {
	mockRepo := new(MockCallRepository)
	service := newTestService(mockRepo, signaling.NewMemoryBus())

	userID := uuid.New()
	_, err := service.Initiate(context.Background(), userID, userID)

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetAppError(err).Code)
	mockRepo.AssertNotCalled(t, "Create")
}

// TestInitiatePairAlreadyActive tests the one-session-per-pair rule
func TestInitiatePairAlreadyActive(t *testing.T) {
	mockRepo := new(MockCallRepository)
	service := newTestService(mockRepo, signaling.NewMemoryBus())

	callerID := uuid.New()
	receiverID := uuid.New()
	existing := domain.NewCallSession(receiverID, callerID, domain.CallStatusAccepted)

	mockRepo.On("ActiveBetween", mock.Anything, callerID, receiverID).Return(existing, nil)

	_, err := service.Initiate(context.Background(), callerID, receiverID)

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeCallAlreadyActive, errors.GetAppError(err).Code)
	mockRepo.AssertNotCalled(t, "Create")
}

// TestAccept tests the receiver accepting a ringing call
func TestAccept(t *testing.T) {
	mockRepo := new(MockCallRepository)
	service := newTestService(mockRepo, signaling.NewMemoryBus())

	session := domain.NewCallSession(uuid.New(), uuid.New(), domain.CallStatusRinging)

	mockRepo.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockRepo.On("Accept", mock.Anything, session.ID).Return(true, nil)

	got, err := service.Accept(context.Background(), session.ID, session.ReceiverID)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusAccepted, got.Status)
	mockRepo.AssertExpectations(t)
}

// TestAcceptByCaller tests that the caller cannot accept their own call
func TestAcceptByCaller(t *testing.T) {
	mockRepo := new(MockCallRepository)
	service := newTestService(mockRepo, signaling.NewMemoryBus())

	session := domain.NewCallSession(uuid.New(), uuid.New(), domain.CallStatusRinging)
	mockRepo.On("GetByID", mock.Anything, session.ID).Return(session, nil)

	_, err := service.Accept(context.Background(), session.ID, session.CallerID)

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.GetAppError(err).Code)
	mockRepo.AssertNotCalled(t, "Accept")
}

// TestAcceptEndedCall tests that an ended call cannot be accepted
func TestAcceptEndedCall(t *testing.T) {
	mockRepo := new(MockCallRepository)
	service := newTestService(mockRepo, signaling.NewMemoryBus())

	session := domain.NewCallSession(uuid.New(), uuid.New(), domain.CallStatusEnded)
	mockRepo.On("GetByID", mock.Anything, session.ID).Return(session, nil)

	_, err := service.Accept(context.Background(), session.ID, session.ReceiverID)

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeCallEnded, errors.GetAppError(err).Code)
}

// TestEnd tests ending a call and the hangup broadcast
func TestEnd(t *testing.T) {
	mockRepo := new(MockCallRepository)
	bus := signaling.NewMemoryBus()
	service := newTestService(mockRepo, bus)

	session := domain.NewCallSession(uuid.New(), uuid.New(), domain.CallStatusAccepted)

	sub, err := bus.Subscribe(context.Background(), signaling.CallTopic(session.ID))
	assert.NoError(t, err)
	defer sub.Close()

	mockRepo.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockRepo.On("End", mock.Anything, session.ID).Return(true, nil)

	err = service.End(context.Background(), session.ID, session.CallerID)
	assert.NoError(t, err)

	payload := <-sub.Messages()
	msg, err := domain.ParseSignal(payload)
	assert.NoError(t, err)
	assert.Equal(t, domain.SignalHangup, msg.Type)
	assert.Equal(t, session.CallerID, msg.From)
}

// TestEndIdempotent tests that ending an ended call is a silent no-op
func TestEndIdempotent(t *testing.T) {
	mockRepo := new(MockCallRepository)
	bus := signaling.NewMemoryBus()
	service := newTestService(mockRepo, bus)

	session := domain.NewCallSession(uuid.New(), uuid.New(), domain.CallStatusEnded)

	sub, err := bus.Subscribe(context.Background(), signaling.CallTopic(session.ID))
	assert.NoError(t, err)
	defer sub.Close()

	mockRepo.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockRepo.On("End", mock.Anything, session.ID).Return(false, nil)

	err = service.End(context.Background(), session.ID, session.ReceiverID)
	assert.NoError(t, err)

	select {
	case <-sub.Messages():
		t.Fatal("no hangup should be broadcast for an already-ended call")
	default:
	}
}

// TestEndByOutsider tests that a non-participant cannot end a call
func TestEndByOutsider(t *testing.T) {
	mockRepo := new(MockCallRepository)
	service := newTestService(mockRepo, signaling.NewMemoryBus())

	session := domain.NewCallSession(uuid.New(), uuid.New(), domain.CallStatusAccepted)
	mockRepo.On("GetByID", mock.Anything, session.ID).Return(session, nil)

	err := service.End(context.Background(), session.ID, uuid.New())

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.GetAppError(err).Code)
	mockRepo.AssertNotCalled(t, "End")
}

// TestGetByOutsider tests participant-only visibility
func TestGetByOutsider(t *testing.T) {
	mockRepo := new(MockCallRepository)
	service := newTestService(mockRepo, signaling.NewMemoryBus())

	session := domain.NewCallSession(uuid.New(), uuid.New(), domain.CallStatusRinging)
	mockRepo.On("GetByID", mock.Anything, session.ID).Return(session, nil)

	_, err := service.Get(context.Background(), session.ID, uuid.New())

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.GetAppError(err).Code)
}
