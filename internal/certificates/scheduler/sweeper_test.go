package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"event-portal/portal-backend/internal/certificates"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) ListByStatus(ctx context.Context, status certificates.CertificateStatus, limit int) ([]certificates.Certificate, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]certificates.Certificate), args.Error(1)
}

type MockRegenerator struct {
	mock.Mock
}

func (m *MockRegenerator) Regenerate(ctx context.Context, id uuid.UUID) (*certificates.Outcome, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*certificates.Outcome), args.Error(1)
}

func TestSweepRegeneratesFailedCertificates(t *testing.T) {
	source := new(MockSource)
	regen := new(MockRegenerator)
	s := NewSweeper(source, regen, zap.NewNop(), SweeperConfig{BatchSize: 3})

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	source.On("ListByStatus", mock.Anything, certificates.StatusFailed, 3).
		Return([]certificates.Certificate{{ID: a}, {ID: b}, {ID: c}}, nil)
	regen.On("Regenerate", mock.Anything, a).Return(&certificates.Outcome{}, nil)
	regen.On("Regenerate", mock.Anything, b).Return(nil, errors.New("base document missing"))
	regen.On("Regenerate", mock.Anything, c).Return(&certificates.Outcome{}, nil)

	result := s.Sweep(context.Background())
	assert.Equal(t, SweepResult{Attempted: 3, Recovered: 2, Failed: 1}, result)
	regen.AssertExpectations(t)
}

func TestSweepListError(t *testing.T) {
	source := new(MockSource)
	regen := new(MockRegenerator)
	s := NewSweeper(source, regen, nil, SweeperConfig{})

	source.On("ListByStatus", mock.Anything, certificates.StatusFailed, DefaultSweeperConfig().BatchSize).
		Return(nil, errors.New("connection reset"))

	assert.Equal(t, SweepResult{}, s.Sweep(context.Background()))
	regen.AssertNotCalled(t, "Regenerate", mock.Anything, mock.Anything)
}

func TestSweepStopsOnCancel(t *testing.T) {
	source := new(MockSource)
	regen := new(MockRegenerator)
	s := NewSweeper(source, regen, nil, SweeperConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	first := uuid.New()
	source.On("ListByStatus", mock.Anything, certificates.StatusFailed, mock.Anything).
		Return([]certificates.Certificate{{ID: first}, {ID: uuid.New()}}, nil)
	regen.On("Regenerate", mock.Anything, first).Run(func(mock.Arguments) { cancel() }).
		Return(&certificates.Outcome{}, nil)

	result := s.Sweep(ctx)
	assert.Equal(t, 1, result.Attempted)
	regen.AssertNumberOfCalls(t, "Regenerate", 1)
}

func TestSweeperSchedule(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := new(MockSource)
	regen := new(MockRegenerator)
	s := NewSweeper(source, regen, nil, SweeperConfig{Spec: "@every 1s"})

	swept := make(chan struct{}, 1)
	source.On("ListByStatus", mock.Anything, certificates.StatusFailed, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return([]certificates.Certificate{}, nil)

	assert.True(t, s.Next().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
	assert.False(t, s.Next().IsZero())

	select {
	case <-swept:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}
	s.Stop()
	s.Stop()
}

func TestSweeperRejectsBadSpec(t *testing.T) {
	s := NewSweeper(new(MockSource), new(MockRegenerator), nil, SweeperConfig{Spec: "every now and then"})
	assert.Error(t, s.Start(context.Background()))
}
