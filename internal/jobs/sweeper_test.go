package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/beamchat/link-server-go/internal/model"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) PopDueExpiries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockExpirer struct {
	mock.Mock
}

func (m *mockExpirer) ConsumeAndExpire(ctx context.Context, sessionID string, reason model.ExpiryReason) error {
	args := m.Called(ctx, sessionID, reason)
	return args.Error(0)
}

func TestExpirySweeper_Sweep(t *testing.T) {
	t.Run("expires each due session with reason ttl", func(t *testing.T) {
		queue := new(mockQueue)
		expirer := new(mockExpirer)

		queue.On("PopDueExpiries", mock.Anything, mock.Anything, sweepBatchSize).
			Return([]string{"s1", "s2"}, nil)
		expirer.On("ConsumeAndExpire", mock.Anything, "s1", model.ExpiryReasonTTL).Return(nil)
		expirer.On("ConsumeAndExpire", mock.Anything, "s2", model.ExpiryReasonTTL).Return(nil)

		sweeper := NewExpirySweeper(queue, expirer, time.Minute)
		sweeper.sweep()

		queue.AssertExpectations(t)
		expirer.AssertExpectations(t)
	})

	t.Run("continues past per-session failures", func(t *testing.T) {
		queue := new(mockQueue)
		expirer := new(mockExpirer)

		queue.On("PopDueExpiries", mock.Anything, mock.Anything, sweepBatchSize).
			Return([]string{"s1", "s2"}, nil)
		expirer.On("ConsumeAndExpire", mock.Anything, "s1", model.ExpiryReasonTTL).
			Return(errors.New("store down"))
		expirer.On("ConsumeAndExpire", mock.Anything, "s2", model.ExpiryReasonTTL).Return(nil)

		sweeper := NewExpirySweeper(queue, expirer, time.Minute)
		sweeper.sweep()

		expirer.AssertExpectations(t)
	})

	t.Run("does nothing when queue drain fails", func(t *testing.T) {
		queue := new(mockQueue)
		expirer := new(mockExpirer)

		queue.On("PopDueExpiries", mock.Anything, mock.Anything, sweepBatchSize).
			Return(nil, errors.New("store down"))

		sweeper := NewExpirySweeper(queue, expirer, time.Minute)
		sweeper.sweep()

		expirer.AssertNotCalled(t, "ConsumeAndExpire", mock.Anything, mock.Anything, mock.Anything)
	})
}
