package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Request
	err  error
}

func (s *recordingSender) Send(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, req)
	return nil
}

func newTestWorker(queue Queue, sender Sender) *Worker {
	w := NewWorker(queue, sender, time.Hour, 10)
	w.now = func() time.Time { return t0 }
	return w
}

func TestWorker_RunOnceDeliversDue(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryDispatcher()
	queue.now = func() time.Time { return t0 }
	sender := &recordingSender{}

	require.NoError(t, queue.Schedule(ctx, oilRequest(t0.Add(-time.Minute))))
	future := oilRequest(t0.Add(time.Hour))
	future.Key = "tires@v1:time"
	require.NoError(t, queue.Schedule(ctx, future))

	w := newTestWorker(queue, sender)
	assert.Equal(t, 1, w.RunOnce(ctx))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "oil@v1:time", sender.sent[0].Key)

	_, pending := queue.Pending("tires@v1:time")
	assert.True(t, pending)
	assert.Equal(t, 0, w.RunOnce(ctx))
}

func TestWorker_RetriesFailedDelivery(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryDispatcher()
	queue.now = func() time.Time { return t0 }
	sender := &recordingSender{err: errors.New("unavailable")}

	require.NoError(t, queue.Schedule(ctx, oilRequest(t0)))

	w := newTestWorker(queue, sender)
	w.SetRetryPolicy(2, time.Minute)

	assert.Equal(t, 0, w.RunOnce(ctx))
	req, ok := queue.Pending("oil@v1:time")
	require.True(t, ok)
	assert.Equal(t, 1, req.Attempts)
	assert.True(t, req.FireAt.Equal(t0.Add(time.Minute)))

	// second failure exhausts the policy
	w.now = func() time.Time { return t0.Add(time.Minute) }
	assert.Equal(t, 0, w.RunOnce(ctx))
	_, ok = queue.Pending("oil@v1:time")
	assert.False(t, ok)
}

// changingSender fails every delivery after running change, which stands for
// a user editing the reminder while it is being sent.
type changingSender struct {
	change func()
}

func (s *changingSender) Send(context.Context, Request) error {
	s.change()
	return errors.New("unavailable")
}

func TestWorker_RetryYieldsToNewerRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("rescheduled during delivery", func(t *testing.T) {
		queue := NewMemoryDispatcher()
		queue.now = func() time.Time { return t0 }
		require.NoError(t, queue.Schedule(ctx, oilRequest(t0)))

		newer := oilRequest(t0.Add(30 * 24 * time.Hour))
		w := newTestWorker(queue, &changingSender{change: func() {
			require.NoError(t, queue.Schedule(ctx, newer))
		}})

		assert.Equal(t, 0, w.RunOnce(ctx))
		req, ok := queue.Pending("oil@v1:time")
		require.True(t, ok)
		assert.Zero(t, req.Attempts)
		assert.True(t, req.FireAt.Equal(newer.FireAt))
	})

	t.Run("cancelled during delivery", func(t *testing.T) {
		queue := NewMemoryDispatcher()
		queue.now = func() time.Time { return t0 }
		require.NoError(t, queue.Schedule(ctx, oilRequest(t0)))

		w := newTestWorker(queue, &changingSender{change: func() {
			require.NoError(t, queue.Cancel(ctx, "oil@v1:time"))
		}})

		assert.Equal(t, 0, w.RunOnce(ctx))
		_, ok := queue.Pending("oil@v1:time")
		assert.False(t, ok)
	})
}

func TestWorker_StartStop(t *testing.T) {
	queue := NewMemoryDispatcher()
	sender := &recordingSender{}
	require.NoError(t, queue.Schedule(context.Background(), Request{Key: "oil@v1", FireNow: true}))

	w := NewWorker(queue, sender, 10*time.Millisecond, 10)
	go w.Start(context.Background())

	assert.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()
	assert.NotPanics(t, w.Stop)
}

type mockMessageClient struct {
	mock.Mock
}

func (m *mockMessageClient) Send(ctx context.Context, message *messaging.Message) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func TestFCMSender_Send(t *testing.T) {
	ctx := context.Background()
	client := new(mockMessageClient)
	client.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
		return m.Topic == "vehicle-v1" &&
			m.Notification.Title == "Engine oil and filter" &&
			m.Data["itemId"] == "oil" &&
			m.Android.Priority == "high" &&
			m.APNS.Headers["apns-priority"] == "10"
	})).Return("projects/p/messages/1", nil).Once()

	sender := NewFCMSenderWithClient(client)
	require.NoError(t, sender.Send(ctx, oilRequest(t0)))
	client.AssertExpectations(t)
}

func TestFCMSender_SendError(t *testing.T) {
	ctx := context.Background()
	client := new(mockMessageClient)
	client.On("Send", ctx, mock.Anything).Return("", errors.New("quota exceeded"))

	err := NewFCMSenderWithClient(client).Send(ctx, oilRequest(t0))
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestMemoryDispatcher_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDispatcher()
	d.now = func() time.Time { return t0 }

	require.NoError(t, d.Schedule(ctx, oilRequest(t0.Add(time.Hour))))
	require.NoError(t, d.Cancel(ctx, "oil@v1:time"))
	require.NoError(t, d.Cancel(ctx, "never-scheduled"))

	ops := d.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, "schedule", ops[0].Op)
	assert.Equal(t, "cancel", ops[1].Op)
	assert.Len(t, d.Scheduled("oil@v1:time"), 1)

	d.ScheduleFn = func(Request) error { return errors.New("boom") }
	assert.Error(t, d.Schedule(ctx, oilRequest(t0)))
	_, ok := d.Pending("oil@v1:time")
	assert.False(t, ok)
}
