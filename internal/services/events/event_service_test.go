package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
)

func TestService_PublishReachesSubscribers(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var count atomic.Int32
	err := service.Subscribe(interfaces.EventJobStateChanged, func(ctx context.Context, event interfaces.Event) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobStateChanged,
		Payload: map[string]interface{}{"job_id": "job-1"},
	}))

	assert.Eventually(t, func() bool {
		return count.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestService_PublishSync_WaitsForHandlers(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var mu sync.Mutex
	var order []string

	service.Subscribe(interfaces.EventQueueDepth, func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		order = append(order, "handler")
		mu.Unlock()
		return nil
	})

	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventQueueDepth}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"handler"}, order)
}

func TestService_PublishSync_AggregatesHandlerErrors(t *testing.T) {
	service := NewService(arbor.NewLogger())

	service.Subscribe(interfaces.EventStreamStatus, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("handler broke")
	})
	service.Subscribe(interfaces.EventStreamStatus, func(ctx context.Context, event interfaces.Event) error {
		return nil
	})

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventStreamStatus})
	assert.Error(t, err)
}

func TestService_PublishWithoutSubscribersIsNoop(t *testing.T) {
	service := NewService(arbor.NewLogger())
	assert.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventQueueDepth}))
}

func TestService_SubscribeNilHandlerRejected(t *testing.T) {
	service := NewService(arbor.NewLogger())
	assert.Error(t, service.Subscribe(interfaces.EventQueueDepth, nil))
}

func TestService_CloseDropsSubscribers(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var count atomic.Int32
	service.Subscribe(interfaces.EventJobStateChanged, func(ctx context.Context, event interfaces.Event) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, service.Close())
	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobStateChanged}))
	assert.Equal(t, int32(0), count.Load())
}
