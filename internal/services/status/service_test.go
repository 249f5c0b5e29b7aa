package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/services/events"
)

func publishJobEvent(t *testing.T, bus interfaces.EventService, jobID, slotKey, state string) {
	t.Helper()
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventJobStateChanged,
		Payload: map[string]interface{}{
			"job_id":   jobID,
			"slot_key": slotKey,
			"state":    state,
		},
	}))
}

func TestService_DerivesRunningFromJobEvents(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	service := NewService(bus, arbor.NewLogger())
	service.SubscribeToJobEvents()

	assert.Equal(t, StateIdle, service.GetState())

	publishJobEvent(t, bus, "job-1", "render", "queued")
	assert.Equal(t, StateRunning, service.GetState())

	publishJobEvent(t, bus, "job-2", "encode", "running")
	assert.Equal(t, StateRunning, service.GetState())

	publishJobEvent(t, bus, "job-1", "render", "finished")
	assert.Equal(t, StateRunning, service.GetState(), "one job still active")

	publishJobEvent(t, bus, "job-2", "encode", "cancelled")
	assert.Equal(t, StateIdle, service.GetState())
}

func TestService_GetStatusListsActiveJobs(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	service := NewService(bus, arbor.NewLogger())
	service.SubscribeToJobEvents()

	publishJobEvent(t, bus, "job-1", "render", "running")

	payload := service.GetStatus()
	assert.Equal(t, "running", payload["state"])

	jobs, ok := payload["active_jobs"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "render", jobs["job-1"])
}

func TestService_IgnoresMalformedPayloads(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	service := NewService(bus, arbor.NewLogger())
	service.SubscribeToJobEvents()

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobStateChanged,
		Payload: "not a map",
	}))
	assert.Equal(t, StateIdle, service.GetState())
}
