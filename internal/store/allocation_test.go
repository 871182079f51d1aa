package store

import (
	"testing"
	"time"

	"bankdesk/dispatch-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusyWorkersIgnoresCancelled(t *testing.T) {
	busy := BusyWorkers([]models.Appointment{
		{WorkerID: "w1", Status: models.AppointmentScheduled},
		{WorkerID: "w1", Status: models.AppointmentScheduled},
		{WorkerID: "w2", Status: models.AppointmentCancelled},
	})
	assert.Len(t, busy, 1)
	assert.Contains(t, busy, "w1")
}

func TestAvailableWorkersKeepsOrder(t *testing.T) {
	workers := []models.Worker{
		{WorkerID: "w1", Status: models.WorkerIdle},
		{WorkerID: "w2", Status: models.WorkerHandlingLive},
		{WorkerID: "w3", Status: models.WorkerInAppointment},
		{WorkerID: "w4", Status: models.WorkerIdle},
	}
	got := AvailableWorkers(workers, map[string]struct{}{"w4": {}})
	require.Len(t, got, 2)
	assert.Equal(t, "w1", got[0].WorkerID)
	assert.Equal(t, "w3", got[1].WorkerID)
}

func TestSelectWorkerRotates(t *testing.T) {
	available := []models.Worker{{WorkerID: "w1"}, {WorkerID: "w2"}, {WorkerID: "w3"}}
	index := 0
	var picked []string
	for i := 0; i < 6; i++ {
		worker, next, err := SelectWorker(available, index)
		require.NoError(t, err)
		picked = append(picked, worker.WorkerID)
		index = next
	}
	assert.Equal(t, []string{"w1", "w2", "w3", "w1", "w2", "w3"}, picked)
	assert.Equal(t, 6, index)
}

func TestSelectWorkerEmpty(t *testing.T) {
	_, next, err := SelectWorker(nil, 4)
	assert.ErrorIs(t, err, ErrNoWorkerAvailable)
	assert.Equal(t, 4, next)
}

func TestFullSlots(t *testing.T) {
	nine := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	nineThirty := nine.Add(30 * time.Minute)
	ten := nine.Add(time.Hour)
	workers := []models.Worker{
		{WorkerID: "w1", Status: models.WorkerIdle},
		{WorkerID: "w2", Status: models.WorkerIdle},
		{WorkerID: "w3", Status: models.WorkerHandlingLive},
	}
	appointments := []models.Appointment{
		{WorkerID: "w1", SlotAt: nine, Status: models.AppointmentScheduled},
		{WorkerID: "w2", SlotAt: nine, Status: models.AppointmentScheduled},
		{WorkerID: "w1", SlotAt: nineThirty, Status: models.AppointmentScheduled},
		{WorkerID: "w2", SlotAt: ten, Status: models.AppointmentCancelled},
	}

	full := FullSlots([]time.Time{nine, nineThirty, ten}, appointments, workers)

	require.Len(t, full, 1)
	assert.True(t, full[0].Equal(nine))
	assert.Len(t, FullSlots([]time.Time{nine, ten}, nil, nil), 2)
}
