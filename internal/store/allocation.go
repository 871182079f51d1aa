package store

import (
	"time"

	"bankdesk/dispatch-service/internal/models"
)

// BusyWorkers returns the set of worker ids holding a scheduled appointment
// among the given appointments.
func BusyWorkers(appointments []models.Appointment) map[string]struct{} {
	busy := make(map[string]struct{}, len(appointments))
	for _, appt := range appointments {
		if appt.Status != "" && appt.Status != models.AppointmentScheduled {
			continue
		}
		busy[appt.WorkerID] = struct{}{}
	}
	return busy
}

// AvailableWorkers keeps the input order, dropping busy workers and workers
// currently handling a live ticket.
func AvailableWorkers(workers []models.Worker, busy map[string]struct{}) []models.Worker {
	available := make([]models.Worker, 0, len(workers))
	for _, worker := range workers {
		if _, taken := busy[worker.WorkerID]; taken {
			continue
		}
		if worker.Status == models.WorkerHandlingLive {
			continue
		}
		available = append(available, worker)
	}
	return available
}

// SelectWorker picks available[index mod len] and returns the advanced cursor.
func SelectWorker(available []models.Worker, index int) (models.Worker, int, error) {
	if len(available) == 0 {
		return models.Worker{}, index, ErrNoWorkerAvailable
	}
	if index < 0 {
		index = 0
	}
	return available[index%len(available)], index + 1, nil
}

// FullSlots returns the candidates at which no worker of the department is
// left to take a booking.
func FullSlots(candidates []time.Time, appointments []models.Appointment, workers []models.Worker) []time.Time {
	bySlot := make(map[int64][]models.Appointment)
	for _, appt := range appointments {
		key := appt.SlotAt.Unix()
		bySlot[key] = append(bySlot[key], appt)
	}
	var full []time.Time
	for _, at := range candidates {
		if len(AvailableWorkers(workers, BusyWorkers(bySlot[at.Unix()]))) == 0 {
			full = append(full, at)
		}
	}
	return full
}
