package httpapi

import (
	"net/http"
	"strings"

	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/slots"
	"bankdesk/dispatch-service/internal/store"
)

type bookRequest struct {
	Slot     string `json:"slot" validate:"required"`
	Dep      string `json:"dep" validate:"required"`
	TicketID string `json:"ticket_id" validate:"omitempty,uuid"`
}

type bookedWorker struct {
	Name       string `json:"name"`
	Department string `json:"department"`
	TimeSlot   string `json:"timeSlot"`
}

type bookResponse struct {
	Message       string       `json:"message"`
	AppointmentID string       `json:"appointment_id"`
	Worker        bookedWorker `json:"worker"`
}

type appointmentsResponse struct {
	Appointments []models.Appointment `json:"appointments"`
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, RoleCustomer, RoleWorker); !ok {
		return
	}
	dep := strings.TrimSpace(r.URL.Query().Get("dep"))
	if dep == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "Department is required")
		return
	}

	dept, err := h.store.GetDepartmentByName(r.Context(), store.NormalizeDepartment(dep))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	candidates := h.slots.Generate()
	full, err := h.store.ListFullSlots(r.Context(), dept.DepartmentID, slots.Times(candidates))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"availableSlots": slots.Strings(slots.Exclude(candidates, full)),
	})
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleCustomer)
	if !ok {
		return
	}
	var req bookRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	slot, valid := h.slots.Resolve(req.Slot)
	if !valid {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_slot", "Invalid or expired time slot")
		return
	}

	booking, err := h.store.BookAppointment(r.Context(), store.BookAppointmentInput{
		CustomerID:     sess.UserID,
		DepartmentName: store.NormalizeDepartment(strings.TrimSpace(req.Dep)),
		SlotAt:         slot.At,
		TimeSlot:       slot.String(),
		TicketID:       strings.TrimSpace(req.TicketID),
		BookedAt:       h.now().UTC(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bookResponse{
		Message:       "Appointment booked",
		AppointmentID: booking.Appointment.AppointmentID,
		Worker: bookedWorker{
			Name:       booking.Worker.FullName,
			Department: booking.Department.Name,
			TimeSlot:   booking.Appointment.TimeSlot,
		},
	})
}

func (h *Handler) handleCustomerAppointments(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleCustomer)
	if !ok {
		return
	}
	customerID := strings.TrimSpace(r.PathValue("id"))
	if customerID != sess.UserID {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "access denied")
		return
	}

	appointments, err := h.store.ListCustomerAppointments(r.Context(), customerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentsResponse{Appointments: nonNilAppointments(appointments)})
}

func (h *Handler) handleWorkerAppointments(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleWorker)
	if !ok {
		return
	}
	appointments, err := h.store.ListWorkerAppointments(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentsResponse{Appointments: nonNilAppointments(appointments)})
}

func nonNilAppointments(appointments []models.Appointment) []models.Appointment {
	if appointments == nil {
		return []models.Appointment{}
	}
	return appointments
}
