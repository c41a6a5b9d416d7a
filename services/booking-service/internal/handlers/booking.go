package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge-au/carebridge/services/booking-service/internal/availability"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/model"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/outbox"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/policy"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/rules"
	"github.com/carebridge-au/carebridge/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type BookingHandler struct {
	repo       *storage.BookingRepository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
	policy     policy.Provider
	rules      rules.Provider
	defaults   []time.Duration
	loc        *time.Location
	now        func() time.Time
}

func NewBookingHandler(repo *storage.BookingRepository, outboxRepo *outbox.Repository, logger *slog.Logger, policyProvider policy.Provider, rulesProvider rules.Provider, defaults []time.Duration, loc *time.Location) *BookingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BookingHandler{
		repo:       repo,
		outboxRepo: outboxRepo,
		logger:     logger,
		policy:     policyProvider,
		rules:      rulesProvider,
		defaults:   defaults,
		loc:        loc,
		now:        time.Now,
	}
}

type createBookingRequest struct {
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id"`
	Date       string `json:"date"`
	TimeSlot   string `json:"time_slot"`
	Timezone   string `json:"tz"`
	Note       string `json:"note"`
}

type createBookingResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type confirmBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type confirmBookingResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type listBookingItem struct {
	BookingID     string `json:"booking_id"`
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	ParticipantID string `json:"participant_id"`
	ScheduledAt   string `json:"scheduled_at"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Slots returns the bookable slots for a (provider, service, date). The
// timezone defaults to the deployment timezone; clients can override it with
// the tz query param.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "provider_id, service_id, and date are required", http.StatusBadRequest)
		return
	}

	loc, err := h.resolveLocation(r.URL.Query().Get("tz"))
	if err != nil {
		http.Error(w, "invalid tz", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	slots, err := h.resolveSlots(r.Context(), providerID, serviceID, dateStr, day, loc)
	if err != nil {
		h.logger.Error("slot resolution failed", "err", err, "provider_id", providerID, "service_id", serviceID, "date", dateStr)
		http.Error(w, "failed to resolve slots", http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(slots)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// resolveSlots gathers the day's rules and confirmed bookings, then runs the
// pure resolver. Rules come from the provider service when the gRPC path is
// built in, otherwise from the local replica fed by availability events.
func (h *BookingHandler) resolveSlots(ctx context.Context, providerID, serviceID, dateStr string, day time.Time, loc *time.Location) ([]availability.Slot, error) {
	dayRules, err := h.fetchDayRules(ctx, providerID, serviceID, dateStr)
	if err != nil {
		return nil, err
	}

	// Widen the range by the tolerance so a booking just before midnight can
	// still block a slot at the edge of the day.
	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)
	booked, err := h.repo.ListConfirmedBetween(ctx, providerID, serviceID,
		dayStart.Add(-availability.ConflictTolerance), dayEnd.Add(availability.ConflictTolerance))
	if err != nil {
		return nil, err
	}

	resolverBookings := make([]availability.Booking, 0, len(booked))
	for _, b := range booked {
		resolverBookings = append(resolverBookings, availability.Booking{
			ID:          b.ID,
			ServiceID:   b.ServiceID,
			ScheduledAt: b.ScheduledAt,
			Status:      b.Status,
		})
	}

	return availability.Resolve(day, loc, dayRules, resolverBookings, h.now())
}

func (h *BookingHandler) fetchDayRules(ctx context.Context, providerID, serviceID, dateStr string) ([]availability.Rule, error) {
	if h.rules != nil {
		reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		dayRules, err := h.rules.DayRules(reqCtx, providerID, serviceID, dateStr)
		cancel()
		if err == nil {
			return dayRules, nil
		}
		h.logger.Warn("rules fetch failed; falling back to local replica", "err", err)
	}
	return h.repo.ListAvailabilityRules(ctx, providerID, serviceID, dateStr)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	participantID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if participantID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Date = strings.TrimSpace(req.Date)
	req.TimeSlot = strings.TrimSpace(req.TimeSlot)

	if req.ProviderID == "" || req.ServiceID == "" || req.Date == "" || req.TimeSlot == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	loc, err := h.resolveLocation(req.Timezone)
	if err != nil {
		http.Error(w, "invalid tz", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", req.Date, loc)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	scheduledAt, err := time.ParseInLocation("2006-01-02 15:04:05", req.Date+" "+req.TimeSlot, loc)
	if err != nil {
		http.Error(w, "invalid time_slot", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, participantID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			if len(rec.ResponsePayload) > 0 {
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			_ = json.NewEncoder(w).Encode(createBookingResponse{BookingID: rec.BookingID, Status: availability.StatusPending})
			return
		}
	}

	// Re-validate against a fresh snapshot. A slot that has disappeared since
	// the client fetched it (booked, rule withdrawn, now in the past) is
	// rejected here; a race that slips past this check is caught by the
	// exclusion constraint at confirm time.
	slots, err := h.resolveSlots(ctx, req.ProviderID, req.ServiceID, req.Date, day, loc)
	if err != nil {
		// Do not finalize idempotency on dependency errors; allow the client to retry later with the same key.
		http.Error(w, "failed to resolve slots", http.StatusServiceUnavailable)
		return
	}
	if !slotOffered(slots, req.TimeSlot) {
		if idempotencyKey != "" {
			if h.finalizeIdempotencyError(ctx, tx, participantID, idempotencyKey, http.StatusUnprocessableEntity, "requested time slot is not available") {
				_ = tx.Commit(ctx)
				return
			}
		}
		http.Error(w, "requested time slot is not available", http.StatusUnprocessableEntity)
		return
	}

	// Enforce the participant's plan budget: cap active bookings per calendar
	// month. Participants without a replicated budget get the default cap.
	if err := h.enforceMonthlyBookingBudget(ctx, tx, participantID, scheduledAt); err != nil {
		if errors.Is(err, errBudgetExhausted) {
			if idempotencyKey != "" {
				if h.finalizeIdempotencyError(ctx, tx, participantID, idempotencyKey, http.StatusPaymentRequired, err.Error()) {
					_ = tx.Commit(ctx)
					return
				}
			}
			http.Error(w, err.Error(), http.StatusPaymentRequired)
			return
		}
		http.Error(w, "budget check failed", http.StatusInternalServerError)
		return
	}

	booking := &model.Booking{
		ProviderID:    req.ProviderID,
		ServiceID:     req.ServiceID,
		ParticipantID: participantID,
		ScheduledAt:   scheduledAt,
		Status:        availability.StatusPending,
		Note:          strings.TrimSpace(req.Note),
	}
	id, err := h.repo.Create(ctx, tx, booking)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":     id,
		"provider_id":    booking.ProviderID,
		"service_id":     booking.ServiceID,
		"participant_id": booking.ParticipantID,
		"scheduled_at":   booking.ScheduledAt.UTC().Format(time.RFC3339),
		"status":         booking.Status,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   id,
		EventType:     "booking.booking.requested.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createBookingResponse{BookingID: id, Status: booking.Status})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, participantID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

var errBudgetExhausted = errors.New("monthly booking budget reached (plan review required)")

func (h *BookingHandler) enforceMonthlyBookingBudget(ctx context.Context, tx pgx.Tx, participantID string, scheduledAt time.Time) error {
	const defaultMaxMonthly = 20

	budget, ok, err := h.repo.GetParticipantBudget(ctx, tx, participantID)
	if err != nil {
		return err
	}
	max := defaultMaxMonthly
	if ok && budget.MaxMonthlyBookings > 0 {
		max = budget.MaxMonthlyBookings
	}
	if max <= 0 {
		return nil
	}

	schedUTC := scheduledAt.UTC()
	monthStart := time.Date(schedUTC.Year(), schedUTC.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	cnt, err := h.repo.CountActiveByParticipantInRange(ctx, tx, participantID, monthStart, monthEnd)
	if err != nil {
		return err
	}
	if cnt >= max {
		return errBudgetExhausted
	}
	return nil
}

// Confirm moves a pending booking to confirmed. Only the provider the booking
// belongs to may confirm it. The database exclusion constraint over confirmed
// bookings settles races between concurrent confirms.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	if providerID == "" {
		http.Error(w, "missing provider identity", http.StatusUnauthorized)
		return
	}

	var req confirmBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetBookingForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}
	if booking.ProviderID != providerID {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}

	if booking.Status == availability.StatusConfirmed {
		h.writeConfirmResponse(w, booking.ID)
		return
	}
	if booking.Status != availability.StatusPending {
		http.Error(w, "booking cannot be confirmed", http.StatusConflict)
		return
	}

	if err := h.repo.ConfirmBooking(ctx, tx, booking.ID); err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to confirm booking", http.StatusInternalServerError)
		return
	}

	confirmPayload, err := json.Marshal(map[string]any{
		"booking_id":     booking.ID,
		"provider_id":    booking.ProviderID,
		"service_id":     booking.ServiceID,
		"participant_id": booking.ParticipantID,
		"scheduled_at":   booking.ScheduledAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.booking.confirmed.v1",
		Payload:       confirmPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	now := h.now().UTC()
	offsets := h.defaults
	if h.policy != nil {
		if policyOffsets, err := h.policy.ReminderOffsets(ctx, booking.ProviderID); err == nil && len(policyOffsets) > 0 {
			offsets = policyOffsets
		} else if err != nil {
			h.logger.Warn("policy offsets fetch failed; using defaults", "err", err)
		}
	}
	for _, offset := range offsets {
		remindAt := booking.ScheduledAt.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		h.enqueueReminder(ctx, tx, &booking, remindAt)
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeConfirmResponse(w, booking.ID)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	if userID == "" && providerID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetBookingForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}
	if booking.ParticipantID != userID && booking.ProviderID != providerID {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}

	if booking.Status == availability.StatusCancelled && booking.CancelledAt != nil {
		h.writeCancelResponse(w, booking.ID, booking.CancelledAt.UTC())
		return
	}
	if booking.Status != availability.StatusPending && booking.Status != availability.StatusConfirmed {
		http.Error(w, "booking cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.CancelBooking(ctx, tx, booking.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}

	cancelPayload, err := json.Marshal(map[string]any{
		"booking_id":     booking.ID,
		"provider_id":    booking.ProviderID,
		"service_id":     booking.ServiceID,
		"participant_id": booking.ParticipantID,
		"scheduled_at":   booking.ScheduledAt.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.booking.cancelled.v1",
		Payload:       cancelPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeCancelResponse(w, booking.ID, cancelledAt.UTC())
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var bookings []model.Booking
	var err error
	if providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id")); providerID != "" {
		bookings, err = h.repo.ListByProvider(r.Context(), providerID, limit)
	} else if userID := strings.TrimSpace(r.Header.Get("X-User-Id")); userID != "" {
		bookings, err = h.repo.ListByParticipant(r.Context(), userID, limit)
	} else {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]listBookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := listBookingItem{
			BookingID:     b.ID,
			ProviderID:    b.ProviderID,
			ServiceID:     b.ServiceID,
			ParticipantID: b.ParticipantID,
			ScheduledAt:   b.ScheduledAt.UTC().Format(time.RFC3339),
			Status:        b.Status,
			Note:          b.Note,
			CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	body, err := json.Marshal(items)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *BookingHandler) resolveLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return h.loc, nil
	}
	return time.LoadLocation(tz)
}

func slotOffered(slots []availability.Slot, timeOfDay string) bool {
	for _, s := range slots {
		if s.TimeOfDay == timeOfDay {
			return true
		}
	}
	return false
}

func (h *BookingHandler) enqueueReminder(ctx context.Context, tx pgx.Tx, booking *model.Booking, remindAt time.Time) {
	payload, err := json.Marshal(map[string]any{
		"booking_id":     booking.ID,
		"provider_id":    booking.ProviderID,
		"participant_id": booking.ParticipantID,
		"remind_at":      remindAt.UTC().Format(time.RFC3339),
		"template_data": map[string]any{
			"service_id":   booking.ServiceID,
			"scheduled_at": booking.ScheduledAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		h.logger.Error("failed to build reminder payload", "err", err)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.reminder.requested.v1",
		Payload:       payload,
	}); err != nil {
		h.logger.Error("failed to enqueue reminder", "err", err)
	}
}

func (h *BookingHandler) writeConfirmResponse(w http.ResponseWriter, bookingID string) {
	body, err := json.Marshal(confirmBookingResponse{
		BookingID: bookingID,
		Status:    availability.StatusConfirmed,
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, bookingID string, cancelledAt time.Time) {
	resp := cancelBookingResponse{
		BookingID:   bookingID,
		Status:      availability.StatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, participantID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, participantID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}
