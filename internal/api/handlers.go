/**
 * @description
 * This file contains the HTTP handlers for the event-service's internal API. Handlers
 * parse incoming requests, call the application service, and map its outcomes and
 * sentinel errors onto HTTP responses.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - go.uber.org/zap: Structured logging.
 * - internal/app, internal/domain, internal/store: Service logic, models and errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/transfa/event-service/internal/app"
	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
	"go.uber.org/zap"
)

// EventHandlers holds the application service that handlers will use.
type EventHandlers struct {
	service *app.Service
	logger  *zap.Logger
}

func NewEventHandlers(service *app.Service, logger *zap.Logger) *EventHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandlers{service: service, logger: logger.With(zap.String("component", "api"))}
}

type rewardPolicyRequest struct {
	Type          string `json:"type"`
	FixedAmount   int64  `json:"fixed_amount"`
	MinAmount     int64  `json:"min_amount"`
	MaxAmount     int64  `json:"max_amount"`
	TargetAverage int64  `json:"target_average"`
}

type createEventRequest struct {
	Title        string               `json:"title"`
	Content      string               `json:"content"`
	Type         string               `json:"type"`
	StartsAt     time.Time            `json:"starts_at"`
	EndsAt       time.Time            `json:"ends_at"`
	MaxWinners   int                  `json:"max_winners"`
	InitialStock int64                `json:"initial_stock"`
	RewardPolicy *rewardPolicyRequest `json:"reward_policy,omitempty"`
}

type applyRequest struct {
	MemberID int64                    `json:"member_id"`
	Contact  *domain.ApplicantContact `json:"contact,omitempty"`
}

type applyResponse struct {
	EventID  int64               `json:"event_id"`
	MemberID int64               `json:"member_id"`
	Outcome  domain.ApplyOutcome `json:"outcome"`
}

type replenishStockRequest struct {
	Option string `json:"option"`
	Count  int64  `json:"count"`
}

type firstComeDrawRequest struct {
	Limit int `json:"limit"`
}

type drawResponse struct {
	EventID int64  `json:"event_id"`
	Kind    string `json:"kind"`
	Updated int64  `json:"updated"`
}

type createMissionRequest struct {
	EventID   int64  `json:"event_id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	GoalValue int64  `json:"goal_value"`
}

type enrollMemberRequest struct {
	MemberID int64 `json:"member_id"`
}

type memberActivityRequest struct {
	MemberID int64  `json:"member_id"`
	Type     string `json:"type"`
	Value    int64  `json:"value"`
}

type memberActivityResponse struct {
	MemberID int64              `json:"member_id"`
	Entries  []app.MissionEntry `json:"entries"`
}

// CreateEventHandler creates an event with its stock and reward policy.
func (h *EventHandlers) CreateEventHandler(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !h.decode(w, r, &req) {
		return
	}

	eventType, err := domain.ParseEventType(req.Type)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := store.CreateEventParams{
		Event: domain.Event{
			Title:      req.Title,
			Content:    req.Content,
			Type:       eventType,
			StartsAt:   req.StartsAt,
			EndsAt:     req.EndsAt,
			MaxWinners: req.MaxWinners,
		},
		InitialStock: req.InitialStock,
	}
	if req.RewardPolicy != nil {
		rewardType, err := domain.ParseRewardType(req.RewardPolicy.Type)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.RewardPolicy = &domain.RewardPolicy{
			Type:          rewardType,
			FixedAmount:   req.RewardPolicy.FixedAmount,
			MinAmount:     req.RewardPolicy.MinAmount,
			MaxAmount:     req.RewardPolicy.MaxAmount,
			TargetAverage: req.RewardPolicy.TargetAverage,
		}
	}

	event, err := h.service.CreateEvent(r.Context(), params)
	if err != nil {
		h.fail(w, r, "create_event", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, event)
}

func (h *EventHandlers) DeleteEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	if err := h.service.DeleteEvent(r.Context(), eventID); err != nil {
		h.fail(w, r, "delete_event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandlers) EventSummaryHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	summary, err := h.service.EventSummary(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "event_summary", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *EventHandlers) ListWinnersHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	winners, err := h.service.ListWinners(r.Context(), eventID, limit, offset)
	if err != nil {
		h.fail(w, r, "list_winners", err)
		return
	}
	if winners == nil {
		winners = []domain.Entry{}
	}
	h.writeJSON(w, http.StatusOK, winners)
}

// ApplyHandler enters a member into an event. The outcome is always in the
// body; the status code tells clients whether to retry.
func (h *EventHandlers) ApplyHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req applyRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.service.Apply(r.Context(), eventID, req.MemberID, req.Contact)
	if err != nil {
		h.fail(w, r, "apply", err)
		return
	}
	h.writeJSON(w, statusForOutcome(outcome), applyResponse{EventID: eventID, MemberID: req.MemberID, Outcome: outcome})
}

func (h *EventHandlers) ReplenishStockHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req replenishStockRequest
	if !h.decode(w, r, &req) {
		return
	}

	stock, err := h.service.ReplenishStock(r.Context(), eventID, req.Option, req.Count)
	if err != nil {
		h.fail(w, r, "replenish_stock", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stock)
}

func (h *EventHandlers) DrawFirstComeHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req firstComeDrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.runDraw(w, r, eventID, "first_come", func(ctx context.Context) (int64, error) {
		return h.service.DrawFirstCome(ctx, eventID, req.Limit)
	})
}

func (h *EventHandlers) DrawRandomHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	h.runDraw(w, r, eventID, "random", func(ctx context.Context) (int64, error) {
		return h.service.DrawRandom(ctx, eventID)
	})
}

func (h *EventHandlers) CloseDrawHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventID")
	if !ok {
		return
	}
	h.runDraw(w, r, eventID, "close", func(ctx context.Context) (int64, error) {
		return h.service.CloseDraw(ctx, eventID)
	})
}

func (h *EventHandlers) runDraw(w http.ResponseWriter, r *http.Request, eventID int64, kind string, draw func(ctx context.Context) (int64, error)) {
	updated, err := draw(r.Context())
	if err != nil {
		h.fail(w, r, "draw_"+kind, err)
		return
	}
	h.writeJSON(w, http.StatusOK, drawResponse{EventID: eventID, Kind: kind, Updated: updated})
}

func (h *EventHandlers) CreateMissionHandler(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	mission := &domain.Mission{
		EventID:   req.EventID,
		Title:     req.Title,
		Type:      domain.ParseMissionType(req.Type),
		GoalValue: req.GoalValue,
	}
	if err := h.service.CreateMission(r.Context(), mission); err != nil {
		h.fail(w, r, "create_mission", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mission)
}

func (h *EventHandlers) EnrollMemberHandler(w http.ResponseWriter, r *http.Request) {
	missionID, ok := h.pathID(w, r, "missionID")
	if !ok {
		return
	}
	var req enrollMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	enrollment, err := h.service.EnrollMember(r.Context(), req.MemberID, missionID)
	if err != nil {
		h.fail(w, r, "enroll_member", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, enrollment)
}

// MemberActivityHandler reports member activity; completed missions enter the
// member into their events.
func (h *EventHandlers) MemberActivityHandler(w http.ResponseWriter, r *http.Request) {
	var req memberActivityRequest
	if !h.decode(w, r, &req) {
		return
	}
	entries, err := h.service.ProcessMemberActivity(r.Context(), req.MemberID, domain.ParseMissionType(req.Type), req.Value)
	if err != nil {
		h.fail(w, r, "member_activity", err)
		return
	}
	h.writeJSON(w, http.StatusOK, memberActivityResponse{MemberID: req.MemberID, Entries: entries})
}

func (h *EventHandlers) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", param))
		return 0, false
	}
	return id, true
}

func (h *EventHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *EventHandlers) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := statusForError(err)
	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
		h.writeError(w, status, http.StatusText(status))
		return
	}
	h.logger.Info("request rejected", fields...)
	h.writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrEventNotFound),
		errors.Is(err, store.ErrDrawLockNotFound),
		errors.Is(err, store.ErrStockNotFound),
		errors.Is(err, store.ErrMissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrEventNotOpen),
		errors.Is(err, store.ErrMemberAlreadyEnrolled):
		return http.StatusConflict
	case errors.Is(err, app.ErrEventTypeInvalid),
		errors.Is(err, app.ErrInvalidDrawLimit),
		errors.Is(err, app.ErrUnsupportedMissionType),
		errors.Is(err, domain.ErrEventTitleRequired),
		errors.Is(err, domain.ErrInvalidEventType),
		errors.Is(err, domain.ErrInvalidEventPeriod),
		errors.Is(err, domain.ErrInvalidMaxWinners),
		errors.Is(err, domain.ErrInvalidRewardPolicy),
		errors.Is(err, domain.ErrInvalidReplenishCount),
		errors.Is(err, domain.ErrInvalidMission),
		errors.Is(err, domain.ErrInvalidEntryIdentity):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func statusForOutcome(outcome domain.ApplyOutcome) int {
	switch outcome {
	case domain.OutcomeApplied, domain.OutcomeAppliedRaffle:
		return http.StatusAccepted
	case domain.OutcomeTryAgain:
		return http.StatusTooManyRequests
	case domain.OutcomeEnqueueFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *EventHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Warn("response encode failed", zap.Error(err))
		}
	}
}

// writeError is a helper for writing JSON error responses.
func (h *EventHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
