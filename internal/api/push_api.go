package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

const (
	serviceName    = "go-push-scheduler"
	serviceVersion = "1.0.0"
)

type Registry interface {
	Add(ctx context.Context, endpoint push.Endpoint) (string, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req push.Request) (push.Result, error)
}

type Scheduler interface {
	Schedule(ctx context.Context, firesAt time.Time, title, body, targetID string) (push.Task, time.Duration, error)
	Cancel(ctx context.Context, taskID string) error
	List() []push.Task
	Pending() int
}

// PushAPI serves the subscription, push and scheduling endpoints.
type PushAPI struct {
	Registry  Registry
	Engine    Dispatcher
	Scheduler Scheduler
	PublicKey string
	Logger    *slog.Logger
	now       func() time.Time
}

func NewPushAPI(registry Registry, engine Dispatcher, scheduler Scheduler, publicKey string, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Registry:  registry,
		Engine:    engine,
		Scheduler: scheduler,
		PublicKey: publicKey,
		Logger:    logger.With("component", "PushAPI"),
		now:       time.Now,
	}
}

// --- Index & Health ---

func (api *PushAPI) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"GET /api/vapid-public-key":  "VAPID application server key",
			"POST /api/subscribe":        "register a push subscription",
			"DELETE /api/subscribe/{id}": "remove a push subscription",
			"POST /api/push":             "push now",
			"POST /api/schedule-push":    "schedule a push",
			"GET /api/scheduled":         "list scheduled pushes",
			"DELETE /api/scheduled/{id}": "cancel a scheduled push",
			"GET /api/health":            "health and counters",
		},
	})
}

type HealthResponse struct {
	Status         string `json:"status"`
	Time           string `json:"time"`
	Subscriptions  int    `json:"subscriptions"`
	ScheduledTasks int    `json:"scheduledTasks"`
}

func (api *PushAPI) Health(w http.ResponseWriter, r *http.Request) {
	count, err := api.Registry.Count(r.Context())
	if err != nil {
		// Health never fails; a store outage just shows as -1.
		api.Logger.Warn("Health: subscription count unavailable", "err", err)
		count = -1
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Time:           api.now().UTC().Format(time.RFC3339Nano),
		Subscriptions:  count,
		ScheduledTasks: api.Scheduler.Pending(),
	})
}

// --- Subscriptions ---

func (api *PushAPI) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": api.PublicKey})
}

type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscriptionId"`
}

// Subscribe stores the endpoint as sent. Only undecodable JSON is rejected;
// an incomplete endpoint is kept and fails at delivery time.
func (api *PushAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var endpoint push.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&endpoint); err != nil {
		api.Logger.Warn("Subscribe: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	id, err := api.Registry.Add(ctx, endpoint)
	if err != nil {
		api.Logger.Error("Subscribe: failed to store subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, SubscribeResponse{Success: true, SubscriptionID: id})
}

func (api *PushAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := api.Registry.Remove(r.Context(), id); err != nil {
		api.Logger.Error("Unsubscribe: failed to remove subscription", "subscription_id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- Push now ---

type PushRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	SubscriptionID string `json:"subscriptionId"`
}

type PushResponse struct {
	Success bool `json:"success"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
}

func (api *PushAPI) PushNow(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := api.Engine.Dispatch(r.Context(), push.Request{
		Title:    req.Title,
		Body:     req.Body,
		TargetID: req.SubscriptionID,
		Kind:     push.KindImmediate,
	})
	if err != nil {
		api.Logger.Error("PushNow: dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	writeJSON(w, http.StatusOK, PushResponse{Success: true, Sent: result.Sent, Failed: result.Failed})
}

// --- Scheduling ---

type SchedulePushRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ScheduledTime  string `json:"scheduledTime"`
	SubscriptionID string `json:"subscriptionId"`
}

type SchedulePushResponse struct {
	Success       bool   `json:"success"`
	TaskID        string `json:"taskId"`
	Message       string `json:"message"`
	ScheduledTime string `json:"scheduledTime"`
	DelaySeconds  int64  `json:"delaySeconds"`
}

func (api *PushAPI) SchedulePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SchedulePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	firesAt, err := time.Parse(time.RFC3339, req.ScheduledTime)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "scheduledTime must be an RFC 3339 timestamp")
		return
	}

	task, delay, err := api.Scheduler.Schedule(ctx, firesAt, req.Title, req.Body, req.SubscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, push.ErrPastTime):
			response.WriteJSONError(w, http.StatusBadRequest, "scheduled time must be in the future")
		case errors.Is(err, push.ErrSchedulerStopped):
			response.WriteJSONError(w, http.StatusServiceUnavailable, "scheduler is shutting down")
		default:
			api.Logger.Error("SchedulePush: failed to schedule", "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, "schedule failed")
		}
		return
	}

	scheduled := task.FiresAt.UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, SchedulePushResponse{
		Success:       true,
		TaskID:        task.ID,
		Message:       fmt.Sprintf("push scheduled for %s", scheduled),
		ScheduledTime: scheduled,
		DelaySeconds:  int64(math.Round(delay.Seconds())),
	})
}

type ScheduledTask struct {
	ID            string `json:"id"`
	ScheduledTime string `json:"scheduledTime"`
	Title         string `json:"title"`
}

type ListScheduledResponse struct {
	Tasks             []ScheduledTask `json:"tasks"`
	SubscriptionCount int             `json:"subscriptionCount"`
}

func (api *PushAPI) ListScheduled(w http.ResponseWriter, r *http.Request) {
	pending := api.Scheduler.List()
	tasks := make([]ScheduledTask, 0, len(pending))
	for _, t := range pending {
		tasks = append(tasks, ScheduledTask{
			ID:            t.ID,
			ScheduledTime: t.FiresAt.UTC().Format(time.RFC3339),
			Title:         t.Title,
		})
	}

	count, err := api.Registry.Count(r.Context())
	if err != nil {
		api.Logger.Warn("ListScheduled: subscription count unavailable", "err", err)
		count = -1
	}

	writeJSON(w, http.StatusOK, ListScheduledResponse{Tasks: tasks, SubscriptionCount: count})
}

func (api *PushAPI) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := api.Scheduler.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, push.ErrTaskNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "task not found")
			return
		}
		api.Logger.Error("CancelScheduled: failed to cancel", "task_id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
