package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-scheduler/internal/api"
	"github.com/tinywideclouds/go-push-scheduler/internal/registry"
	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// --- Mocks ---
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, req push.Request) (push.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(push.Result), args.Error(1)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Schedule(ctx context.Context, firesAt time.Time, title, body, targetID string) (push.Task, time.Duration, error) {
	args := m.Called(ctx, firesAt, title, body, targetID)
	return args.Get(0).(push.Task), args.Get(1).(time.Duration), args.Error(2)
}
func (m *MockScheduler) Cancel(ctx context.Context, taskID string) error {
	return m.Called(ctx, taskID).Error(0)
}
func (m *MockScheduler) List() []push.Task {
	return m.Called().Get(0).([]push.Task)
}
func (m *MockScheduler) Pending() int {
	return m.Called().Int(0)
}

// --- Setup ---
func setupAPI(t *testing.T) (*api.PushAPI, *registry.Registry, *MockDispatcher, *MockScheduler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(registry.NewMemoryStore(), logger)
	dispatcher := new(MockDispatcher)
	scheduler := new(MockScheduler)
	return api.NewPushAPI(reg, dispatcher, scheduler, "BPublicKey", logger), reg, dispatcher, scheduler
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// --- Tests ---

func TestGetPublicKey(t *testing.T) {
	apiHandler, _, _, _ := setupAPI(t)
	w := httptest.NewRecorder()

	apiHandler.GetPublicKey(w, httptest.NewRequest(http.MethodGet, "/api/vapid-public-key", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BPublicKey", decode(t, w)["publicKey"])
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		apiHandler, reg, _, _ := setupAPI(t)
		body := `{"endpoint":"https://fcm.googleapis.com/fcm/send/xyz","expirationTime":null,"keys":{"p256dh":"BNc","auth":"tBH"}}`
		w := httptest.NewRecorder()

		apiHandler.Subscribe(w, httptest.NewRequest(http.MethodPost, "/api/subscribe", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusOK, w.Code)
		out := decode(t, w)
		assert.Equal(t, true, out["success"])
		id, _ := out["subscriptionId"].(string)
		require.NotEmpty(t, id)

		ep, err := reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "https://fcm.googleapis.com/fcm/send/xyz", ep.URL)
		assert.Equal(t, "tBH", ep.Keys.Auth)
	})

	t.Run("Accepts an incomplete descriptor", func(t *testing.T) {
		apiHandler, reg, _, _ := setupAPI(t)
		w := httptest.NewRecorder()

		apiHandler.Subscribe(w, httptest.NewRequest(http.MethodPost, "/api/subscribe", bytes.NewBufferString(`{"something":"else"}`)))

		assert.Equal(t, http.StatusOK, w.Code)
		n, err := reg.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Rejects undecodable JSON", func(t *testing.T) {
		apiHandler, reg, _, _ := setupAPI(t)
		w := httptest.NewRecorder()

		apiHandler.Subscribe(w, httptest.NewRequest(http.MethodPost, "/api/subscribe", bytes.NewBufferString(`{not json`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		n, err := reg.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	apiHandler, reg, _, _ := setupAPI(t)
	id, err := reg.Add(ctx, push.Endpoint{URL: "https://push.example.com/1"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/subscribe/"+id, nil)
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()

		apiHandler.Unsubscribe(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "unsubscribe must be idempotent")
	}
	_, err = reg.Get(ctx, id)
	assert.ErrorIs(t, err, push.ErrSubscriptionNotFound)
}

func TestPushNow(t *testing.T) {
	t.Run("Returns counts", func(t *testing.T) {
		apiHandler, _, dispatcher, _ := setupAPI(t)
		expected := push.Request{Title: "Hi", Body: "There", TargetID: "sub-1", Kind: push.KindImmediate}
		dispatcher.On("Dispatch", mock.Anything, expected).Return(push.Result{Sent: 1, Failed: 2}, nil)

		body := `{"title":"Hi","body":"There","subscriptionId":"sub-1"}`
		w := httptest.NewRecorder()
		apiHandler.PushNow(w, httptest.NewRequest(http.MethodPost, "/api/push", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusOK, w.Code)
		out := decode(t, w)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, float64(1), out["sent"])
		assert.Equal(t, float64(2), out["failed"])
		dispatcher.AssertExpectations(t)
	})

	t.Run("Registry failure is a 500", func(t *testing.T) {
		apiHandler, _, dispatcher, _ := setupAPI(t)
		dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(push.Result{}, errors.New("redis down"))

		w := httptest.NewRecorder()
		apiHandler.PushNow(w, httptest.NewRequest(http.MethodPost, "/api/push", bytes.NewBufferString(`{}`)))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestSchedulePush(t *testing.T) {
	firesAt := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	atFireTime := mock.MatchedBy(func(ts time.Time) bool { return ts.Equal(firesAt) })

	t.Run("Success", func(t *testing.T) {
		apiHandler, _, _, scheduler := setupAPI(t)
		task := push.Task{ID: "task-1", FiresAt: firesAt, Title: "Later", TargetID: "sub-1"}
		scheduler.On("Schedule", mock.Anything, atFireTime, "Later", "", "sub-1").Return(task, 1500*time.Millisecond, nil)

		body := `{"title":"Later","scheduledTime":"2030-01-01T10:00:00Z","subscriptionId":"sub-1"}`
		w := httptest.NewRecorder()
		apiHandler.SchedulePush(w, httptest.NewRequest(http.MethodPost, "/api/schedule-push", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusOK, w.Code)
		var resp api.SchedulePushResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "task-1", resp.TaskID)
		assert.Equal(t, "2030-01-01T10:00:00Z", resp.ScheduledTime)
		assert.Equal(t, int64(2), resp.DelaySeconds)
		assert.NotEmpty(t, resp.Message)
		scheduler.AssertExpectations(t)
	})

	t.Run("Past time is a 400", func(t *testing.T) {
		apiHandler, _, _, scheduler := setupAPI(t)
		scheduler.On("Schedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(push.Task{}, time.Duration(0), push.ErrPastTime)

		body := `{"title":"Late","scheduledTime":"2001-01-01T10:00:00Z"}`
		w := httptest.NewRecorder()
		apiHandler.SchedulePush(w, httptest.NewRequest(http.MethodPost, "/api/schedule-push", bytes.NewBufferString(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unparseable time is a 400", func(t *testing.T) {
		apiHandler, _, _, scheduler := setupAPI(t)

		body := `{"title":"x","scheduledTime":"tomorrow"}`
		w := httptest.NewRecorder()
		apiHandler.SchedulePush(w, httptest.NewRequest(http.MethodPost, "/api/schedule-push", bytes.NewBufferString(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		scheduler.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestListScheduled(t *testing.T) {
	ctx := context.Background()
	apiHandler, reg, _, scheduler := setupAPI(t)
	_, err := reg.Add(ctx, push.Endpoint{URL: "https://push.example.com/a"})
	require.NoError(t, err)

	scheduler.On("List").Return([]push.Task{
		{ID: "t1", FiresAt: time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC), Title: "first"},
		{ID: "t2", FiresAt: time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC), Title: "second"},
	})

	w := httptest.NewRecorder()
	apiHandler.ListScheduled(w, httptest.NewRequest(http.MethodGet, "/api/scheduled", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ListScheduledResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, api.ScheduledTask{ID: "t1", ScheduledTime: "2030-01-01T09:00:00Z", Title: "first"}, resp.Tasks[0])
	assert.Equal(t, 1, resp.SubscriptionCount)
}

func TestCancelScheduled(t *testing.T) {
	testCases := []struct {
		name         string
		cancelErr    error
		expectedCode int
	}{
		{name: "Cancelled", cancelErr: nil, expectedCode: http.StatusOK},
		{name: "Unknown or already fired", cancelErr: push.ErrTaskNotFound, expectedCode: http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			apiHandler, _, _, scheduler := setupAPI(t)
			scheduler.On("Cancel", mock.Anything, "task-7").Return(tc.cancelErr)

			req := httptest.NewRequest(http.MethodDelete, "/api/scheduled/task-7", nil)
			req.SetPathValue("id", "task-7")
			w := httptest.NewRecorder()
			apiHandler.CancelScheduled(w, req)

			assert.Equal(t, tc.expectedCode, w.Code)
			scheduler.AssertExpectations(t)
		})
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	apiHandler, reg, _, scheduler := setupAPI(t)
	_, err := reg.Add(ctx, push.Endpoint{URL: "https://push.example.com/a"})
	require.NoError(t, err)
	scheduler.On("Pending").Return(3)

	w := httptest.NewRecorder()
	apiHandler.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Subscriptions)
	assert.Equal(t, 3, resp.ScheduledTasks)
	_, err = time.Parse(time.RFC3339Nano, resp.Time)
	assert.NoError(t, err)
}

func TestIndex(t *testing.T) {
	apiHandler, _, _, _ := setupAPI(t)
	w := httptest.NewRecorder()

	apiHandler.Index(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "go-push-scheduler", out["name"])
	assert.Contains(t, out["endpoints"], "POST /api/schedule-push")
}
