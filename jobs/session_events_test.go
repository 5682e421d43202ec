package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/synod-schools/portal/internal/jobs"
	"github.com/synod-schools/portal/internal/shared"
)

type memoryStore struct {
	mu       sync.Mutex
	events   []shared.SessionEvent
	before   time.Time
	pruned   int64
	failWith error
}

func (s *memoryStore) RecordSessionEvent(_ context.Context, ev shared.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memoryStore) PruneSessionEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	s.before = before
	return s.pruned, nil
}

func newTestJob(store EventStore) *SessionEventJob {
	job := NewSessionEventJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return time.Date(2024, 9, 2, 3, 0, 0, 0, time.UTC) }
	return job
}

func TestSessionEventTaskRoundTrip(t *testing.T) {
	at := time.Date(2024, 9, 2, 7, 30, 0, 0, time.UTC)
	ev := shared.SessionEvent{
		SessionID: "sess-1",
		Kind:      shared.SessionEventLogin,
		Tenant:    "acme",
		UserID:    7,
		Email:     "t@acme",
		Meta:      map[string]any{"channel": "tenant"},
		At:        at,
	}
	task, err := NewSessionEventTask(ev)
	require.NoError(t, err)
	assert.Equal(t, TaskSessionEvent, task.Type())

	store := &memoryStore{}
	require.NoError(t, newTestJob(store).Handle(context.Background(), task))
	require.Len(t, store.events, 1)
	got := store.events[0]
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, shared.SessionEventLogin, got.Kind)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "tenant", got.Meta["channel"])
	assert.True(t, at.Equal(got.At))
}

func TestNewSessionEventTaskRejectsIncompleteEvent(t *testing.T) {
	_, err := NewSessionEventTask(shared.SessionEvent{Kind: shared.SessionEventLogout})
	assert.Error(t, err)
}

func TestSessionEventHandleSkipsRetryOnBadPayload(t *testing.T) {
	store := &memoryStore{}
	job := newTestJob(store)

	err := job.Handle(context.Background(), asynq.NewTask(TaskSessionEvent, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	data, _ := json.Marshal(SessionEventPayload{Event: shared.SessionEvent{Kind: shared.SessionEventLogin}})
	err = job.Handle(context.Background(), asynq.NewTask(TaskSessionEvent, data))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, store.events)
}

func TestSessionEventHandleReturnsStoreError(t *testing.T) {
	boom := errors.New("db down")
	task, err := NewSessionEventTask(shared.SessionEvent{SessionID: "s", Kind: shared.SessionEventLogout})
	require.NoError(t, err)

	err = newTestJob(&memoryStore{failWith: boom}).Handle(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestPruneUsesRetentionWindow(t *testing.T) {
	store := &memoryStore{pruned: 12}
	job := newTestJob(store)

	task, err := NewSessionEventPruneTask(30)
	require.NoError(t, err)
	require.NoError(t, job.HandlePrune(context.Background(), task))
	assert.Equal(t, time.Date(2024, 8, 3, 3, 0, 0, 0, time.UTC), store.before)

	task, err = NewSessionEventPruneTask(0)
	require.NoError(t, err)
	require.NoError(t, job.HandlePrune(context.Background(), task))
	assert.Equal(t, time.Date(2024, 6, 4, 3, 0, 0, 0, time.UTC), store.before)
}

func TestHandleWithoutStore(t *testing.T) {
	var job *SessionEventJob
	assert.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskSessionEvent, nil)))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, QueueDefault, body.Queues[0].Queue)
	assert.Equal(t, QueueAudit, body.Queues[1].Queue)
}
