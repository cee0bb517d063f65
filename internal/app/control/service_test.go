package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/ingest/pkg/domain/audit"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// fakeStore is an in-memory control store with injectable create behavior.
type fakeStore struct {
	controls map[string]*Control
	statuses map[shared.ID]*ControlStatus

	// createErrs is consumed one call at a time; nil means success.
	createErrs  []error
	createCalls int
	lookupErr   error
	transitions map[shared.ID]string
}

func newFakeStore(controls ...*Control) *fakeStore {
	s := &fakeStore{
		controls:    map[string]*Control{},
		statuses:    map[shared.ID]*ControlStatus{},
		transitions: map[shared.ID]string{},
	}
	for _, c := range controls {
		s.controls[c.Name] = c
	}
	return s
}

func (s *fakeStore) ControlByName(_ context.Context, _ shared.ID, name string) (*Control, error) {
	c, ok := s.controls[name]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "control not found", shared.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) CreateStatus(_ context.Context, projectID, controlID shared.ID) (*ControlStatus, error) {
	s.createCalls++
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	status := &ControlStatus{
		ID:        shared.NewID(),
		ProjectID: projectID,
		ControlID: controlID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	s.statuses[status.ID] = status
	return status, nil
}

func (s *fakeStore) StatusByControl(_ context.Context, _ shared.ID, controlID shared.ID) (*ControlStatus, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for _, status := range s.statuses {
		if status.ControlID == controlID {
			return status, nil
		}
	}
	return nil, shared.NewDomainError("NOT_FOUND", "status not found", shared.ErrNotFound)
}

func (s *fakeStore) TransitionStatus(_ context.Context, statusID shared.ID, status string) error {
	s.transitions[statusID] = status
	return nil
}

// fakeScheduler records scheduled timeout jobs.
type fakeScheduler struct {
	scheduled map[shared.ID]time.Duration
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: map[shared.ID]time.Duration{}}
}

func (s *fakeScheduler) ScheduleControlTimeout(_ context.Context, statusID shared.ID, after time.Duration) error {
	s.scheduled[statusID] = after
	return nil
}

// fakeRecorder collects audit events.
type fakeRecorder struct {
	events []audit.Event
}

func (r *fakeRecorder) Record(_ context.Context, event audit.Event) {
	r.events = append(r.events, event)
}

func acceptingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(store *fakeStore, scheduler *fakeScheduler, recorder *fakeRecorder) *Service {
	client := NewWebhookClient(time.Second, 100, 100)
	// Pass a true nil interface when no recorder is given; a nil *fakeRecorder
	// wrapped in the interface would defeat the service's nil-recorder guard.
	var rec audit.Recorder
	if recorder != nil {
		rec = recorder
	}
	return NewService(store, client, scheduler, rec, logger.NewNop(), 31*time.Minute)
}

func TestTrigger_Success(t *testing.T) {
	srv := acceptingServer(t)
	projectID := shared.NewID()
	ctrl := &Control{ID: shared.NewID(), ProjectID: projectID, Name: "soc2", External: true, ExternalURL: srv.URL, SharedSecret: "secret"}
	store := newFakeStore(ctrl)
	scheduler := newFakeScheduler()
	recorder := &fakeRecorder{}

	result, err := newService(store, scheduler, recorder).Trigger(context.Background(), TriggerParams{ProjectID: projectID, ControlName: "soc2"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.False(t, result.StatusID.IsZero())

	// Pending status created, timeout scheduled, success audited.
	require.Contains(t, store.statuses, result.StatusID)
	assert.Equal(t, StatusPending, store.statuses[result.StatusID].Status)
	assert.Equal(t, 31*time.Minute, scheduler.scheduled[result.StatusID])
	require.Len(t, recorder.events, 1)
	assert.Equal(t, audit.EventControlRequestSucceeded, recorder.events[0].Type)
}

func TestTrigger_ValidationFailures(t *testing.T) {
	srv := acceptingServer(t)
	projectID := shared.NewID()
	store := newFakeStore(
		&Control{ID: shared.NewID(), ProjectID: projectID, Name: "internal-check", External: false},
		&Control{ID: shared.NewID(), ProjectID: projectID, Name: "soc2", External: true, ExternalURL: srv.URL},
	)
	svc := newService(store, newFakeScheduler(), nil)

	cases := []struct {
		name    string
		params  TriggerParams
		message string
	}{
		{"missing control name", TriggerParams{ProjectID: projectID}, "invalid control parameters"},
		{"unknown control", TriggerParams{ProjectID: projectID, ControlName: "nope"}, "unknown control"},
		{"non-external control", TriggerParams{ProjectID: projectID, ControlName: "internal-check"}, "is not external"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.Trigger(context.Background(), tc.params)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, FailureValidation, result.FailureType)
			assert.Contains(t, result.Message, tc.message)
		})
	}
}

func TestTrigger_HTTPFailureIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	projectID := shared.NewID()
	ctrl := &Control{ID: shared.NewID(), ProjectID: projectID, Name: "soc2", External: true, ExternalURL: srv.URL}
	store := newFakeStore(ctrl)
	scheduler := newFakeScheduler()
	recorder := &fakeRecorder{}

	result, err := newService(store, scheduler, recorder).Trigger(context.Background(), TriggerParams{ProjectID: projectID, ControlName: "soc2"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, FailureHTTPError, result.FailureType)
	assert.Equal(t, http.StatusBadGateway, result.HTTPStatus)

	// No timeout for an undelivered control; the failure is audited.
	assert.Empty(t, scheduler.scheduled)
	require.Len(t, recorder.events, 1)
	assert.Equal(t, audit.EventControlRequestFailed, recorder.events[0].Type)
}

func TestTrigger_CreateRace(t *testing.T) {
	alreadyExists := shared.NewDomainError("ALREADY_EXISTS", "duplicate status", shared.ErrAlreadyExists)

	t.Run("conflict resolves to the winning row", func(t *testing.T) {
		srv := acceptingServer(t)
		projectID := shared.NewID()
		ctrl := &Control{ID: shared.NewID(), ProjectID: projectID, Name: "soc2", External: true, ExternalURL: srv.URL}
		store := newFakeStore(ctrl)

		winner, err := store.CreateStatus(context.Background(), projectID, ctrl.ID)
		require.NoError(t, err)
		store.createErrs = []error{alreadyExists}

		result, err := newService(store, newFakeScheduler(), nil).Trigger(context.Background(), TriggerParams{ProjectID: projectID, ControlName: "soc2"})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, winner.ID, result.StatusID)
	})

	t.Run("second conflict is surfaced, not retried", func(t *testing.T) {
		srv := acceptingServer(t)
		projectID := shared.NewID()
		ctrl := &Control{ID: shared.NewID(), ProjectID: projectID, Name: "soc2", External: true, ExternalURL: srv.URL}
		store := newFakeStore(ctrl)
		store.createErrs = []error{alreadyExists, alreadyExists}
		store.lookupErr = shared.NewDomainError("NOT_FOUND", "status not found", shared.ErrNotFound)

		result, err := newService(store, newFakeScheduler(), nil).Trigger(context.Background(), TriggerParams{ProjectID: projectID, ControlName: "soc2"})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, FailureValidation, result.FailureType)
		assert.Contains(t, result.Message, "already being triggered")
		assert.Equal(t, 2, store.createCalls)
	})
}

func TestCompleteAndTimeout(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeScheduler(), nil)

	passed := shared.NewID()
	failed := shared.NewID()
	timedOut := shared.NewID()

	require.NoError(t, svc.Complete(context.Background(), passed, true))
	require.NoError(t, svc.Complete(context.Background(), failed, false))
	require.NoError(t, svc.Timeout(context.Background(), timedOut))

	assert.Equal(t, StatusPassed, store.transitions[passed])
	assert.Equal(t, StatusFailed, store.transitions[failed])
	assert.Equal(t, StatusTimeout, store.transitions[timedOut])
}
