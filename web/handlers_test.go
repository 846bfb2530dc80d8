package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"f0oster/dbspy/correlate"
	"f0oster/dbspy/notify"
	"f0oster/dbspy/scan"
	"f0oster/dbspy/scheduler"
	"f0oster/dbspy/web"
)

// inMemoryStore is a minimal NotificationStore backing the handler tests.
type inMemoryStore struct {
	mu      sync.Mutex
	active  map[uuid.UUID]*notify.Notification
	history []*notify.Notification
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{active: make(map[uuid.UUID]*notify.Notification)}
}

func clone(n *notify.Notification) *notify.Notification {
	c := *n
	c.Actions = append([]notify.ActionID(nil), n.Actions...)
	c.Responses = append([]notify.ActionResponse(nil), n.Responses...)
	return &c
}

func (s *inMemoryStore) Create(_ context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[n.ID] = clone(n)
	return nil
}

func (s *inMemoryStore) Get(_ context.Context, id uuid.UUID) (*notify.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.active[id]; ok {
		return clone(n), nil
	}
	for _, n := range s.history {
		if n.ID == id {
			return clone(n), nil
		}
	}
	return nil, nil
}

func (s *inMemoryStore) ListActive(_ context.Context, filter notify.ActiveFilter) ([]*notify.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notify.Notification
	for _, n := range s.active {
		if filter.Matches(n) {
			out = append(out, clone(n))
		}
	}
	return out, nil
}

func (s *inMemoryStore) Update(_ context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[n.ID] = clone(n)
	return nil
}

func (s *inMemoryStore) MoveToHistory(_ context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, n.ID)
	s.history = append(s.history, clone(n))
	return nil
}

func (s *inMemoryStore) ListHistory(_ context.Context, limit int) ([]*notify.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notify.Notification
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, clone(s.history[i]))
	}
	return out, nil
}

func (s *inMemoryStore) PurgeHistoryBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

type noopCorrelations struct{}

func (noopCorrelations) Save(context.Context, *notify.Correlation) error { return nil }
func (noopCorrelations) ListForIdentity(context.Context, string) ([]*notify.Correlation, error) {
	return nil, nil
}

type emptyDirectory struct{}

func (emptyDirectory) KnownAccounts(context.Context) ([]scan.AccountRecord, error) {
	return nil, nil
}

type fakePipeline struct {
	changes    *scan.ChangeSet
	history    []scan.SnapshotMeta
	historyErr error
}

func (p *fakePipeline) LatestChangeSet() *scan.ChangeSet { return p.changes }

func (p *fakePipeline) SnapshotHistory(_ context.Context, limit int) ([]scan.SnapshotMeta, error) {
	if p.historyErr != nil {
		return nil, p.historyErr
	}
	if limit < len(p.history) {
		return p.history[:limit], nil
	}
	return p.history, nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	triggered int
}

func (s *fakeScheduler) TriggerScanNow() {
	s.mu.Lock()
	s.triggered++
	s.mu.Unlock()
}

func (s *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{IsRunning: true, IntervalHours: 4}
}

type fixture struct {
	server   *web.Server
	store    *inMemoryStore
	notifier *notify.Notifier
	pipe     *fakePipeline
	sched    *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newInMemoryStore(),
		pipe:  &fakePipeline{},
		sched: &fakeScheduler{},
	}
	f.notifier = notify.NewNotifier(f.store, noopCorrelations{}, correlate.NewEngine(correlate.DefaultWeights()), emptyDirectory{})
	f.server = web.NewServer(f.notifier, f.pipe, f.sched, ":0")
	return f
}

func (f *fixture) createNotification(t *testing.T) *notify.Notification {
	t.Helper()
	changes := &scan.ChangeSet{
		ScanTime: time.Now(),
		New:      []scan.AccountRecord{{Username: "jdoe", ServerName: "serverX"}},
	}
	if err := f.notifier.ProcessChangeSet(context.Background(), changes); err != nil {
		t.Fatal(err)
	}
	active, err := f.store.ListActive(context.Background(), notify.ActiveFilter{})
	if err != nil || len(active) == 0 {
		t.Fatalf("no active notification created: %v", err)
	}
	return active[0]
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTriggerScan(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/scan", nil)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if f.sched.triggered != 1 {
		t.Errorf("scheduler triggered %d times, want 1", f.sched.triggered)
	}
}

func TestScannerStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/scanner/status", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status scheduler.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.IsRunning || status.IntervalHours != 4 {
		t.Errorf("decoded status = %+v", status)
	}
}

func TestLatestChanges(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/scans/latest", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status before any scan = %d, want 404", rec.Code)
	}

	f.pipe.changes = &scan.ChangeSet{
		New: []scan.AccountRecord{{Username: "jdoe", ServerName: "serverX"}},
	}
	rec = f.do(t, http.MethodGet, "/api/scans/latest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var changes scan.ChangeSet
	if err := json.Unmarshal(rec.Body.Bytes(), &changes); err != nil {
		t.Fatal(err)
	}
	if len(changes.New) != 1 || changes.New[0].Username != "jdoe" {
		t.Errorf("decoded changes = %+v", changes)
	}
}

func TestScanHistory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 15; i++ {
		f.pipe.history = append(f.pipe.history, scan.SnapshotMeta{ID: uuid.New()})
	}

	rec := f.do(t, http.MethodGet, "/api/scans", nil)
	var history []scan.SnapshotMeta
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 10 {
		t.Errorf("default limit returned %d entries, want 10", len(history))
	}

	rec = f.do(t, http.MethodGet, "/api/scans?limit=5", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 5 {
		t.Errorf("limit=5 returned %d entries", len(history))
	}

	f.pipe.historyErr = errors.New("database is down")
	rec = f.do(t, http.MethodGet, "/api/scans", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status on store failure = %d, want 500", rec.Code)
	}
}

func TestListNotifications(t *testing.T) {
	f := newFixture(t)
	f.createNotification(t)

	rec := f.do(t, http.MethodGet, "/api/notifications", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list []*notify.Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d notifications, want 1", len(list))
	}

	rec = f.do(t, http.MethodGet, "/api/notifications?type=user_removed", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("type filter returned %d notifications, want 0", len(list))
	}
}

func TestGetNotification(t *testing.T) {
	f := newFixture(t)
	created := f.createNotification(t)

	rec := f.do(t, http.MethodGet, "/api/notifications/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/notifications/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/notifications/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}
}

func TestRespond(t *testing.T) {
	f := newFixture(t)
	created := f.createNotification(t)
	path := fmt.Sprintf("/api/notifications/%s/respond", created.ID)

	rec := f.do(t, http.MethodPost, path, web.RespondRequest{ActionID: "dismiss", ActorID: "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	// The notification is now terminal; a second action is rejected.
	rec = f.do(t, http.MethodPost, path, web.RespondRequest{ActionID: "import_user", ActorID: "admin"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("terminal respond status = %d, want 404", rec.Code)
	}
}

func TestRespond_Validation(t *testing.T) {
	f := newFixture(t)
	created := f.createNotification(t)
	path := fmt.Sprintf("/api/notifications/%s/respond", created.ID)

	rec := f.do(t, http.MethodPost, path, web.RespondRequest{ActorID: "admin"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing action_id status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, path, web.RespondRequest{ActionID: "confirm_removal", ActorID: "admin"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("disallowed action status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte("{not json")))
	rec2 := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec2.Code)
	}
}

func TestNotificationStats(t *testing.T) {
	f := newFixture(t)
	f.createNotification(t)

	rec := f.do(t, http.MethodGet, "/api/notifications/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats notify.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalPending != 1 {
		t.Errorf("total pending = %d, want 1", stats.TotalPending)
	}
}
