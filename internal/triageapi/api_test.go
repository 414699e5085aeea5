package triageapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sift/internal/mail"
	"github.com/linnemanlabs/sift/internal/tasks"
	"github.com/linnemanlabs/sift/internal/triage"
)

// mockService records calls and serves canned state.
type mockService struct {
	states      map[string]*triage.State
	accepted    []string
	acceptedAs  map[string]mail.Folder
	dismissed   []string
	snoozed     map[string]time.Time
	unsnoozed   []string
	retried     []string
	batchIDs    []string
	actionErr   error
	reviewQueue []*triage.State
}

func newMockService() *mockService {
	return &mockService{
		states:     make(map[string]*triage.State),
		acceptedAs: make(map[string]mail.Folder),
		snoozed:    make(map[string]time.Time),
	}
}

func (m *mockService) ClassifyBatch(_ context.Context, ids []string) string {
	m.batchIDs = ids
	return "task-123"
}

func (m *mockService) State(_ context.Context, id string) (*triage.State, bool, error) {
	st, ok := m.states[id]
	return st, ok, nil
}

func (m *mockService) Accept(_ context.Context, id string) error {
	if m.actionErr != nil {
		return m.actionErr
	}
	m.accepted = append(m.accepted, id)
	return nil
}

func (m *mockService) AcceptWithFolder(_ context.Context, id string, folder mail.Folder) error {
	if m.actionErr != nil {
		return m.actionErr
	}
	m.acceptedAs[id] = folder
	return nil
}

func (m *mockService) Dismiss(_ context.Context, id string) error {
	if m.actionErr != nil {
		return m.actionErr
	}
	m.dismissed = append(m.dismissed, id)
	return nil
}

func (m *mockService) BulkAccept(ctx context.Context, ids []string) triage.BulkOutcome {
	var out triage.BulkOutcome
	for _, id := range ids {
		if err := m.Accept(ctx, id); err != nil {
			out.Failed++
			continue
		}
		out.Succeeded++
	}
	return out
}

func (m *mockService) BulkDismiss(ctx context.Context, ids []string) triage.BulkOutcome {
	var out triage.BulkOutcome
	for _, id := range ids {
		if err := m.Dismiss(ctx, id); err != nil {
			out.Failed++
			continue
		}
		out.Succeeded++
	}
	return out
}

func (m *mockService) Retry(_ context.Context, id string) (*triage.Result, error) {
	if m.actionErr != nil {
		return nil, m.actionErr
	}
	m.retried = append(m.retried, id)
	return &triage.Result{EmailID: id, Folder: mail.FolderArchive, Confidence: 0.9}, nil
}

func (m *mockService) Reclassify(ctx context.Context, id string) (*triage.Result, error) {
	return m.Retry(ctx, id)
}

func (m *mockService) SnoozeEmail(_ context.Context, id string, until time.Time, _ triage.SnoozeReason) error {
	if m.actionErr != nil {
		return m.actionErr
	}
	m.snoozed[id] = until
	return nil
}

func (m *mockService) Unsnooze(_ context.Context, id string) error {
	if m.actionErr != nil {
		return m.actionErr
	}
	m.unsnoozed = append(m.unsnoozed, id)
	return nil
}

func (m *mockService) ReviewQueue(context.Context) ([]*triage.State, error) {
	return m.reviewQueue, nil
}

func (m *mockService) FailedQueue(context.Context) ([]*triage.State, error) {
	return nil, nil
}

func (m *mockService) ConfusedPatterns(_ context.Context, minDismissals int) ([]*triage.ConfusedPattern, error) {
	return []*triage.ConfusedPattern{
		{PatternType: "domain", PatternValue: "a.com", DismissalCount: minDismissals},
	}, nil
}

type mockCandidates struct {
	ids []string
}

func (m *mockCandidates) ListEmailIDs(context.Context, string, mail.Folder, int) ([]string, error) {
	return m.ids, nil
}

func newTestRouter(t *testing.T) (chi.Router, *mockService, *tasks.Runner) {
	t.Helper()
	svc := newMockService()
	runner := tasks.NewRunner(nil)
	api := New(nil, svc, runner, &mockCandidates{ids: []string{"em-a", "em-b"}})
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r, svc, runner
}

func doJSON(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil service did not panic")
		}
	}()
	New(nil, nil, tasks.NewRunner(nil), nil)
}

func TestNew_NilRunner_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil runner did not panic")
		}
	}()
	New(nil, newMockService(), nil, nil)
}

func TestStartBatch_ExplicitIDs(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/triage/batch", `{"email_ids":["em-1","em-2","em-3"]}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["task_id"] != "task-123" {
		t.Errorf("task_id = %v, want task-123", resp["task_id"])
	}
	if len(svc.batchIDs) != 3 {
		t.Errorf("batch ids = %v, want 3 ids", svc.batchIDs)
	}
}

func TestStartBatch_FromCandidates(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/triage/batch", `{"account_id":"acct-1"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if len(svc.batchIDs) != 2 {
		t.Errorf("batch ids = %v, want candidates from index", svc.batchIDs)
	}
}

func TestStartBatch_BadRequests(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	for _, body := range []string{`{bad`, `{}`, `{"account_id":"a","folder":"nope"}`} {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/triage/batch", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	r, _, runner := newTestRouter(t)

	done := make(chan struct{})
	runner.Start(context.Background(), "task-1", 2, func(ctx context.Context, onProgress func()) error {
		onProgress()
		onProgress()
		close(done)
		return nil
	})
	<-done

	// Poll until the runner records completion.
	deadline := time.After(2 * time.Second)
	for {
		rec := doJSON(t, r, http.MethodGet, "/api/v1/tasks/task-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var task tasks.Task
		if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
			t.Fatalf("decode task: %v", err)
		}
		if task.Status == tasks.StatusCompleted {
			if task.Processed != 2 {
				t.Errorf("processed = %d, want 2", task.Processed)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never completed, last status %q", task.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestGetTask_NotFound(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/tasks/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestClearTask(t *testing.T) {
	t.Parallel()

	r, _, runner := newTestRouter(t)
	runner.Start(context.Background(), "task-clear", 0, func(ctx context.Context, onProgress func()) error {
		return nil
	})

	rec := doJSON(t, r, http.MethodDelete, "/api/v1/tasks/task-clear", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if runner.GetStatus("task-clear") != nil {
		t.Error("task still present after clear")
	}
}

func TestGetClassification(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	folder := mail.FolderNewsletters
	svc.states["em-1"] = &triage.State{
		EmailID:         "em-1",
		Status:          triage.StatusPendingReview,
		SuggestedFolder: &folder,
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/emails/em-1/classification", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var st triage.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Status != triage.StatusPendingReview {
		t.Errorf("status = %q, want %q", st.Status, triage.StatusPendingReview)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/emails/em-unknown/classification", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAccept(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/emails/em-1/accept", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(svc.accepted) != 1 || svc.accepted[0] != "em-1" {
		t.Errorf("accepted = %v, want [em-1]", svc.accepted)
	}
}

func TestAccept_WithFolder(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/emails/em-1/accept", `{"folder":"personal"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.acceptedAs["em-1"] != mail.FolderPersonal {
		t.Errorf("acceptedAs = %v, want personal", svc.acceptedAs)
	}
}

func TestDismiss_NotFound(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	svc.actionErr = fmt.Errorf("classification for email em-x: %w", triage.ErrNotFound)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/emails/em-x/dismiss", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSnooze(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	until := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/emails/em-1/snooze",
		`{"until":"`+until+`","reason":"shipping"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if _, ok := svc.snoozed["em-1"]; !ok {
		t.Error("snooze not recorded")
	}
}

func TestSnooze_PastUntil(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/emails/em-1/snooze",
		`{"until":"2020-01-01T00:00:00Z"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUnsnooze(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodDelete, "/api/v1/emails/em-1/snooze", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(svc.unsnoozed) != 1 {
		t.Errorf("unsnoozed = %v, want one entry", svc.unsnoozed)
	}
}

func TestReviewQueue(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	svc.reviewQueue = []*triage.State{
		{EmailID: "em-1", Status: triage.StatusPendingReview},
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/review", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var states []*triage.State
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode states: %v", err)
	}
	if len(states) != 1 || states[0].EmailID != "em-1" {
		t.Errorf("states = %v, want the pending email", states)
	}
}

func TestFailedQueue_EmptyIsArray(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/failed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestBulkAccept(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/review/accept", `{"email_ids":["em-1","em-2"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var out triage.BulkOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.Succeeded != 2 || out.Failed != 0 {
		t.Errorf("outcome = %+v, want 2 succeeded", out)
	}
	if len(svc.accepted) != 2 {
		t.Errorf("accepted = %v, want both ids", svc.accepted)
	}
}

func TestBulkAccept_EmptyIDs(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/review/accept", `{"email_ids":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestConfusedPatterns_MinParam(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/patterns/confused?min=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var patterns []*triage.ConfusedPattern
	if err := json.Unmarshal(rec.Body.Bytes(), &patterns); err != nil {
		t.Fatalf("decode patterns: %v", err)
	}
	if len(patterns) != 1 || patterns[0].DismissalCount != 5 {
		t.Errorf("patterns = %+v, want min=5 passed through", patterns)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/patterns/confused?min=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRetryAndReclassify(t *testing.T) {
	t.Parallel()

	r, svc, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/emails/em-1/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want %d", rec.Code, http.StatusOK)
	}
	var res triage.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Folder != mail.FolderArchive {
		t.Errorf("folder = %q, want archive", res.Folder)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/emails/em-2/reclassify", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reclassify status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(svc.retried) != 2 {
		t.Errorf("retried = %v, want two entries", svc.retried)
	}

	svc.actionErr = fmt.Errorf("classifier down")
	rec = doJSON(t, r, http.MethodPost, "/api/v1/emails/em-3/retry", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("retry failure status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}
