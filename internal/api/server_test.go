package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hooksched/internal/eventbus"
	"hooksched/internal/job"
	"hooksched/internal/scheduler"
	"hooksched/internal/store"
	"hooksched/internal/timer"
	logx "hooksched/pkg/logx"
)

type stubSender struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubSender) Send(_ context.Context, url, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, url+"|"+content)
	return s.err
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type testAPI struct {
	srv    *httptest.Server
	st     store.Store
	sender *stubSender
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sender := &stubSender{}
	var sched *scheduler.Service
	eng := timer.New(logx.Nop(), func(id string) { sched.OnTimerFire(id) })
	sched = scheduler.New(scheduler.Config{}, st, sender, eng, eventbus.New(), logx.Nop())

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(func() { sched.Stop(ctx) })

	svc := New(Config{}, sched, st, logx.Nop())
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)

	return &testAPI{srv: ts, st: st, sender: sender}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		out = nil
	}
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	resp, err := a.srv.Client().Get(a.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	code, out := a.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"text":         "deploy starts",
		"webhookIndex": 1,
		"delaySeconds": 120,
	})
	if code != http.StatusOK || out["ok"] != true {
		t.Fatalf("create = %d %v", code, out)
	}
	created := out["job"].(map[string]any)
	id := created["id"].(string)
	if id == "" {
		t.Fatal("created job has no id")
	}

	code, out = a.do(t, http.MethodGet, "/api/jobs", nil)
	if code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	jobs := out["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs", len(jobs))
	}
	first := jobs[0].(map[string]any)
	if first["id"] != id {
		t.Fatalf("listed id = %v", first["id"])
	}
	if rem := first["remainingSeconds"].(float64); rem <= 0 || rem > 120 {
		t.Fatalf("remainingSeconds = %v", rem)
	}

	code, _ = a.do(t, http.MethodDelete, "/api/jobs/"+id, nil)
	if code != http.StatusOK {
		t.Fatalf("cancel = %d", code)
	}
	_, out = a.do(t, http.MethodGet, "/api/jobs", nil)
	if n := len(out["jobs"].([]any)); n != 0 {
		t.Fatalf("%d jobs after cancel", n)
	}
}

func TestCreateJobRejectsEmptyText(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	code, out := a.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"text":         "   ",
		"delaySeconds": 60,
	})
	if code != http.StatusUnprocessableEntity || out["ok"] != false {
		t.Fatalf("got %d %v", code, out)
	}
}

func TestCreateJobCapacityConflict(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	for i := 0; i < job.Capacity; i++ {
		code, _ := a.do(t, http.MethodPost, "/api/jobs", map[string]any{
			"text":         fmt.Sprintf("job %d", i),
			"delaySeconds": 300,
		})
		if code != http.StatusOK {
			t.Fatalf("create %d = %d", i, code)
		}
	}
	code, out := a.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"text":         "one too many",
		"delaySeconds": 300,
	})
	if code != http.StatusConflict {
		t.Fatalf("overflow = %d %v", code, out)
	}
}

func TestWebhookTableValidation(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	// One bad URL rejects the whole table.
	code, out := a.do(t, http.MethodPut, "/api/webhooks", []any{
		"https://discord.com/api/webhooks/1/a",
		"http://discord.com/api/webhooks/2/b",
	})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("bad table = %d %v", code, out)
	}
	// Nothing was persisted.
	_, out = a.do(t, http.MethodGet, "/api/webhooks", nil)
	hooks := out["webhooks"].([]any)
	if hooks[0].(map[string]any)["url"] != "" {
		t.Fatal("rejected table must not be persisted")
	}

	code, _ = a.do(t, http.MethodPut, "/api/webhooks", []any{
		"https://discord.com/api/webhooks/1/a",
		map[string]any{"name": "ops", "url": "https://discordapp.com/api/webhooks/2/b"},
	})
	if code != http.StatusOK {
		t.Fatalf("good table = %d", code)
	}
	_, out = a.do(t, http.MethodGet, "/api/webhooks", nil)
	hooks = out["webhooks"].([]any)
	if hooks[1].(map[string]any)["name"] != "ops" {
		t.Fatalf("webhooks = %v", hooks)
	}
}

func TestLastIndexRoundTrip(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	code, out := a.do(t, http.MethodPut, "/api/webhooks/last", map[string]any{"index": 42})
	if code != http.StatusOK {
		t.Fatalf("put = %d", code)
	}
	if out["index"].(float64) != 4 {
		t.Fatalf("put clamped index = %v", out["index"])
	}
	_, out = a.do(t, http.MethodGet, "/api/webhooks/last", nil)
	if out["index"].(float64) != 4 {
		t.Fatalf("get index = %v", out["index"])
	}
}

func TestQuickActions(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	code, _ := a.do(t, http.MethodPut, "/api/quickactions", []any{
		map[string]any{"label": "Break", "message": "brb 5", "webhookIndex": 0},
	})
	if code != http.StatusOK {
		t.Fatalf("put = %d", code)
	}

	// Firing the stored slot goes through the normal send path.
	code, _ = a.do(t, http.MethodPut, "/api/webhooks", []any{"https://discord.com/api/webhooks/1/a"})
	if code != http.StatusOK {
		t.Fatal("seed webhook failed")
	}
	code, _ = a.do(t, http.MethodPost, "/api/quickactions/0", nil)
	if code != http.StatusOK {
		t.Fatalf("fire = %d", code)
	}
	if a.sender.count() != 1 {
		t.Fatalf("sends = %d, want 1", a.sender.count())
	}

	// Empty slots and bad indexes do not send.
	if code, _ = a.do(t, http.MethodPost, "/api/quickactions/5", nil); code != http.StatusNotFound {
		t.Fatalf("empty slot = %d", code)
	}
	if code, _ = a.do(t, http.MethodPost, "/api/quickactions/99", nil); code != http.StatusBadRequest {
		t.Fatalf("out of range = %d", code)
	}
}

func TestSendFailureEnvelope(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.sender.err = fmt.Errorf("connection refused")

	code, _ := a.do(t, http.MethodPut, "/api/webhooks", []any{"https://discord.com/api/webhooks/1/a"})
	if code != http.StatusOK {
		t.Fatal("seed webhook failed")
	}
	code, out := a.do(t, http.MethodPost, "/api/send", map[string]any{
		"text":         "now",
		"webhookIndex": 0,
		"reminder":     true,
	})
	if code != http.StatusBadGateway || out["ok"] != false {
		t.Fatalf("send = %d %v", code, out)
	}
	// The reminder is scheduled regardless of the failed delivery.
	if out["reminderId"] == nil || out["reminderId"] == "" {
		t.Fatalf("no reminderId in %v", out)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		err := a.st.AppendDelivery(ctx, store.DeliveryRecord{
			At: now.Add(time.Duration(i) * time.Second), JobID: fmt.Sprintf("j%d", i), Kind: "scheduled", OK: true,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	code, out := a.do(t, http.MethodGet, "/api/history?limit=2", nil)
	if code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	recs := out["deliveries"].([]any)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].(map[string]any)["jobId"] != "j2" {
		t.Fatalf("newest first expected, got %v", recs[0])
	}

	if code, _ := a.do(t, http.MethodGet, "/api/history?limit=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", code)
	}
}
