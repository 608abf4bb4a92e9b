package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hooksched/internal/endpoint"
	"hooksched/internal/eventbus"
	"hooksched/internal/job"
	"hooksched/internal/store"
	logx "hooksched/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

type sentCall struct {
	url     string
	content string
}

func (f *fakeSender) Send(_ context.Context, url, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{url: url, content: content})
	return f.err
}

func (f *fakeSender) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fixture struct {
	svc    *Service
	st     store.Store
	sender *fakeSender
	bus    eventbus.Bus
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sender := &fakeSender{}
	bus := eventbus.New()
	svc := New(Config{}, st, sender, nil, bus, logx.Nop())
	svc.eng = newFakeEngine()
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	return &fixture{svc: svc, st: st, sender: sender, bus: bus, now: svc.now()}
}

// fakeEngine records arm/disarm calls without real clocks.
type fakeEngine struct {
	mu    sync.Mutex
	armed map[string]time.Time
}

func newFakeEngine() *fakeEngine { return &fakeEngine{armed: map[string]time.Time{}} }

func (e *fakeEngine) Arm(id string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed[id] = at
}

func (e *fakeEngine) Disarm(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.armed, id)
}

func (e *fakeEngine) Armed(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.armed[id]
	return ok
}

func (e *fakeEngine) ArmedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.armed))
	for id := range e.armed {
		ids = append(ids, id)
	}
	return ids
}

func (e *fakeEngine) Stop() {}

func (f *fixture) engine() *fakeEngine { return f.svc.eng.(*fakeEngine) }

func (f *fixture) saveEndpoints(t *testing.T, urls ...string) {
	t.Helper()
	var tbl endpoint.Table
	for i, u := range urls {
		tbl[i].URL = u
	}
	if err := store.SaveEndpoints(context.Background(), f.st, tbl); err != nil {
		t.Fatalf("save endpoints: %v", err)
	}
}

func mkJob(f *fixture, text string, idx int, delay time.Duration) job.Job {
	return job.New(text, idx, job.KindScheduled, f.now, delay)
}

func TestCreatePersistsAndArms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := mkJob(f, "hello", 1, time.Minute)
	if err := f.svc.handleCreate(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	jobs, err := store.LoadJobs(ctx, f.st)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != j.ID {
		t.Fatalf("jobs = %+v, want the one created", jobs)
	}
	if jobs[0].Status != job.StatusScheduled {
		t.Fatalf("status = %q, want scheduled", jobs[0].Status)
	}
	if !f.engine().Armed(j.ID) {
		t.Fatal("timer should be armed after create")
	}
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		j    job.Job
	}{
		{"empty text", mkJob(f, "   ", 0, time.Minute)},
		{"delay below minimum", mkJob(f, "hi", 0, 9*time.Second)},
	}
	for _, tc := range cases {
		if err := f.svc.handleCreate(ctx, tc.j); err == nil {
			t.Errorf("%s: create succeeded, want error", tc.name)
		}
	}

	jobs, _ := store.LoadJobs(ctx, f.st)
	if len(jobs) != 0 {
		t.Fatalf("store should stay empty, got %d jobs", len(jobs))
	}
}

func TestCreateEnforcesCapacity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < job.Capacity; i++ {
		if err := f.svc.handleCreate(ctx, mkJob(f, "msg", 0, time.Minute)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	err := f.svc.handleCreate(ctx, mkJob(f, "overflow", 0, time.Minute))
	if !errors.Is(err, job.ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacity", err)
	}

	jobs, _ := store.LoadJobs(ctx, f.st)
	if len(jobs) != job.Capacity {
		t.Fatalf("got %d jobs, want %d", len(jobs), job.Capacity)
	}
}

func TestCancelRemovesAndDisarms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := mkJob(f, "bye", 0, time.Minute)
	if err := f.svc.handleCreate(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.handleCancel(ctx, j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.engine().Armed(j.ID) {
		t.Fatal("timer should be disarmed after cancel")
	}
	jobs, _ := store.LoadJobs(ctx, f.st)
	if len(jobs) != 0 {
		t.Fatalf("got %d jobs after cancel, want 0", len(jobs))
	}

	// Canceling again is a no-op, not an error.
	if err := f.svc.handleCancel(ctx, j.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestFireDeliversAndPrunes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.saveEndpoints(t, "https://discord.com/api/webhooks/1/a")

	j := mkJob(f, "fire me", 0, time.Minute)
	if err := f.svc.handleCreate(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	f.svc.handleFire(ctx, j.ID)

	calls := f.sender.sent()
	if len(calls) != 1 {
		t.Fatalf("got %d sends, want 1", len(calls))
	}
	if calls[0].url != "https://discord.com/api/webhooks/1/a" || calls[0].content != "fire me" {
		t.Fatalf("call = %+v", calls[0])
	}
	jobs, _ := store.LoadJobs(ctx, f.st)
	if len(jobs) != 0 {
		t.Fatal("job should be pruned after delivery")
	}
	if f.engine().Armed(j.ID) {
		t.Fatal("timer should be disarmed after fire")
	}
}

func TestFireAfterCancelIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.saveEndpoints(t, "https://discord.com/api/webhooks/1/a")

	j := mkJob(f, "never", 0, time.Minute)
	if err := f.svc.handleCreate(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.handleCancel(ctx, j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.svc.handleFire(ctx, j.ID)

	if n := len(f.sender.sent()); n != 0 {
		t.Fatalf("got %d sends after cancel, want 0", n)
	}
}

func TestFireDropsJobOnDeliveryFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.saveEndpoints(t, "https://discord.com/api/webhooks/1/a")
	f.sender.err = errors.New("boom")

	j := mkJob(f, "doomed", 0, time.Minute)
	if err := f.svc.handleCreate(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.svc.handleFire(ctx, j.ID)

	jobs, _ := store.LoadJobs(ctx, f.st)
	if len(jobs) != 0 {
		t.Fatal("failed job must still be dropped")
	}
	if len(f.sender.sent()) != 1 {
		t.Fatal("delivery should have been attempted once")
	}
}

func TestFireUnconfiguredSlotFailsWithoutSend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	// slot 3 stays empty

	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	j := mkJob(f, "nowhere", 3, time.Minute)
	if err := f.svc.handleCreate(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.svc.handleFire(ctx, j.ID)

	if n := len(f.sender.sent()); n != 0 {
		t.Fatalf("got %d sends, want 0", n)
	}
	jobs, _ := store.LoadJobs(ctx, f.st)
	if len(jobs) != 0 {
		t.Fatal("job should be dropped even when no endpoint is configured")
	}

	var sawFailure bool
	for done := false; !done; {
		select {
		case e := <-events:
			if e.Type == eventbus.DeliveryFail {
				rec := e.Data.(store.DeliveryRecord)
				if rec.OK || rec.Error == "" {
					t.Fatalf("failure record = %+v", rec)
				}
				sawFailure = true
			}
		default:
			done = true
		}
	}
	if !sawFailure {
		t.Fatal("expected a delivery failure event")
	}
}

func TestSendNowSchedulesReminderDespiteFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.saveEndpoints(t, "https://discord.com/api/webhooks/1/a")
	f.sender.err = errors.New("endpoint down")

	// Exercise the owner loop path for SendNow.
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.svc.Stop(ctx)

	receipt, err := f.svc.SendNow(ctx, 0, "compiled text", "raw text", true)
	if err == nil {
		t.Fatal("want delivery error")
	}
	if receipt.ReminderID == "" {
		t.Fatalf("reminder should be scheduled despite failed send, receipt = %+v", receipt)
	}

	jobs, loadErr := store.LoadJobs(ctx, f.st)
	if loadErr != nil {
		t.Fatalf("load: %v", loadErr)
	}
	if len(jobs) != 1 || jobs[0].Kind != job.KindReminder {
		t.Fatalf("jobs = %+v, want one reminder", jobs)
	}
	if jobs[0].Text != "@everyone Reminder: raw text" {
		t.Fatalf("reminder text = %q", jobs[0].Text)
	}
}

func TestSendNowEmptySlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.svc.Stop(ctx)

	_, err := f.svc.SendNow(ctx, 2, "text", "", false)
	if err == nil {
		t.Fatal("want error for empty webhook slot")
	}
	if n := len(f.sender.sent()); n != 0 {
		t.Fatalf("got %d sends, want 0", n)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := mkJob(f, "drifted", 0, time.Minute)
	if err := f.svc.handleCreate(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Simulate a lost wake-up and a stray timer.
	f.engine().Disarm(j.ID)
	f.engine().Arm("ghost-id", f.now.Add(time.Hour))

	f.svc.reconcile(ctx)

	if !f.engine().Armed(j.ID) {
		t.Fatal("live job should be re-armed")
	}
	if f.engine().Armed("ghost-id") {
		t.Fatal("stray timer should be disarmed")
	}
}

func TestStartRearmsPersistedJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := mkJob(f, "survivor", 0, time.Minute)
	j.Status = job.StatusScheduled
	if err := store.SaveJobs(ctx, f.st, []job.Job{j}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.svc.Stop(ctx)

	if !f.engine().Armed(j.ID) {
		t.Fatal("persisted job should be armed on start")
	}
}

func TestJobsSortedSoonestFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	late := mkJob(f, "late", 0, 2*time.Hour)
	soon := mkJob(f, "soon", 0, time.Minute)
	for _, j := range []job.Job{late, soon} {
		if err := f.svc.handleCreate(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.svc.Stop(ctx)

	jobs, err := f.svc.Jobs(ctx)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != soon.ID || jobs[1].ID != late.ID {
		t.Fatalf("jobs out of order: %+v", jobs)
	}
}
