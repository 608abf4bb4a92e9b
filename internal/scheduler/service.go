// Package scheduler is the coordination layer of the pipeline: it joins
// timer firings to job-store lookups and delivery calls, and owns the
// create/cancel contract exposed to UI collaborators.
//
// All job-state transitions run on a single goroutine. UI surfaces and
// timer callbacks hand work to that goroutine instead of touching the
// persisted store themselves, which removes the read-modify-write race
// between a cancel and a concurrent fire at its source.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"hooksched/internal/endpoint"
	"hooksched/internal/eventbus"
	"hooksched/internal/job"
	"hooksched/internal/message"
	"hooksched/internal/store"
	logx "hooksched/pkg/logx"
)

var ErrStopped = errors.New("scheduler stopped")

// Sender performs one outbound delivery attempt.
type Sender interface {
	Send(ctx context.Context, url, content string) error
}

// TimerEngine is the one-shot wake-up facility.
type TimerEngine interface {
	Arm(jobID string, fireAt time.Time)
	Disarm(jobID string)
	Armed(jobID string) bool
	ArmedIDs() []string
	Stop()
}

type Config struct {
	// ReconcileInterval is how often the sweep re-checks that every live
	// job has a timer and every timer has a job. 0 means 1m.
	ReconcileInterval time.Duration
}

// SendReceipt reports the outcome of an immediate send's side effects.
type SendReceipt struct {
	ReminderID    string
	ReminderError string
}

type Service struct {
	log    logx.Logger
	cfg    Config
	st     store.Store
	sender Sender
	eng    TimerEngine
	bus    eventbus.Bus

	now func() time.Time

	ops     chan func(ctx context.Context)
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool

	cron *cron.Cron

	// Background delivery failures are swallowed by policy, so the log is
	// the only trace they leave. Throttle it: a dead endpoint with several
	// queued jobs should not turn the log into a firehose.
	failLog *rate.Limiter
}

func New(cfg Config, st store.Store, sender Sender, eng TimerEngine, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}
	return &Service{
		log:     log,
		cfg:     cfg,
		st:      st,
		sender:  sender,
		eng:     eng,
		bus:     bus,
		now:     time.Now,
		failLog: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

// OnTimerFire is the timer engine's callback target. It hands the firing
// to the owner goroutine; the engine's goroutine never touches job state.
func (s *Service) OnTimerFire(jobID string) {
	s.enqueue(func(ctx context.Context) { s.handleFire(ctx, jobID) })
}

func (s *Service) Start(ctx context.Context) error {
	if s.stopCh != nil {
		return nil
	}
	s.ops = make(chan func(ctx context.Context), 64)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx)

	// Recover wake-ups lost with the previous process. Jobs already past
	// due fire right away via the arm guard.
	if err := s.do(ctx, func(c context.Context) error {
		s.rearmAll(c)
		return nil
	}); err != nil {
		return err
	}

	s.cron = cron.New()
	interval := "@every " + s.cfg.ReconcileInterval.String()
	if _, err := s.cron.AddFunc(interval, func() {
		s.enqueue(func(c context.Context) { s.reconcile(c) })
	}); err != nil {
		return err
	}
	s.cron.Start()

	s.log.Info("scheduler started", logx.Duration("reconcile", s.cfg.ReconcileInterval))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.stopCh == nil || s.stopped {
		return
	}
	s.stopped = true
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
		s.cron = nil
	}
	s.eng.Stop()
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case op := <-s.ops:
			op(ctx)
		}
	}
}

// enqueue hands an op to the owner goroutine, dropping it if the service
// is shutting down.
func (s *Service) enqueue(op func(ctx context.Context)) {
	select {
	case s.ops <- op:
	case <-s.stopCh:
	}
}

// do runs op on the owner goroutine and waits for its result.
func (s *Service) do(ctx context.Context, op func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	wrapped := func(c context.Context) { reply <- op(c) }

	select {
	case s.ops <- wrapped:
	case <-s.stopCh:
		return ErrStopped
	case <-s.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Public operations ----

// Create validates and persists a job draft and arms its timer.
// Fails with job.ErrCapacity when the table is full; no state changes then.
func (s *Service) Create(ctx context.Context, draft job.Job) error {
	return s.do(ctx, func(c context.Context) error {
		return s.handleCreate(c, draft)
	})
}

// Cancel removes a job and clears its timer. Canceling an id that is
// already gone succeeds and changes nothing.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.do(ctx, func(c context.Context) error {
		return s.handleCancel(c, id)
	})
}

// Jobs returns the live job table, soonest first.
func (s *Service) Jobs(ctx context.Context) ([]job.Job, error) {
	var out []job.Job
	err := s.do(ctx, func(c context.Context) error {
		jobs, err := store.LoadJobs(c, s.st)
		if err != nil {
			return err
		}
		out = jobs
		return nil
	})
	return out, err
}

// SendNow performs an immediate delivery to the indexed endpoint, and
// optionally schedules the fixed +60s self-reminder. The reminder is
// requested independent of the primary send's outcome; its own failure is
// reported in the receipt rather than masking the delivery result.
func (s *Service) SendNow(ctx context.Context, endpointIndex int, content, rawText string, reminder bool) (SendReceipt, error) {
	var receipt SendReceipt
	var deliveryErr error

	err := s.do(ctx, func(c context.Context) error {
		hooks, err := store.LoadEndpoints(c, s.st)
		if err != nil {
			return err
		}
		idx := endpoint.ClampIndex(endpointIndex)
		url := hooks.URL(idx)
		if url == "" {
			deliveryErr = errors.New("selected webhook is empty")
		} else {
			start := s.now()
			deliveryErr = s.sender.Send(c, url, content)
			s.publishDelivery(store.DeliveryRecord{
				At:           start,
				Kind:         "immediate",
				WebhookIndex: idx,
				OK:           deliveryErr == nil,
				Error:        errString(deliveryErr),
				TookMS:       s.now().Sub(start).Milliseconds(),
			})
		}

		if reminder && rawText != "" {
			r := job.New(message.ReminderText(rawText), idx, job.KindReminder, s.now(), job.ReminderDelay)
			if err := s.handleCreate(c, r); err != nil {
				receipt.ReminderError = err.Error()
			} else {
				receipt.ReminderID = r.ID
			}
		}
		return nil
	})
	if err != nil {
		return receipt, err
	}
	return receipt, deliveryErr
}

// ---- State machine (owner goroutine only) ----

func (s *Service) handleCreate(ctx context.Context, draft job.Job) error {
	if err := draft.Validate(s.now()); err != nil {
		return err
	}

	jobs, err := store.LoadJobs(ctx, s.st)
	if err != nil {
		return err
	}
	if len(jobs) >= job.Capacity {
		return job.ErrCapacity
	}

	draft.Status = job.StatusScheduled
	jobs = append(jobs, draft)
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].SendAt < jobs[k].SendAt })

	if err := store.SaveJobs(ctx, s.st, jobs); err != nil {
		return err
	}
	s.eng.Arm(draft.ID, draft.FireAt())

	s.publish(eventbus.JobCreated, draft)
	s.log.Info("job scheduled",
		logx.String("job_id", draft.ID),
		logx.String("kind", string(draft.Kind)),
		logx.Int("webhook", draft.WebhookIndex),
		logx.Time("send_at", draft.FireAt()),
	)
	return nil
}

func (s *Service) handleCancel(ctx context.Context, id string) error {
	jobs, err := store.LoadJobs(ctx, s.st)
	if err != nil {
		return err
	}
	kept := jobs[:0]
	removed := false
	for _, j := range jobs {
		if j.ID == id {
			removed = true
			continue
		}
		kept = append(kept, j)
	}
	if removed {
		if err := store.SaveJobs(ctx, s.st, kept); err != nil {
			return err
		}
	}
	s.eng.Disarm(id)
	if removed {
		s.publish(eventbus.JobCanceled, id)
		s.log.Info("job canceled", logx.String("job_id", id))
	}
	return nil
}

// handleFire is the only place firing logic lives.
//
// The store re-read is mandatory: a cancel may have landed after this
// timer was armed, and the persisted table, not any cached copy, is
// ground truth. A cancel that lands after delivery has started is simply
// too late; the message still sends.
func (s *Service) handleFire(ctx context.Context, id string) {
	jobs, err := store.LoadJobs(ctx, s.st)
	if err != nil {
		s.log.Error("fire aborted: job table unreadable", logx.String("job_id", id), logx.Err(err))
		return
	}

	var fired job.Job
	found := false
	for i := range jobs {
		if jobs[i].ID == id {
			fired, found = jobs[i], true
			break
		}
	}
	if !found {
		// Orphan firing: the job was canceled (or the store rolled back)
		// between arm and fire. Expected, not an error.
		s.eng.Disarm(id)
		s.log.Debug("orphan firing reconciled", logx.String("job_id", id))
		return
	}

	// The timer can never outlive its job, whatever happens below.
	defer s.eng.Disarm(id)

	s.publish(eventbus.JobFired, fired)

	var sendErr error
	start := s.now()
	hooks, err := store.LoadEndpoints(ctx, s.st)
	if err != nil {
		sendErr = err
	} else if url := hooks.URL(fired.WebhookIndex); url == "" {
		sendErr = errors.New("webhook not configured")
	} else {
		sendErr = s.sender.Send(ctx, url, fired.Text)
	}

	s.publishDelivery(store.DeliveryRecord{
		At:           start,
		JobID:        fired.ID,
		Kind:         string(fired.Kind),
		WebhookIndex: endpoint.ClampIndex(fired.WebhookIndex),
		OK:           sendErr == nil,
		Error:        errString(sendErr),
		TookMS:       s.now().Sub(start).Milliseconds(),
	})

	// Success and failure end the same way: the job is dropped. A failing
	// job left in the table would re-fire forever; silent loss is the
	// lesser evil and the user can reschedule.
	kept := jobs[:0]
	for _, j := range jobs {
		if j.ID != id {
			kept = append(kept, j)
		}
	}
	if err := store.SaveJobs(ctx, s.st, kept); err != nil {
		s.log.Error("job prune failed after fire", logx.String("job_id", id), logx.Err(err))
	}

	if sendErr != nil {
		if s.failLog.Allow() {
			s.log.Warn("scheduled delivery failed; job dropped",
				logx.String("job_id", id),
				logx.Int("webhook", fired.WebhookIndex),
				logx.Err(sendErr),
			)
		}
		return
	}
	s.log.Info("job delivered", logx.String("job_id", id), logx.Duration("took", s.now().Sub(start)))
}

// rearmAll arms a timer for every persisted live job. Run at start, since
// process-local timers do not survive a restart.
func (s *Service) rearmAll(ctx context.Context) {
	jobs, err := store.LoadJobs(ctx, s.st)
	if err != nil {
		s.log.Error("startup re-arm failed", logx.Err(err))
		return
	}
	for _, j := range jobs {
		s.eng.Arm(j.ID, j.FireAt())
	}
	if len(jobs) > 0 {
		s.log.Info("jobs re-armed", logx.Int("count", len(jobs)))
	}
}

// reconcile repairs the two directions of drift the non-atomic
// job/timer pair can accumulate: live jobs with no timer (missed wake-up)
// and timers whose job is gone (orphan).
func (s *Service) reconcile(ctx context.Context) {
	jobs, err := store.LoadJobs(ctx, s.st)
	if err != nil {
		s.log.Warn("reconcile skipped: job table unreadable", logx.Err(err))
		return
	}

	live := map[string]bool{}
	for _, j := range jobs {
		live[j.ID] = true
		if !s.eng.Armed(j.ID) {
			s.log.Warn("job had no timer; re-arming", logx.String("job_id", j.ID))
			s.eng.Arm(j.ID, j.FireAt())
		}
	}
	for _, id := range s.eng.ArmedIDs() {
		if !live[id] {
			s.log.Warn("timer had no job; disarming", logx.String("job_id", id))
			s.eng.Disarm(id)
		}
	}
}

func (s *Service) publish(t eventbus.Type, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: t, Time: s.now(), Data: data})
	}
}

func (s *Service) publishDelivery(rec store.DeliveryRecord) {
	t := eventbus.DeliveryOK
	if !rec.OK {
		t = eventbus.DeliveryFail
	}
	s.publish(t, rec)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
