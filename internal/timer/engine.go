// Package timer maps each live job to a one-shot wake-up.
//
// The engine owns no job state: it only turns "arm(id, at)" into a single
// onFire(id) callback. Everything else (re-reading the store, delivering,
// pruning) is the coordinator's business.
package timer

import (
	"sync"
	"time"

	logx "hooksched/pkg/logx"
)

// GuardInterval is the minimum lead time for any wake-up. The underlying
// timer facility misbehaves on fire times that are not strictly in the
// future once scheduling latency is paid, so near-past requests are pushed
// out by this much.
const GuardInterval = 250 * time.Millisecond

type Engine struct {
	log    logx.Logger
	onFire func(jobID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	vers   map[string]uint64
}

func New(log logx.Logger, onFire func(jobID string)) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:    log,
		onFire: onFire,
		timers: map[string]*time.Timer{},
		vers:   map[string]uint64{},
	}
}

// key derives the timer identity from the job id, so a timer can always be
// re-addressed for disarm without an engine-side side table.
func key(jobID string) string { return "job:" + jobID }

// Arm schedules a one-shot fire no earlier than now+GuardInterval.
// Arming an id that already has a live timer replaces it; the stale timer
// can never fire thanks to the version check.
func (e *Engine) Arm(jobID string, fireAt time.Time) {
	k := key(jobID)

	delay := time.Until(fireAt)
	if delay < GuardInterval {
		delay = GuardInterval
	}

	e.mu.Lock()
	if t, ok := e.timers[k]; ok {
		_ = t.Stop()
	}
	ver := e.vers[k] + 1
	e.vers[k] = ver

	e.timers[k] = time.AfterFunc(delay, func() {
		// A replaced or disarmed timer may still get here if it was already
		// firing when Stop() ran; the version check makes it a no-op.
		e.mu.Lock()
		if e.vers[k] != ver {
			e.mu.Unlock()
			return
		}
		delete(e.timers, k)
		delete(e.vers, k)
		e.mu.Unlock()

		e.log.Debug("timer fired", logx.String("job_id", jobID))
		if e.onFire != nil {
			e.onFire(jobID)
		}
	})
	e.mu.Unlock()

	e.log.Debug("timer armed",
		logx.String("job_id", jobID),
		logx.Duration("delay", delay),
		logx.Time("fire_at", fireAt),
	)
}

// Disarm clears any pending timer for the id. Disarming an id with no
// timer is a no-op.
func (e *Engine) Disarm(jobID string) {
	k := key(jobID)

	e.mu.Lock()
	t, ok := e.timers[k]
	if ok {
		_ = t.Stop()
		delete(e.timers, k)
	}
	// Bump the version so an in-flight callback from this timer is ignored.
	e.vers[k]++
	e.mu.Unlock()

	if ok {
		e.log.Debug("timer disarmed", logx.String("job_id", jobID))
	}
}

// Armed reports whether the id currently has a live timer. Used by the
// reconcile sweep to find jobs that lost their wake-up across a restart.
func (e *Engine) Armed(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.timers[key(jobID)]
	return ok
}

// ArmedIDs returns the job ids with live timers.
func (e *Engine) ArmedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.timers))
	for k := range e.timers {
		out = append(out, k[len("job:"):])
	}
	return out
}

// Stop cancels every pending timer. Jobs stay persisted; timers are
// re-armed from the store on the next start.
func (e *Engine) Stop() {
	e.mu.Lock()
	for k, t := range e.timers {
		_ = t.Stop()
		e.vers[k]++
	}
	e.timers = map[string]*time.Timer{}
	e.mu.Unlock()
}
