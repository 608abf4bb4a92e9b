// Package audit turns delivery events into the persisted history that the
// /api/history endpoint serves. It is a pure bus consumer: the scheduler
// never blocks on history writes.
package audit

import (
	"context"

	"hooksched/internal/eventbus"
	"hooksched/internal/store"
	logx "hooksched/pkg/logx"
)

type Recorder struct {
	log logx.Logger
	st  store.Store
	bus eventbus.Bus

	unsub  func()
	doneCh chan struct{}
}

func New(st store.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{log: log, st: st, bus: bus}
}

func (r *Recorder) Start(ctx context.Context) error {
	if r.doneCh != nil {
		return nil
	}
	events, unsub := r.bus.Subscribe(64)
	r.unsub = unsub
	r.doneCh = make(chan struct{})

	go func() {
		defer close(r.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				r.record(ctx, e)
			}
		}
	}()
	return nil
}

func (r *Recorder) Stop(ctx context.Context) {
	if r.doneCh == nil {
		return
	}
	r.unsub()
	select {
	case <-r.doneCh:
	case <-ctx.Done():
	}
}

func (r *Recorder) record(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.DeliveryOK, eventbus.DeliveryFail:
	default:
		return
	}
	rec, ok := e.Data.(store.DeliveryRecord)
	if !ok {
		return
	}
	if err := r.st.AppendDelivery(ctx, rec); err != nil {
		r.log.Warn("delivery history write failed", logx.Err(err))
	}
}
