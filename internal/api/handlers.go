package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"hooksched/internal/endpoint"
	"hooksched/internal/job"
	"hooksched/internal/message"
	"hooksched/internal/store"
	logx "hooksched/pkg/logx"
)

// Every response is the same envelope: {"ok":true, ...} on success,
// {"ok":false,"error":"..."} on failure. Clients branch on ok alone.
type envelope map[string]any

const maxBodyBytes = 64 << 10

func (s *Service) writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response write failed", logx.Err(err))
	}
}

func (s *Service) ok(w http.ResponseWriter, extra envelope) {
	out := envelope{"ok": true}
	for k, v := range extra {
		out[k] = v
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Service) fail(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, envelope{"ok": false, "error": err.Error()})
}

func (s *Service) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return nil, false
	}
	return b, true
}

func decodeInto[T any](b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// ---- Jobs ----

type jobView struct {
	job.Job
	RemainingSeconds int64 `json:"remainingSeconds"`
}

func (s *Service) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.sched.Jobs(r.Context())
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	now := time.Now()
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView{
			Job:              j,
			RemainingSeconds: int64(j.Remaining(now) / time.Second),
		})
	}
	s.ok(w, envelope{"jobs": views})
}

type createJobRequest struct {
	Text             string `json:"text"`
	WebhookIndex     int    `json:"webhookIndex"`
	DelaySeconds     int64  `json:"delaySeconds"`
	Minutes          int    `json:"minutes"`
	Seconds          int    `json:"seconds"`
	IncludeTimestamp bool   `json:"includeTimestamp"`
}

func (s *Service) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body, okRead := s.readBody(w, r)
	if !okRead {
		return
	}
	req, err := decodeInto[createJobRequest](body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now()
	text := message.Compile(req.Text, req.Minutes, req.Seconds, req.IncludeTimestamp, now)
	j := job.New(text, endpoint.ClampIndex(req.WebhookIndex), job.KindScheduled,
		now, time.Duration(req.DelaySeconds)*time.Second)

	if err := s.sched.Create(r.Context(), j); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.ok(w, envelope{"job": j})
}

func (s *Service) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("missing job id"))
		return
	}
	if err := s.sched.Cancel(r.Context(), id); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.ok(w, nil)
}

// ---- Immediate send ----

type sendRequest struct {
	Text             string `json:"text"`
	WebhookIndex     int    `json:"webhookIndex"`
	Minutes          int    `json:"minutes"`
	Seconds          int    `json:"seconds"`
	IncludeTimestamp bool   `json:"includeTimestamp"`
	Reminder         bool   `json:"reminder"`
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	body, okRead := s.readBody(w, r)
	if !okRead {
		return
	}
	req, err := decodeInto[sendRequest](body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	compiled := message.Compile(req.Text, req.Minutes, req.Seconds, req.IncludeTimestamp, time.Now())
	receipt, sendErr := s.sched.SendNow(r.Context(), req.WebhookIndex, compiled, req.Text, req.Reminder)

	extra := envelope{}
	if receipt.ReminderID != "" {
		extra["reminderId"] = receipt.ReminderID
	}
	if receipt.ReminderError != "" {
		extra["reminderError"] = receipt.ReminderError
	}
	if sendErr != nil {
		out := envelope{"ok": false, "error": sendErr.Error()}
		for k, v := range extra {
			out[k] = v
		}
		s.writeJSON(w, http.StatusBadGateway, out)
		return
	}
	s.ok(w, extra)
}

// ---- Webhook endpoints ----

func (s *Service) handleGetWebhooks(w http.ResponseWriter, r *http.Request) {
	tbl, err := store.LoadEndpoints(r.Context(), s.st)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, envelope{"webhooks": tbl})
}

// handlePutWebhooks replaces the whole table. Validation is all-or-nothing:
// one bad URL rejects the request and nothing is persisted.
func (s *Service) handlePutWebhooks(w http.ResponseWriter, r *http.Request) {
	body, okRead := s.readBody(w, r)
	if !okRead {
		return
	}
	tbl := endpoint.Normalize(body)
	if err := tbl.Validate(); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := store.SaveEndpoints(r.Context(), s.st, tbl); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, envelope{"webhooks": tbl})
}

func (s *Service) handleGetLastIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := store.LoadLastIndex(r.Context(), s.st)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, envelope{"index": idx})
}

func (s *Service) handlePutLastIndex(w http.ResponseWriter, r *http.Request) {
	body, okRead := s.readBody(w, r)
	if !okRead {
		return
	}
	req, err := decodeInto[struct {
		Index int `json:"index"`
	}](body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := store.SaveLastIndex(r.Context(), s.st, req.Index); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, envelope{"index": endpoint.ClampIndex(req.Index)})
}

// ---- Quick actions ----

func (s *Service) handleGetQuickActions(w http.ResponseWriter, r *http.Request) {
	qa, err := store.LoadQuickActions(r.Context(), s.st)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, envelope{"quickActions": qa})
}

func (s *Service) handlePutQuickActions(w http.ResponseWriter, r *http.Request) {
	body, okRead := s.readBody(w, r)
	if !okRead {
		return
	}
	qa := message.NormalizeQuickActions(body)
	if err := store.SaveQuickActions(r.Context(), s.st, qa); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, envelope{"quickActions": qa})
}

// handleFireQuickAction sends a stored one-tap message immediately.
func (s *Service) handleFireQuickAction(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 || idx >= message.QuickActionSlots {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("quick action index out of range"))
		return
	}
	qa, err := store.LoadQuickActions(r.Context(), s.st)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	act := qa[idx]
	if act.Message == "" {
		s.fail(w, http.StatusNotFound, fmt.Errorf("quick action %d is empty", idx+1))
		return
	}
	if _, err := s.sched.SendNow(r.Context(), act.WebhookIndex, act.Message, "", false); err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.ok(w, nil)
}

// ---- History ----

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", q))
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}
	recs, err := s.st.RecentDeliveries(r.Context(), limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, envelope{"deliveries": recs})
}
