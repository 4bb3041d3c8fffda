package sweep

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/suporttech/zapdesk/internal/agenthandoff"
	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/handlers"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store"
)

// Jobs bundles the dependencies of the standard maintenance sweeps.
type Jobs struct {
	Stores   *store.Stores
	Sessions *session.Registry
	Sender   flow.Sender
	Handoff  *agenthandoff.Service
	Handlers *handlers.Handlers

	// IdleTimeout is the fallback eviction threshold when the
	// session_timeout_minutes setting is absent.
	IdleTimeout time.Duration

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

func (j *Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Reminders sends confirmation requests for confirmed visits starting
// four to five hours from now, once per appointment. Each reminded
// contact gets a session parked in the confirmation state so the reply
// resolves the appointment.
func (j *Jobs) Reminders(ctx context.Context) {
	now := j.now()
	from := now.Add(4 * time.Hour)
	to := now.Add(5 * time.Hour)

	appointments, err := j.Stores.Schedulings.ByDateRange(ctx, from, to)
	if err != nil {
		slog.Error("reminder sweep query failed", "error", err)
		return
	}

	sent := 0
	for _, a := range appointments {
		if a.ReminderSent || a.Status != store.SchedulingConfirmed {
			continue
		}

		tmpl := store.CustomText(ctx, j.Stores.Settings, "appointment_confirmation",
			"Olá! Lembrete da sua visita técnica agendada para hoje às {time}.\n\nServiço: {service}\nEndereço: {address}\n\nPor favor, confirme sua disponibilidade:\n1 - Confirmo o agendamento\n2 - Preciso cancelar")
		service := a.ServiceType
		if service == "" {
			service = "Visita Técnica"
		}
		address := a.Address
		if address == "" {
			address = "Endereço não informado"
		}
		msg := strings.NewReplacer(
			"{time}", a.Date.Format("15:04"),
			"{service}", service,
			"{address}", address,
		).Replace(tmpl)

		sess, err := j.Sessions.Resolve(ctx, a.Phone, a.UserID)
		if err != nil {
			slog.Error("reminder session resolve failed", "phone", a.Phone, "error", err)
			continue
		}
		sess.State = "confirm_appointment"
		sess.Data = session.FlowData{AppointmentID: a.ID}
		if err := j.Sessions.Persist(ctx, sess); err != nil {
			slog.Error("reminder session persist failed", "phone", a.Phone, "error", err)
		}

		if !j.Sender.SendText(ctx, a.Phone, msg) {
			slog.Warn("reminder send failed", "phone", a.Phone, "scheduling", a.ID)
			continue
		}
		if err := j.Stores.Schedulings.MarkReminderSent(ctx, a.ID); err != nil {
			slog.Error("mark reminder failed", "scheduling", a.ID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		slog.Info("reminders sent", "count", sent)
	}
}

// QueuePositions broadcasts waiting positions to queued contacts.
func (j *Jobs) QueuePositions(ctx context.Context) {
	j.Handoff.BroadcastPositions(ctx)
}

// EvictIdle drops idle sessions from the in-memory working set. The
// durable rows are untouched: a later message rebuilds the session
// from storage.
func (j *Jobs) EvictIdle(ctx context.Context) {
	timeout := j.IdleTimeout
	if timeout <= 0 {
		timeout = 360 * time.Minute
	}
	if v, err := j.Stores.Settings.Get(ctx, "session_timeout_minutes"); err == nil && v != "" {
		if mins, err := strconv.Atoi(v); err == nil && mins > 0 {
			timeout = time.Duration(mins) * time.Minute
		}
	}

	evicted := j.Sessions.EvictIdle(j.now().Add(-timeout))
	if len(evicted) > 0 {
		slog.Info("idle sessions evicted", "count", len(evicted))
	}
}

// PostSale consumes the earliest pending survey trigger. The survey
// flow itself refuses contacts that are mid-conversation, so a trigger
// marked processing without a survey started is simply consumed.
func (j *Jobs) PostSale(ctx context.Context) {
	req, err := j.Stores.Surveys.NextPendingRequest(ctx)
	if err != nil {
		slog.Error("post-sale sweep query failed", "error", err)
		return
	}
	if req == nil {
		return
	}
	if err := j.Stores.Surveys.MarkRequestProcessing(ctx, req.ID); err != nil {
		slog.Error("post-sale request mark failed", "request", req.ID, "error", err)
		return
	}

	started, err := j.Handlers.StartPostSaleSurvey(ctx, req.Phone, req.ServiceType)
	if err != nil {
		slog.Error("post-sale survey start failed", "phone", req.Phone, "error", err)
		return
	}
	if started {
		slog.Info("post-sale survey started", "phone", req.Phone, "service", req.ServiceType)
	}
}
