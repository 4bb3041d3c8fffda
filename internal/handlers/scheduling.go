package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/store"
)

// SlotPlanner proposes visit slots for a service type.
type SlotPlanner interface {
	AvailableSlots(ctx context.Context, serviceType string) ([]time.Time, error)
}

// StorePlanner derives free slots from the scheduling table: fixed
// visit hours on the next working days, minus the ones already booked.
type StorePlanner struct {
	Schedulings store.SchedulingStore
	Settings    store.SettingStore

	// Now is the clock, replaceable in tests.
	Now func() time.Time

	// Days is how many working days ahead to offer. Zero means 5.
	Days int
	// MaxSlots caps the options presented. Zero means 6.
	MaxSlots int
}

var defaultVisitHours = []int{9, 10, 11, 14, 15, 16}

func (p *StorePlanner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *StorePlanner) visitHours(ctx context.Context) []int {
	v, err := p.Settings.Get(ctx, "visit_slot_hours")
	if err != nil || v == "" {
		return defaultVisitHours
	}
	var hours []int
	for _, part := range strings.Split(v, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil && h >= 0 && h < 24 {
			hours = append(hours, h)
		}
	}
	if len(hours) == 0 {
		return defaultVisitHours
	}
	return hours
}

func (p *StorePlanner) AvailableSlots(ctx context.Context, serviceType string) ([]time.Time, error) {
	days := p.Days
	if days <= 0 {
		days = 5
	}
	maxSlots := p.MaxSlots
	if maxSlots <= 0 {
		maxSlots = 6
	}

	now := p.now()
	horizon := now.AddDate(0, 0, days*2) // double to skip over weekends
	booked, err := p.Schedulings.ByDateRange(ctx, now, horizon)
	if err != nil {
		return nil, err
	}
	taken := make(map[time.Time]bool, len(booked))
	for _, b := range booked {
		taken[b.Date.Truncate(time.Hour)] = true
	}

	hours := p.visitHours(ctx)
	var slots []time.Time
	day := now
	for workDays := 0; workDays < days && len(slots) < maxSlots; {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		workDays++
		for _, h := range hours {
			slot := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
			if slot.Before(now) || taken[slot] {
				continue
			}
			slots = append(slots, slot)
			if len(slots) >= maxSlots {
				break
			}
		}
	}
	return slots, nil
}

func fmtDate(t time.Time) string { return t.Format("02/01/2006") }
func fmtTime(t time.Time) string { return t.Format("15:04") }

// StartScheduling opens the visit-scheduling flow. An incomplete
// profile detours through the registration steps first.
func (h *Handlers) StartScheduling(fc *flow.Context) error {
	if fc.User.Address == "" || fc.User.Email == "" {
		fc.Reply(fc.CustomText("incomplete_profile",
			"Precisamos completar seu cadastro para agendar uma visita."))
		fc.Session.Data.ReturnState = "scheduling"
		if fc.User.Address == "" {
			fc.Reply(fc.CustomText("ask_address", "Por favor, informe seu endereço completo:"))
			fc.Session.State = "await_address"
		} else {
			fc.Reply(fc.CustomText("ask_email", "Por favor, informe seu e-mail:"))
			fc.Session.State = "await_email"
		}
		return nil
	}

	fc.Reply(fc.CustomText("scheduling_welcome",
		"Bem-vindo ao nosso sistema de agendamento de visitas técnicas. Vamos ajudá-lo a marcar o melhor horário para você!"))

	if _, ok := fc.Menus.Get("schedule"); ok {
		fc.Reply(fc.Menus.Render("schedule"))
		fc.Session.State = "schedule_service"
	} else {
		fc.Reply(fc.CustomText("scheduling_description",
			"Por favor, descreva brevemente o problema ou serviço que precisa:"))
		fc.Session.State = "schedule_desc"
	}
	return nil
}

func (h *Handlers) handleScheduleService(fc *flow.Context) error {
	idx, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil {
		fc.Reply(fc.CustomText("invalid_option", "Opção inválida. Por favor, selecione novamente."))
		fc.Reply(fc.Menus.Render("schedule"))
		return nil
	}

	m, ok := fc.Menus.Get("schedule")
	if !ok {
		fc.ShowMenu("main")
		return nil
	}
	opt := m.Option(idx)
	if opt == nil {
		fc.Reply(fc.CustomText("invalid_option", "Opção inválida. Por favor, selecione novamente."))
		fc.Reply(fc.Menus.Render("schedule"))
		return nil
	}
	if idx == 0 && opt.NextMenu == "main" {
		fc.ShowMenu("main")
		return nil
	}

	fc.Session.Data.ServiceType = opt.Title
	fc.Session.Data.ServiceOption = idx
	fc.Reply(fc.CustomText("schedule_desc",
		"Por favor, descreva brevemente o problema ou serviço que precisa:"))
	fc.Session.State = "schedule_desc"
	return nil
}

func (h *Handlers) handleScheduleDescription(fc *flow.Context) error {
	fc.Session.Data.Description = fc.Text
	fc.Reply(fc.CustomText("checking_availability",
		"Estou verificando nossa agenda com os horários disponíveis para você."))

	if fc.Session.Data.ServiceType == "" {
		fc.Session.Data.ServiceType = "Visita Técnica"
	}

	slots, err := h.Planner.AvailableSlots(fc.Ctx, fc.Session.Data.ServiceType)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fc.Reply(fc.CustomText("no_slots_available",
			"Não encontramos horários disponíveis para os próximos dias."))
		agent, err := fc.Stores.Settings.Get(fc.Ctx, "scheduling_agent")
		if err != nil {
			return err
		}
		return h.Handoff.Forward(fc, &menu.Option{AgentPhone: agent, Handler: "forward"},
			"Cliente tentou agendar mas não há slots disponíveis")
	}

	var b strings.Builder
	b.WriteString(fc.CustomText("available_slots_header",
		"Temos os seguintes horários disponíveis para sua visita técnica:\n\n"))
	for i, s := range slots {
		fmt.Fprintf(&b, "*%d.* %s às %s\n", i+1, fmtDate(s), fmtTime(s))
	}
	b.WriteString("\nDigite o número da opção desejada:")
	fc.Reply(b.String())

	fc.Session.Data.Slots = slots
	fc.Session.State = "schedule_date"
	return nil
}

func (h *Handlers) visitPrice(fc *flow.Context) string {
	price, err := fc.Stores.Settings.Get(fc.Ctx, "visit_price")
	if err != nil || price == "" {
		return "150,00"
	}
	return price
}

func (h *Handlers) handleDateSelection(fc *flow.Context) error {
	idx, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || idx < 1 || idx > len(fc.Session.Data.Slots) {
		fc.Reply(fc.CustomText("invalid_option", "Opção inválida. Por favor, selecione novamente."))
		return nil
	}
	fc.Session.Data.Selected = fc.Session.Data.Slots[idx-1]

	msg := fc.CustomText("confirm_appointment",
		"Confirme seu agendamento:\n\nServiço: {service}\nDescrição: {description}\nData: {date}\nHora: {time}\nValor: R$ {price}\n\nDigite:\n1 - Confirmar\n2 - Escolher outro horário\n3 - Cancelar agendamento")
	r := strings.NewReplacer(
		"{service}", fc.Session.Data.ServiceType,
		"{description}", fc.Session.Data.Description,
		"{date}", fmtDate(fc.Session.Data.Selected),
		"{time}", fmtTime(fc.Session.Data.Selected),
		"{price}", h.visitPrice(fc),
	)
	fc.Reply(r.Replace(msg))
	fc.Session.State = "schedule_confirm"
	return nil
}

func (h *Handlers) handleScheduleConfirmation(fc *flow.Context) error {
	choice, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || choice < 1 || choice > 3 {
		fc.Reply(fc.CustomText("invalid_option",
			"Opção inválida. Por favor, digite 1 para confirmar, 2 para escolher outro horário ou 3 para cancelar."))
		return nil
	}

	switch choice {
	case 1:
		data := &fc.Session.Data
		id, err := fc.Stores.Schedulings.Save(fc.Ctx, store.Scheduling{
			UserID:        fc.User.ID,
			EventID:       uuid.Must(uuid.NewV7()).String(),
			ServiceType:   data.ServiceType,
			ServiceOption: data.ServiceType,
			Description:   data.Description,
			Date:          data.Selected,
			Status:        store.SchedulingConfirmed,
		})
		if err != nil {
			fc.Reply(fc.CustomText("appointment_error",
				"Ocorreu um erro ao agendar. Por favor, tente novamente mais tarde."))
			fc.ShowMenu("main")
			return nil
		}
		data.AppointmentID = id

		fc.Reply(fmt.Sprintf(
			"Agendamento Confirmado!\n\nServiço: %s\nData: %s\nHorário: %s\nValor: R$ %s",
			data.ServiceType, fmtDate(data.Selected), fmtTime(data.Selected), h.visitPrice(fc)))
		fc.Reply("Enviaremos uma mensagem 4 horas antes para confirmar sua disponibilidade.")
		fc.ShowMenu("main")

	case 2:
		fc.Session.State = "schedule_desc"
		fc.Reply(fc.CustomText("reschedule_prompt",
			"Vamos tentar novamente. Por favor, descreva brevemente o problema ou serviço que precisa:"))

	case 3:
		fc.Reply(fc.CustomText("appointment_cancelled", "Agendamento cancelado."))
		fc.ShowMenu("main")
	}
	return nil
}
