package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/store"
)

// handleAppointmentConfirmation processes the reply to a visit
// reminder. The sweep that sent the reminder parked the appointment id
// in the session data.
func (h *Handlers) handleAppointmentConfirmation(fc *flow.Context) error {
	option, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || (option != 1 && option != 2) {
		fc.Reply(fc.CustomText("invalid_confirmation_option",
			"Por favor, digite 1 para confirmar ou 2 para cancelar o agendamento."))
		return nil
	}

	appointment, err := fc.Stores.Schedulings.ByID(fc.Ctx, fc.Session.Data.AppointmentID)
	if err != nil {
		fc.Reply("Não foi possível encontrar o agendamento. Por favor, contate nosso suporte.")
		fc.ShowMenu("main")
		return nil
	}

	if option == 1 {
		if err := fc.Stores.Schedulings.UpdateStatus(fc.Ctx, appointment.ID, store.SchedulingConfirmed); err != nil {
			return err
		}
		fc.Reply(fc.CustomText("appointment_confirmed",
			"Obrigado pela confirmação! Esperamos você no horário agendado."))
	} else {
		if err := fc.Stores.Schedulings.UpdateStatus(fc.Ctx, appointment.ID, store.SchedulingCancelled); err != nil {
			return err
		}
		fc.Reply(fc.CustomText("appointment_cancelled_by_user",
			"Seu agendamento foi cancelado conforme solicitado. Caso precise remarcar, entre em contato conosco."))

		// Let the scheduling operator know the slot opened up.
		agent, err := fc.Stores.Settings.Get(fc.Ctx, "scheduling_agent")
		if err == nil && agent != "" {
			name := appointment.Name
			if name == "" {
				name = appointment.Phone
			}
			fc.Sender.SendText(fc.Ctx, agent, fmt.Sprintf(
				"🚫 Agendamento cancelado pelo cliente:\nCliente: %s\nData/Hora: %s %s\nServiço: %s",
				name, fmtDate(appointment.Date), fmtTime(appointment.Date), appointment.ServiceType))
		}
	}

	fc.Session.Data.ReturnState = ""
	fc.ShowMenu("main")
	return nil
}
