package agenthandoff

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/session"
	"github.com/suporttech/zapdesk/internal/store"
)

// Service runs the hand-off flows on top of the queues.
type Service struct {
	Queues   *Queues
	Sessions *session.Registry
	Stores   *store.Stores
	Menus    *menu.Registry
	Sender   flow.Sender
	Agents   config.AgentsConfig

	// StartRating begins the evaluation flow after an engagement
	// closes. Injected to keep the handler wiring in one place.
	StartRating func(fc *flow.Context) error

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// digitsOnly strips everything but digits from a phone.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Forward routes the contact toward an operator. The target comes from
// the option's static phone or from the settings key it names. Outside
// business hours or with no resolvable target the contact is never
// enqueued.
func (s *Service) Forward(fc *flow.Context, opt *menu.Option, contextMsg string) error {
	configKey := opt.ConfigKey
	if configKey == "" {
		configKey = "commercial_agent"
	}
	agent := opt.AgentPhone
	if agent == "" {
		v, err := s.Stores.Settings.Get(fc.Ctx, configKey)
		if err != nil {
			return err
		}
		agent = v
	}
	agent = digitsOnly(agent)

	if agent == "" {
		fc.Reply(fc.CustomText("agent_not_found",
			"Desculpe, não foi possível localizar um atendente disponível."))
		fc.ShowMenu("main")
		return nil
	}

	inHours, err := s.BusinessHours(fc.Ctx)
	if err != nil {
		return err
	}
	if !inHours {
		fc.Reply(fc.CustomText("off_hours_message",
			"Nosso horário de atendimento é de segunda a sexta, das 9h às 12h e das 13h às 17h. Seu contato foi registrado e retornaremos assim que possível."))
		desc := contextMsg
		if desc == "" {
			desc = "Cliente tentou contato fora do horário de atendimento"
		}
		if _, err := s.Stores.Schedulings.Save(fc.Ctx, store.Scheduling{
			UserID:        fc.User.ID,
			ServiceType:   "retorno",
			ServiceOption: "fora_horario",
			Description:   desc,
			Date:          s.now(),
			Status:        store.SchedulingPending,
		}); err != nil {
			return err
		}
		fc.Session.State = "menu_main"
		return nil
	}

	pos, already := s.Queues.Enqueue(agent, fc.Session.Identity)
	if already {
		slog.Debug("contact already queued", "identity", fc.Session.Identity, "position", pos)
	}
	if pos == 1 {
		s.beginServing(fc.Ctx, fc.Session, agent, contextMsg)
		return nil
	}

	tmpl := fc.CustomText("queue_position",
		"Você está na posição {position} da fila. Aguarde, por favor.")
	fc.Reply(strings.ReplaceAll(tmpl, "{position}", strconv.Itoa(pos)))
	return nil
}

// beginServing marks a session as being attended and notifies both
// sides. Used on enqueue-at-front and on promotion after a dequeue.
func (s *Service) beginServing(ctx context.Context, sess *session.Session, agent, contextMsg string) {
	sess.WithAgent = true
	sess.Agent = agent
	sess.State = "chat"

	s.Sender.SendText(ctx, sess.Identity, store.CustomText(ctx, s.Stores.Settings,
		"forwarding", "Transferindo para o atendente..."))

	notification := fmt.Sprintf("🔔 Novo atendimento de %s", sess.Identity)
	if contextMsg != "" {
		notification += "\n" + contextMsg
	}
	if user, err := s.Stores.Users.GetOrCreate(ctx, sess.Identity); err == nil {
		notification += "\n\nDados do cliente:"
		notification += "\nNome: " + orDefault(user.Name, "Não informado")
		notification += "\nE-mail: " + orDefault(user.Email, "Não informado")
		notification += "\nEndereço: " + orDefault(user.Address, "Não informado")
	}
	s.Sender.SendText(ctx, agent, notification)

	if err := s.Sessions.Persist(ctx, sess); err != nil {
		slog.Error("persist serving session failed", "identity", sess.Identity, "error", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// RelayToAgent forwards a serving contact's free text verbatim to the
// operator, prefixed with the contact's phone. Returns true when the
// message was consumed by the bridge. Reserved operator commands from
// the contact side are refused, never relayed.
func (s *Service) RelayToAgent(fc *flow.Context) (bool, error) {
	if !fc.Session.WithAgent {
		return false, nil
	}
	lower := strings.ToLower(fc.Text)
	if strings.HasPrefix(lower, "/finalizar") || strings.HasPrefix(lower, "/falarcom_") {
		fc.Reply("⚠️ Apenas o atendente pode finalizar o atendimento.")
		return true, nil
	}
	agent := fc.Session.Agent
	if agent == "" {
		// Session bridged but no operator recorded. Fall back to the
		// commercial contact so the message is not lost.
		v, err := s.Stores.Settings.Get(fc.Ctx, "commercial_agent")
		if err != nil {
			return false, err
		}
		agent = digitsOnly(v)
		if agent == "" {
			return true, nil
		}
		fc.Session.Agent = agent
		if err := s.Sessions.Persist(fc.Ctx, fc.Session); err != nil {
			slog.Error("persist agent fallback failed", "identity", fc.Session.Identity, "error", err)
		}
	}
	s.Sender.SendText(fc.Ctx, agent, fmt.Sprintf("%s: %s", fc.Session.Identity, fc.Text))
	return true, nil
}

// IsOperator reports whether a sender may issue operator commands:
// phones in the configured registry, plus the operator recorded on a
// session currently being attended.
func (s *Service) IsOperator(identity string) bool {
	if s.Agents.IsKnown(identity) {
		return true
	}
	_, ok := s.Sessions.FindByAgent(identity)
	return ok
}

// HandleOperatorCommand processes the reserved operator commands.
// The router gates callers through IsOperator first.
func (s *Service) HandleOperatorCommand(ctx context.Context, operator, text string) (bool, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lower, "/finalizar"):
		return true, s.finishEngagement(ctx, operator)
	case strings.HasPrefix(lower, "/falarcom_"):
		target := strings.TrimSpace(text[len("/falarcom_"):])
		return true, s.directEngage(ctx, operator, target)
	}
	return false, nil
}

// finishEngagement closes the operator's current conversation, starts
// the rating flow for the contact and promotes the next in line.
func (s *Service) finishEngagement(ctx context.Context, operator string) error {
	sess, ok := s.Sessions.FindByAgent(operator)
	if !ok {
		s.Sender.SendText(ctx, operator, "⚠️ Não há cliente em atendimento para finalizar.")
		return nil
	}

	s.Sender.SendText(ctx, sess.Identity, store.CustomText(ctx, s.Stores.Settings,
		"service_ended", "Atendimento finalizado. Obrigado por escolher nossos serviços!"))

	sess.WithAgent = false
	agent := sess.Agent
	sess.Agent = ""

	if s.StartRating != nil {
		user, err := s.Stores.Users.GetOrCreate(ctx, sess.Identity)
		if err != nil {
			return err
		}
		fc := &flow.Context{
			Ctx:     ctx,
			User:    user,
			Session: sess,
			Stores:  s.Stores,
			Menus:   s.Menus,
			Sender:  s.Sender,
		}
		if err := s.StartRating(fc); err != nil {
			return err
		}
	}
	if err := s.Sessions.Persist(ctx, sess); err != nil {
		slog.Error("persist finished session failed", "identity", sess.Identity, "error", err)
	}

	s.Queues.Dequeue(agent)
	if next, ok := s.Queues.Front(agent); ok {
		s.promote(ctx, next, agent)
	}

	s.Sender.SendText(ctx, operator, "✅ Atendimento finalizado com sucesso.")
	return nil
}

// promote moves the queue front into serving.
func (s *Service) promote(ctx context.Context, identity, agent string) {
	s.Sender.SendText(ctx, identity, store.CustomText(ctx, s.Stores.Settings,
		"service_starting", "Seu atendimento está começando agora."))

	user, err := s.Stores.Users.GetOrCreate(ctx, identity)
	if err != nil {
		slog.Error("promote lookup failed", "identity", identity, "error", err)
		return
	}
	sess, err := s.Sessions.Resolve(ctx, identity, user.ID)
	if err != nil {
		slog.Error("promote resolve failed", "identity", identity, "error", err)
		return
	}
	sess.WithAgent = true
	sess.Agent = agent
	sess.State = "chat"
	if err := s.Sessions.Persist(ctx, sess); err != nil {
		slog.Error("persist promoted session failed", "identity", identity, "error", err)
	}
	slog.Info("queue promotion", "identity", identity, "agent", agent)
}

// directEngage opens a conversation with a looked-up user, bypassing
// the queue.
func (s *Service) directEngage(ctx context.Context, operator, target string) error {
	user, err := s.Stores.Users.FindByPhoneOrName(ctx, target)
	if err != nil {
		s.Sender.SendText(ctx, operator, "❌ Cliente não encontrado.")
		return nil
	}

	sess, err := s.Sessions.Resolve(ctx, user.Phone, user.ID)
	if err != nil {
		return err
	}
	sess.WithAgent = true
	sess.Agent = operator
	sess.State = "chat"
	if err := s.Sessions.Persist(ctx, sess); err != nil {
		slog.Error("persist direct engage failed", "identity", sess.Identity, "error", err)
	}

	s.Sender.SendText(ctx, operator,
		fmt.Sprintf("🔄 Iniciando contato com %s...", orDefault(user.Name, user.Phone)))
	s.Sender.SendText(ctx, sess.Identity,
		"🔔 O atendente iniciou um contato com você. Em que podemos ajudar?")
	return nil
}

// BroadcastPositions notifies every waiting contact of its current
// position. Position 1 is being served and is skipped.
func (s *Service) BroadcastPositions(ctx context.Context) {
	tmpl := store.CustomText(ctx, s.Stores.Settings, "queue_update",
		"Atualização: você está na posição {position} da fila.")
	for _, waiting := range s.Queues.Waiting() {
		for i, identity := range waiting {
			pos := i + 2
			s.Sender.SendText(ctx, identity,
				strings.ReplaceAll(tmpl, "{position}", strconv.Itoa(pos)))
		}
	}
}

// BusinessHours reports whether the current time falls inside the
// configured attendance windows. Weekends are always off hours.
func (s *Service) BusinessHours(ctx context.Context) (bool, error) {
	now := s.now()
	wd := now.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false, nil
	}

	get := func(key string, def int) (int, error) {
		v, err := s.Stores.Settings.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return def, nil
		}
		return n, nil
	}

	startMorning, err := get("business_hours_start_morning", 9)
	if err != nil {
		return false, err
	}
	endMorning, err := get("business_hours_end_morning", 12)
	if err != nil {
		return false, err
	}
	startAfternoon, err := get("business_hours_start_afternoon", 13)
	if err != nil {
		return false, err
	}
	endAfternoon, err := get("business_hours_end_afternoon", 17)
	if err != nil {
		return false, err
	}

	h := now.Hour()
	return (h >= startMorning && h < endMorning) || (h >= startAfternoon && h < endAfternoon), nil
}
