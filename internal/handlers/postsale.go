package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/store"
)

// StartPostSaleSurvey opens the satisfaction survey for a contact after
// a field visit. It refuses quietly when the contact recently answered
// one or is in the middle of another conversation; the stores and
// sender come from the hand-off service's wiring.
func (h *Handlers) StartPostSaleSurvey(ctx context.Context, phone, serviceType string) (bool, error) {
	phone = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(phone) < 8 {
		return false, nil
	}

	stores := h.Handoff.Stores
	user, err := stores.Users.GetOrCreate(ctx, phone)
	if err != nil {
		return false, err
	}

	recent, err := stores.Surveys.HasRecent(ctx, user.ID, time.Now().AddDate(0, 0, -7))
	if err != nil {
		return false, err
	}
	if recent {
		slog.Debug("post-sale survey skipped, recent survey exists", "phone", phone)
		return false, nil
	}

	if _, live := h.Sessions.Peek(phone); live {
		slog.Debug("post-sale survey skipped, conversation in progress", "phone", phone)
		return false, nil
	}
	active, err := stores.Sessions.GetActive(ctx, user.ID)
	if err != nil {
		return false, err
	}
	if active != nil {
		slog.Debug("post-sale survey skipped, active session", "phone", phone)
		return false, nil
	}

	sess, err := h.Sessions.Resolve(ctx, phone, user.ID)
	if err != nil {
		return false, err
	}
	sess.State = "postsale_rating"
	sess.Data.SurveyType = "postsale"
	sess.Data.ServiceType = serviceType

	if _, err := stores.Surveys.Create(ctx, user.ID, serviceType); err != nil {
		return false, err
	}

	clientName := user.Name
	if clientName == "" {
		clientName = "cliente"
	}
	if serviceType == "" {
		serviceType = "instalação/manutenção"
	}
	initial := store.CustomText(ctx, stores.Settings, "postsale_initial_message",
		"Olá "+clientName+", vimos que o técnico finalizou sua {service_type}. Gostaríamos de saber como foi sua experiência conosco!")
	initial = strings.ReplaceAll(initial, "{service_type}", serviceType)

	sender := h.Handoff.Sender
	sender.SendText(ctx, phone, initial)
	sender.SendText(ctx, phone, store.CustomText(ctx, stores.Settings, "postsale_rating_request",
		"Por favor, avalie nosso serviço de 1 a 5 estrelas:\n\n1 ⭐ - Péssimo\n2 ⭐⭐ - Ruim\n3 ⭐⭐⭐ - Regular\n4 ⭐⭐⭐⭐ - Bom\n5 ⭐⭐⭐⭐⭐ - Excelente"))

	if err := h.Sessions.Persist(ctx, sess); err != nil {
		slog.Error("persist post-sale session failed", "phone", phone, "error", err)
	}
	return true, nil
}

func (h *Handlers) handlePostSaleRating(fc *flow.Context) error {
	score, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || score < 1 || score > 5 {
		fc.Reply("Por favor, digite um número de 1 a 5 para avaliar nosso serviço:")
		return nil
	}
	fc.Session.Data.Rating = score

	if err := fc.Stores.Ratings.Save(fc.Ctx, store.Rating{
		UserID:    fc.User.ID,
		SessionID: fc.Session.ID,
		MenuPath:  "postsale",
		Score:     score,
		Comment:   "Avaliação pós-venda: " + orService(fc.Session.Data.ServiceType),
	}); err != nil {
		return err
	}

	fc.Reply(fc.CustomText("postsale_comment_request",
		`Agora, por favor, descreva uma crítica ou elogio para que possamos melhorar cada vez mais nosso atendimento (ou escreva "pular" para continuar):`))
	fc.Session.State = "postsale_comment"
	return nil
}

func orService(s string) string {
	if s == "" {
		return "Serviço"
	}
	return s
}

func (h *Handlers) handlePostSaleComment(fc *flow.Context) error {
	comment := strings.TrimSpace(fc.Text)
	skip := strings.EqualFold(comment, "pular") || strings.EqualFold(comment, "sair")
	if !skip && comment != "" {
		if err := fc.Stores.Messages.Save(fc.Ctx, fc.User.ID, store.DirIncoming,
			"[PÓS-VENDA] Comentário: "+comment); err != nil {
			return err
		}
	}

	fc.Reply(fc.CustomText("postsale_recommendation_question",
		"Qual a chance de nos recomendar para um amigo ou familiar?\n\n"+
			"1 - Vou sempre indicar\n2 - Talvez indique\n3 - Se não tiver outra opção\n4 - Não indicaria"))
	fc.Session.State = "postsale_recommendation"
	return nil
}

func (h *Handlers) handlePostSaleRecommendation(fc *flow.Context) error {
	option, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || option < 1 || option > 4 {
		fc.Reply("Por favor, escolha uma opção de 1 a 4:")
		return nil
	}

	if err := fc.Stores.Messages.Save(fc.Ctx, fc.User.ID, store.DirIncoming,
		"[PÓS-VENDA] Recomendação: "+recommendationScale[option-1]); err != nil {
		return err
	}
	if err := fc.Stores.Surveys.Complete(fc.Ctx, fc.User.ID); err != nil {
		return err
	}

	fc.Reply(fc.CustomText("postsale_thank_you",
		"Muito obrigado por participar da nossa pesquisa de satisfação! Seu feedback é muito importante para continuarmos melhorando nosso atendimento."))
	return h.Sessions.Finish(fc.Ctx, fc.Session)
}
