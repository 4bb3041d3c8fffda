package handlers

import (
	"strconv"
	"strings"

	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/store"
)

var recommendationScale = []string{
	"Vou sempre indicar",
	"Talvez indique",
	"Se não tiver outra opção",
	"Não indicaria",
}

// StartRating opens the end-of-engagement evaluation flow. Also wired
// as the hand-off service's close callback.
func (h *Handlers) StartRating(fc *flow.Context) error {
	fc.Reply(fc.CustomText("rating_request",
		"Gostaríamos de saber como foi sua experiência conosco.\nPor favor, avalie nosso atendimento de 1 a 5\n\n"+
			"1. ⭐ - Péssimo\n2. ⭐⭐ - Ruim\n3. ⭐⭐⭐ - Regular\n4. ⭐⭐⭐⭐ - Bom\n5. ⭐⭐⭐⭐⭐ - Excelente"))
	fc.Session.State = "await_rating"
	return nil
}

func (h *Handlers) handleRating(fc *flow.Context) error {
	score, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || score < 1 || score > 5 {
		fc.Reply(fc.CustomText("invalid_rating", "Por favor, digite um número de 1 a 5:"))
		return nil
	}
	fc.Session.Data.Rating = score

	switch {
	case score <= 2:
		fc.Reply("Lamentamos que sua experiência não tenha sido satisfatória.")
	case score == 3:
		fc.Reply("Obrigado pela sua avaliação.")
	default:
		fc.Reply("Obrigado pela sua avaliação positiva!")
	}

	fc.Reply(fc.CustomText("rating_comment",
		`Gostaria de adicionar algum comentário? (digite seu comentário ou "pular" para finalizar)`))
	fc.Session.State = "await_rating_comment"
	return nil
}

func (h *Handlers) handleRatingComment(fc *flow.Context) error {
	comment := fc.Text
	if strings.EqualFold(strings.TrimSpace(comment), "pular") {
		comment = ""
	}

	score := fc.Session.Data.Rating
	if score == 0 {
		score = 5
	}
	menuPath := "atendimento"
	if fc.Session.Data.ServiceType != "" {
		menuPath = "agendamento"
	}
	if err := fc.Stores.Ratings.Save(fc.Ctx, store.Rating{
		UserID:     fc.User.ID,
		SessionID:  fc.Session.ID,
		AgentPhone: fc.Session.Agent,
		MenuPath:   menuPath,
		Score:      score,
		Comment:    comment,
	}); err != nil {
		return err
	}

	fc.Reply(fc.CustomText("rating_thank_you",
		"Obrigado pelo seu feedback! Sua opinião é muito importante para melhorarmos nossos serviços."))
	fc.Reply(fc.CustomText("recommendation_question",
		"Qual a chance de nos recomendar para um amigo ou familiar?\n\n"+
			"1 - Vou sempre indicar\n2 - Talvez indique\n3 - Se não tiver outra opção\n4 - Não indicaria"))
	fc.Session.State = "await_recommendation"
	return nil
}

func (h *Handlers) handleRecommendation(fc *flow.Context) error {
	option, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || option < 1 || option > 4 {
		fc.Reply("Por favor, escolha uma opção de 1 a 4:")
		return nil
	}

	if err := fc.Stores.Messages.Save(fc.Ctx, fc.User.ID, store.DirIncoming,
		"[Recomendação] "+recommendationScale[option-1]); err != nil {
		return err
	}

	fc.Reply(fc.CustomText("final_thank_you",
		"Agradecemos muito sua participação! Seus comentários nos ajudam a melhorar continuamente."))
	return h.FinalizeSession(fc)
}

// FinalizeSession says goodbye and closes every session of the user.
func (h *Handlers) FinalizeSession(fc *flow.Context) error {
	fc.Reply(fc.CustomText("goodbye_message",
		"Obrigado por utilizar nossos serviços! Estamos à disposição quando precisar novamente."))
	return h.Sessions.Finish(fc.Ctx, fc.Session)
}
