package handlers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/store"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// StartRegistration greets a first-time contact and asks for the name.
func (h *Handlers) StartRegistration(fc *flow.Context) error {
	fc.Reply(fc.CustomText("first_welcome",
		"Olá! Bem-vindo ao nosso atendimento. Para começarmos, precisamos de algumas informações básicas."))
	fc.Reply(fc.CustomText("ask_name", "Por favor, informe seu nome completo:"))
	fc.Session.State = "await_name"
	return nil
}

func (h *Handlers) handleName(fc *flow.Context) error {
	name := strings.TrimSpace(fc.Text)
	if len([]rune(name)) < 3 {
		fc.Reply("Por favor, informe seu nome completo válido:")
		return nil
	}
	if err := fc.Stores.Users.UpdateDetails(fc.Ctx, fc.User.ID, store.UserPatch{Name: &name}); err != nil {
		return err
	}
	fc.User.Name = name
	fc.Reply(fc.CustomText("ask_address", "Agora, informe seu endereço completo:"))
	fc.Session.State = "await_address"
	return nil
}

func (h *Handlers) handleAddress(fc *flow.Context) error {
	address := strings.TrimSpace(fc.Text)
	if len([]rune(address)) < 5 {
		fc.Reply("Por favor, informe um endereço válido e completo:")
		return nil
	}
	if err := fc.Stores.Users.UpdateDetails(fc.Ctx, fc.User.ID, store.UserPatch{Address: &address}); err != nil {
		return err
	}
	fc.User.Address = address

	// When this step was interjected to complete the profile for a
	// scheduling, skip straight to the email.
	if fc.Session.Data.ReturnState == "scheduling" {
		fc.Reply(fc.CustomText("ask_email", "Por favor, informe seu e-mail:"))
		fc.Session.State = "await_email"
		return nil
	}

	fc.Reply(fc.CustomText("ask_address_complement",
		"Informe o complemento do endereço (apartamento, bloco, etc):"))
	fc.Session.State = "await_complement"
	return nil
}

func (h *Handlers) handleComplement(fc *flow.Context) error {
	complement := strings.TrimSpace(fc.Text)
	if err := fc.Stores.Users.UpdateDetails(fc.Ctx, fc.User.ID, store.UserPatch{Complement: &complement}); err != nil {
		return err
	}
	fc.User.Complement = complement
	fc.Reply(fc.CustomText("ask_email", "Por último, informe seu e-mail:"))
	fc.Session.State = "await_email"
	return nil
}

func (h *Handlers) handleEmail(fc *flow.Context) error {
	email := strings.ToLower(strings.TrimSpace(fc.Text))
	if !emailRe.MatchString(email) {
		fc.Reply("Por favor, informe um e-mail válido:")
		return nil
	}
	if err := fc.Stores.Users.UpdateDetails(fc.Ctx, fc.User.ID, store.UserPatch{Email: &email}); err != nil {
		return err
	}
	fc.User.Email = email

	// Resume an interjected scheduling once the profile is complete.
	if fc.Session.Data.ReturnState == "scheduling" {
		fc.Session.Data.ReturnState = ""
		return h.StartScheduling(fc)
	}

	return h.sendTerms(fc)
}

// sendTerms delivers the data-protection terms and asks for the
// acceptance choice.
func (h *Handlers) sendTerms(fc *flow.Context) error {
	termsPath, err := fc.Stores.Settings.Get(fc.Ctx, "lgpd_terms_path")
	if err != nil {
		return err
	}
	if termsPath == "" {
		termsPath = h.Files.TermsPath
	}

	if fileExists(termsPath) {
		fc.Reply(fc.CustomText("lgpd_terms_message",
			"Obrigado pelos seus dados! Para prosseguir, precisamos que você leia e aceite nossos termos de uso e política de privacidade, em conformidade com a Lei Geral de Proteção de Dados (LGPD)."))
		fc.Sender.SendDocument(fc.Ctx, fc.Session.Identity, termsPath,
			"Termos_de_Uso_e_LGPD.pdf", "Termos de Uso e Privacidade")
		fc.Reply(fc.CustomText("lgpd_accept_message",
			"Após ler os termos, por favor, confirme:\n\n*1.* Eu aceito os termos\n*2.* Eu não aceito"))
	} else {
		fc.Reply(fc.CustomText("lgpd_simplified_terms",
			"Ao prosseguir, você concorda com nossos termos de uso e privacidade, que incluem o armazenamento e processamento dos seus dados para fins de atendimento, em conformidade com a Lei Geral de Proteção de Dados (LGPD).\n\n*1.* Eu aceito\n*2.* Eu não aceito"))
	}
	fc.Session.State = "await_terms_acceptance"
	return nil
}

func (h *Handlers) handleTermsAcceptance(fc *flow.Context) error {
	choice, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || (choice != 1 && choice != 2) {
		fc.Reply("Por favor, digite 1 para aceitar ou 2 para não aceitar os termos:")
		return nil
	}

	if choice == 1 {
		if err := fc.Stores.Messages.Save(fc.Ctx, fc.User.ID, store.DirIncoming,
			"[LGPD] Cliente aceitou os termos de uso e privacidade"); err != nil {
			return err
		}
		fc.Reply(fc.CustomText("terms_accepted",
			"Obrigado por aceitar os termos! Agora você pode acessar todos os nossos serviços."))
		fc.ShowMenu("main")
		return nil
	}

	if err := fc.Stores.Messages.Save(fc.Ctx, fc.User.ID, store.DirIncoming,
		"[LGPD] Cliente recusou os termos de uso e privacidade"); err != nil {
		return err
	}

	// A refusal goes to an operator trained for it; with none
	// configured the conversation ends.
	agent, err := fc.Stores.Settings.Get(fc.Ctx, "lgpd_agent")
	if err != nil {
		return err
	}
	if agent == "" {
		if agent, err = fc.Stores.Settings.Get(fc.Ctx, "support_agent"); err != nil {
			return err
		}
	}
	if agent != "" {
		fc.Reply(fc.CustomText("terms_rejected_forward",
			"Entendemos sua decisão. Para garantir que possamos atendê-lo adequadamente sem utilizar seus dados, vamos transferi-lo para um atendente especializado."))
		return h.Handoff.Forward(fc, &menu.Option{AgentPhone: agent, Handler: "forward"},
			"Cliente recusou termos LGPD")
	}

	fc.Reply(fc.CustomText("terms_rejected",
		"Entendemos sua decisão. Infelizmente, não podemos prosseguir com o atendimento sem o aceite dos termos, conforme exigido pela legislação. Caso mude de ideia, estamos à disposição."))
	return h.Sessions.Finish(fc.Ctx, fc.Session)
}
