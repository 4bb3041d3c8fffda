package handlers

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/store"
)

// SendPixKey delivers the payment key configured in the settings.
func (h *Handlers) SendPixKey(fc *flow.Context) error {
	pixKey, err := fc.Stores.Settings.Get(fc.Ctx, "pix_key")
	if err != nil {
		return err
	}
	if pixKey == "" {
		fc.Reply("Desculpe, não foi possível recuperar nossa chave PIX. Por favor, entre em contato com nosso suporte.")
		return nil
	}
	name, err := fc.Stores.Settings.Get(fc.Ctx, "pix_key_name")
	if err != nil {
		return err
	}
	if name == "" {
		name = "Nossa Empresa"
	}
	keyType, err := fc.Stores.Settings.Get(fc.Ctx, "pix_key_type")
	if err != nil {
		return err
	}
	if keyType == "" {
		keyType = "CNPJ"
	}

	msg := fc.CustomText("pix_message", fmt.Sprintf(
		"💰 *Nossa Chave PIX*\n\n%s: %s\nNome: %s\n\nVocê pode copiar a chave acima ou usar o QR Code. Após realizar o pagamento, envie o comprovante para nosso atendente.",
		keyType, pixKey, name))
	fc.Reply(msg)

	qrPath, err := fc.Stores.Settings.Get(fc.Ctx, "pix_qrcode_path")
	if err != nil {
		return err
	}
	if fileExists(qrPath) {
		fc.Sender.SendImage(fc.Ctx, fc.Session.Identity, qrPath, "QR Code PIX")
	}

	if err := fc.Stores.Messages.Save(fc.Ctx, fc.User.ID, store.DirOutgoing,
		"[PIX] Chave PIX enviada ao cliente"); err != nil {
		return err
	}

	fc.Reply(fc.CustomText("anything_else", "Posso ajudar com mais alguma coisa?"))
	return nil
}

// ListInvoices presents the open billing documents and awaits a pick.
func (h *Handlers) ListInvoices(fc *flow.Context) error {
	invoices, err := fc.Stores.Invoices.ByUser(fc.Ctx, fc.User.ID)
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		fc.Reply(fc.CustomText("no_invoices",
			"Não encontramos boletos pendentes para seu cadastro. Se precisar de ajuda, selecione a opção de falar com um atendente."))
		return nil
	}

	var b strings.Builder
	b.WriteString(fc.CustomText("invoices_list_header",
		"Encontramos os seguintes boletos para seu cadastro:\n\n"))
	for i, inv := range invoices {
		status := "⏳ PENDENTE"
		if inv.Paid {
			status = "✅ PAGO"
		}
		ref := inv.Reference
		if ref == "" {
			ref = "N/A"
		}
		fmt.Fprintf(&b, "*%d.* Vencimento: %s\n   Valor: R$ %.2f\n   Status: %s\n   Ref: %s\n\n",
			i+1, fmtDate(inv.DueDate), inv.Amount, status, ref)
	}
	b.WriteString("Para receber a 2ª via de um boleto, digite o número correspondente:")
	fc.Reply(b.String())

	fc.Session.Data.Invoices = invoices
	fc.Session.State = "invoice_selection"
	return nil
}

func (h *Handlers) handleInvoiceSelection(fc *flow.Context) error {
	idx, err := strconv.Atoi(strings.TrimSpace(fc.Text))
	if err != nil || idx < 1 || idx > len(fc.Session.Data.Invoices) {
		fc.Reply("Por favor, selecione um número válido da lista de boletos apresentada.")
		return nil
	}
	inv := fc.Session.Data.Invoices[idx-1]

	if inv.Paid {
		fc.Reply("Este boleto já consta como PAGO em nosso sistema. Caso necessite do comprovante, por favor, contate nosso suporte.")
		return nil
	}

	pdfPath := inv.PDFPath
	if pdfPath == "" {
		pdfPath = filepath.Join(h.Files.InvoicesDir, fmt.Sprintf("boleto_%d.pdf", inv.ID))
	}
	if !fileExists(pdfPath) {
		fc.Reply("Não foi possível localizar o arquivo do boleto. Por favor, selecione a opção de falar com um atendente para obter ajuda.")
		return nil
	}

	fc.Reply(fc.CustomText("sending_invoice",
		"Estamos enviando a 2ª via do boleto selecionado. Por favor, aguarde um momento..."))

	fileName := "Boleto_" + strings.ReplaceAll(fmtDate(inv.DueDate), "/", "-") + ".pdf"
	fc.Sender.SendDocument(fc.Ctx, fc.Session.Identity, pdfPath, fileName, "Boleto para pagamento")

	if err := fc.Stores.Messages.Save(fc.Ctx, fc.User.ID, store.DirOutgoing,
		fmt.Sprintf("[BOLETO] Enviada 2ª via do boleto ID: %d", inv.ID)); err != nil {
		return err
	}

	fc.Reply(fc.CustomText("invoice_sent",
		"Seu boleto foi enviado com sucesso. Caso tenha alguma dúvida, selecione a opção de falar com um atendente."))
	fc.ShowMenu("financial")
	return nil
}
