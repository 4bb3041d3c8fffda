// Package handlers implements the conversation flows: registration,
// scheduling, rating, post-sale surveys and the financial options. Each
// reserved session state maps to one handler; menu options invoke the
// named actions.
package handlers

import (
	"os"

	"github.com/suporttech/zapdesk/internal/agenthandoff"
	"github.com/suporttech/zapdesk/internal/config"
	"github.com/suporttech/zapdesk/internal/flow"
	"github.com/suporttech/zapdesk/internal/menu"
	"github.com/suporttech/zapdesk/internal/session"
)

// Handlers bundles the flow implementations and their dependencies.
type Handlers struct {
	Sessions *session.Registry
	Handoff  *agenthandoff.Service
	Planner  SlotPlanner
	Files    config.FilesConfig
}

// States returns the reserved-state dispatch table consumed by the
// router.
func (h *Handlers) States() map[string]flow.Handler {
	return map[string]flow.Handler{
		session.StateInit:        flow.HandlerFunc(h.StartRegistration),
		"await_name":             flow.HandlerFunc(h.handleName),
		"await_address":          flow.HandlerFunc(h.handleAddress),
		"await_complement":       flow.HandlerFunc(h.handleComplement),
		"await_email":            flow.HandlerFunc(h.handleEmail),
		"await_terms_acceptance": flow.HandlerFunc(h.handleTermsAcceptance),

		"schedule_service": flow.HandlerFunc(h.handleScheduleService),
		"schedule_desc":    flow.HandlerFunc(h.handleScheduleDescription),
		"schedule_date":    flow.HandlerFunc(h.handleDateSelection),
		"schedule_confirm": flow.HandlerFunc(h.handleScheduleConfirmation),

		"confirm_appointment": flow.HandlerFunc(h.handleAppointmentConfirmation),

		"await_rating":         flow.HandlerFunc(h.handleRating),
		"await_rating_comment": flow.HandlerFunc(h.handleRatingComment),
		"await_recommendation": flow.HandlerFunc(h.handleRecommendation),

		"invoice_selection": flow.HandlerFunc(h.handleInvoiceSelection),

		"postsale_rating":         flow.HandlerFunc(h.handlePostSaleRating),
		"postsale_comment":        flow.HandlerFunc(h.handlePostSaleComment),
		"postsale_recommendation": flow.HandlerFunc(h.handlePostSaleRecommendation),
	}
}

// Action processes one menu option by its configured handler name.
type Action func(fc *flow.Context, opt *menu.Option) error

// Actions returns the menu-option action table.
func (h *Handlers) Actions() map[string]Action {
	forward := func(fc *flow.Context, opt *menu.Option) error {
		return h.Handoff.Forward(fc, opt, "")
	}
	schedule := func(fc *flow.Context, opt *menu.Option) error {
		fc.Session.Data.ServiceType = opt.Title
		return h.StartScheduling(fc)
	}
	return map[string]Action{
		"forward":        forward,
		"forwardToAgent": forward,

		"startScheduling": schedule,
		"scheduleService": schedule,

		"sendPixKey": func(fc *flow.Context, opt *menu.Option) error {
			return h.SendPixKey(fc)
		},
		"listInvoices": func(fc *flow.Context, opt *menu.Option) error {
			return h.ListInvoices(fc)
		},
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
