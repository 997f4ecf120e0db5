// Package compliance gates every outbound message. Opt-out state is
// monotonic until an explicit re-opt-in, send caps use rolling windows,
// and every decision lands in an append-only audit log.
package compliance

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

// Decision is the outcome of a contact permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Deny reason codes.
const (
	ReasonOptedOut           = "opted_out"
	ReasonDailyCapExceeded   = "daily_cap_exceeded"
	ReasonMonthlyCapExceeded = "monthly_cap_exceeded"
)

// Store is the persistence surface of the validator.
type Store interface {
	GetState(ctx context.Context, leadID uuid.UUID) (State, error)
	SetOptOut(ctx context.Context, leadID uuid.UUID, optedOut bool, keyword string) error
	CountSends(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error)
	RecordSend(ctx context.Context, leadID uuid.UUID, channel string, at time.Time) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
	GetLeadPhone(ctx context.Context, leadID uuid.UUID) (string, error)
}

// DefaultOptOutKeywords follows the carrier-standard set.
var DefaultOptOutKeywords = []string{
	"STOP", "STOPALL", "UNSUBSCRIBE", "CANCEL", "END", "QUIT", "OPTOUT", "REMOVE",
}

// DefaultOptInKeywords re-enable contact after an opt-out.
var DefaultOptInKeywords = []string{"START", "UNSTOP", "SUBSCRIBE"}

type Validator struct {
	store      Store
	eventBus   events.Bus
	log        *logger.Logger
	dailyCap   int
	monthlyCap int
	optOut     map[string]bool
	optIn      map[string]bool
	now        func() time.Time
}

func NewValidator(store Store, eventBus events.Bus, log *logger.Logger, dailyCap, monthlyCap int, optOutKeywords, optInKeywords []string) *Validator {
	if len(optOutKeywords) == 0 {
		optOutKeywords = DefaultOptOutKeywords
	}
	if len(optInKeywords) == 0 {
		optInKeywords = DefaultOptInKeywords
	}
	return &Validator{
		store:      store,
		eventBus:   eventBus,
		log:        log,
		dailyCap:   dailyCap,
		monthlyCap: monthlyCap,
		optOut:     keywordSet(optOutKeywords),
		optIn:      keywordSet(optInKeywords),
		now:        time.Now,
	}
}

func keywordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToUpper(strings.TrimSpace(w))] = true
	}
	return set
}

// Check decides whether the lead may be contacted on the channel right
// now. Both outcomes are audited.
func (v *Validator) Check(ctx context.Context, leadID uuid.UUID, channel string) (Decision, error) {
	decision, err := v.decide(ctx, leadID)
	if err != nil {
		return Decision{}, err
	}

	v.audit(ctx, leadID, channel, decisionLabel(decision), decision.Reason)

	if !decision.Allowed {
		v.eventBus.Publish(ctx, events.ContactDenied{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    leadID,
			Channel:   channel,
			Reason:    decision.Reason,
		})
	}

	return decision, nil
}

func (v *Validator) decide(ctx context.Context, leadID uuid.UUID) (Decision, error) {
	state, err := v.store.GetState(ctx, leadID)
	if err != nil {
		return Decision{}, err
	}
	if state.OptedOut {
		return Decision{Reason: ReasonOptedOut}, nil
	}

	now := v.now()

	daily, err := v.store.CountSends(ctx, leadID, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, err
	}
	if daily >= v.dailyCap {
		return Decision{Reason: ReasonDailyCapExceeded}, nil
	}

	monthly, err := v.store.CountSends(ctx, leadID, now.Add(-30*24*time.Hour))
	if err != nil {
		return Decision{}, err
	}
	if monthly >= v.monthlyCap {
		return Decision{Reason: ReasonMonthlyCapExceeded}, nil
	}

	return Decision{Allowed: true}, nil
}

// MayContactLead adapts Check to the shape the conversation service
// consumes.
func (v *Validator) MayContactLead(ctx context.Context, leadID uuid.UUID, channel string) (bool, string, error) {
	decision, err := v.Check(ctx, leadID, channel)
	if err != nil {
		return false, "", err
	}
	return decision.Allowed, decision.Reason, nil
}

// RecordSend counts an outbound message against the lead's windows.
func (v *Validator) RecordSend(ctx context.Context, leadID uuid.UUID, channel string) error {
	return v.store.RecordSend(ctx, leadID, channel, v.now())
}

// ScreenInbound inspects an inbound body for opt-out and re-opt-in
// keywords and updates the lead's state. Returns true when the lead is
// opted out after this message.
func (v *Validator) ScreenInbound(ctx context.Context, leadID uuid.UUID, body string) (bool, error) {
	state, err := v.store.GetState(ctx, leadID)
	if err != nil {
		return false, err
	}

	if keyword := matchKeyword(body, v.optOut); keyword != "" {
		if !state.OptedOut {
			if err := v.store.SetOptOut(ctx, leadID, true, keyword); err != nil {
				return false, err
			}
			v.audit(ctx, leadID, "sms", "opt_out", keyword)
			v.eventBus.Publish(ctx, events.LeadOptedOut{
				BaseEvent: events.NewBaseEvent(),
				LeadID:    leadID,
				Keyword:   keyword,
			})
		}
		return true, nil
	}

	if keyword := matchKeyword(body, v.optIn); keyword != "" && state.OptedOut {
		if err := v.store.SetOptOut(ctx, leadID, false, keyword); err != nil {
			return false, err
		}
		v.audit(ctx, leadID, "sms", "opt_in", keyword)
		return false, nil
	}

	return state.OptedOut, nil
}

// matchKeyword tokenizes the body and matches whole words only, so
// "please stop texting" opts out while "nonstop" does not.
func matchKeyword(body string, keywords map[string]bool) string {
	for _, token := range strings.FieldsFunc(strings.ToUpper(body), func(r rune) bool {
		return !('A' <= r && r <= 'Z')
	}) {
		if keywords[token] {
			return token
		}
	}
	return ""
}

func (v *Validator) audit(ctx context.Context, leadID uuid.UUID, channel, decision, reason string) {
	masked := ""
	if number, err := v.store.GetLeadPhone(ctx, leadID); err == nil && number != "" {
		masked = phone.Mask(number)
	}

	v.log.ComplianceDecision(leadID.String(), channel, decision, reason, masked)

	entry := AuditEntry{
		LeadID:      leadID,
		Channel:     channel,
		Decision:    decision,
		Reason:      reason,
		MaskedPhone: masked,
		CreatedAt:   v.now(),
	}
	if err := v.store.AppendAudit(ctx, entry); err != nil {
		// The audit write must not turn an allow into a failure, but it
		// cannot go unnoticed either.
		v.log.Error("compliance: audit append failed", "leadId", leadID, "error", err)
	}
}

func decisionLabel(d Decision) string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}
