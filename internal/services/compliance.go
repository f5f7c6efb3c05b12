package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Ananth-NQI/smsbook-backend/internal/logging"
	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
)

// KeywordType classifies a regulated SMS keyword
type KeywordType string

const (
	KeywordOptOut KeywordType = "opt_out"
	KeywordOptIn  KeywordType = "opt_in"
	KeywordHelp   KeywordType = "help"
)

// CANCEL is deliberately not an opt-out keyword: it is the appointment
// cancellation verb.
var (
	optOutKeywords = wordSet("STOP", "STOPALL", "UNSUBSCRIBE", "END", "QUIT")
	optInKeywords  = wordSet("START", "UNSTOP")
	helpKeywords   = wordSet("HELP", "INFO")
)

// DetectComplianceKeyword matches the whole trimmed, uppercased message.
// YES opts a contact back in only while that contact is opted out; otherwise
// it is an ordinary confirmation for the conversation.
func DetectComplianceKeyword(body string, contact *models.Contact) (KeywordType, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(body))
	switch {
	case optOutKeywords[normalized]:
		return KeywordOptOut, true
	case optInKeywords[normalized]:
		return KeywordOptIn, true
	case normalized == "YES" && contact != nil && contact.IsOptedOut():
		return KeywordOptIn, true
	case helpKeywords[normalized]:
		return KeywordHelp, true
	}
	return "", false
}

// ComplianceGate handles STOP/START/HELP before any conversation or AI work
type ComplianceGate struct {
	store     storage.Store
	outbound  OutboundChannel
	templates *TemplateService
	log       *slog.Logger
	now       func() time.Time
}

func NewComplianceGate(store storage.Store, outbound OutboundChannel, templates *TemplateService, logger *slog.Logger) *ComplianceGate {
	return &ComplianceGate{
		store:     store,
		outbound:  outbound,
		templates: templates,
		log:       logger,
		now:       time.Now,
	}
}

// Handle reports whether body was a compliance keyword. When it was, the
// contact's opt-in status is persisted before returning and the canned reply is
// force-sent. A failed reply is logged and does not undo the status change.
func (g *ComplianceGate) Handle(ctx context.Context, contact *models.Contact, body string) (bool, error) {
	keyword, ok := DetectComplianceKeyword(body, contact)
	if !ok {
		return false, nil
	}

	now := g.now().UTC()
	var reply string
	switch keyword {
	case KeywordOptOut:
		contact.OptOut(now)
		reply = g.templates.Reply("opt_out", nil)
	case KeywordOptIn:
		contact.OptIn(now)
		reply = g.templates.Reply("opt_in", nil)
	case KeywordHelp:
		reply = g.templates.Reply("help", nil)
	}

	if keyword != KeywordHelp {
		if err := g.store.UpdateContact(ctx, contact); err != nil {
			return true, err
		}
	}

	g.log.Info("compliance_keyword_handled",
		"from", logging.MaskPhone(contact.PhoneNumber),
		"keyword_type", string(keyword),
	)

	if _, err := g.outbound.SendMessage(ctx, contact.PhoneNumber, reply, SendOptions{
		ForceSend: true,
		Kind:      models.MessageKindCompliance,
	}); err != nil {
		g.log.Warn("compliance_reply_failed", "from", logging.MaskPhone(contact.PhoneNumber), "error", err)
	}
	return true, nil
}
