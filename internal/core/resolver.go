package core

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/heartline/internal/constants"
	"github.com/xonecas/heartline/internal/prompt"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/store"
)

// ScoreInvite scores a reply without invite markers: +1 for every positive
// keyword present, -2 for every negative one. Matching ignores case, and
// ASCII keywords only match whole words so "disagree" is not "agree".
func ScoreInvite(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range constants.InvitePositiveKeywords {
		if hasKeyword(lower, strings.ToLower(kw)) {
			score++
		}
	}
	for _, kw := range constants.InviteNegativeKeywords {
		if hasKeyword(lower, strings.ToLower(kw)) {
			score -= 2
		}
	}
	return score
}

func hasKeyword(text, kw string) bool {
	if !isASCII(kw) {
		return strings.Contains(text, kw)
	}
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], kw)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(kw)
		if !isWordByte(text, start-1) && !isWordByte(text, end) {
			return true
		}
		i = start + 1
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// ClassifyInvite accepts when the keyword score is positive.
func ClassifyInvite(text string) protocol.Decision {
	if ScoreInvite(text) > 0 {
		return protocol.DecisionAccept
	}
	return protocol.DecisionReject
}

// locate finds a message by id, falling back to its index for legacy
// records without ids. It returns -1 if neither matches a message of type t.
func locate(history []store.Message, id store.ID, index int, t store.MessageType) int {
	if id != "" {
		for i := range history {
			if history[i].ID == id {
				return i
			}
		}
		return -1
	}
	if index >= 0 && index < len(history) && history[index].Type == t {
		return index
	}
	return -1
}

// resolveTransfer settles a pending transfer and appends its receipt. It
// re-reads the timeline under the store lock and does nothing if the
// transfer already reached a terminal status.
func (e *Engine) resolveTransfer(contact store.ID, p prompt.PendingTransfer, d protocol.Decision, mode store.Mode) bool {
	status := store.StatusAccepted
	if d == protocol.DecisionReject {
		status = store.StatusRejected
	}

	resolved := false
	var receipt store.Message
	e.store.UpdateHistory(contact, func(h []store.Message) ([]store.Message, bool) {
		i := locate(h, p.MessageID, p.Index, store.TypeTransfer)
		if i < 0 || h[i].Status.Terminal() {
			return h, false
		}
		h[i].Status = status
		receipt = store.Message{
			ID:        store.NewID(),
			Role:      store.RoleAssistant,
			Type:      store.TypeTransferReceipt,
			Status:    status,
			Amount:    h[i].Amount,
			Timestamp: e.delivery.stamp(contact),
			Mode:      mode,
		}
		resolved = true
		return append(h, receipt), true
	})

	if !resolved {
		log.Debug().Str("contact", string(contact)).Msg("Transfer already settled")
		return false
	}

	log.Info().Str("contact", string(contact)).Str("status", string(status)).Float64("amount", receipt.Amount).Msg("Transfer resolved")
	e.bus.Publish(Event{Type: EventTransferResolved, ContactID: contact, Data: ResolutionData{Decision: d, Amount: receipt.Amount}})
	e.bus.Publish(Event{Type: EventMessageAppended, ContactID: contact, Data: MessageData{Message: receipt}})
	return true
}

// resolveInvite settles a pending invitation. Without a marker decision the
// reply text is keyword scored. On acceptance the relationship state is
// bound to the contact with fresh counters.
func (e *Engine) resolveInvite(contact store.ID, p prompt.PendingInvite, d protocol.Decision, text string, mode store.Mode) bool {
	fallback := false
	if d == protocol.DecisionNone {
		d = ClassifyInvite(text)
		fallback = true
	}

	answer := store.Message{
		Role:    store.RoleAssistant,
		Type:    store.TypeInviteReject,
		Content: "I declined your couple space invitation",
		Mode:    mode,
	}
	if d == protocol.DecisionAccept {
		answer.Type = store.TypeInviteAccept
		answer.Content = "I accepted your couple space invitation"
	}

	resolved := false
	e.store.UpdateHistory(contact, func(h []store.Message) ([]store.Message, bool) {
		i := locate(h, p.MessageID, p.Index, store.TypeInviteRequest)
		if i < 0 {
			return h, false
		}
		for _, later := range h[i+1:] {
			if later.Type == store.TypeInviteAccept || later.Type == store.TypeInviteReject {
				return h, false
			}
		}
		answer.ID = store.NewID()
		answer.Timestamp = e.delivery.stamp(contact)
		resolved = true
		return append(h, answer), true
	})

	if !resolved {
		log.Debug().Str("contact", string(contact)).Msg("Invitation already answered")
		return false
	}

	if d == protocol.DecisionAccept {
		now := e.now().UnixMilli()
		e.store.UpdateCouple(func(c *store.Couple) bool {
			c.Active = true
			c.PartnerID = contact
			c.StartTime = now
			c.LastWaterTime = 0
			c.TreeLevel = 0
			return true
		})
	}

	log.Info().Str("contact", string(contact)).Str("decision", d.String()).Bool("fallback", fallback).Msg("Invitation resolved")
	e.bus.Publish(Event{Type: EventInviteResolved, ContactID: contact, Data: ResolutionData{Decision: d, Fallback: fallback}})
	e.bus.Publish(Event{Type: EventMessageAppended, ContactID: contact, Data: MessageData{Message: answer}})
	return true
}

// retractLast marks the newest assistant message that is not yet retracted.
func (e *Engine) retractLast(contact store.ID) {
	var retracted store.Message
	e.store.UpdateHistory(contact, func(h []store.Message) ([]store.Message, bool) {
		for i := len(h) - 1; i >= 0; i-- {
			if h[i].Role == store.RoleAssistant && !h[i].Retracted {
				h[i].Retracted = true
				retracted = h[i]
				return h, true
			}
		}
		return h, false
	})
	if retracted.Role != "" {
		e.bus.Publish(Event{Type: EventMessageRetracted, ContactID: contact, Data: MessageData{Message: retracted}})
	}
}
