package prompt

import "github.com/xonecas/heartline/internal/store"

// PendingTransfer is a transfer still waiting for the contact's decision.
type PendingTransfer struct {
	MessageID store.ID
	// Index is the position in the full timeline, used when the record has no id.
	Index  int
	Amount float64
	Note   string
}

// PendingInvite is a relationship invitation without an answer.
type PendingInvite struct {
	MessageID store.ID
	Index     int
}

// Pending holds the live event of a reply. At most one field is set.
type Pending struct {
	Transfer *PendingTransfer
	Invite   *PendingInvite
}

// None reports whether nothing is pending.
func (p Pending) None() bool {
	return p.Transfer == nil && p.Invite == nil
}

// Window returns the trailing limit messages of history and the offset of
// the first one in history.
func Window(history []store.Message, limit int) ([]store.Message, int) {
	if limit <= 0 || len(history) <= limit {
		return history, 0
	}
	offset := len(history) - limit
	return history[offset:], offset
}

// FindPending scans the context window newest first and stops at the first
// live event. A transfer is live while its status is pending. An invitation
// is live while no answer follows it and the contact is not already the
// active partner.
func FindPending(history []store.Message, limit int, couple store.Couple, contact store.ID) Pending {
	window, offset := Window(history, limit)
	partnered := couple.PartneredWith(contact)
	answered := false

	for i := len(window) - 1; i >= 0; i-- {
		m := window[i]
		switch m.Type {
		case store.TypeInviteAccept, store.TypeInviteReject:
			answered = true
		case store.TypeTransfer:
			if m.Status == store.StatusPending {
				return Pending{Transfer: &PendingTransfer{
					MessageID: m.ID,
					Index:     offset + i,
					Amount:    m.Amount,
					Note:      m.Note,
				}}
			}
		case store.TypeInviteRequest:
			if !answered && !partnered {
				return Pending{Invite: &PendingInvite{MessageID: m.ID, Index: offset + i}}
			}
			// an older request is covered by the answer that followed this one
			answered = true
		}
	}
	return Pending{}
}
