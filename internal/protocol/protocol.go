// Package protocol decodes the control markers a model embeds in its reply.
//
// The model is an unreliable peer: Parse is total and every field falls back
// to its zero value when the reply does not follow the grammar.
package protocol

import (
	"regexp"
	"strings"

	"github.com/xonecas/heartline/internal/constants"
	"github.com/xonecas/heartline/internal/store"
)

// Mode selects the reply grammar.
type Mode int

const (
	// ModeDefault is the chat grammar: short messages split on the delimiter.
	ModeDefault Mode = iota
	// ModeCall is a voice call: one short spoken paragraph.
	ModeCall
	// ModeOffline is a face-to-face scene: one long narrative.
	ModeOffline
)

func (m Mode) String() string {
	switch m {
	case ModeCall:
		return "call"
	case ModeOffline:
		return "offline"
	default:
		return "default"
	}
}

// Delivery returns the message mode replies in m are stored with.
func (m Mode) Delivery() store.Mode {
	if m == ModeOffline {
		return store.ModeOffline
	}
	return store.ModeOnline
}

// Decision is the outcome a reply chose for a pending event.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionAccept
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionReject:
		return "reject"
	default:
		return "none"
	}
}

// StickerRef is a sticker marker that matched the catalog.
type StickerRef struct {
	Sticker store.Sticker
	// Position is the number of text segments that precede the marker.
	Position int
}

// Options describe the context a reply is parsed in.
type Options struct {
	Mode            Mode
	TransferPending bool
	// Catalog enables sticker substitution. Nil leaves markers as text.
	Catalog []store.Sticker
}

// Result is the decoded reply.
type Result struct {
	Thought     string
	RetractLast bool
	Transfer    Decision
	Invite      Decision
	Stickers    []StickerRef
	Segments    []string
}

// Empty reports whether there is nothing to deliver.
func (r Result) Empty() bool {
	return len(r.Segments) == 0 && len(r.Stickers) == 0
}

var (
	thoughtRe       = regexp.MustCompile(`(?s)^` + regexp.QuoteMeta(constants.MarkerThoughtOpen) + `(.*?)\]`)
	leadingDelimRe  = regexp.MustCompile(`^` + regexp.QuoteMeta(constants.SegmentDelimiter) + `\s*`)
	transferRe      = regexp.MustCompile(`(?i)^\s*\[(ACCEPT|REJECT)\]\s*`)
	acceptInviteRe  = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(constants.MarkerAcceptInvite))
	rejectInviteRe  = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(constants.MarkerRejectInvite))
	echoedClockRe   = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\]\s*`)
	stickerMarkerRe = regexp.MustCompile(regexp.QuoteMeta(constants.MarkerStickerOpen) + `(.*?)\]`)
)

// Parse decodes raw in a fixed order: retraction, thought, transfer
// decision, invitation decision, echoed clock, stickers, segments. Each
// matched marker is removed before the next step runs.
func Parse(raw string, opts Options) Result {
	var r Result
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, constants.MarkerRetract) {
		r.RetractLast = true
		text = strings.TrimSpace(strings.TrimPrefix(text, constants.MarkerRetract))
	}

	if m := thoughtRe.FindStringSubmatch(text); m != nil {
		r.Thought = strings.TrimSpace(m[1])
		text = strings.TrimSpace(text[len(m[0]):])
		text = strings.TrimSpace(leadingDelimRe.ReplaceAllString(text, ""))
	}

	if opts.TransferPending {
		r.Transfer = DecisionAccept
		if m := transferRe.FindStringSubmatch(text); m != nil {
			if strings.EqualFold(m[1], "REJECT") {
				r.Transfer = DecisionReject
			}
			text = strings.TrimSpace(text[len(m[0]):])
		}
	}

	switch {
	case acceptInviteRe.MatchString(text):
		r.Invite = DecisionAccept
	case rejectInviteRe.MatchString(text):
		r.Invite = DecisionReject
	}
	if r.Invite != DecisionNone {
		text = acceptInviteRe.ReplaceAllString(text, "")
		text = strings.TrimSpace(rejectInviteRe.ReplaceAllString(text, ""))
	}

	text = echoedClockRe.ReplaceAllString(text, "")

	var parts []string
	if opts.Mode == ModeDefault {
		parts = strings.Split(text, constants.SegmentDelimiter)
	} else {
		parts = []string{text}
	}

	for _, part := range parts {
		if opts.Catalog != nil {
			part = substituteStickers(part, opts.Catalog, len(r.Segments), &r.Stickers)
		}
		part = strings.TrimSpace(part)
		if part != "" {
			r.Segments = append(r.Segments, part)
		}
	}
	return r
}

// substituteStickers removes markers whose trimmed descriptor exactly
// matches a catalog entry. Unmatched markers stay in the text.
func substituteStickers(text string, catalog []store.Sticker, position int, out *[]StickerRef) string {
	return stickerMarkerRe.ReplaceAllStringFunc(text, func(marker string) string {
		m := stickerMarkerRe.FindStringSubmatch(marker)
		desc := strings.TrimSpace(m[1])
		for _, s := range catalog {
			if s.Desc == desc {
				*out = append(*out, StickerRef{Sticker: s, Position: position})
				return ""
			}
		}
		return marker
	})
}
