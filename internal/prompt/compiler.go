// Package prompt compiles a contact's state into a chat-completion request.
package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xonecas/heartline/internal/calendar"
	"github.com/xonecas/heartline/internal/constants"
	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

// Input is everything the compiler reads. It is a plain value so the caller
// decides which snapshot of the store a request is built from.
type Input struct {
	Contact   store.Contact
	History   []store.Message
	Settings  store.Settings
	WorldBook store.WorldBook
	Memories  store.MemoryBook
	Calendar  calendar.Facts
	// Stickers is the catalog offered to the model. Empty disables the block.
	Stickers []store.Sticker
	Mode     protocol.Mode
	Pending  Pending
	Now      time.Time
}

// Compiled is a request ready for the gateway.
type Compiled struct {
	System  string
	History []provider.Message
}

// Messages returns the system block followed by the history.
func (c Compiled) Messages() []provider.Message {
	out := make([]provider.Message, 0, len(c.History)+1)
	out = append(out, provider.Message{Role: provider.RoleSystem, Content: c.System})
	return append(out, c.History...)
}

// Compile builds the request for the next reply.
func Compile(in Input) Compiled {
	us := in.Contact.UserSettings
	window, _ := Window(in.History, us.Limit())

	history := make([]provider.Message, 0, len(window))
	for _, m := range window {
		history = append(history, gloss(m, us.EnableTimePerception, in.Now.Location()))
	}

	var b strings.Builder
	b.WriteString(basePrompt(in.Settings))
	writeIdentity(&b, in.Contact, true)
	writeMemories(&b, in.Memories, latestUserText(window))
	if us.EnableTimePerception {
		writeTimeBlock(&b, in.Now)
	}
	writeCalendar(&b, in.Calendar)
	writeWorld(&b, in.WorldBook, in.Contact.BoundWorldBooks)
	writeStickers(&b, in.Stickers)
	b.WriteString("\n\n[Special ability] If you want to take back the last message you sent " +
		"(you regret it, or you misspoke), put " + constants.MarkerRetract +
		" at the very start of your reply. That message will be marked as retracted.")
	writeModeInstruction(&b, in)

	return Compiled{System: b.String(), History: history}
}

// CompileCallStart builds the request for picking up a call the user placed.
// It carries no history.
func CompileCallStart(contact store.Contact, settings store.Settings) Compiled {
	var b strings.Builder
	b.WriteString(basePrompt(settings))
	writeIdentity(&b, contact, false)
	b.WriteString("\n\n===== Voice call: picking up =====\n" +
		"The user just called you and you answered.\n" +
		"Write what you say as you pick up. The reply must include your inner thoughts.\n" +
		"Rules:\n" +
		"1. This is a voice call, talk the way people talk on the phone.\n" +
		"2. Never use '" + constants.SegmentDelimiter + "' to split messages.\n" +
		"3. Reply with a single paragraph of at most 150 words.\n" +
		"Format: " + constants.MarkerThoughtOpen + " inner thoughts] " + constants.SegmentDelimiter + " what you say")
	return Compiled{System: b.String()}
}

func basePrompt(s store.Settings) string {
	if strings.TrimSpace(s.Prompt) == "" {
		return constants.DefaultSystemPrompt
	}
	return s.Prompt
}

func writeIdentity(b *strings.Builder, c store.Contact, withPersona bool) {
	fmt.Fprintf(b, "\n\n[Character]\nName: %s\nPersona: %s", c.Name, c.Persona)

	us := c.UserSettings
	if us.UserName == "" && (!withPersona || us.UserPersona == "") {
		return
	}
	name := us.UserName
	if name == "" {
		name = "User"
	}
	fmt.Fprintf(b, "\n\n[User]\nName: %s", name)
	if withPersona {
		fmt.Fprintf(b, "\nPersona: %s", us.UserPersona)
	}
}

func writeMemories(b *strings.Builder, book store.MemoryBook, lastUser string) {
	if len(book.Important) > 0 {
		b.WriteString("\n\n[Important memories - never forget]\n")
		for i, m := range book.Important {
			fmt.Fprintf(b, "%d. %s\n", i+1, m.Content)
		}
	}

	var triggered []store.MemoryEntry
	for _, m := range book.Normal {
		if keywordHit(m.Keywords, lastUser) {
			triggered = append(triggered, m)
		}
	}
	if len(triggered) > 0 {
		b.WriteString("\n\n[Related memories]\n")
		for i, m := range triggered {
			fmt.Fprintf(b, "%d. %s\n", i+1, m.Content)
		}
	}
}

func keywordHit(keywords []string, text string) bool {
	if text == "" {
		return false
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func latestUserText(window []store.Message) string {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role == store.RoleUser {
			return window[i].Content
		}
	}
	return ""
}

func writeTimeBlock(b *strings.Builder, now time.Time) {
	fmt.Fprintf(b, "\n\n[Time awareness]\nCurrent real-world time: %s\n", now.Format(timeLayout))
	b.WriteString("Notes:\n" +
		"1. Every message is tagged with the time it was sent so you can tell how much time passed.\n" +
		"2. Never start your reply with a timestamp such as [12:00:00]. Reply with the content only.\n" +
		"3. Let the current time shape what you are doing (asleep late at night, commuting in the morning).\n" +
		"4. Notice long gaps between the user's messages and react in character.")
}

func writeCalendar(b *strings.Builder, f calendar.Facts) {
	if f.Empty() {
		return
	}
	b.WriteString("\n\n===== Calendar reminders =====")
	for _, title := range f.Anniversaries {
		fmt.Fprintf(b, "\n- Today is an anniversary: %s! Bring it up and celebrate in character.", title)
	}
	if f.ContactBirthday {
		b.WriteString("\n- Today is your birthday! Wait for the user's wishes or drop a hint.")
	}
	if f.UserBirthday {
		b.WriteString("\n- Today is the user's birthday! Wish them a happy birthday.")
	}
	for _, title := range f.Custom {
		fmt.Fprintf(b, "\n- Today's plan: %s. Mention it when it fits.", title)
	}
	switch f.Cycle {
	case calendar.PhaseActive:
		b.WriteString("\n- [Cycle] The user is on their period right now. Be caring and considerate.")
	case calendar.PhasePredicted:
		b.WriteString("\n- [Cycle] By the usual cycle the user's period is probably today. Keep an eye on how they feel.")
	case calendar.PhaseUpcoming:
		b.WriteString("\n- [Cycle] The user's period is expected in 2 days. Gently remind them to rest and stay warm.")
	}
	b.WriteString("\n==============================")
}

func writeWorld(b *strings.Builder, wb store.WorldBook, bound []store.ID) {
	first := true
	for _, e := range wb.Entries {
		if e.Type != store.WorldGlobal {
			continue
		}
		if first {
			b.WriteString("\n\n[World setting]\n")
			first = false
		}
		fmt.Fprintf(b, "- %s: %s\n", e.Title, e.Content)
	}

	byID := make(map[store.ID]store.WorldEntry, len(wb.Entries))
	for _, e := range wb.Entries {
		byID[e.ID] = e
	}
	first = true
	for _, id := range bound {
		e, ok := byID[id]
		if !ok {
			continue
		}
		if first {
			b.WriteString("\n\n[Character-specific setting]\n")
			first = false
		}
		fmt.Fprintf(b, "- %s: %s\n", e.Title, e.Content)
	}
}

func writeStickers(b *strings.Builder, stickers []store.Sticker) {
	if len(stickers) == 0 {
		return
	}
	b.WriteString("\n\n===== Stickers =====\nYou can reply with stickers. Available stickers:\n")
	for i, s := range stickers {
		fmt.Fprintf(b, "%d. %s\n", i+1, s.Desc)
	}
	b.WriteString("\nRules:\n" +
		"1. To send a sticker write " + constants.MarkerStickerOpen + "description] in your reply.\n" +
		"2. The description must match one of the entries above exactly. Never invent one.\n" +
		"3. A sticker can be sent alone or together with text.\n" +
		"4. If nothing in the list fits, don't send a sticker.\n" +
		"====================")
}

func writeModeInstruction(b *strings.Builder, in Input) {
	thought := constants.MarkerThoughtOpen + " inner thoughts]"
	delim := constants.SegmentDelimiter

	switch {
	case in.Pending.Transfer != nil:
		t := in.Pending.Transfer
		fmt.Fprintf(b, "\n\n===== Payment received - required format =====\n"+
			"The user just sent you a payment of %s, note: %s.\n"+
			"Right after your inner thoughts, your reply must start with %s if you keep the money "+
			"or %s if you return it.\n", FormatAmount(t.Amount), noteOrNone(t.Note),
			constants.MarkerAccept, constants.MarkerReject)
		fmt.Fprintf(b, "Format: %s %s %s your reply%s", thought, delim, constants.MarkerAccept, segmentHint(in.Mode))

	case in.Pending.Invite != nil:
		fmt.Fprintf(b, "\n\n===== Important: relationship invitation =====\n"+
			"The user just invited you to open a couple space together. Decide now.\n"+
			"- To accept, include %s in your reply.\n"+
			"- To decline, include %s in your reply.\n"+
			"Without one of these tags your decision cannot be recognized.\n",
			constants.MarkerAcceptInvite, constants.MarkerRejectInvite)
		fmt.Fprintf(b, "Example: %s %s %s I'd love that%s", constants.MarkerThoughtOpen+" I'm so happy...]", delim,
			constants.MarkerAcceptInvite, segmentHint(in.Mode))

	case in.Mode == protocol.ModeCall:
		b.WriteString("\n\n===== Voice call =====\n" +
			"You are on a voice call with the user.\n" +
			"Rules:\n" +
			"1. Talk the way people talk on the phone.\n" +
			"2. Never use '" + delim + "' to split messages.\n" +
			"3. Reply with a single paragraph of at most 150 words.\n" +
			"4. Always start with your inner thoughts.\n" +
			"Format: " + thought + " " + delim + " what you say")

	case in.Mode == protocol.ModeOffline:
		off := in.Contact.Offline
		lo, hi := off.Min, off.Max
		if lo <= 0 {
			lo = constants.DefaultOfflineMin
		}
		if hi <= 0 {
			hi = constants.DefaultOfflineMax
		}
		style := off.Style
		if style == "" {
			style = "delicate and immersive"
		}
		fmt.Fprintf(b, "\n\n===== Meeting in person =====\n"+
			"You and the user are together face to face.\n"+
			"Rules:\n"+
			"1. Never use '%s' to split messages.\n"+
			"2. Write like a novel: actions, expressions, surroundings and inner life.\n"+
			"3. Length: %d - %d words.\n"+
			"4. Style: %s\n"+
			"5. Always start with your inner thoughts.\n"+
			"Format: %s %s the scene", delim, lo, hi, style, thought, delim)

	default:
		b.WriteString("\n\n===== Required reply format =====\n" +
			"Every reply must start with a short inner monologue (at most 100 words) showing what you " +
			"really feel or think about the user, wrapped in " + thought + ". " +
			"After it, write " + delim + " and then your actual reply. Split the reply into separate " +
			"chat messages with " + delim + ".\n" +
			"Example: " + constants.MarkerThoughtOpen + " why is he asking this all of a sudden?] " + delim +
			" uh, well... " + delim + " I'm not really sure either.")
	}
}

func segmentHint(mode protocol.Mode) string {
	if mode == protocol.ModeDefault {
		return " " + constants.SegmentDelimiter + " more messages split with " + constants.SegmentDelimiter
	}
	return ""
}

func noteOrNone(note string) string {
	if note == "" {
		return "none"
	}
	return note
}

// FormatAmount renders a payment amount without trailing zeros.
func FormatAmount(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}

// gloss rewrites a stored message into what the model sees.
func gloss(m store.Message, timeAware bool, loc *time.Location) provider.Message {
	if m.Retracted {
		if m.Role == store.RoleUser {
			return provider.Message{Role: provider.RoleSystem, Content: "[System notice: the user retracted a message. " +
				"You can't see what it said, but you know it was withdrawn. React as fits, " +
				"for example ask what they took back.]"}
		}
		return provider.Message{Role: provider.RoleAssistant, Content: "[retracted message]"}
	}

	switch m.Type {
	case store.TypeTransfer:
		return provider.Message{Role: provider.RoleUser,
			Content: fmt.Sprintf("[user sent you a payment of %s, note: %s]", FormatAmount(m.Amount), noteOrNone(m.Note))}
	case store.TypeTransferReceipt:
		if m.Status == store.StatusAccepted {
			return provider.Message{Role: provider.RoleAssistant,
				Content: fmt.Sprintf("[I accepted the payment of %s]", FormatAmount(m.Amount))}
		}
		return provider.Message{Role: provider.RoleAssistant,
			Content: fmt.Sprintf("[I declined and returned the payment of %s]", FormatAmount(m.Amount))}
	case store.TypeInviteRequest:
		return provider.Message{Role: provider.RoleUser, Content: "[user invited you to open a couple space]"}
	case store.TypeInviteAccept:
		return provider.Message{Role: provider.RoleAssistant, Content: "[I accepted your couple space invitation]"}
	case store.TypeInviteReject:
		return provider.Message{Role: provider.RoleAssistant, Content: "[I declined your couple space invitation]"}
	case store.TypeCallEnd:
		return provider.Message{Role: provider.RoleSystem, Content: m.Content}
	case store.TypeSticker:
		desc := m.StickerDesc
		if desc == "" {
			desc = "sticker"
		}
		return provider.Message{Role: string(m.Role), Content: "[sticker: " + desc + "]"}
	}

	content := m.Content
	if timeAware && m.Timestamp > 0 {
		content = "[sent at " + time.UnixMilli(m.Timestamp).In(loc).Format(timeLayout) + "] " + content
	}
	return provider.Message{Role: string(m.Role), Content: content}
}
