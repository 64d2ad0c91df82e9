package store

import (
	"bytes"
	"strconv"
	"time"

	"github.com/xonecas/heartline/internal/constants"
)

// Namespace keys. They match the legacy browser store so an export can be
// imported without renaming.
const (
	KeySettings  = "iphone_settings"
	KeyContacts  = "iphone_contacts"
	KeyChats     = "iphone_chats"
	KeyWorldBook = "iphone_worldbook"
	KeyMemories  = "iphone_memories"
	KeyCouple    = "iphone_couple_data"
	KeyCalendar  = "iphone_calendar_events"
	KeyStickers  = "iphone_stickers"
)

// ID identifies contacts, messages and entries. The legacy store used
// millisecond timestamps as numeric ids, so numbers decode as their decimal text.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
	case data[0] == '"':
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*id = ID(s)
	default:
		*id = ID(data)
	}
	return nil
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Mode is the delivery mode a message was sent in.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// MessageType tags structured messages. Plain text has no type.
type MessageType string

const (
	TypeText            MessageType = ""
	TypeTransfer        MessageType = "transfer"
	TypeTransferReceipt MessageType = "transfer_receipt"
	TypeInviteRequest   MessageType = "invite_request"
	TypeInviteAccept    MessageType = "invite_accept"
	TypeInviteReject    MessageType = "invite_reject"
	TypeSticker         MessageType = "sticker"
	TypeCallEnd         MessageType = "call_end"
)

var legacyMessageTypes = map[string]MessageType{
	"couple_invite_req":    TypeInviteRequest,
	"couple_invite_accept": TypeInviteAccept,
	"couple_invite_reject": TypeInviteReject,
}

// UnmarshalJSON maps legacy relationship type names onto the current ones.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = TypeText
		return nil
	}
	s, err := strconv.Unquote(string(bytes.TrimSpace(data)))
	if err != nil {
		return err
	}
	if mapped, ok := legacyMessageTypes[s]; ok {
		*t = mapped
		return nil
	}
	*t = MessageType(s)
	return nil
}

// Status is the resolution state of a transfer or its receipt.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Message is one turn in a contact's timeline.
type Message struct {
	ID          ID          `json:"id,omitempty"`
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	Timestamp   int64       `json:"timestamp"`
	Mode        Mode        `json:"mode,omitempty"`
	Type        MessageType `json:"type,omitempty"`
	Status      Status      `json:"status,omitempty"`
	Amount      float64     `json:"amount,omitempty"`
	Note        string      `json:"note,omitempty"`
	Quote       string      `json:"quote,omitempty"`
	Thought     string      `json:"thought,omitempty"`
	Retracted   bool        `json:"isRetracted,omitempty"`
	StickerURL  string      `json:"stickerUrl,omitempty"`
	StickerDesc string      `json:"stickerDesc,omitempty"`
}

// Time returns the creation time of the message.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Chats maps contact id to its message timeline.
type Chats map[string][]Message

// UserSettings are per-contact settings edited by the chat settings panel.
type UserSettings struct {
	UserName             string `json:"userName,omitempty"`
	UserPersona          string `json:"userPersona,omitempty"`
	UserAvatar           string `json:"userAvatar,omitempty"`
	EnableTimePerception bool   `json:"enableTimePerception,omitempty"`
	AutoSummaryEnabled   *bool  `json:"autoSummaryEnabled,omitempty"`
	SummaryInterval      int    `json:"summaryInterval,omitempty"`
	ContextLimit         int    `json:"contextLimit,omitempty"`
}

// AutoSummary defaults to enabled when unset.
func (u UserSettings) AutoSummary() bool {
	return u.AutoSummaryEnabled == nil || *u.AutoSummaryEnabled
}

// Interval returns the round summary interval.
func (u UserSettings) Interval() int {
	if u.SummaryInterval <= 0 {
		return constants.DefaultSummaryInterval
	}
	return u.SummaryInterval
}

// Limit returns the context window size in messages.
func (u UserSettings) Limit() int {
	if u.ContextLimit <= 0 {
		return constants.DefaultContextLimit
	}
	return u.ContextLimit
}

// DailySummarySettings configures the once-a-day memory compaction.
type DailySummarySettings struct {
	Enabled     bool   `json:"enabled"`
	Time        string `json:"time,omitempty"`
	LastSummary int64  `json:"lastSummary,omitempty"`
}

// TimeOfDay returns the configured "HH:MM", defaulting to 08:00.
func (d DailySummarySettings) TimeOfDay() string {
	if d.Time == "" {
		return constants.DefaultDailySummaryTime
	}
	return d.Time
}

// OfflineSettings shape the long-form reply in offline mode.
type OfflineSettings struct {
	Min   int    `json:"min,omitempty"`
	Max   int    `json:"max,omitempty"`
	Style string `json:"style,omitempty"`
}

// Contact is a persona the user converses with.
type Contact struct {
	ID              ID                   `json:"id"`
	Name            string               `json:"name"`
	Persona         string               `json:"persona"`
	Avatar          string               `json:"avatar,omitempty"`
	UserSettings    UserSettings         `json:"userSettings"`
	BoundWorldBooks []ID                 `json:"boundWorldBooks,omitempty"`
	DailySummary    DailySummarySettings `json:"dailySummarySettings"`
	Offline         OfflineSettings      `json:"offlineSettings"`
}

// Couple is the relationship-state singleton.
type Couple struct {
	Active        bool             `json:"active"`
	PartnerID     ID               `json:"partnerId"`
	StartTime     int64            `json:"startTime"`
	LastWaterTime int64            `json:"lastWaterTime"`
	TreeLevel     int              `json:"treeLevel"`
	Letters       []map[string]any `json:"letters,omitempty"`
}

// PartneredWith reports whether the relationship is active with the contact.
func (c Couple) PartneredWith(id ID) bool {
	return c.Active && c.PartnerID == id
}

// MemoryEntry is one remembered fact.
type MemoryEntry struct {
	ID             ID       `json:"id,omitempty"`
	Content        string   `json:"content"`
	Keywords       []string `json:"keywords"`
	Timestamp      int64    `json:"timestamp,omitempty"`
	IsDailySummary bool     `json:"isDailySummary,omitempty"`
}

// MemoryBook holds the permanent and the compactable memories of a contact.
type MemoryBook struct {
	Important []MemoryEntry `json:"important"`
	Normal    []MemoryEntry `json:"normal"`
}

// UnmarshalJSON upgrades the legacy format, a bare list of strings, into a
// book whose entries are all normal memories without keywords.
func (b *MemoryBook) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var old []string
		if err := decode(trimmed, &old); err != nil {
			return err
		}
		b.Important = []MemoryEntry{}
		b.Normal = make([]MemoryEntry, 0, len(old))
		for _, content := range old {
			b.Normal = append(b.Normal, MemoryEntry{Content: content, Keywords: []string{}})
		}
		return nil
	}

	type plain MemoryBook
	var p plain
	if err := decode(trimmed, &p); err != nil {
		return err
	}
	*b = MemoryBook(p)
	return nil
}

// Memories maps contact id to its memory book.
type Memories map[string]MemoryBook

// Settings are the global client settings.
type Settings struct {
	URL              string   `json:"url,omitempty"`
	Key              string   `json:"key,omitempty"`
	Model            string   `json:"model,omitempty"`
	Prompt           string   `json:"prompt,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	AIStickerEnabled bool     `json:"aiStickerEnabled,omitempty"`
}

// WorldCategory groups world entries in the editor.
type WorldCategory struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// World entry scopes.
const (
	WorldGlobal = "global"
	WorldLocal  = "local"
)

// WorldEntry is one piece of world lore.
type WorldEntry struct {
	ID         ID     `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	CategoryID ID     `json:"categoryId,omitempty"`
}

// WorldBook holds all world entries.
type WorldBook struct {
	Categories []WorldCategory `json:"categories"`
	Entries    []WorldEntry    `json:"entries"`
}

// Calendar event types.
const (
	EventAnniversary   = "anniversary"
	EventBirthdayChar  = "birthday_char"
	EventBirthdayUser  = "birthday_user"
	EventCustom        = "custom"
	EventPeriodStart   = "period_start"
	EventPeriodLegacy  = "period"
	EventPeriodEnd     = "period_end"
	DefaultCycleDays   = 28
	DefaultPeriodDays  = 5
	CalendarDateLayout = "2006-01-02"
)

// CalendarEvent is one marked day.
type CalendarEvent struct {
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Cycle    int    `json:"cycle,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// Calendar maps "YYYY-MM-DD" to the events on that day.
type Calendar map[string][]CalendarEvent

// Sticker is a catalog entry the model may reference by descriptor.
type Sticker struct {
	ID   ID     `json:"id,omitempty"`
	URL  string `json:"url"`
	Desc string `json:"desc"`
}
