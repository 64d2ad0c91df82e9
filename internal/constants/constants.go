package constants

import "time"

// DefaultSystemPrompt is used when the settings container carries no prompt.
const DefaultSystemPrompt = `You are a real person chatting with the user on a phone messaging app.
Stay in character at all times. Never mention that you are an AI or a language model.
Write like people text: short, casual, with your own moods and opinions.`

// Protocol markers embedded in reply text.
const (
	MarkerRetract      = "[CMD:RETRACT_LAST]"
	MarkerThoughtOpen  = "[THOUGHTS:"
	MarkerAccept       = "[ACCEPT]"
	MarkerReject       = "[REJECT]"
	MarkerAcceptInvite = "[ACCEPT_INVITE]"
	MarkerRejectInvite = "[REJECT_INVITE]"
	MarkerStickerOpen  = "[STICKER:"
	SegmentDelimiter   = "|||"
)

// GatewayTimeout caps a single chat completion exchange.
const GatewayTimeout = 55 * time.Second

// SegmentDelay is the base stagger between delivered segments.
const SegmentDelay = 800 * time.Millisecond

// TransferReceiptDelay lets a transfer receipt land before the reply segments.
const TransferReceiptDelay = 500 * time.Millisecond

// SummarySweepInterval is the catch-up sweep period for daily summaries.
const SummarySweepInterval = time.Minute

// SummaryWindow is the trailing window compacted by a daily summary.
const SummaryWindow = 24 * time.Hour

// SummaryTemperature is used for every compaction request.
const SummaryTemperature = 0.5

// Contact setting defaults.
const (
	DefaultContextLimit     = 100
	DefaultSummaryInterval  = 20
	DefaultDailySummaryTime = "08:00"
	DefaultOfflineMin       = 500
	DefaultOfflineMax       = 700
)

// DefaultTemperature is used when neither settings nor config provide one.
const DefaultTemperature = 0.7

// RoundSummaryMessagesPerRound sizes the slice handed to a round summary.
const RoundSummaryMessagesPerRound = 4

// NoContentSentinels are the values a summariser returns for "nothing happened".
var NoContentSentinels = []string{"无", "none", "None", "N/A"}

// InvitePositiveKeywords score +1 each when an invitation reply carries no marker.
var InvitePositiveKeywords = []string{
	"同意", "答应", "愿意", "好呀", "好的", "没问题", "可以", "开通", "建立", "想和你", "开心",
	"yes", "of course", "i'd love", "i would love", "sure", "agree", "happy", "okay",
}

// InviteNegativeKeywords score -2 each when an invitation reply carries no marker.
var InviteNegativeKeywords = []string{
	"拒绝", "不行", "不要", "不答应", "不愿意", "抱歉", "对不起", "再等等", "考虑", "不想",
	"sorry", "not ready", "refuse", "reject", "can't", "cannot", "don't want", "need time",
	"disagree", "unhappy", "unsure", "not sure", "not happy",
}

// MinEventBusBufferSize is the minimum buffer per subscriber channel.
const MinEventBusBufferSize = 100
