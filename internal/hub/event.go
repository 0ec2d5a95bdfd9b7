// Package hub distributes Telegram bot updates to any number of in-process
// consumers while holding exactly one getUpdates long poll per bot token.
//
// Telegram rejects concurrent pollers on the same token with a 409, so every
// consumer that wants a live copy of a bot's update stream must go through the
// Hub: it lazily starts one Poller per token, fans updates out to bounded
// per-consumer Subscriptions, and keeps chat-membership updates in a buffer
// even while nobody is attached.
package hub

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Update kinds as Telegram names them in allowed_updates.
const (
	KindMessage           = "message"
	KindEditedMessage     = "edited_message"
	KindChannelPost       = "channel_post"
	KindEditedChannelPost = "edited_channel_post"
	KindCallbackQuery     = "callback_query"
	KindInlineQuery       = "inline_query"
	KindMyChatMember      = "my_chat_member"
	KindChatMember        = "chat_member"
	KindChatJoinRequest   = "chat_join_request"
)

// FullAllowList is the set of update kinds a Running poller requests.
// my_chat_member must always be present: losing a membership update silently
// breaks the downstream chat tracking tables.
var FullAllowList = []string{
	KindMessage,
	KindEditedMessage,
	KindChannelPost,
	KindEditedChannelPost,
	KindCallbackQuery,
	KindInlineQuery,
	KindMyChatMember,
	KindChatJoinRequest,
}

// Event is one Telegram update as seen by hub consumers.
//
// Seq is the update_id: strictly increasing per token, the basis of the resume
// cursor. Kind names the update subtype. Update is the decoded payload; it is
// shared between consumers and must be treated as immutable.
type Event struct {
	Seq    int64
	Kind   string
	Update tgbotapi.Update
}

// NewEvent wraps a raw update into an Event.
func NewEvent(u tgbotapi.Update) Event {
	return Event{
		Seq:    int64(u.UpdateID),
		Kind:   kindOf(u),
		Update: u,
	}
}

// IsMembership reports whether this is a my_chat_member update, the event
// class buffered independently of attached consumers.
func (e Event) IsMembership() bool { return e.Kind == KindMyChatMember }

func kindOf(u tgbotapi.Update) string {
	switch {
	case u.Message != nil:
		return KindMessage
	case u.EditedMessage != nil:
		return KindEditedMessage
	case u.ChannelPost != nil:
		return KindChannelPost
	case u.EditedChannelPost != nil:
		return KindEditedChannelPost
	case u.CallbackQuery != nil:
		return KindCallbackQuery
	case u.InlineQuery != nil:
		return KindInlineQuery
	case u.MyChatMember != nil:
		return KindMyChatMember
	case u.ChatMember != nil:
		return KindChatMember
	case u.ChatJoinRequest != nil:
		return KindChatJoinRequest
	default:
		return "unknown"
	}
}
