// Package slack implements the thin Slack surface the relay needs: a Web API
// client with the relay's retry envelope and a Socket Mode event stream.
package slack

import "encoding/json"

// Channel is the subset of conversation fields the relay reads.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsArchived bool   `json:"is_archived"`
	NumMembers int    `json:"num_members"`
}

// File is the subset of file fields needed to build an attachment record.
type File struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mimetype   string `json:"mimetype"`
	URLPrivate string `json:"url_private"`
}

// MessageEvent is a message event as delivered over Socket Mode. Attachments
// stay raw: the relay forwards them untouched, it never interprets them.
type MessageEvent struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype"`
	Channel     string          `json:"channel"`
	User        string          `json:"user"`
	BotID       string          `json:"bot_id"`
	Text        string          `json:"text"`
	TS          string          `json:"ts"`
	ThreadTS    string          `json:"thread_ts"`
	ClientMsgID string          `json:"client_msg_id"`
	Attachments json.RawMessage `json:"attachments"`
	Files       []File          `json:"files"`
	// Message carries the edited message on message_changed events.
	Message *EditedMessage `json:"message"`
}

// EditedMessage is the nested message object inside a message_changed event.
type EditedMessage struct {
	User        string `json:"user"`
	BotID       string `json:"bot_id"`
	Text        string `json:"text"`
	TS          string `json:"ts"`
	ClientMsgID string `json:"client_msg_id"`
}

// HistoryMessage is one message from a conversation history read.
type HistoryMessage struct {
	User  string `json:"user"`
	BotID string `json:"bot_id"`
	Text  string `json:"text"`
	TS    string `json:"ts"`
}

// AuthIdentity is the result of auth.test.
type AuthIdentity struct {
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
}

// PostMessageParams are the fields for chat.postMessage. Attachments is a
// pre-encoded JSON array, empty for none.
type PostMessageParams struct {
	Channel     string
	Text        string
	ThreadTS    string
	Attachments string
}

// HistoryParams are the fields for conversations.history.
type HistoryParams struct {
	Channel   string
	Latest    string
	Limit     int
	Inclusive bool
}

// ListParams are the fields for conversations.list.
type ListParams struct {
	Types  string
	Limit  int
	Cursor string
}
