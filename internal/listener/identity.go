package listener

import (
	"crypto/md5"
	"encoding/hex"
)

// identifierTextLen bounds how much text participates in the content hash.
const identifierTextLen = 50

// messageIdentifier returns the cross-bot identifier for a message: Slack's
// client_msg_id when present, otherwise the first 16 hex digits of an md5
// over channel, author, and a text prefix. Timestamps never participate;
// they are not guaranteed identical across each bot's view of the same
// message.
func messageIdentifier(channelID, clientMsgID, author, text string) string {
	if clientMsgID != "" {
		return clientMsgID
	}
	runes := []rune(text)
	if len(runes) > identifierTextLen {
		runes = runes[:identifierTextLen]
	}
	sum := md5.Sum([]byte(channelID + ":" + author + ":" + string(runes)))
	return hex.EncodeToString(sum[:])[:16]
}

// userOrBot picks the author field for identifiers and renderings.
func userOrBot(user, botID string) string {
	if user != "" {
		return user
	}
	if botID != "" {
		return botID
	}
	return "unknown"
}
