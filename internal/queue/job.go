// Package queue carries normalized forwarding jobs from listeners to workers
// over the shared stream.
package queue

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ccdocs/relay/internal/categ"
)

// Kind discriminates the two job variants.
type Kind string

const (
	// KindPost forwards a new message.
	KindPost Kind = "post"
	// KindUpdate propagates an edit to an already forwarded message.
	KindUpdate Kind = "update"
)

// ForwardJob is one unit of forwarding work. Post jobs carry the thread and
// attachment context; update jobs only carry the new text.
type ForwardJob struct {
	Type              Kind
	Category          categ.Category
	SourceChannelID   string
	SourceChannelName string
	TargetChannelID   string
	User              string
	TS                string
	ThreadTS          string
	IsThreadReply     bool
	Text              string
	// Attachments and Files are JSON arrays, kept encoded end to end.
	Attachments string
	Files       string
	// BotID is the listener identity that enqueued the job.
	BotID int
}

// Fields flattens the job for the stream. Every value is a string;
// is_thread_reply is "1"/"0"; empty optional fields are omitted.
func (j ForwardJob) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"type":                string(j.Type),
		"category":            string(j.Category),
		"source_channel_id":   j.SourceChannelID,
		"source_channel_name": j.SourceChannelName,
		"target_channel_id":   j.TargetChannelID,
		"ts":                  j.TS,
		"text":                j.Text,
		"bot_id":              strconv.Itoa(j.BotID),
	}
	if j.User != "" {
		f["user"] = j.User
	}
	if j.Type == KindPost {
		if j.IsThreadReply {
			f["is_thread_reply"] = "1"
		} else {
			f["is_thread_reply"] = "0"
		}
		if j.ThreadTS != "" {
			f["thread_ts"] = j.ThreadTS
		}
		f["attachments"] = orEmptyArray(j.Attachments)
		f["files"] = orEmptyArray(j.Files)
	}
	return f
}

// ParseFields rebuilds a job from stream fields. A job that cannot identify
// its type or channels is unusable; the caller acks and drops it.
func ParseFields(f map[string]string) (ForwardJob, error) {
	j := ForwardJob{
		Type:              Kind(f["type"]),
		Category:          categ.Category(f["category"]),
		SourceChannelID:   f["source_channel_id"],
		SourceChannelName: f["source_channel_name"],
		TargetChannelID:   f["target_channel_id"],
		User:              f["user"],
		TS:                f["ts"],
		ThreadTS:          f["thread_ts"],
		Text:              f["text"],
		Attachments:       f["attachments"],
		Files:             f["files"],
	}

	switch j.Type {
	case KindPost, KindUpdate:
	default:
		return j, fmt.Errorf("unknown job type %q", f["type"])
	}
	if j.SourceChannelID == "" || j.TargetChannelID == "" {
		return j, errors.New("job missing channel ids")
	}

	switch f["is_thread_reply"] {
	case "1", "true", "True":
		j.IsThreadReply = true
	}

	// A job with an unparseable bot id still forwards, just through bot 1.
	bot, err := strconv.Atoi(f["bot_id"])
	if err != nil || bot < 1 {
		bot = 1
	}
	j.BotID = bot

	return j, nil
}

func orEmptyArray(v string) string {
	if v == "" {
		return "[]"
	}
	return v
}
