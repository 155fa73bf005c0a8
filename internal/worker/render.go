package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	// The master-channel rendering shows US Eastern wall time; embed the
	// zone database so containers without tzdata render it too.
	_ "time/tzdata"

	"github.com/ccdocs/relay/internal/queue"
	"github.com/ccdocs/relay/internal/slack"
)

const tsLayout = "2006-01-02 03:04:05 PM MST"

var eastern *time.Location

func init() {
	var err error
	eastern, err = time.LoadLocation("America/New_York")
	if err != nil {
		eastern = time.FixedZone("EST", -5*3600)
	}
}

// renderForward produces the master-channel rendering of a source message.
func renderForward(channelName, text, user, ts string) string {
	return fmt.Sprintf("*From #%s*\n%s\n_Posted by <@%s> at %s_", channelName, text, user, estTime(ts))
}

// estTime renders a Slack ts in US Eastern wall time. An unparseable ts is
// rendered as-is rather than losing the post.
func estTime(ts string) string {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return ts
	}
	return time.Unix(int64(f), 0).In(eastern).Format(tsLayout)
}

// fileAttachment is the record the relay builds for each shared file. The
// link points at the source workspace copy; the relay never re-uploads
// content.
type fileAttachment struct {
	Fallback  string `json:"fallback"`
	Title     string `json:"title"`
	TitleLink string `json:"title_link"`
	Text      string `json:"text"`
	TS        string `json:"ts"`
	ImageURL  string `json:"image_url,omitempty"`
}

// buildAttachments merges the source message's own attachments with a record
// per shared file, returning a JSON array ready for chat.postMessage. Empty
// when there is nothing to attach.
func buildAttachments(job queue.ForwardJob) string {
	var list []json.RawMessage
	if job.Attachments != "" && job.Attachments != "[]" && job.Attachments != "null" {
		if err := json.Unmarshal([]byte(job.Attachments), &list); err != nil {
			slog.Warn("dropping unparseable attachments", "channel", job.SourceChannelName, "error", err)
			list = nil
		}
	}

	var files []slack.File
	if job.Files != "" && job.Files != "[]" {
		if err := json.Unmarshal([]byte(job.Files), &files); err != nil {
			slog.Warn("dropping unparseable files", "channel", job.SourceChannelName, "error", err)
		}
	}
	for _, f := range files {
		rec := fileAttachment{
			Fallback:  "File: " + f.Name,
			Title:     f.Name,
			TitleLink: f.URLPrivate,
			Text:      "File shared by <@" + job.User + ">",
			TS:        job.TS,
		}
		if strings.HasPrefix(f.Mimetype, "image/") {
			rec.ImageURL = f.URLPrivate
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		list = append(list, raw)
	}

	if len(list) == 0 {
		return ""
	}
	out, err := json.Marshal(list)
	if err != nil {
		return ""
	}
	return string(out)
}

// authorOf picks the author for rendering a fetched parent message.
func authorOf(user, botID string) string {
	if user != "" {
		return user
	}
	if botID != "" {
		return botID
	}
	return "unknown"
}
