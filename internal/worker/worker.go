// Package worker consumes forwarding jobs from the stream and performs the
// Slack writes: posting into master channels, synthesizing thread parents,
// and propagating edits.
package worker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ccdocs/relay/internal/archive"
	"github.com/ccdocs/relay/internal/metrics"
	"github.com/ccdocs/relay/internal/queue"
	"github.com/ccdocs/relay/internal/slack"
	"github.com/ccdocs/relay/internal/state"
)

// jobTimeout bounds one job, including the retry envelope. The read loop is
// the cancellation point; an in-flight job is allowed to finish during
// shutdown rather than being torn mid-post.
const jobTimeout = 2 * time.Minute

// SlackAPI is the Web API surface a worker needs. Each bot identity gets its
// own client so posts stay attributable.
type SlackAPI interface {
	PostMessage(ctx context.Context, p slack.PostMessageParams) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string) error
	ConversationHistory(ctx context.Context, p slack.HistoryParams) ([]slack.HistoryMessage, error)
}

// MapStore is the message-mapping surface of the state store.
type MapStore interface {
	GetString(ctx context.Context, key string) (string, bool)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// JobSource is the consumer side of the job queue.
type JobSource interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, consumer string) ([]state.Entry, error)
	Ack(ctx context.Context, ids ...string) error
}

// Deps are the collaborators a Worker needs. Ledger may be nil; forwarding
// does not depend on it.
type Deps struct {
	Consumer string
	Clients  map[int]SlackAPI
	Maps     MapStore
	Jobs     JobSource
	Ledger   archive.Store
}

// Worker drains the job stream under one consumer name.
type Worker struct {
	consumer string
	clients  map[int]SlackAPI
	indexes  []int
	maps     MapStore
	jobs     JobSource
	ledger   archive.Store
}

// New assembles a worker.
func New(d Deps) *Worker {
	indexes := make([]int, 0, len(d.Clients))
	for i := range d.Clients {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	return &Worker{
		consumer: d.Consumer,
		clients:  d.Clients,
		indexes:  indexes,
		maps:     d.Maps,
		jobs:     d.Jobs,
		ledger:   d.Ledger,
	}
}

// Run consumes jobs until ctx is cancelled. Every delivered entry is acked,
// success or not: a job that failed its whole retry envelope will not do
// better on redelivery, and an unacked entry would pin the pending list
// forever.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.jobs.EnsureGroup(ctx); err != nil {
		return err
	}
	slog.Info("worker started", "consumer", w.consumer, "bots", len(w.clients))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entries, err := w.jobs.Read(ctx, w.consumer)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("stream read failed", "consumer", w.consumer, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		for _, e := range entries {
			w.handleEntry(e)
		}
	}
}

// handleEntry processes one delivered entry and always acks it.
func (w *Worker) handleEntry(e state.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	job, err := queue.ParseFields(e.Fields)
	if err != nil {
		slog.Warn("dropping unusable job", "entry", e.ID, "error", err)
		metrics.JobsProcessed.WithLabelValues("invalid", "skipped").Inc()
		w.ack(ctx, e.ID)
		return
	}

	client := w.clientFor(job.BotID)
	switch job.Type {
	case queue.KindUpdate:
		err = w.handleUpdate(ctx, client, job)
	default:
		err = w.handlePost(ctx, client, job)
	}
	if err != nil {
		slog.Error("job failed",
			"kind", job.Type, "entry", e.ID, "channel", job.SourceChannelName,
			"ts", job.TS, "error", err)
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
	}
	w.ack(ctx, e.ID)
}

// handlePost forwards a new message, threading it under its synthesized
// parent when it is a reply.
func (w *Worker) handlePost(ctx context.Context, client SlackAPI, job queue.ForwardJob) error {
	start := time.Now()

	params := slack.PostMessageParams{
		Channel:     job.TargetChannelID,
		Text:        renderForward(job.SourceChannelName, job.Text, job.User, job.TS),
		Attachments: buildAttachments(job),
	}
	if job.IsThreadReply && job.ThreadTS != "" {
		// An empty parent ts posts the reply unthreaded; losing the thread
		// shape beats losing the message.
		params.ThreadTS = w.ensureParentPosted(ctx, client, job)
	}

	targetTS, err := client.PostMessage(ctx, params)
	if err != nil {
		return err
	}
	if job.TS != "" {
		key := state.MsgMapKey(job.SourceChannelID, job.TS)
		if err := w.maps.SetString(ctx, key, targetTS, state.MapTTL); err != nil {
			slog.Warn("message map write failed", "key", key, "error", err)
		}
	}

	slog.Info("forwarded",
		"channel", job.SourceChannelName, "category", job.Category,
		"target_ts", targetTS, "bot", job.BotID)
	metrics.JobsProcessed.WithLabelValues("post", "ok").Inc()
	w.record(ctx, job, "post", job.TS, targetTS, start)
	return nil
}

// handleUpdate rewrites the forwarded copy of an edited message. An edit for
// a message the relay never forwarded (or whose mapping expired) is skipped.
func (w *Worker) handleUpdate(ctx context.Context, client SlackAPI, job queue.ForwardJob) error {
	start := time.Now()

	targetTS, ok := w.maps.GetString(ctx, state.MsgMapKey(job.SourceChannelID, job.TS))
	if !ok {
		slog.Warn("edit has no forwarded mapping, skipping",
			"channel", job.SourceChannelName, "ts", job.TS)
		metrics.JobsProcessed.WithLabelValues("update", "skipped").Inc()
		return nil
	}

	text := renderForward(job.SourceChannelName, job.Text, job.User, job.TS)
	if err := client.UpdateMessage(ctx, job.TargetChannelID, targetTS, text); err != nil {
		return err
	}

	slog.Info("edit propagated",
		"channel", job.SourceChannelName, "target_ts", targetTS, "bot", job.BotID)
	metrics.JobsProcessed.WithLabelValues("update", "ok").Inc()
	w.record(ctx, job, "update", job.TS, targetTS, start)
	return nil
}

// ensureParentPosted returns the master-channel ts a reply should thread
// under. When the parent was never forwarded (it predates the relay, or was
// filtered), it is fetched from the source channel and posted first so the
// thread reads top-down in the master channel.
func (w *Worker) ensureParentPosted(ctx context.Context, client SlackAPI, job queue.ForwardJob) string {
	key := state.ParentMapKey(job.SourceChannelID, job.ThreadTS)
	if ts, ok := w.maps.GetString(ctx, key); ok {
		return ts
	}

	msgs, err := client.ConversationHistory(ctx, slack.HistoryParams{
		Channel:   job.SourceChannelID,
		Latest:    job.ThreadTS,
		Limit:     1,
		Inclusive: true,
	})
	if err != nil {
		slog.Error("parent lookup failed",
			"channel", job.SourceChannelName, "thread_ts", job.ThreadTS, "error", err)
		return ""
	}
	if len(msgs) == 0 {
		slog.Warn("thread parent not found in source",
			"channel", job.SourceChannelName, "thread_ts", job.ThreadTS)
		return ""
	}

	start := time.Now()
	parent := msgs[0]
	text := renderForward(job.SourceChannelName, parent.Text, authorOf(parent.User, parent.BotID), parent.TS)
	parentTS, err := client.PostMessage(ctx, slack.PostMessageParams{
		Channel: job.TargetChannelID,
		Text:    text,
	})
	if err != nil {
		slog.Error("thread parent post failed",
			"channel", job.SourceChannelName, "thread_ts", job.ThreadTS, "error", err)
		return ""
	}

	if err := w.maps.SetString(ctx, state.ParentMapKey(job.SourceChannelID, parent.TS), parentTS, state.MapTTL); err != nil {
		slog.Warn("parent map write failed", "thread_ts", parent.TS, "error", err)
	}
	slog.Info("thread parent synthesized",
		"channel", job.SourceChannelName, "thread_ts", parent.TS, "target_ts", parentTS)
	w.record(ctx, job, "parent", parent.TS, parentTS, start)
	return parentTS
}

// clientFor picks the client for the bot that enqueued the job, falling back
// to the lowest-numbered identity. Any bot token can post to the master
// channels; attribution is best effort.
func (w *Worker) clientFor(botID int) SlackAPI {
	if c, ok := w.clients[botID]; ok {
		return c
	}
	return w.clients[w.indexes[0]]
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.jobs.Ack(ctx, id); err != nil {
		slog.Warn("ack failed", "entry", id, "error", err)
	}
}

// record appends to the forward ledger. Failures are logged and swallowed.
func (w *Worker) record(ctx context.Context, job queue.ForwardJob, kind, sourceTS, targetTS string, start time.Time) {
	if w.ledger == nil {
		return
	}
	err := w.ledger.Record(ctx, archive.Entry{
		Kind:              kind,
		Category:          string(job.Category),
		SourceChannelID:   job.SourceChannelID,
		SourceChannelName: job.SourceChannelName,
		SourceTS:          sourceTS,
		TargetChannelID:   job.TargetChannelID,
		TargetTS:          targetTS,
		BotID:             job.BotID,
		Consumer:          w.consumer,
		LatencyMS:         time.Since(start).Milliseconds(),
		RecordedAt:        time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("ledger write failed", "kind", kind, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
