// Package listener turns one bot's Socket Mode event feed into forwarding
// jobs. Every bot in the workspace sees every message; the first-come claim
// in the state store decides which listener's job survives.
package listener

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccdocs/relay/internal/categ"
	"github.com/ccdocs/relay/internal/config"
	"github.com/ccdocs/relay/internal/metrics"
	"github.com/ccdocs/relay/internal/queue"
	"github.com/ccdocs/relay/internal/slack"
	"github.com/ccdocs/relay/internal/state"
)

// ChannelAPI is the Web API surface the listener needs.
type ChannelAPI interface {
	ConversationInfo(ctx context.Context, channelID string) (*slack.Channel, error)
}

// EventStream delivers message events, closing the channel when Run returns.
type EventStream interface {
	Run(ctx context.Context) error
	Events() <-chan slack.MessageEvent
}

// ClaimStore is the first-come claim surface of the state store.
type ClaimStore interface {
	Claim(ctx context.Context, key, value string, ttl time.Duration) bool
}

// JobQueue appends forwarding jobs for the workers.
type JobQueue interface {
	Enqueue(ctx context.Context, job queue.ForwardJob) (string, error)
}

// Deps are the collaborators a Listener needs.
type Deps struct {
	Bot        config.BotIdentity
	API        ChannelAPI
	Events     EventStream
	Claims     ClaimStore
	Jobs       JobQueue
	Categories *categ.Cache
	Targets    categ.Targets
}

// Listener ingests events for one bot identity.
type Listener struct {
	bot    config.BotIdentity
	api    ChannelAPI
	events EventStream
	claims ClaimStore
	jobs   JobQueue
	categs *categ.Cache
	tgts   categ.Targets

	// names caches channel id -> name for the life of the process. Channel
	// renames are rare enough that a restart is an acceptable refresh.
	names map[string]string
}

// New assembles a listener.
func New(d Deps) *Listener {
	return &Listener{
		bot:    d.Bot,
		api:    d.API,
		events: d.Events,
		claims: d.Claims,
		jobs:   d.Jobs,
		categs: d.Categories,
		tgts:   d.Targets,
		names:  make(map[string]string),
	}
}

// Run validates the master channels, then consumes events until ctx is
// cancelled or the event stream fails.
func (l *Listener) Run(ctx context.Context) error {
	l.validateMasters(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- l.events.Run(ctx) }()

	for ev := range l.events.Events() {
		l.handleEvent(ctx, ev)
	}
	return <-errCh
}

// validateMasters resolves each configured master channel concurrently. A
// failure is logged but does not stop the listener: messages for the other
// categories still flow, so one bad channel must not cancel the checks on
// the rest.
func (l *Listener) validateMasters(ctx context.Context) {
	var g errgroup.Group
	for _, cat := range []categ.Category{
		categ.CategoryAgent,
		categ.CategoryApptbk,
		categ.CategoryManagedAdmin,
		categ.CategoryStormAdmin,
	} {
		cat := cat // per-iteration copy; the go directive predates Go 1.22 loop scoping
		id, ok := l.tgts.For(cat)
		if !ok {
			slog.Warn("master channel not configured", "category", cat)
			continue
		}
		g.Go(func() error {
			ch, err := l.api.ConversationInfo(ctx, id)
			if err != nil {
				slog.Warn("master channel validation failed", "category", cat, "channel", id, "error", err)
				return err
			}
			slog.Info("master channel validated", "category", cat, "name", ch.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("master channel validation incomplete", "error", err)
	}
}

func (l *Listener) handleEvent(ctx context.Context, ev slack.MessageEvent) {
	metrics.EventsSeen.Inc()
	switch ev.Subtype {
	case "message_changed":
		l.handleEdit(ctx, ev)
	case "message_deleted":
		// Deletions have no forwarding counterpart.
		metrics.EventsDropped.WithLabelValues("deleted").Inc()
	default:
		l.handleMessage(ctx, ev)
	}
}

// handleMessage runs the new-message pipeline: resolve the channel name,
// classify, filter, claim, enqueue.
func (l *Listener) handleMessage(ctx context.Context, ev slack.MessageEvent) {
	name, err := l.channelName(ctx, ev.Channel)
	if err != nil {
		slog.Warn("channel lookup failed", "channel", ev.Channel, "error", err)
		metrics.EventsDropped.WithLabelValues("lookup").Inc()
		return
	}

	cat := l.categs.Classify(name)
	if !cat.Forwardable() {
		slog.Debug("event not forwardable", "channel", name, "category", cat)
		metrics.EventsDropped.WithLabelValues(string(cat)).Inc()
		return
	}
	// Bot chatter is noise everywhere except the booking channels, where the
	// booking bot is the author that matters.
	if ev.BotID != "" && cat != categ.CategoryApptbk {
		slog.Debug("dropping bot message", "channel", name, "bot", ev.BotID)
		metrics.EventsDropped.WithLabelValues("bot").Inc()
		return
	}

	author := userOrBot(ev.User, ev.BotID)
	id := messageIdentifier(ev.Channel, ev.ClientMsgID, author, ev.Text)
	if !l.claims.Claim(ctx, state.ClaimMsgKey(ev.Channel, id), id, state.ClaimTTL) {
		slog.Debug("claim lost", "channel", name, "id", id)
		metrics.ClaimsLost.Inc()
		return
	}

	target, ok := l.tgts.For(cat)
	if !ok {
		slog.Error("no master channel for category", "category", cat, "channel", name)
		metrics.EventsDropped.WithLabelValues("no_target").Inc()
		return
	}

	job := queue.ForwardJob{
		Type:              queue.KindPost,
		Category:          cat,
		SourceChannelID:   ev.Channel,
		SourceChannelName: name,
		TargetChannelID:   target,
		User:              author,
		TS:                ev.TS,
		ThreadTS:          ev.ThreadTS,
		IsThreadReply:     ev.ThreadTS != "" && ev.ThreadTS != ev.TS,
		Text:              ev.Text,
		Attachments:       string(ev.Attachments),
		Files:             encodeFiles(ev.Files),
		BotID:             l.bot.Index,
	}
	l.enqueue(ctx, job, name, id)
}

// handleEdit runs the same pipeline for message_changed events, keyed on the
// edited message's own identity so each edit is claimed once.
func (l *Listener) handleEdit(ctx context.Context, ev slack.MessageEvent) {
	msg := ev.Message
	if msg == nil || msg.TS == "" {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	name, err := l.channelName(ctx, ev.Channel)
	if err != nil {
		slog.Warn("channel lookup failed", "channel", ev.Channel, "error", err)
		metrics.EventsDropped.WithLabelValues("lookup").Inc()
		return
	}

	cat := l.categs.Classify(name)
	if !cat.Forwardable() {
		metrics.EventsDropped.WithLabelValues(string(cat)).Inc()
		return
	}
	if msg.BotID != "" && cat != categ.CategoryApptbk {
		metrics.EventsDropped.WithLabelValues("bot").Inc()
		return
	}

	author := userOrBot(msg.User, msg.BotID)
	id := messageIdentifier(ev.Channel, msg.ClientMsgID, author, msg.Text)
	if !l.claims.Claim(ctx, state.ClaimEditKey(ev.Channel, id), id, state.ClaimTTL) {
		slog.Debug("edit claim lost", "channel", name, "id", id)
		metrics.ClaimsLost.Inc()
		return
	}

	target, ok := l.tgts.For(cat)
	if !ok {
		slog.Error("no master channel for category", "category", cat, "channel", name)
		metrics.EventsDropped.WithLabelValues("no_target").Inc()
		return
	}

	job := queue.ForwardJob{
		Type:              queue.KindUpdate,
		Category:          cat,
		SourceChannelID:   ev.Channel,
		SourceChannelName: name,
		TargetChannelID:   target,
		User:              author,
		TS:                msg.TS,
		Text:              msg.Text,
		BotID:             l.bot.Index,
	}
	l.enqueue(ctx, job, name, id)
}

func (l *Listener) enqueue(ctx context.Context, job queue.ForwardJob, name, id string) {
	streamID, err := l.jobs.Enqueue(ctx, job)
	if err != nil {
		slog.Error("enqueue failed", "kind", job.Type, "channel", name, "error", err)
		metrics.EventsDropped.WithLabelValues("enqueue").Inc()
		return
	}
	slog.Info("job enqueued",
		"kind", job.Type, "stream_id", streamID, "category", job.Category,
		"channel", name, "id", id, "bot", l.bot.Index)
	metrics.JobsEnqueued.WithLabelValues(string(job.Type)).Inc()
}

// channelName resolves a channel id through the per-process cache.
func (l *Listener) channelName(ctx context.Context, channelID string) (string, error) {
	if name, ok := l.names[channelID]; ok {
		return name, nil
	}
	ch, err := l.api.ConversationInfo(ctx, channelID)
	if err != nil {
		return "", err
	}
	l.names[channelID] = ch.Name
	return ch.Name, nil
}

func encodeFiles(files []slack.File) string {
	if len(files) == 0 {
		return ""
	}
	data, err := json.Marshal(files)
	if err != nil {
		return ""
	}
	return string(data)
}
