package listener

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ccdocs/relay/internal/categ"
	"github.com/ccdocs/relay/internal/config"
	"github.com/ccdocs/relay/internal/queue"
	"github.com/ccdocs/relay/internal/slack"
)

type fakeClaims struct {
	mu    sync.Mutex
	keys  map[string]string
	calls int
}

func newFakeClaims() *fakeClaims {
	return &fakeClaims{keys: make(map[string]string)}
}

func (f *fakeClaims) Claim(ctx context.Context, key, value string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := f.keys[key]; ok {
		return false
	}
	f.keys[key] = value
	return true
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.ForwardJob
}

func (f *fakeQueue) Enqueue(ctx context.Context, job queue.ForwardJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return fmt.Sprintf("%d-0", len(f.jobs)), nil
}

func (f *fakeQueue) all() []queue.ForwardJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.ForwardJob(nil), f.jobs...)
}

type fakeAPI struct {
	mu    sync.Mutex
	names map[string]string
	calls int
}

func (f *fakeAPI) ConversationInfo(ctx context.Context, channelID string) (*slack.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	name, ok := f.names[channelID]
	if !ok {
		return nil, &slack.APIError{Method: "conversations.info", Code: "channel_not_found"}
	}
	return &slack.Channel{ID: channelID, Name: name}, nil
}

var testTargets = categ.Targets{
	Agent:        "CAGENT",
	Apptbk:       "CAPPTBK",
	ManagedAdmin: "CMANAGED",
	StormAdmin:   "CSTORM",
}

func testCache() *categ.Cache {
	c := categ.NewCache("")
	c.Replace(categ.Lists{
		Managed: []string{"acme-admin"},
		Storm:   []string{"gale-admins"},
		Ignored: []string{"quiet-admin"},
	})
	return c
}

func newTestListener(botIndex int, api ChannelAPI, claims ClaimStore, jobs JobQueue) *Listener {
	return New(Deps{
		Bot:        config.BotIdentity{Index: botIndex, Name: fmt.Sprintf("Bot-%d", botIndex)},
		API:        api,
		Claims:     claims,
		Jobs:       jobs,
		Categories: testCache(),
		Targets:    testTargets,
	})
}

func TestFanOutEnqueuesExactlyOnce(t *testing.T) {
	const bots = 5
	const messages = 40

	claims := newFakeClaims()
	jobs := &fakeQueue{}
	api := &fakeAPI{names: map[string]string{"C1": "acme-admin"}}

	listeners := make([]*Listener, bots)
	for i := range listeners {
		listeners[i] = newTestListener(i+1, api, claims, jobs)
	}

	// Every bot sees every message. Each bot's event loop is serial; the
	// race is between bots.
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			for m := 0; m < messages; m++ {
				l.handleEvent(context.Background(), slack.MessageEvent{
					Type:        "message",
					Channel:     "C1",
					User:        "U1",
					Text:        fmt.Sprintf("message %d", m),
					TS:          fmt.Sprintf("1700000%03d.000100", m),
					ClientMsgID: fmt.Sprintf("msg-%d", m),
				})
			}
		}(l)
	}
	wg.Wait()

	got := jobs.all()
	if len(got) != messages {
		t.Fatalf("enqueued %d jobs for %d messages across %d bots", len(got), messages, bots)
	}
	seen := make(map[string]bool)
	for _, j := range got {
		if seen[j.TS] {
			t.Errorf("message ts %s enqueued more than once", j.TS)
		}
		seen[j.TS] = true
	}
}

func TestIgnoredChannelSkipsClaim(t *testing.T) {
	claims := newFakeClaims()
	jobs := &fakeQueue{}
	api := &fakeAPI{names: map[string]string{"C2": "quiet-admin"}}
	l := newTestListener(1, api, claims, jobs)

	l.handleEvent(context.Background(), slack.MessageEvent{
		Type: "message", Channel: "C2", User: "U1", Text: "hi", TS: "1.0",
	})

	if claims.calls != 0 {
		t.Errorf("claim attempted for ignored channel (%d calls)", claims.calls)
	}
	if len(jobs.all()) != 0 {
		t.Error("ignored channel message was enqueued")
	}
}

func TestUncategorizedAdminChannelDropped(t *testing.T) {
	claims := newFakeClaims()
	jobs := &fakeQueue{}
	api := &fakeAPI{names: map[string]string{"C3": "newco-admin"}}
	l := newTestListener(1, api, claims, jobs)

	l.handleEvent(context.Background(), slack.MessageEvent{
		Type: "message", Channel: "C3", User: "U1", Text: "hi", TS: "1.0",
	})

	if len(jobs.all()) != 0 {
		t.Error("admin channel without categorization was enqueued")
	}
}

func TestBotMessagesOnlyForwardFromApptbk(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		chName  string
		want    int
	}{
		{"apptbk keeps bot messages", "C4", "acme-apptbk", 1},
		{"agent drops bot messages", "C5", "acme-agent", 0},
		{"managed drops bot messages", "C6", "acme-admin", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := newFakeClaims()
			jobs := &fakeQueue{}
			api := &fakeAPI{names: map[string]string{tt.channel: tt.chName}}
			l := newTestListener(1, api, claims, jobs)

			l.handleEvent(context.Background(), slack.MessageEvent{
				Type: "message", Channel: tt.channel, BotID: "B9", Text: "beep", TS: "2.0",
			})

			if got := len(jobs.all()); got != tt.want {
				t.Errorf("enqueued %d jobs, want %d", got, tt.want)
			}
		})
	}
}

func TestCategoryRoutesToItsMaster(t *testing.T) {
	tests := []struct {
		chName string
		cat    categ.Category
		target string
	}{
		{"acme-agent", categ.CategoryAgent, "CAGENT"},
		{"acme-apptbk", categ.CategoryApptbk, "CAPPTBK"},
		{"acme-admin", categ.CategoryManagedAdmin, "CMANAGED"},
		{"gale-admins", categ.CategoryStormAdmin, "CSTORM"},
	}
	for _, tt := range tests {
		t.Run(tt.chName, func(t *testing.T) {
			claims := newFakeClaims()
			jobs := &fakeQueue{}
			api := &fakeAPI{names: map[string]string{"CX": tt.chName}}
			l := newTestListener(2, api, claims, jobs)

			l.handleEvent(context.Background(), slack.MessageEvent{
				Type: "message", Channel: "CX", User: "U7", Text: "hello", TS: "3.0",
			})

			got := jobs.all()
			if len(got) != 1 {
				t.Fatalf("enqueued %d jobs, want 1", len(got))
			}
			j := got[0]
			if j.Category != tt.cat {
				t.Errorf("category = %s, want %s", j.Category, tt.cat)
			}
			if j.TargetChannelID != tt.target {
				t.Errorf("target = %s, want %s", j.TargetChannelID, tt.target)
			}
			if j.BotID != 2 {
				t.Errorf("bot id = %d, want 2", j.BotID)
			}
		})
	}
}

func TestThreadReplyFlag(t *testing.T) {
	tests := []struct {
		name     string
		ts       string
		threadTS string
		want     bool
	}{
		{"plain message", "5.0", "", false},
		{"thread parent", "5.0", "5.0", false},
		{"thread reply", "6.0", "5.0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := newFakeClaims()
			jobs := &fakeQueue{}
			api := &fakeAPI{names: map[string]string{"C1": "acme-agent"}}
			l := newTestListener(1, api, claims, jobs)

			l.handleEvent(context.Background(), slack.MessageEvent{
				Type: "message", Channel: "C1", User: "U1", Text: "x",
				TS: tt.ts, ThreadTS: tt.threadTS,
			})

			got := jobs.all()
			if len(got) != 1 {
				t.Fatalf("enqueued %d jobs, want 1", len(got))
			}
			if got[0].IsThreadReply != tt.want {
				t.Errorf("IsThreadReply = %v, want %v", got[0].IsThreadReply, tt.want)
			}
		})
	}
}

func TestEditEnqueuesUpdateJob(t *testing.T) {
	claims := newFakeClaims()
	jobs := &fakeQueue{}
	api := &fakeAPI{names: map[string]string{"C1": "acme-admin"}}
	l := newTestListener(1, api, claims, jobs)

	l.handleEvent(context.Background(), slack.MessageEvent{
		Type:    "message",
		Subtype: "message_changed",
		Channel: "C1",
		TS:      "9.1",
		Message: &slack.EditedMessage{
			User: "U1", Text: "fixed typo", TS: "9.0", ClientMsgID: "edit-1",
		},
	})

	got := jobs.all()
	if len(got) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(got))
	}
	j := got[0]
	if j.Type != queue.KindUpdate {
		t.Errorf("type = %s, want update", j.Type)
	}
	if j.TS != "9.0" {
		t.Errorf("ts = %s, want the edited message ts 9.0", j.TS)
	}
	if j.Text != "fixed typo" {
		t.Errorf("text = %q", j.Text)
	}

	// The claim must be in the edit namespace, separate from new messages.
	claims.mu.Lock()
	defer claims.mu.Unlock()
	for key := range claims.keys {
		if !strings.HasPrefix(key, "fcfs:edit:") {
			t.Errorf("edit claimed under %q, want fcfs:edit: prefix", key)
		}
	}
}

func TestEditAndPostClaimsDoNotCollide(t *testing.T) {
	claims := newFakeClaims()
	jobs := &fakeQueue{}
	api := &fakeAPI{names: map[string]string{"C1": "acme-admin"}}
	l := newTestListener(1, api, claims, jobs)

	post := slack.MessageEvent{
		Type: "message", Channel: "C1", User: "U1", Text: "original",
		TS: "10.0", ClientMsgID: "cm-1",
	}
	edit := slack.MessageEvent{
		Type: "message", Subtype: "message_changed", Channel: "C1", TS: "10.5",
		Message: &slack.EditedMessage{User: "U1", Text: "edited", TS: "10.0", ClientMsgID: "cm-1"},
	}
	l.handleEvent(context.Background(), post)
	l.handleEvent(context.Background(), edit)

	if got := len(jobs.all()); got != 2 {
		t.Fatalf("enqueued %d jobs, want post and update", got)
	}
}

func TestChannelNameCached(t *testing.T) {
	claims := newFakeClaims()
	jobs := &fakeQueue{}
	api := &fakeAPI{names: map[string]string{"C1": "acme-agent"}}
	l := newTestListener(1, api, claims, jobs)

	for i := 0; i < 3; i++ {
		l.handleEvent(context.Background(), slack.MessageEvent{
			Type: "message", Channel: "C1", User: "U1",
			Text: fmt.Sprintf("n%d", i), TS: fmt.Sprintf("11.%d", i),
		})
	}

	if api.calls != 1 {
		t.Errorf("conversations.info called %d times, want 1", api.calls)
	}
}

func TestChannelLookupFailureDropsEvent(t *testing.T) {
	claims := newFakeClaims()
	jobs := &fakeQueue{}
	api := &fakeAPI{names: map[string]string{}}
	l := newTestListener(1, api, claims, jobs)

	l.handleEvent(context.Background(), slack.MessageEvent{
		Type: "message", Channel: "CGONE", User: "U1", Text: "x", TS: "12.0",
	})

	if len(jobs.all()) != 0 {
		t.Error("event with failed channel lookup was enqueued")
	}
}

func TestMessageIdentifier(t *testing.T) {
	t.Run("client_msg_id wins", func(t *testing.T) {
		if got := messageIdentifier("C1", "abc-123", "U1", "text"); got != "abc-123" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("hash ignores timestamps", func(t *testing.T) {
		a := messageIdentifier("C1", "", "U1", "same text")
		b := messageIdentifier("C1", "", "U1", "same text")
		if a != b {
			t.Errorf("identifiers differ for identical content: %q vs %q", a, b)
		}
		if len(a) != 16 {
			t.Errorf("identifier length = %d, want 16", len(a))
		}
	})

	t.Run("hash distinguishes channels and authors", func(t *testing.T) {
		base := messageIdentifier("C1", "", "U1", "same text")
		if messageIdentifier("C2", "", "U1", "same text") == base {
			t.Error("different channel produced the same identifier")
		}
		if messageIdentifier("C1", "", "U2", "same text") == base {
			t.Error("different author produced the same identifier")
		}
	})

	t.Run("truncation is rune safe", func(t *testing.T) {
		long := strings.Repeat("é", 60)
		a := messageIdentifier("C1", "", "U1", long)
		b := messageIdentifier("C1", "", "U1", strings.Repeat("é", 50))
		if a != b {
			t.Error("prefix beyond 50 runes changed the identifier")
		}
		if c := messageIdentifier("C1", "", "U1", strings.Repeat("é", 49)); c == a {
			t.Error("49-rune text should hash differently from 50")
		}
	})
}

func TestUserOrBot(t *testing.T) {
	tests := []struct {
		user, bot, want string
	}{
		{"U1", "", "U1"},
		{"U1", "B1", "U1"},
		{"", "B1", "B1"},
		{"", "", "unknown"},
	}
	for _, tt := range tests {
		if got := userOrBot(tt.user, tt.bot); got != tt.want {
			t.Errorf("userOrBot(%q, %q) = %q, want %q", tt.user, tt.bot, got, tt.want)
		}
	}
}
