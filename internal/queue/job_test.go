package queue

import (
	"testing"

	"github.com/ccdocs/relay/internal/categ"
)

func TestFieldsPostJob(t *testing.T) {
	job := ForwardJob{
		Type:              KindPost,
		Category:          categ.CategoryManagedAdmin,
		SourceChannelID:   "C111",
		SourceChannelName: "acme-admin",
		TargetChannelID:   "C999",
		User:              "U1",
		TS:                "1700000000.000100",
		ThreadTS:          "1699999999.000100",
		IsThreadReply:     true,
		Text:              "hello",
		BotID:             2,
	}

	f := job.Fields()
	want := map[string]string{
		"type":                "post",
		"category":            "managed_admin",
		"source_channel_id":   "C111",
		"source_channel_name": "acme-admin",
		"target_channel_id":   "C999",
		"user":                "U1",
		"ts":                  "1700000000.000100",
		"thread_ts":           "1699999999.000100",
		"is_thread_reply":     "1",
		"text":                "hello",
		"attachments":         "[]",
		"files":               "[]",
		"bot_id":              "2",
	}
	if len(f) != len(want) {
		t.Fatalf("got %d fields, want %d: %v", len(f), len(want), f)
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("field %s = %v, want %q", k, f[k], v)
		}
	}
}

func TestFieldsUpdateJobOmitsThreadContext(t *testing.T) {
	job := ForwardJob{
		Type:            KindUpdate,
		Category:        categ.CategoryAgent,
		SourceChannelID: "C111",
		TargetChannelID: "C999",
		TS:              "1700000000.000100",
		Text:            "edited",
		BotID:           1,
	}

	f := job.Fields()
	for _, k := range []string{"is_thread_reply", "thread_ts", "attachments", "files"} {
		if _, ok := f[k]; ok {
			t.Errorf("update job carries %s, should not", k)
		}
	}
}

func TestFieldsOmitsEmptyThreadTS(t *testing.T) {
	job := ForwardJob{Type: KindPost, SourceChannelID: "C1", TargetChannelID: "C2"}
	f := job.Fields()
	if _, ok := f["thread_ts"]; ok {
		t.Error("empty thread_ts should be omitted")
	}
	if f["is_thread_reply"] != "0" {
		t.Errorf("is_thread_reply = %v, want 0", f["is_thread_reply"])
	}
}

func TestParseFieldsRoundTrip(t *testing.T) {
	in := ForwardJob{
		Type:              KindPost,
		Category:          categ.CategoryApptbk,
		SourceChannelID:   "C111",
		SourceChannelName: "acme-apptbk",
		TargetChannelID:   "C999",
		User:              "B042",
		TS:                "1700000000.000100",
		ThreadTS:          "1699999999.000100",
		IsThreadReply:     true,
		Text:              "booked",
		Attachments:       `[{"fallback":"x"}]`,
		Files:             `[{"name":"a.png"}]`,
		BotID:             3,
	}

	fields := make(map[string]string, 16)
	for k, v := range in.Fields() {
		fields[k] = v.(string)
	}
	out, err := ParseFields(fields)
	if err != nil {
		t.Fatalf("ParseFields: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestParseFieldsRejectsUnknownType(t *testing.T) {
	_, err := ParseFields(map[string]string{
		"type":              "delete",
		"source_channel_id": "C1",
		"target_channel_id": "C2",
	})
	if err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestParseFieldsRejectsMissingChannels(t *testing.T) {
	for name, f := range map[string]map[string]string{
		"no source": {"type": "post", "target_channel_id": "C2"},
		"no target": {"type": "post", "source_channel_id": "C1"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFields(f); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseFieldsBotIDFallback(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"missing", "", 1},
		{"garbage", "two", 1},
		{"zero", "0", 1},
		{"negative", "-3", 1},
		{"valid", "4", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := ParseFields(map[string]string{
				"type":              "post",
				"source_channel_id": "C1",
				"target_channel_id": "C2",
				"bot_id":            tt.in,
			})
			if err != nil {
				t.Fatalf("ParseFields: %v", err)
			}
			if job.BotID != tt.want {
				t.Errorf("BotID = %d, want %d", job.BotID, tt.want)
			}
		})
	}
}
