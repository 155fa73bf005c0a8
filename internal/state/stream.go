package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Entry is one stream record with its fields flattened to strings.
type Entry struct {
	ID     string
	Fields map[string]string
}

// StreamAppend appends fields to a stream, trimming it to roughly maxLen.
func (s *Store) StreamAppend(ctx context.Context, stream string, fields map[string]interface{}, maxLen int64) (string, error) {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Result()
}

// EnsureGroup creates the consumer group from "$" (new entries only), also
// creating the stream when absent. An already existing group is fine.
func (s *Store) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

// StreamRead reads up to count new entries for a consumer, blocking up to
// block. A block timeout returns no entries and no error.
func (s *Store) StreamRead(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, st := range res {
		for _, msg := range st.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: stringFields(msg.Values)})
		}
	}
	return entries, nil
}

// StreamAck acknowledges delivered entries.
func (s *Store) StreamAck(ctx context.Context, stream, group string, ids ...string) error {
	return s.rdb.XAck(ctx, stream, group, ids...).Err()
}

// StreamLen returns the stream length.
func (s *Store) StreamLen(ctx context.Context, stream string) (int64, error) {
	return s.rdb.XLen(ctx, stream).Result()
}

// StreamPending returns how many delivered entries await acknowledgement.
func (s *Store) StreamPending(ctx context.Context, stream, group string) (int64, error) {
	p, err := s.rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}

func stringFields(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
