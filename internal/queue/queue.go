package queue

import (
	"context"
	"time"

	"github.com/ccdocs/relay/internal/state"
)

const (
	// ReadCount bounds how many jobs a worker takes per read.
	ReadCount = 10
	// ReadBlock is how long a read blocks waiting for new jobs.
	ReadBlock = 5 * time.Second
)

// Queue is the forwarding job stream. Listeners append, workers consume
// through the shared consumer group.
type Queue struct {
	store *state.Store
}

// New binds a queue to the shared state store.
func New(store *state.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue appends a job to the stream, returning its entry id.
func (q *Queue) Enqueue(ctx context.Context, job ForwardJob) (string, error) {
	return q.store.StreamAppend(ctx, state.StreamJobs, job.Fields(), state.StreamMaxLen)
}

// EnsureGroup creates the workers consumer group when it does not exist yet.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	return q.store.EnsureGroup(ctx, state.StreamJobs, state.GroupWorkers)
}

// Read blocks up to ReadBlock for new jobs addressed to this consumer.
func (q *Queue) Read(ctx context.Context, consumer string) ([]state.Entry, error) {
	return q.store.StreamRead(ctx, state.StreamJobs, state.GroupWorkers, consumer, ReadCount, ReadBlock)
}

// Ack acknowledges processed entries.
func (q *Queue) Ack(ctx context.Context, ids ...string) error {
	return q.store.StreamAck(ctx, state.StreamJobs, state.GroupWorkers, ids...)
}
