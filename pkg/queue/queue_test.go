package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeList struct {
	lists  map[string][]string
	popErr error
}

func newFakeList() *fakeList {
	return &fakeList{lists: make(map[string][]string)}
}

func (f *fakeList) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		switch b := v.(type) {
		case []byte:
			f.lists[key] = append(f.lists[key], string(b))
		case string:
			f.lists[key] = append(f.lists[key], b)
		}
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeList) BLPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	if f.popErr != nil {
		return redis.NewStringSliceResult(nil, f.popErr)
	}
	for _, k := range keys {
		if items := f.lists[k]; len(items) > 0 {
			f.lists[k] = items[1:]
			return redis.NewStringSliceResult([]string{k, items[0]}, nil)
		}
	}
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func TestEnqueueDequeuePollArchive(t *testing.T) {
	ctx := context.Background()
	list := newFakeList()
	q := NewQueue(list, nil)
	pollID := uuid.New()

	if err := q.EnqueuePollArchive(ctx, pollID, "complete"); err != nil {
		t.Fatalf("EnqueuePollArchive: %v", err)
	}
	job, key, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil || key != QueuePollArchive {
		t.Fatalf("Dequeue = %v, %q", job, key)
	}
	if job.Type != JobTypePollArchive || job.Attempt != 0 {
		t.Errorf("job = %+v", job)
	}
	var payload PollArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.PollID != pollID || payload.Reason != "complete" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDequeueEmptyAndInvalid(t *testing.T) {
	ctx := context.Background()
	list := newFakeList()
	q := NewQueue(list, nil)

	job, _, err := q.Dequeue(ctx)
	if job != nil || err != nil {
		t.Errorf("empty Dequeue = %v, %v; want nil, nil", job, err)
	}

	list.lists[QueuePollArchive] = []string{"{not json"}
	job, _, err = q.Dequeue(ctx)
	if job != nil || err != nil {
		t.Errorf("invalid Dequeue = %v, %v; want nil, nil", job, err)
	}

	list.popErr = errors.New("connection refused")
	if _, _, err := q.Dequeue(ctx); err == nil {
		t.Error("Dequeue swallowed a transport error")
	}
}

func TestRetryMovesToDLQ(t *testing.T) {
	ctx := context.Background()
	list := newFakeList()
	q := NewQueue(list, nil)
	job := &Job{ID: "j1", Type: JobTypePollArchive}

	for i := 1; i < MaxRetries; i++ {
		if err := q.Retry(ctx, job); err != nil {
			t.Fatalf("Retry: %v", err)
		}
		if len(list.lists[QueuePollArchive]) != i {
			t.Fatalf("after %d retries queue has %d jobs", i, len(list.lists[QueuePollArchive]))
		}
	}
	if err := q.Retry(ctx, job); err != nil {
		t.Fatalf("final Retry: %v", err)
	}
	if job.Attempt != MaxRetries {
		t.Errorf("attempt = %d, want %d", job.Attempt, MaxRetries)
	}
	if len(list.lists[QueueDLQ]) != 1 {
		t.Errorf("dlq = %d jobs, want 1", len(list.lists[QueueDLQ]))
	}
}
