package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/classroom/internal/history"
	"github.com/livepoll/classroom/internal/store"
	"github.com/livepoll/classroom/pkg/queue"
)

// JobSource yields archive jobs and takes back the ones that failed.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Summarizer projects a stored poll.
type Summarizer interface {
	Summary(ctx context.Context, id uuid.UUID) (history.PollSummary, error)
}

// Uploader stores an encoded archive document and returns its object key.
type Uploader interface {
	UploadPollArchive(ctx context.Context, pollID uuid.UUID, body []byte) (string, error)
}

// ArchiveDocument is what gets written for a closed poll.
type ArchiveDocument struct {
	Poll       history.PollSummary `json:"poll"`
	Reason     string              `json:"reason"`
	ArchivedAt time.Time           `json:"archivedAt"`
}

// PollArchiver processes poll archive jobs: project the poll, encode it, upload it to S3.
type PollArchiver struct {
	polls    Summarizer
	uploader Uploader
	queue    JobSource
	logger   *zap.Logger
	backoff  time.Duration
	now      func() time.Time
}

// NewPollArchiver creates a poll archive processor.
func NewPollArchiver(polls Summarizer, uploader Uploader, q JobSource, logger *zap.Logger) *PollArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollArchiver{
		polls:    polls,
		uploader: uploader,
		queue:    q,
		logger:   logger,
		backoff:  queue.RetryBackoff,
		now:      time.Now,
	}
}

// Process executes one poll archive job. A poll that no longer exists is dropped without retry.
func (p *PollArchiver) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePollArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.PollArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	sum, err := p.polls.Summary(ctx, payload.PollID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("archived poll not found", zap.String("poll_id", payload.PollID.String()))
			return nil
		}
		return fmt.Errorf("summarize poll: %w", err)
	}

	body, err := json.Marshal(ArchiveDocument{Poll: sum, Reason: payload.Reason, ArchivedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	key, err := p.uploader.UploadPollArchive(ctx, payload.PollID, body)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("poll archived",
		zap.String("poll_id", payload.PollID.String()),
		zap.String("s3_key", key),
		zap.Int("total_votes", sum.TotalVotes))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PollArchiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poll archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *PollArchiver) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
