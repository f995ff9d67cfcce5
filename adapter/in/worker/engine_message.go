package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

// JobType represents the type of a job.
type JobType string

const (
	JobInboundMessage JobType = "conv.inbound"
)

// Job wraps one inbound event for the worker pool. The submitter blocks on
// Wait so the stream consumer only acknowledges after processing finished.
type Job struct {
	ID        string
	Type      JobType
	Message   *domain.InboundMessage
	CreatedAt time.Time

	done chan error
}

func NewJob(msg *domain.InboundMessage) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Type:      JobInboundMessage,
		Message:   msg,
		CreatedAt: time.Now(),
		done:      make(chan error, 1),
	}
}

// ChunkKey routes all events of one conversation to the same worker, which
// serializes processing per conversation without any locking.
func (j *Job) ChunkKey() string {
	return j.Message.ConversationID
}

func (j *Job) finish(err error) {
	select {
	case j.done <- err:
	default:
	}
}

// Wait blocks until the job finished or the context ended.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
