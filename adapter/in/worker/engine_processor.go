package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

// StreamProcessor bridges the Redis Stream consumer and the worker pool.
// Handle blocks until the job completes, so the consumer's acknowledgement
// tracks actual processing: a failed job stays pending on the stream.
type StreamProcessor struct {
	pool *Pool
	log  zerolog.Logger
}

func NewStreamProcessor(pool *Pool, log zerolog.Logger) *StreamProcessor {
	return &StreamProcessor{
		pool: pool,
		log:  log.With().Str("component", "stream_processor").Logger(),
	}
}

// Handle parses one inbound event and runs it through the pool.
func (p *StreamProcessor) Handle(ctx context.Context, stream string, data []byte) error {
	var msg domain.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		// Malformed payloads are unrecoverable; dropping beats blocking the
		// stream until the DLQ sweep.
		p.log.Error().
			Err(err).
			Str("stream", stream).
			Msg("dropping malformed event")
		return nil
	}

	if msg.EventID == "" || msg.ConversationID == "" {
		p.log.Error().
			Str("stream", stream).
			Str("event_id", msg.EventID).
			Msg("dropping event without id fields")
		return nil
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	job := NewJob(&msg)
	if !p.pool.Submit(job) {
		return fmt.Errorf("worker pool not accepting jobs")
	}
	return job.Wait(ctx)
}
