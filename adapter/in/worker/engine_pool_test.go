package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

type recordingEngine struct {
	mu     sync.Mutex
	seen   map[string][]string // conversation id -> event ids in processing order
	delay  time.Duration
	failOn string
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{seen: make(map[string][]string)}
}

func (e *recordingEngine) HandleInbound(_ context.Context, msg *domain.InboundMessage) error {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	e.seen[msg.ConversationID] = append(e.seen[msg.ConversationID], msg.EventID)
	e.mu.Unlock()
	if msg.EventID == e.failOn {
		return errors.New("boom")
	}
	return nil
}

func startPool(t *testing.T, engine InboundProcessor, cfg *PoolConfig) *Pool {
	t.Helper()
	p := NewPool(engine, cfg, zerolog.Nop())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func msgFor(conversationID, eventID string) *domain.InboundMessage {
	return &domain.InboundMessage{
		EventID:        eventID,
		ConversationID: conversationID,
		Sender:         "customer",
		Text:           "hello",
		ReceivedAt:     time.Now(),
	}
}

func TestPoolProcessesJobs(t *testing.T) {
	engine := newRecordingEngine()
	p := startPool(t, engine, nil)

	job := NewJob(msgFor("conv-1", "evt-1"))
	if !p.Submit(job) {
		t.Fatal("submit rejected")
	}
	if err := job.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if m := p.Metrics(); m.JobsProcessed != 1 || m.JobsFailed != 0 {
		t.Errorf("metrics = %+v, want one processed", m)
	}
}

func TestPoolSerializesPerConversation(t *testing.T) {
	engine := newRecordingEngine()
	engine.delay = 2 * time.Millisecond
	p := startPool(t, engine, &PoolConfig{
		Workers:        4,
		WorkerChanSize: 100,
		BatchSize:      1,
		JobTimeout:     5 * time.Second,
	})

	const perConv = 20
	var jobs []*Job
	for i := 0; i < perConv; i++ {
		for _, conv := range []string{"conv-a", "conv-b", "conv-c"} {
			job := NewJob(msgFor(conv, eventID(conv, i)))
			jobs = append(jobs, job)
			if !p.Submit(job) {
				t.Fatal("submit rejected")
			}
		}
	}
	for _, job := range jobs {
		if err := job.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	for conv, events := range engine.seen {
		if len(events) != perConv {
			t.Fatalf("%s processed %d events, want %d", conv, len(events), perConv)
		}
		for i, evt := range events {
			if evt != eventID(conv, i) {
				t.Fatalf("%s out of order at %d: got %s", conv, i, evt)
			}
		}
	}
}

func eventID(conv string, i int) string {
	return conv + "-evt-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestPoolReportsJobFailure(t *testing.T) {
	engine := newRecordingEngine()
	engine.failOn = "evt-bad"
	p := startPool(t, engine, nil)

	job := NewJob(msgFor("conv-1", "evt-bad"))
	if !p.Submit(job) {
		t.Fatal("submit rejected")
	}
	if err := job.Wait(context.Background()); err == nil {
		t.Fatal("expected failure to surface to the submitter")
	}
	if m := p.Metrics(); m.JobsFailed != 1 {
		t.Errorf("metrics = %+v, want one failed", m)
	}
}

func TestPoolRejectsWhenStopped(t *testing.T) {
	engine := newRecordingEngine()
	p := NewPool(engine, nil, zerolog.Nop())

	if p.Submit(NewJob(msgFor("conv-1", "evt-1"))) {
		t.Error("unstarted pool should reject submissions")
	}
}

func TestStreamProcessorDropsMalformed(t *testing.T) {
	engine := newRecordingEngine()
	p := startPool(t, engine, nil)
	proc := NewStreamProcessor(p, zerolog.Nop())

	if err := proc.Handle(context.Background(), "conv:inbound", []byte("{not json")); err != nil {
		t.Errorf("malformed payload should be dropped, got %v", err)
	}
	if err := proc.Handle(context.Background(), "conv:inbound", []byte(`{"text":"hi"}`)); err != nil {
		t.Errorf("payload without ids should be dropped, got %v", err)
	}
	if len(engine.seen) != 0 {
		t.Error("dropped events must not reach the engine")
	}
}

func TestStreamProcessorRunsValidEvents(t *testing.T) {
	engine := newRecordingEngine()
	p := startPool(t, engine, nil)
	proc := NewStreamProcessor(p, zerolog.Nop())

	data, _ := json.Marshal(msgFor("conv-1", "evt-1"))
	if err := proc.Handle(context.Background(), "conv:inbound", data); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.seen["conv-1"]) != 1 {
		t.Errorf("engine saw %v, want one event for conv-1", engine.seen)
	}
}
