package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/types"
)

// Config holds async-writer settings.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	QueueSize    int
	WriteTimeout time.Duration
}

// DefaultConfig returns the default writer settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		RetryBackoff: 500 * time.Millisecond,
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
	}
}

// Observer receives write outcomes, typically a metrics collector.
type Observer interface {
	RecordPersistenceWrite(kind, status string)
	RecordDeadLetter(kind string)
	SetQueueDepth(depth int)
}

type writeJob struct {
	kind           string
	conversationID string
	payload        any
	// critical jobs wait for queue space instead of dropping on overflow.
	critical bool
	run      func(ctx context.Context) error
}

// Writer applies durable writes asynchronously, in enqueue order, with
// bounded retries. Ordering is global FIFO, which guarantees a conversation's
// create lands before its appends. Writes that exhaust retries are logged
// with their payload for manual replay and then dropped so the queue keeps
// moving. Creates are critical: every later append depends on the row
// existing, so they block for queue space rather than dead-letter on
// overflow.
type Writer struct {
	gateway Gateway
	cfg     Config
	jobs    chan writeJob
	logger  *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once

	mu       sync.Mutex
	closed   bool
	observer Observer
}

// SetObserver attaches a write-outcome observer. Call before the first
// enqueue.
func (w *Writer) SetObserver(obs Observer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer = obs
}

func (w *Writer) observe(fn func(Observer)) {
	w.mu.Lock()
	obs := w.observer
	w.mu.Unlock()
	if obs != nil {
		fn(obs)
	}
}

// NewWriter creates and starts a writer.
func NewWriter(gateway Gateway, cfg Config, logger *zap.Logger) *Writer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		gateway: gateway,
		cfg:     cfg,
		jobs:    make(chan writeJob, cfg.QueueSize),
		logger:  logger.With(zap.String("component", "persistence_writer")),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.apply(job)
	}
}

func (w *Writer) apply(job writeJob) {
	backoff := w.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
		err := job.run(ctx)
		cancel()
		if err == nil {
			status := "ok"
			if attempt > 1 {
				status = "retried"
			}
			w.observe(func(o Observer) {
				o.RecordPersistenceWrite(job.kind, status)
				o.SetQueueDepth(len(w.jobs))
			})
			return
		}
		if attempt >= w.cfg.MaxRetries {
			w.deadLetter(job, err)
			return
		}
		w.logger.Warn("durable write failed, retrying",
			zap.String("kind", job.kind),
			zap.String("conversation_id", job.conversationID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (w *Writer) deadLetter(job writeJob, err error) {
	w.observe(func(o Observer) {
		o.RecordPersistenceWrite(job.kind, "dead_letter")
		o.RecordDeadLetter(job.kind)
	})
	payload, _ := json.Marshal(job.payload)
	w.logger.Error("durable write dead-lettered",
		zap.String("kind", job.kind),
		zap.String("conversation_id", job.conversationID),
		zap.ByteString("payload", payload),
		zap.Error(err))
}

func (w *Writer) enqueue(job writeJob) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.deadLetter(job, context.Canceled)
		return
	}
	w.mu.Unlock()

	if job.critical {
		w.jobs <- job
		w.observe(func(o Observer) { o.SetQueueDepth(len(w.jobs)) })
		return
	}

	select {
	case w.jobs <- job:
		w.observe(func(o Observer) { o.SetQueueDepth(len(w.jobs)) })
	default:
		// Queue full: dropping keeps the engine serving turns.
		w.deadLetter(job, errQueueFull)
	}
}

var errQueueFull = types.NewError(types.ErrUpstreamUnavailable, "persistence queue full").
	WithRetryable(true)

// snapshot copies the mutable parts of a conversation so later engine
// mutations cannot race the write.
func snapshot(conv *types.Conversation) *types.Conversation {
	cp := *conv
	cp.Messages = nil
	cp.Assignments = make(map[string]string, len(conv.Assignments))
	for k, v := range conv.Assignments {
		cp.Assignments[k] = v
	}
	return &cp
}

// EnqueueCreate mirrors a new conversation, bundling any messages already in
// its log so the row and the first message land together.
func (w *Writer) EnqueueCreate(conv *types.Conversation) {
	snap := snapshot(conv)
	snap.Messages = append([]types.Message(nil), conv.Messages...)
	w.enqueue(writeJob{
		kind:           "create_conversation",
		conversationID: snap.ID,
		payload:        snap,
		critical:       true,
		run: func(ctx context.Context) error {
			return w.gateway.CreateConversation(ctx, snap)
		},
	})
}

// EnqueueAppend mirrors one log entry.
func (w *Writer) EnqueueAppend(conversationID string, seq int, msg types.Message) {
	w.enqueue(writeJob{
		kind:           "append_message",
		conversationID: conversationID,
		payload:        msg,
		run: func(ctx context.Context) error {
			return w.gateway.AppendMessage(ctx, conversationID, seq, msg)
		},
	})
}

// EnqueueUpdate mirrors the conversation's mutable snapshot.
func (w *Writer) EnqueueUpdate(conv *types.Conversation) {
	snap := snapshot(conv)
	w.enqueue(writeJob{
		kind:           "update_conversation",
		conversationID: snap.ID,
		payload:        snap,
		run: func(ctx context.Context) error {
			return w.gateway.UpdateConversation(ctx, snap)
		},
	})
}

// EnqueueLead mirrors a captured lead.
func (w *Writer) EnqueueLead(lead *Lead) {
	cp := *lead
	w.enqueue(writeJob{
		kind:           "save_lead",
		conversationID: cp.ConversationID,
		payload:        &cp,
		run: func(ctx context.Context) error {
			return w.gateway.SaveLead(ctx, &cp)
		},
	})
}

// Close drains the queue and stops the worker.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.jobs)
	})
	w.wg.Wait()
}
