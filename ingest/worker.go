package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/metrics"
	"github.com/eddielth/edge-ingest/model"
	"github.com/eddielth/edge-ingest/rules"
)

// Persister stores a normalized reading and returns it with its identity
type Persister interface {
	SaveReading(ctx context.Context, draft model.ReadingDraft) (model.Reading, error)
}

// Publisher hands a persisted reading to the viewers
type Publisher interface {
	Publish(reading model.Reading) error
}

// Evaluator runs the enabled rules against a persisted reading
type Evaluator interface {
	Evaluate(ctx context.Context, reading model.Reading) ([]rules.Outcome, error)
}

// Transformer rewrites a message before normalization
type Transformer interface {
	Transform(topic string, msg Message) Message
}

// WorkerConfig wires the worker
type WorkerConfig struct {
	Queue          *Queue
	Normalizer     *Normalizer
	Store          Persister
	Publisher      Publisher
	Rules          Evaluator
	Transformer    Transformer // optional
	Metrics        *metrics.Metrics
	PollInterval   time.Duration
	PersistTimeout time.Duration
}

// Worker drains the queue serially. For each message the stages run in a
// fixed order: transform, normalize, persist, broadcast, evaluate rules.
type Worker struct {
	cfg     WorkerConfig
	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	log     *logger.Component
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Normalizer == nil {
		cfg.Normalizer = NewNormalizer()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Worker{
		cfg:  cfg,
		done: make(chan struct{}),
		log:  logger.Named("ingest"),
	}
}

// Run processes messages until ctx is cancelled or Stop is called.
// The message in progress is always finished first.
func (w *Worker) Run(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.done)
	w.log.Info("ingestion worker started")

	for !w.stopped.Load() && ctx.Err() == nil {
		msg, ok := w.cfg.Queue.Pop(w.cfg.PollInterval)
		w.cfg.Metrics.SetQueueDepth(w.cfg.Queue.Len())
		if !ok {
			continue
		}
		w.Process(ctx, msg)
	}

	w.log.Info("ingestion worker stopped, %d messages left in queue", w.cfg.Queue.Len())
}

// Stop asks the worker to exit after the current message and waits for it
func (w *Worker) Stop() {
	w.stopped.Store(true)
	if w.started.Load() {
		<-w.done
	}
}

// Process runs one message through the pipeline. It never panics and
// returns the persisted reading, or false when persistence failed.
func (w *Worker) Process(ctx context.Context, msg Message) (reading model.Reading, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic while processing message from %q: %v\n%s", msg.Topic(), r, debug.Stack())
			ok = false
		}
	}()

	if w.cfg.Transformer != nil {
		msg = w.cfg.Transformer.Transform(msg.Topic(), msg)
	}

	draft := w.cfg.Normalizer.Normalize(msg)

	reading, err := w.persist(ctx, draft)
	if err != nil {
		w.cfg.Metrics.PersistFailed()
		w.log.Error("drop reading from node %s: %v", draft.NodeID, err)
		return model.Reading{}, false
	}
	w.cfg.Metrics.Persisted()
	w.log.Debug("persisted reading %d from node %s", reading.ID, reading.NodeID)

	if w.cfg.Publisher != nil {
		if err := w.cfg.Publisher.Publish(reading); err != nil {
			w.log.Warn("broadcast of reading %d skipped: %v", reading.ID, err)
		}
	}

	if w.cfg.Rules != nil {
		if _, err := w.cfg.Rules.Evaluate(context.WithoutCancel(ctx), reading); err != nil {
			w.log.Error("rule evaluation for reading %d failed: %v", reading.ID, err)
		}
	}

	return reading, true
}

func (w *Worker) persist(ctx context.Context, draft model.ReadingDraft) (model.Reading, error) {
	// detached from ctx so a shutdown does not abort the write in flight
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PersistTimeout)
	defer cancel()

	reading, err := w.cfg.Store.SaveReading(pctx, draft)
	if err != nil {
		return model.Reading{}, fmt.Errorf("persist: %w", err)
	}
	return reading, nil
}
