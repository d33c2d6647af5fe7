package pipeline

import (
	"context"
	"sync"
	"time"

	"interruptd/internal/logger"
	"interruptd/internal/settings"
	"interruptd/pkg/metrics"
)

// Trigger is the ephemeral unit of work produced by one rule match (or a
// default action) against one event. It lives in a pipeline's queue and
// is discarded once its batch resolves.
type Trigger struct {
	ID          string
	Label       string
	Source      string
	Data        map[string]interface{}
	Action      string
	Message     string
	Instruction string
	Channel     string
	SessionID   string
	OneOff      bool
	Level       string
}

// BatchResult reports how a dispatched batch fared. Failed means at
// least one invocation (or one subagent group) did not succeed.
type BatchResult struct {
	Failed bool
}

// Dispatcher delivers a drained batch. Implementations block until
// every invocation has resolved.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []Trigger) BatchResult
}

// Hooks receives batch outcomes so the one-off lifecycle can commit or
// roll back pending rule removals. A dropped batch never counts as a
// dispatch attempt.
type Hooks interface {
	BatchDropped(batch []Trigger)
	BatchDispatched(batch []Trigger, failed bool)
}

// NopHooks is used when no lifecycle bookkeeping is needed.
type NopHooks struct{}

func (NopHooks) BatchDropped([]Trigger) {}

func (NopHooks) BatchDispatched([]Trigger, bool) {}

// SettingsFunc returns the pipeline's current tuning. It is consulted at
// timer-arm time for the batch window and at flush time for the rate
// limit, so settings changes apply to the next window.
type SettingsFunc func() settings.PipelineSettings

// Engine batches triggers over a time window and enforces a sliding
// window rate limit with circuit-breaker behavior. One instance exists
// per action type; all state is process-lifetime only.
type Engine struct {
	name       string
	settings   SettingsFunc
	dispatcher Dispatcher
	hooks      Hooks
	log        logger.Logger
	now        func() time.Time

	mu          sync.Mutex
	queue       []Trigger
	timer       *time.Timer
	timestamps  []time.Time
	circuitOpen bool

	inFlight sync.WaitGroup
}

func NewEngine(name string, settingsFn SettingsFunc, dispatcher Dispatcher, hooks Hooks, log logger.Logger) *Engine {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Engine{
		name:       name,
		settings:   settingsFn,
		dispatcher: dispatcher,
		hooks:      hooks,
		log:        log,
		now:        time.Now,
	}
}

// Enqueue appends a trigger and arms the batch timer if none is
// outstanding. The window is read from current settings at arm time.
func (e *Engine) Enqueue(t Trigger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queue = append(e.queue, t)
	metrics.QueueDepth.WithLabelValues(e.name).Set(float64(len(e.queue)))
	e.log.Infow("Trigger queued",
		"pipeline", e.name,
		"label", t.Label,
		"source", t.Source,
	)

	if e.timer == nil {
		window := e.settings().BatchWindow()
		e.timer = time.AfterFunc(window, e.Flush)
	}
}

// Flush drains the queue into one batch, applies the rate limit, and
// hands the batch to the dispatcher. Triggers enqueued during a flush
// start a fresh batch with its own timer.
func (e *Engine) Flush() {
	e.mu.Lock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}

	batch := e.queue
	e.queue = nil
	metrics.QueueDepth.WithLabelValues(e.name).Set(0)

	cfg := e.settings()
	now := e.now()
	e.pruneTimestampsLocked(now, cfg.RateLimitWindow())

	if len(e.timestamps) >= cfg.RateLimitMax {
		if !e.circuitOpen {
			e.circuitOpen = true
			metrics.SetCircuitOpen(e.name, true)
			e.log.Warnw("Circuit breaker open, rate limit exceeded",
				"pipeline", e.name,
				"max", cfg.RateLimitMax,
				"window_ms", cfg.RateLimitWindowMS,
			)
		}
		e.mu.Unlock()

		e.log.Warnw("Dropped batch", "pipeline", e.name, "size", len(batch))
		metrics.DroppedBatchesTotal.WithLabelValues(e.name).Inc()
		e.hooks.BatchDropped(batch)
		return
	}

	if e.circuitOpen {
		e.circuitOpen = false
		metrics.SetCircuitOpen(e.name, false)
		e.log.Infow("Circuit breaker closed, rate limit recovered", "pipeline", e.name)
	}
	e.timestamps = append(e.timestamps, now)

	e.inFlight.Add(1)
	e.mu.Unlock()

	e.log.Infow("Flushing batch", "pipeline", e.name, "size", len(batch))

	go func() {
		defer e.inFlight.Done()

		start := time.Now()
		result := e.dispatcher.Dispatch(context.Background(), batch)
		metrics.ObserveDispatchDuration(e.name, time.Since(start))

		status := "ok"
		if result.Failed {
			status = "failed"
		}
		metrics.DispatchesTotal.WithLabelValues(e.name, status).Inc()

		e.hooks.BatchDispatched(batch, result.Failed)
	}()
}

func (e *Engine) pruneTimestampsLocked(now time.Time, window time.Duration) {
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept
}

// Stats is the per-pipeline slice of the /stats response.
type Stats struct {
	BatchPending       int                       `json:"batchPending"`
	DispatchesInWindow int                       `json:"dispatchesInWindow"`
	CircuitOpen        bool                      `json:"circuitOpen"`
	Settings           settings.PipelineSettings `json:"settings"`
}

func (e *Engine) Stats() Stats {
	cfg := e.settings()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	inWindow := 0
	for _, ts := range e.timestamps {
		if now.Sub(ts) < cfg.RateLimitWindow() {
			inWindow++
		}
	}

	return Stats{
		BatchPending:       len(e.queue),
		DispatchesInWindow: inWindow,
		CircuitOpen:        e.circuitOpen,
		Settings:           cfg,
	}
}

// Stop cancels any armed timer and waits for in-flight dispatches. An
// unflushed batch is discarded; it re-accumulates on restart.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	e.inFlight.Wait()
}

// WaitIdle blocks until every dispatched batch has resolved.
func (e *Engine) WaitIdle() {
	e.inFlight.Wait()
}
