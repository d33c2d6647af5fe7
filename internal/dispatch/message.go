package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"interruptd/internal/logger"
	"interruptd/internal/pipeline"
	"interruptd/internal/runner"
)

// MessageDispatcher injects each trigger's interpolated message as a
// plain event into the agent runtime, one invocation per trigger. The
// batch succeeds only when every invocation succeeds.
type MessageDispatcher struct {
	runner  runner.Runner
	binary  string
	timeout time.Duration
	dlog    *Log
	log     logger.Logger
}

func NewMessageDispatcher(r runner.Runner, binary string, timeout time.Duration, dlog *Log, log logger.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		runner:  r,
		binary:  binary,
		timeout: timeout,
		dlog:    dlog,
		log:     log,
	}
}

func (d *MessageDispatcher) Dispatch(ctx context.Context, batch []pipeline.Trigger) pipeline.BatchResult {
	d.log.Infow("Dispatching via system event", "count", len(batch))

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false

	for _, t := range batch {
		wg.Add(1)
		go func(t pipeline.Trigger) {
			defer wg.Done()

			args := []string{"system", "event", "--text", t.Message, "--mode", "now", "--session", t.SessionID}
			out, err := d.runner.Run(ctx, d.binary, args, d.timeout)
			d.dlog.Append(d.binary+" "+strings.Join(args, " "), out.Stdout, out.Stderr)

			if err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
				d.log.Errorw("Message dispatch failed", "label", t.Label, "error", err)
				return
			}
			d.log.Infow("Message delivered", "label", t.Label)
		}(t)
	}

	wg.Wait()
	return pipeline.BatchResult{Failed: failed}
}
