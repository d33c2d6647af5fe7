package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"interruptd/internal/logger"
	"interruptd/internal/pipeline"
	"interruptd/internal/runner"
)

// SubagentDispatcher groups a batch by (resolved channel, session) and
// spawns one autonomous evaluation per group. The sub-agent decides for
// itself whether a notification is warranted; its exit code is the only
// success signal.
type SubagentDispatcher struct {
	runner         runner.Runner
	binary         string
	timeout        time.Duration
	defaultChannel func() string
	dlog           *Log
	log            logger.Logger
}

func NewSubagentDispatcher(r runner.Runner, binary string, timeout time.Duration, defaultChannel func() string, dlog *Log, log logger.Logger) *SubagentDispatcher {
	return &SubagentDispatcher{
		runner:         r,
		binary:         binary,
		timeout:        timeout,
		defaultChannel: defaultChannel,
		dlog:           dlog,
		log:            log,
	}
}

type dispatchGroup struct {
	channel  string
	session  string
	triggers []pipeline.Trigger
}

func (d *SubagentDispatcher) Dispatch(ctx context.Context, batch []pipeline.Trigger) pipeline.BatchResult {
	groups := d.group(batch)
	d.log.Infow("Dispatching via sub-agent", "count", len(batch), "groups", len(groups))

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false

	for _, g := range groups {
		wg.Add(1)
		go func(g dispatchGroup) {
			defer wg.Done()

			prompt := d.buildPrompt(g)
			args := []string{"agent", "--local", "--message", prompt, "--session", g.session}
			out, err := d.runner.Run(ctx, d.binary, args, d.timeout)

			labels := make([]string, len(g.triggers))
			for i, t := range g.triggers {
				labels[i] = t.Label
			}
			d.dlog.Append(fmt.Sprintf("%s agent (channel=%s session=%s): %s",
				d.binary, g.channel, g.session, strings.Join(labels, ", ")), out.Stdout, out.Stderr)

			if err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
				d.log.Errorw("Sub-agent dispatch failed",
					"channel", g.channel,
					"session", g.session,
					"error", err,
				)
				return
			}
			d.log.Infow("Sub-agent completed",
				"channel", g.channel,
				"session", g.session,
				"triggers", len(g.triggers),
			)
		}(g)
	}

	wg.Wait()
	return pipeline.BatchResult{Failed: failed}
}

// group buckets the batch by resolved channel and session. The literal
// channel "default" resolves to the configured default at dispatch time,
// not at registration time, so operators can re-point it.
func (d *SubagentDispatcher) group(batch []pipeline.Trigger) []dispatchGroup {
	byKey := make(map[string]*dispatchGroup)
	for _, t := range batch {
		channel := t.Channel
		if channel == "" || channel == "default" {
			channel = d.defaultChannel()
		}
		session := t.SessionID
		if session == "" {
			session = "main"
		}

		key := channel + "\x00" + session
		g, ok := byKey[key]
		if !ok {
			g = &dispatchGroup{channel: channel, session: session}
			byKey[key] = g
		}
		g.triggers = append(g.triggers, t)
	}

	out := make([]dispatchGroup, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].channel != out[j].channel {
			return out[i].channel < out[j].channel
		}
		return out[i].session < out[j].session
	})
	return out
}

func (d *SubagentDispatcher) buildPrompt(g dispatchGroup) string {
	summaries := make([]string, len(g.triggers))
	for i, t := range g.triggers {
		s := t.Message
		if t.Instruction != "" {
			s += fmt.Sprintf(" [instruction: %s]", t.Instruction)
		}
		summaries[i] = s
	}

	return fmt.Sprintf(`You are an interrupt analysis sub-agent.

INTERRUPT DETAILS:
%s

YOUR GOAL:
1. Analyze the interrupt(s) and any provided instructions.
2. DECIDE: Does the user need to be notified?

IF NOTIFICATION IS NEEDED:
- Send a message using: %s message send --channel %s --message "Your message here"

IF NO NOTIFICATION IS NEEDED:
- Exit silently.

Be concise. Only notify if truly important.`, strings.Join(summaries, "\n"), d.binary, g.channel)
}
