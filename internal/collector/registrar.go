package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"interruptd/internal/logger"
	"interruptd/internal/rules"
	"interruptd/internal/settings"
	"interruptd/internal/validation"
	"interruptd/pkg/errors"
	"interruptd/pkg/metrics"
)

const pushTimeout = 5 * time.Second

// Registrar keeps collectors informed of the values this service cares
// about. Whenever rules for a source change, the distinct set of watched
// condition values is pushed to that source's collector. Pushes run
// through a per-collector circuit breaker so a dead collector fails
// registration attempts fast instead of eating the timeout every time.
type Registrar struct {
	settings *settings.Store
	rules    *rules.Store
	client   *http.Client
	log      logger.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistrar(st *settings.Store, rs *rules.Store, log logger.Logger) *Registrar {
	return &Registrar{
		settings: st,
		rules:    rs,
		client:   &http.Client{Timeout: pushTimeout},
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Watchlist returns the distinct watched values for a source.
func (r *Registrar) Watchlist(source string) []string {
	return r.rules.DistinctConditionValues(source, validation.WatchField)
}

// Push sends the current watchlist for a source to its collector. A
// source with no configured collector is a no-op.
func (r *Registrar) Push(ctx context.Context, source string) error {
	url := r.settings.Current().Collectors[source]
	if url == "" {
		return nil
	}

	entities := r.Watchlist(source)

	_, err := r.breaker(source).Execute(func() (interface{}, error) {
		return nil, r.post(ctx, url, entities)
	})
	if err != nil {
		metrics.CollectorPushesTotal.WithLabelValues(source, "failed").Inc()
		r.log.Warnw("Watchlist push failed",
			"source", source,
			"url", url,
			"entities", len(entities),
			"error", err,
		)
		return errors.ErrCollectorUnavailable.
			WithMessage("collector for %s unavailable", source).
			WithCause(err)
	}

	metrics.CollectorPushesTotal.WithLabelValues(source, "ok").Inc()
	r.log.Infow("Watchlist pushed", "source", source, "entities", len(entities))
	return nil
}

// PushAll re-pushes every configured collector, reporting per-source
// outcomes. Used by /reload.
func (r *Registrar) PushAll(ctx context.Context) map[string]string {
	results := make(map[string]string)
	for source := range r.settings.Current().Collectors {
		if err := r.Push(ctx, source); err != nil {
			results[source] = err.Error()
			continue
		}
		results[source] = "ok"
	}
	return results
}

func (r *Registrar) post(ctx context.Context, url string, entities []string) error {
	body, err := json.Marshal(map[string][]string{"entities": entities})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(url, "/") + "/watchlist"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}

func (r *Registrar) breaker(source string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[source]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "collector:" + source,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.log.Warnw("Collector breaker state change",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
		r.breakers[source] = cb
	}
	return cb
}
