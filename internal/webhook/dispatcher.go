package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DispatcherConfig controls delivery behavior.
type DispatcherConfig struct {
	// QueueDepth bounds pending deliveries; overflow is dropped with a
	// warning rather than blocking the emitter.
	QueueDepth int
	// Workers is the delivery goroutine count.
	Workers int
	// MaxAttempts bounds retries for 5xx responses and network failures.
	// 4xx responses are never retried.
	MaxAttempts int
	// RetryDelay is the base backoff, doubled per attempt.
	RetryDelay time.Duration
	// RatePerMinute caps deliveries per webhook. Zero disables the limit.
	RatePerMinute int
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

func (c *DispatcherConfig) applyDefaults() {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

type delivery struct {
	hook    Webhook
	event   string
	payload map[string]any
}

// Dispatcher fans events out to subscribed webhooks over HTTP. Notify never
// blocks; deliveries run on a worker pool with per-webhook rate limiting and
// bounded retries.
type Dispatcher struct {
	registry Registry
	client   *http.Client
	cfg      DispatcherConfig
	logger   *zap.Logger

	queue chan delivery
	wg    sync.WaitGroup

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(registry Registry, client *http.Client, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg.applyDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		client:   client,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan delivery, cfg.QueueDepth),
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Start launches the delivery workers. They exit when ctx finishes.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case del := <-d.queue:
					d.deliver(ctx, del)
				}
			}
		}()
	}
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Notify queues one delivery per enabled webhook subscribed to event. It
// never blocks the caller: a full queue drops the delivery with a warning.
func (d *Dispatcher) Notify(event string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	hooks, err := d.registry.ListByEvent(ctx, event)
	if err != nil {
		d.logger.Error("list webhooks failed", zap.String("event", event), zap.Error(err))
		return
	}
	for _, hook := range hooks {
		select {
		case d.queue <- delivery{hook: hook, event: event, payload: payload}:
		default:
			d.logger.Warn("webhook queue full, dropping delivery",
				zap.Int64("webhook_id", hook.ID),
				zap.String("event", event),
			)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, del delivery) {
	logger := d.logger.With(
		zap.Int64("webhook_id", del.hook.ID),
		zap.String("event", del.event),
	)
	if err := d.limiter(del.hook.ID).Wait(ctx); err != nil {
		return
	}

	body, err := json.Marshal(map[string]any{
		"event": del.event,
		"data":  del.payload,
	})
	if err != nil {
		logger.Error("marshal webhook payload failed", zap.Error(err))
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		code, elapsed, err := d.post(ctx, del.hook.URL, body)
		if recErr := d.registry.RecordResult(ctx, del.hook.ID, code, elapsed.Milliseconds()); recErr != nil {
			logger.Warn("record webhook result failed", zap.Error(recErr))
		}
		if err == nil && code < 500 {
			if code >= 400 {
				logger.Warn("webhook rejected delivery", zap.Int("status", code))
			}
			return
		}
		logger.Warn("webhook delivery attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("status", code),
			zap.Error(err),
		)
		if attempt == d.cfg.MaxAttempts {
			return
		}
		backoff := d.cfg.RetryDelay << (attempt - 1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// Test performs one synchronous probe delivery and records the outcome on
// the webhook. It bypasses the queue, the rate limiter, and retries.
func (d *Dispatcher) Test(ctx context.Context, hook Webhook) (int, error) {
	body, err := json.Marshal(map[string]any{
		"event": "webhook.test",
		"data": map[string]any{
			"webhook_id": hook.ID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal test payload: %w", err)
	}
	code, elapsed, postErr := d.post(ctx, hook.URL, body)
	if recErr := d.registry.RecordResult(ctx, hook.ID, code, elapsed.Milliseconds()); recErr != nil {
		d.logger.Warn("record webhook result failed", zap.Error(recErr))
	}
	return code, postErr
}

// post sends the request and returns the status code plus elapsed time. A
// zero code means no response was produced.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (int, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, elapsed, fmt.Errorf("deliver webhook: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode, elapsed, nil
}

func (d *Dispatcher) limiter(id int64) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[id]
	if !ok {
		limit := rate.Inf
		burst := 1
		if d.cfg.RatePerMinute > 0 {
			limit = rate.Limit(float64(d.cfg.RatePerMinute) / 60.0)
			burst = d.cfg.RatePerMinute
		}
		lim = rate.NewLimiter(limit, burst)
		d.limiters[id] = lim
	}
	return lim
}
