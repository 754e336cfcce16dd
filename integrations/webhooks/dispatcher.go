package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jctledger/core/events"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the body, prefixed with
	// "sha256=".
	SignatureHeader = "X-JCT-Signature"
	// EventHeader carries the event type.
	EventHeader = "X-JCT-Event"
	// ScheduleHeader carries the linear id of the schedule concerned.
	ScheduleHeader = "X-JCT-Linear-Id"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 32
	defaultTimeout     = 15 * time.Second
)

// Payload is the webhook body for every schedule event.
type Payload struct {
	Type       string            `json:"type"`
	LinearID   string            `json:"linearId"`
	Sequence   *uint64           `json:"sequence,omitempty"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
	DeliveryID string            `json:"deliveryId"`
}

// Dispatcher forwards ledger events to an HTTP endpoint with retry and
// exponential backoff. It implements events.Emitter.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	filter      events.Filter
	queueSize   int

	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan delivery
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

type delivery struct {
	eventType string
	linearID  string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithEventTypes restricts deliveries to the named event types.
func WithEventTypes(types ...string) Option {
	return func(d *Dispatcher) {
		if len(types) == 0 {
			return
		}
		d.filter.Types = events.NewFilter(types, nil).Types
	}
}

// WithSchedules restricts deliveries to events about the given linear ids.
func WithSchedules(linearIDs ...string) Option {
	return func(d *Dispatcher) {
		if len(linearIDs) == 0 {
			return
		}
		d.filter.LinearIDs = events.NewFilter(nil, linearIDs).LinearIDs
	}
}

// WithQueueSize bounds the number of pending deliveries.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		queueSize:   defaultQueueSize,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.queue = make(chan delivery, dispatcher.queueSize)
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher. The delivery in flight is aborted and events
// still queued are discarded; both are counted in Dropped, as is anything
// emitted afterwards.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.cancel()
		d.wg.Wait()
		for {
			select {
			case <-d.queue:
				d.dropped.Add(1)
			default:
				return
			}
		}
	})
}

// Emit implements events.Emitter. It never blocks; events arriving while the
// queue is full are counted in Dropped.
func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil {
		return
	}
	if !d.filter.MatchEvent(evt) {
		return
	}
	payload := events.Payload(evt)
	body, err := json.Marshal(Payload{
		Type:       payload.Type,
		LinearID:   payload.LinearID,
		Sequence:   payload.Sequence,
		Attributes: payload.Attributes,
		EmittedAt:  time.Now().UTC(),
		DeliveryID: uuid.NewString(),
	})
	if err != nil {
		d.dropped.Add(1)
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- delivery{eventType: payload.Type, linearID: payload.LinearID, body: body}:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports events discarded because the queue was full or the
// dispatcher was closed before they were delivered.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			if !d.process(job) && d.ctx.Err() != nil {
				d.dropped.Add(1)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// process delivers job, retrying with backoff, and reports whether the
// endpoint accepted it.
func (d *Dispatcher) process(job delivery) bool {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.attemptTimeout())
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return true
		}
		if attempt >= d.maxAttempts {
			return false
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return false
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) attemptTimeout() time.Duration {
	if d.client.Timeout > 0 {
		return d.client.Timeout
	}
	return defaultTimeout
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, job.eventType)
	req.Header.Set(ScheduleHeader, job.linearID)
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of body.
func Verify(secret, body []byte, header string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(header))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
