// Package platform forwards run lifecycle events to a remote HTTP
// ingest endpoint. Delivery is best-effort: losing the platform never
// fails a run.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/qym-labs/qym/pkg/observer"
)

// Queue and delivery tuning.
const (
	// queueCapacity bounds the in-process event queue. Overflow drops
	// the oldest non-critical event.
	queueCapacity = 1000

	// syncTimeout bounds a synchronous emit.
	syncTimeout = 10 * time.Second

	// maxRetries bounds delivery attempts per event.
	maxRetries = 4

	// initialBackoff is the first retry delay.
	initialBackoff = 250 * time.Millisecond
)

// Sentinel errors.
var (
	// ErrDisabled is returned by synchronous emits after the stream has
	// degraded to disabled.
	ErrDisabled = errors.New("platform stream disabled")

	// ErrNoRun is returned when events are emitted before the run
	// creation handshake.
	ErrNoRun = errors.New("platform run not created")
)

// envelope is the wire form of one event. EventID is unique per event
// so the platform can deduplicate retried deliveries.
type envelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// runHandshake is the response to run creation.
type runHandshake struct {
	RunID   string `json:"run_id"`
	LiveURL string `json:"live_url"`
}

// Stream is a bounded-queue asynchronous emitter. Emit never blocks
// and never returns an error; run_started and run_completed have
// synchronous variants so the platform always observes run boundaries.
type Stream struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger

	runID   string
	liveURL string

	mu    sync.Mutex
	cond  *sync.Cond
	queue []envelope
	done  bool

	disabled atomic.Bool
	warned   atomic.Bool

	// onDrop is invoked for every event lost to queue overflow.
	onDrop func(eventType string)

	drained sync.WaitGroup
}

// Option customizes a Stream.
type Option func(*Stream)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Stream) {
		s.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

// WithDropHook registers a callback for overflow drops, used to feed a
// drop counter.
func WithDropHook(hook func(eventType string)) Option {
	return func(s *Stream) {
		s.onDrop = hook
	}
}

// NewStream creates a stream for one run and starts its drain
// goroutine.
func NewStream(baseURL, apiKey string, opts ...Option) *Stream {
	s := &Stream{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: syncTimeout},
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.cond = sync.NewCond(&s.mu)

	s.drained.Add(1)
	go s.drain()

	return s
}

// CreateRun performs the run creation handshake. It must succeed
// before any item events are accepted; on failure the stream degrades
// to disabled.
func (s *Stream) CreateRun(ctx context.Context, runName string, metadata map[string]any) (liveURL string, err error) {
	body := map[string]any{
		"run_name": runName,
		"metadata": metadata,
	}

	var handshake runHandshake

	err = s.postJSON(ctx, s.baseURL+"/v1/runs", body, &handshake)
	if err != nil {
		s.disable(err)

		return "", err
	}

	s.mu.Lock()
	s.runID = handshake.RunID
	s.liveURL = handshake.LiveURL
	s.mu.Unlock()

	return handshake.LiveURL, nil
}

// LiveURL returns the platform's live results URL, if the handshake
// succeeded.
func (s *Stream) LiveURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.liveURL
}

// Emit enqueues an event without blocking. On overflow the oldest
// non-critical event is dropped with a warning; if every queued event
// is critical, the new event is dropped instead.
func (s *Stream) Emit(event observer.Event) {
	if s.disabled.Load() {
		return
	}

	env := toEnvelope(event)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	if len(s.queue) >= queueCapacity {
		dropped := false

		for i, queued := range s.queue {
			if observer.EventType(queued.EventType).Critical() {
				continue
			}

			s.logger.Warn("platform queue full, dropping event",
				"event", queued.EventType)

			if s.onDrop != nil {
				s.onDrop(queued.EventType)
			}

			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			dropped = true

			break
		}

		if !dropped {
			s.logger.Warn("platform queue full of critical events, dropping new event",
				"event", env.EventType)

			if s.onDrop != nil {
				s.onDrop(env.EventType)
			}

			return
		}
	}

	s.queue = append(s.queue, env)
	s.cond.Signal()
}

// EmitSync delivers an event synchronously, blocking until the POST
// returns or times out. Used for run_started and run_completed.
func (s *Stream) EmitSync(ctx context.Context, event observer.Event) error {
	if s.disabled.Load() {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	err := s.deliver(ctx, toEnvelope(event))
	if err != nil {
		s.disable(err)

		return err
	}

	return nil
}

// Observe implements observer.Observer by enqueuing asynchronously.
// Run boundary events are emitted synchronously by the evaluator and
// skipped here.
func (s *Stream) Observe(event observer.Event) error {
	if event.Type.Critical() {
		return nil
	}

	s.Emit(event)

	return nil
}

// Close drains the queue and stops the background emitter. It does not
// emit run_completed; the evaluator does that synchronously.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()

		return nil
	}

	s.done = true
	s.cond.Signal()
	s.mu.Unlock()

	s.drained.Wait()

	return nil
}

// drain delivers queued events in order until Close.
func (s *Stream) drain() {
	defer s.drained.Done()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}

		if len(s.queue) == 0 && s.done {
			s.mu.Unlock()

			return
		}

		env := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if s.disabled.Load() {
			continue
		}

		err := s.deliver(context.Background(), env)
		if err != nil {
			s.disable(err)
		}
	}
}

// deliver POSTs one envelope with bounded exponential backoff.
func (s *Stream) deliver(ctx context.Context, env envelope) error {
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()

	if runID == "" {
		return ErrNoRun
	}

	url := fmt.Sprintf("%s/v1/runs/%s/events", s.baseURL, runID)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackoff(), maxRetries),
		ctx,
	)

	operation := func() error {
		return s.postJSON(ctx, url, env, nil)
	}

	return backoff.Retry(operation, policy)
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff

	return b
}

// postJSON performs one JSON POST with bearer auth, decoding the
// response into out when non-nil.
func (s *Stream) postJSON(ctx context.Context, url string, body, out any) error {
	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return fmt.Errorf("marshal platform payload: %w", marshalErr)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if reqErr != nil {
		return fmt.Errorf("build platform request: %w", reqErr)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, doErr := s.client.Do(req)
	if doErr != nil {
		return fmt.Errorf("platform post: %w", doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("platform post %s: status %d", url, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("decode platform response: %w", decodeErr)
	}

	return nil
}

// disable turns the stream off for the rest of the run, logging once.
func (s *Stream) disable(cause error) {
	s.disabled.Store(true)

	if s.warned.CompareAndSwap(false, true) {
		s.logger.Warn("platform unreachable, disabling event stream for this run",
			"error", cause)
	}
}

// toEnvelope flattens an observer event into the wire envelope.
func toEnvelope(event observer.Event) envelope {
	payload := make(map[string]any, len(event.Payload)+4)
	for k, v := range event.Payload {
		payload[k] = v
	}

	payload["run_name"] = event.RunName
	if event.ItemID != "" {
		payload["item_id"] = event.ItemID
		payload["index"] = event.Index
	}

	if event.Metric != "" {
		payload["metric"] = event.Metric
		payload["score"] = event.Score
	}

	ts := event.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return envelope{
		EventID:   uuid.NewString(),
		EventType: string(event.Type),
		Payload:   payload,
		Timestamp: ts,
	}
}
