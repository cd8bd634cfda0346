package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sales-service/internal/util"

	"go.uber.org/zap"
)

// State is the position of a breaker in its state machine
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many concurrent requests")
	ErrTimeout         = errors.New("call timed out")
)

// Settings configures a single breaker
type Settings struct {
	Name                     string
	ErrorThresholdPercentage int
	RequestVolumeThreshold   int
	SleepWindow              time.Duration
	Timeout                  time.Duration
	MaxConcurrentRequests    int // 0 = unbounded
	RollingWindow            time.Duration
	Buckets                  int
}

// DefaultSettings are applied to every guarded operation unless overridden
func DefaultSettings() Settings {
	return Settings{
		ErrorThresholdPercentage: 20,
		RequestVolumeThreshold:   5,
		SleepWindow:              100 * time.Millisecond,
		Timeout:                  20 * time.Second,
		MaxConcurrentRequests:    0,
		RollingWindow:            10 * time.Second,
		Buckets:                  10,
	}
}

// Classifier reports whether an error returned by the guarded operation counts
// toward the error rate
type Classifier func(err error) bool

// AllErrors counts every non-nil error as a failure
func AllErrors(err error) bool {
	return err != nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// CircuitBreaker gates calls to one remote operation
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time
	logger   *zap.Logger

	mu            sync.Mutex
	state         State
	buckets       []bucket
	openedAt      time.Time
	trialInFlight bool

	inFlight int64
}

func newCircuitBreaker(settings Settings) *CircuitBreaker {
	cb := &CircuitBreaker{
		settings: settings,
		now:      time.Now,
		logger:   util.GetLogger(),
		state:    StateClosed,
	}
	util.CircuitBreakerState.WithLabelValues(settings.Name).Set(float64(StateClosed))
	return cb
}

// Name returns the dependency name the breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// Settings returns the breaker configuration
func (cb *CircuitBreaker) Settings() Settings {
	return cb.settings
}

// State returns the current state. An open breaker whose sleep window has
// elapsed still reports open until the next call tries it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) bucketWidth() time.Duration {
	width := cb.settings.RollingWindow / time.Duration(cb.settings.Buckets)
	if width <= 0 {
		return time.Second
	}
	return width
}

// rotate drops buckets older than the rolling window and returns the current one.
// Callers hold cb.mu.
func (cb *CircuitBreaker) rotate(now time.Time) *bucket {
	cutoff := now.Add(-cb.settings.RollingWindow)
	drop := 0
	for drop < len(cb.buckets) && !cb.buckets[drop].start.After(cutoff) {
		drop++
	}
	if drop > 0 {
		cb.buckets = append(cb.buckets[:0], cb.buckets[drop:]...)
	}

	width := cb.bucketWidth()
	if n := len(cb.buckets); n > 0 && now.Sub(cb.buckets[n-1].start) < width {
		return &cb.buckets[n-1]
	}
	cb.buckets = append(cb.buckets, bucket{start: now})
	return &cb.buckets[len(cb.buckets)-1]
}

// counts sums the rolling window. Callers hold cb.mu.
func (cb *CircuitBreaker) counts() (requests, failures int) {
	for _, b := range cb.buckets {
		requests += b.successes + b.failures
		failures += b.failures
	}
	return requests, failures
}

func (cb *CircuitBreaker) shouldTrip() bool {
	requests, failures := cb.counts()
	if requests == 0 || requests < cb.settings.RequestVolumeThreshold {
		return false
	}
	return failures*100 >= cb.settings.ErrorThresholdPercentage*requests
}

// setState performs a transition. Callers hold cb.mu.
func (cb *CircuitBreaker) setState(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = now
		cb.trialInFlight = false
	case StateClosed:
		cb.buckets = cb.buckets[:0]
		cb.trialInFlight = false
	}

	util.CircuitBreakerState.WithLabelValues(cb.settings.Name).Set(float64(to))
	cb.logger.Info("Circuit breaker state changed",
		zap.String("breaker", cb.settings.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// allow decides whether a call may proceed. trial is true for the single
// half-open trial.
func (cb *CircuitBreaker) allow() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.settings.SleepWindow {
			return false, ErrOpen
		}
		cb.setState(StateHalfOpen, now)
		cb.trialInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.trialInFlight {
			return false, ErrOpen
		}
		cb.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(trial bool, result outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	if trial {
		switch result {
		case outcomeSuccess:
			cb.setState(StateClosed, now)
		case outcomeFailure:
			cb.setState(StateOpen, now)
		default:
			cb.trialInFlight = false
		}
		return
	}

	switch result {
	case outcomeSuccess:
		cb.rotate(now).successes++
	case outcomeFailure:
		cb.rotate(now).failures++
	default:
		return
	}

	if cb.state == StateClosed && cb.shouldTrip() {
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) acquire() bool {
	n := atomic.AddInt64(&cb.inFlight, 1)
	if limit := cb.settings.MaxConcurrentRequests; limit > 0 && n > int64(limit) {
		atomic.AddInt64(&cb.inFlight, -1)
		return false
	}
	return true
}

func (cb *CircuitBreaker) release() {
	atomic.AddInt64(&cb.inFlight, -1)
}

// Snapshot is a point-in-time view of a breaker
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Requests        int       `json:"requests"`
	Failures        int       `json:"failures"`
	ErrorPercentage int       `json:"error_percentage"`
	InFlight        int64     `json:"in_flight"`
	WindowStart     time.Time `json:"window_start"`
	LastOpened      time.Time `json:"last_opened,omitempty"`
}

// Snapshot returns the breaker's current counters
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.rotate(now)
	requests, failures := cb.counts()

	s := Snapshot{
		Name:        cb.settings.Name,
		State:       cb.state.String(),
		Requests:    requests,
		Failures:    failures,
		InFlight:    atomic.LoadInt64(&cb.inFlight),
		WindowStart: now,
		LastOpened:  cb.openedAt,
	}
	if requests > 0 {
		s.ErrorPercentage = failures * 100 / requests
	}
	if len(cb.buckets) > 0 {
		s.WindowStart = cb.buckets[0].start
	}
	return s
}

// Guard runs operation through the breaker. When the breaker rejects the call,
// the operation fails with a counted error, or it exceeds its timeout, fallback
// receives the cause and decides what the caller sees. Errors the classifier
// does not count are returned unchanged.
func Guard[T any](
	ctx context.Context,
	cb *CircuitBreaker,
	operation func(context.Context) (T, error),
	fallback func(error) (T, error),
	isFailure Classifier,
) (T, error) {
	if isFailure == nil {
		isFailure = AllErrors
	}
	if fallback == nil {
		fallback = func(err error) (T, error) {
			var zero T
			return zero, err
		}
	}
	name := cb.settings.Name

	if !cb.acquire() {
		util.CircuitBreakerCallsTotal.WithLabelValues(name, "rejected").Inc()
		return fallback(ErrTooManyRequests)
	}
	defer cb.release()

	trial, err := cb.allow()
	if err != nil {
		util.CircuitBreakerCallsTotal.WithLabelValues(name, "short_circuited").Inc()
		return fallback(err)
	}

	callCtx := ctx
	cancel := func() {}
	if cb.settings.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cb.settings.Timeout)
	}
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("guarded operation panicked: %v", p)}
			}
		}()
		v, err := operation(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			cb.record(trial, outcomeIgnored)
			return r.value, r.err
		}
		if r.err == nil {
			cb.record(trial, outcomeSuccess)
			util.CircuitBreakerCallsTotal.WithLabelValues(name, "success").Inc()
			return r.value, nil
		}
		if !isFailure(r.err) {
			cb.record(trial, outcomeSuccess)
			util.CircuitBreakerCallsTotal.WithLabelValues(name, "client_error").Inc()
			return r.value, r.err
		}
		cb.record(trial, outcomeFailure)
		util.CircuitBreakerCallsTotal.WithLabelValues(name, "failure").Inc()
		return fallback(r.err)

	case <-callCtx.Done():
		if ctx.Err() != nil {
			// caller went away; not the dependency's fault
			cb.record(trial, outcomeIgnored)
			var zero T
			return zero, ctx.Err()
		}
		cb.record(trial, outcomeFailure)
		util.CircuitBreakerCallsTotal.WithLabelValues(name, "timeout").Inc()
		return fallback(fmt.Errorf("%s: %w after %s", name, ErrTimeout, cb.settings.Timeout))
	}
}
