package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the three circuit-breaker states.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// Threshold is the number of consecutive failures that trips the
	// breaker open.
	Threshold int
	// Timeout bounds a single guarded call.
	Timeout time.Duration
	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls caps concurrent probes while half-open.
	HalfOpenMaxCalls int
	// OnStateChange, if set, is called (in its own goroutine) on every
	// transition.
	OnStateChange func(from, to State)
}

// DefaultConfig matches the transport's reconnect-guarding defaults.
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

var (
	ErrOpen             = errors.New("circuit breaker open")
	ErrTooManyHalfOpen  = errors.New("too many calls in half-open state")
)

// Breaker wraps calls with failure-count-based tripping.
type Breaker struct {
	config *Config
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// New builds a Breaker, starting closed.
func New(config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{config: config, logger: logger, state: StateClosed}
}

// Call runs fn under the breaker's timeout, recording success/failure.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	_, err := CallWithResult(b, ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// CallWithResult runs fn under the breaker's timeout and returns its value.
func CallWithResult[T any](b *Breaker, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.beforeCall(); err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	type callResult struct {
		value T
		err   error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		v, err := fn()
		resultCh <- callResult{value: v, err: err}
	}()

	select {
	case <-callCtx.Done():
		b.afterCall(false)
		return zero, fmt.Errorf("call timed out: %w", callCtx.Err())
	case res := <-resultCh:
		b.afterCall(res.err == nil)
		if res.err != nil {
			return zero, res.err
		}
		return res.value, nil
	}
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 1
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyHalfOpen
		}
		b.halfOpenCallCount++
		return nil
	default:
		return fmt.Errorf("unknown breaker state: %v", b.state)
	}
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenCallCount = 0
	case StateOpen:
		b.logger.Warn("success recorded while breaker open")
	}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.halfOpenCallCount = 0
	case StateOpen:
	}
}

func (b *Breaker) setState(newState State) {
	oldState := b.state
	b.state = newState
	b.logger.Info("circuit breaker transition", zap.Stringer("from", oldState), zap.Stringer("to", newState))
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(old, StateClosed)
	}
}
