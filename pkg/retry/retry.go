package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0, fraction of the delay used as +/- jitter
	MaxSameErrorType int     // After N consecutive same-class errors, give up (0 disables)
}

// DefaultConfig returns defaults for warehouse queries: 3 retries starting at 100ms,
// capped at 5s, doubling each time, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// wait sleeps for the current delay and returns the next one.
func wait(ctx context.Context, cfg *Config, delay time.Duration) (time.Duration, error) {
	select {
	case <-time.After(applyJitter(delay, cfg.JitterFactor)):
	case <-ctx.Done():
		return delay, ctx.Err()
	}
	next := time.Duration(float64(delay) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next, nil
}

// Do executes fn with exponential backoff, retrying every error.
// Returns nil on success, or the last error after all retries are exhausted.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn and returns both result and error.
// Used for constructors like pgxpool.New and sql.Open + Ping.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if attempt < cfg.MaxRetries {
			if delay, err = wait(ctx, cfg, delay); err != nil {
				return result, err
			}
		}
	}

	return result, lastErr
}

// RetryableError is implemented by errors that declare their own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

// transientPatterns are lower-cased fragments of driver errors that indicate a
// condition likely to clear on its own.
var transientPatterns = []string{
	// network
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"network is unreachable",
	"connection timed out",
	"timed out",
	"timeout",
	"temporary failure",
	"unexpected eof",
	// server pressure
	"too many connections",
	"too many clients",
	"remaining connection slots are reserved",
	"the database system is starting up",
	"the database system is shutting down",
	"server closed the connection",
	// concurrency
	"deadlock",
	"could not serialize access",
	"40001",
	"40p01",
	"database is locked",
	"sqlite_busy",
	// http sinks
	"429",
	"502",
	"503",
	"504",
	"too many requests",
	"service unavailable",
}

// IsRetryable determines if an error is transient and worth retrying.
// Context cancellation is never retryable. Errors implementing RetryableError decide
// for themselves; everything else is pattern-matched against transientPatterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// classifyErrorType buckets an error so repeated failures of the same kind can be
// detected.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "server closed the connection"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "deadlock"), strings.Contains(errStr, "40p01"):
		return "deadlock"
	case strings.Contains(errStr, "could not serialize"), strings.Contains(errStr, "40001"):
		return "serialization"
	case strings.Contains(errStr, "database is locked"), strings.Contains(errStr, "sqlite_busy"):
		return "locked"
	case strings.Contains(errStr, "too many"):
		return "capacity"
	}
	for _, code := range []string{"429", "502", "503", "504"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}
	return "unknown"
}

// DoIfRetryable retries fn only while it fails with transient errors. Permanent
// errors (bad SQL, auth, row limit) are returned immediately. After
// MaxSameErrorType consecutive failures of the same class the error is treated as
// permanent.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay
	sameErrorCount := 0
	var lastErrorType string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		currentErrorType := classifyErrorType(err)
		if currentErrorType == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, currentErrorType, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = currentErrorType
		}

		if attempt < cfg.MaxRetries {
			if delay, err = wait(ctx, cfg, delay); err != nil {
				return err
			}
		}
	}

	return lastErr
}
