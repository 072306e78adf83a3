package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// Config bounds retries and the per-operation circuit breaker shared by the
// Ollama, Qdrant and NATS adapters.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     100 * time.Millisecond,
		RetryMaxBackoff:         800 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	c.RetryMaxAttempts = positiveOr(c.RetryMaxAttempts, def.RetryMaxAttempts)
	c.RetryInitialBackoff = positiveOr(c.RetryInitialBackoff, def.RetryInitialBackoff)
	c.RetryMaxBackoff = max(positiveOr(c.RetryMaxBackoff, def.RetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}
	c.BreakerMinRequests = positiveOr(c.BreakerMinRequests, def.BreakerMinRequests)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	c.BreakerOpenTimeout = positiveOr(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	c.BreakerHalfOpenMaxCalls = positiveOr(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return c
}

func positiveOr[T int | uint32 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// StatusError is a non-2xx reply from an HTTP upstream.
type StatusError struct {
	Upstream   string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "upstream status error"
	}
	if msg := strings.TrimSpace(e.Body); msg != "" {
		return fmt.Sprintf("%s %s status: %s: %s", e.Upstream, e.Operation, e.Status, msg)
	}
	return fmt.Sprintf("%s %s status: %s", e.Upstream, e.Operation, e.Status)
}

// HasStatus reports whether err carries an upstream reply with code.
func HasStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// CallerAborted reports whether err only reflects the caller's own context
// ending. Such errors are neither retried nor counted against the breaker.
func CallerAborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// classifyKnown handles the outcomes every adapter treats alike. ok is false
// when the adapter-specific rules must decide.
func classifyKnown(err error) (class ErrorClassification, ok bool) {
	switch {
	case err == nil:
		return ErrorClassification{}, true
	case CallerAborted(err):
		return ErrorClassification{}, true
	case IsCircuitOpen(err):
		return ErrorClassification{RecordFailure: true}, true
	case domain.IsKind(err, domain.ErrTemporary):
		return ErrorClassification{Retryable: true, RecordFailure: true}, true
	}
	return ErrorClassification{}, false
}

// ClassifyHTTP is the classifier for JSON-over-HTTP upstreams (Ollama,
// Qdrant). Throttling, 5xx gateway replies and network errors are retried;
// other statuses are the caller's fault and do not trip the breaker.
func ClassifyHTTP(err error) ErrorClassification {
	if class, ok := classifyKnown(err); ok {
		return class
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		retry := RetryableHTTPStatus(statusErr.StatusCode)
		return ErrorClassification{Retryable: retry, RecordFailure: retry}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{RecordFailure: true}
}

// RetryOn builds a classifier that retries the given sentinel errors.
func RetryOn(transient ...error) ErrorClassifier {
	return func(err error) ErrorClassification {
		if class, ok := classifyKnown(err); ok {
			return class
		}
		for _, target := range transient {
			if errors.Is(err, target) {
				return ErrorClassification{Retryable: true, RecordFailure: true}
			}
		}
		return ErrorClassification{RecordFailure: true}
	}
}

// RetryableHTTPStatus reports whether an upstream status is worth retrying.
func RetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// MarkTemporary tags transient upstream failures with domain.ErrTemporary so
// the HTTP layer answers 503 instead of 500.
func MarkTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if IsCircuitOpen(err) || classifier(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func defaultClassifier(err error) ErrorClassification {
	if class, ok := classifyKnown(err); ok {
		return class
	}
	return ErrorClassification{RecordFailure: true}
}
